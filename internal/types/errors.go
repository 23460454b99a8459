package types

import (
	"errors"
	"fmt"
)

// Errors returned by relationship validation and storage.
//
// These can be checked with errors.Is:
//
//	if errors.Is(err, types.ErrCycleDetected) {
//	    // reject the edge
//	}
var (
	// ErrNotFound is returned when a referenced document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrSelfReference is returned for an edge whose parent and child are equal.
	ErrSelfReference = errors.New("self-referencing relationship")

	// ErrTypeIncompatible is returned when the parent's document type is not an
	// allowed parent type for the child's document type.
	ErrTypeIncompatible = errors.New("relationship not allowed between document types")

	// ErrDuplicateRelationship is returned when an edge for the same
	// (parent, child) pair already exists.
	ErrDuplicateRelationship = errors.New("relationship already exists")

	// ErrCycleDetected is returned when an edge would close a directed cycle.
	ErrCycleDetected = errors.New("circular dependency detected")

	// ErrInvalidRelationshipType is returned for a type outside the allowed set.
	ErrInvalidRelationshipType = errors.New("invalid relationship type")

	// ErrStorageIntegrity is returned when a storage constraint rejected a write.
	ErrStorageIntegrity = errors.New("storage integrity violation")

	// ErrRelationshipNotFound is returned when a relationship id does not exist.
	ErrRelationshipNotFound = errors.New("relationship not found")
)

// ValidationError describes why a requested edge was rejected. Kind is one of
// the sentinel errors above.
type ValidationError struct {
	Kind     error
	ParentID string
	ChildID  string
	Detail   string
}

func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%v: %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("%v: %s -> %s", e.Kind, e.ParentID, e.ChildID)
}

func (e *ValidationError) Unwrap() error { return e.Kind }

// IntegrityError is produced when a database constraint fires. Err carries the
// domain translation (ErrDuplicateRelationship, ErrSelfReference, ErrNotFound)
// so callers can match either the storage or the domain error.
type IntegrityError struct {
	Constraint string
	Err        error
	Cause      error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%v (%s): %v", ErrStorageIntegrity, e.Constraint, e.Err)
}

func (e *IntegrityError) Unwrap() []error {
	errs := []error{ErrStorageIntegrity}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// BulkError reports the first failing item of a bulk operation. Nothing from
// the batch was persisted.
type BulkError struct {
	Index int
	Err   error
}

func (e *BulkError) Error() string {
	return fmt.Sprintf("relationship %d: %v", e.Index, e.Err)
}

func (e *BulkError) Unwrap() error { return e.Err }

// IsValidationError returns true if err is a rejection of the request itself
// rather than an infrastructure failure.
func IsValidationError(err error) bool {
	if err == nil {
		return false
	}
	for _, kind := range []error{
		ErrNotFound,
		ErrSelfReference,
		ErrTypeIncompatible,
		ErrDuplicateRelationship,
		ErrCycleDetected,
		ErrInvalidRelationshipType,
		ErrRelationshipNotFound,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// IsConflict returns true if err indicates the graph changed underneath the
// caller (a concurrent writer won). Retrying after re-reading may succeed.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrStorageIntegrity)
}
