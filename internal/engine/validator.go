package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/mschirtzinger/docgraph/internal/typereg"
	"github.com/mschirtzinger/docgraph/internal/types"
)

// ValidateCreate checks whether the edge parentID -> childID may be created,
// without creating it. It returns nil or a *types.ValidationError whose Kind
// is the first failing check, in this order:
//
//  1. ErrNotFound: parent or child document missing
//  2. ErrSelfReference
//  3. ErrInvalidRelationshipType
//  4. ErrTypeIncompatible
//  5. ErrDuplicateRelationship
//  6. ErrCycleDetected
//
// Infrastructure failures are returned as ordinary wrapped errors.
func (e *Engine) ValidateCreate(ctx context.Context, in types.RelationshipInput) error {
	err := e.validate(ctx, withDefaultType(in), nil)
	recordValidation(err)
	return err
}

func withDefaultType(in types.RelationshipInput) types.RelationshipInput {
	if in.RelationshipType == "" {
		in.RelationshipType = types.DefaultRelationshipType
	}
	return in
}

// validate runs the ordered checks. pending holds edges accepted earlier in
// the same bulk batch; they count for the duplicate and cycle checks.
func (e *Engine) validate(ctx context.Context, in types.RelationshipInput, pending *pendingEdges) error {
	reject := func(kind error, detail string) error {
		return &types.ValidationError{Kind: kind, ParentID: in.ParentID, ChildID: in.ChildID, Detail: detail}
	}

	docs, err := e.store.GetDocuments(ctx, uniqueIDs([]string{in.ParentID, in.ChildID}))
	if err != nil {
		return fmt.Errorf("failed to load documents: %w", err)
	}
	parent, child := docs[in.ParentID], docs[in.ChildID]
	if parent == nil {
		return reject(types.ErrNotFound, fmt.Sprintf("parent document %s not found", in.ParentID))
	}
	if child == nil {
		return reject(types.ErrNotFound, fmt.Sprintf("child document %s not found", in.ChildID))
	}

	if in.ParentID == in.ChildID {
		return reject(types.ErrSelfReference, fmt.Sprintf("document %s cannot be its own parent", in.ParentID))
	}

	if !in.RelationshipType.IsValid() {
		return reject(types.ErrInvalidRelationshipType, fmt.Sprintf("%q is not one of %v", in.RelationshipType, types.RelationshipTypes()))
	}

	if !e.typeAllowed(parent.DocumentType, child.DocumentType) {
		return reject(types.ErrTypeIncompatible,
			fmt.Sprintf("%s cannot be a parent of %s", parent.DocumentType, child.DocumentType))
	}

	existing, err := e.store.FindRelationship(ctx, in.ParentID, in.ChildID)
	if err != nil {
		return fmt.Errorf("failed to check for existing relationship: %w", err)
	}
	if existing != nil {
		return reject(types.ErrDuplicateRelationship,
			fmt.Sprintf("relationship %s already links %s -> %s", existing.ID, in.ParentID, in.ChildID))
	}
	if i, ok := pending.index(in.ParentID, in.ChildID); ok {
		return reject(types.ErrDuplicateRelationship,
			fmt.Sprintf("%s -> %s repeats item %d of the batch", in.ParentID, in.ChildID, i))
	}

	// The new edge closes a cycle iff parent is already reachable from child.
	cyclic, err := e.reachable(ctx, in.ChildID, in.ParentID, e.cfg.CycleCheckDepth, pending)
	if err != nil {
		return fmt.Errorf("failed to check for cycles: %w", err)
	}
	if cyclic {
		return reject(types.ErrCycleDetected,
			fmt.Sprintf("%s is already a descendant of %s", in.ParentID, in.ChildID))
	}

	return nil
}

// typeAllowed applies the parent type compatibility rule.
func (e *Engine) typeAllowed(parentType, childType string) bool {
	allowed, registered := e.registry.AllowedParentTypes(childType)
	if !registered {
		return e.cfg.PermissiveUnknownTypes
	}
	if len(allowed) == 0 {
		return true
	}
	want := typereg.Normalize(parentType)
	for _, t := range allowed {
		if t == want {
			return true
		}
	}
	return false
}

func recordValidation(err error) {
	result := "ok"
	var verr *types.ValidationError
	switch {
	case err == nil:
	case errors.As(err, &verr):
		result = kindLabel(verr.Kind)
	default:
		result = "error"
	}
	validationTotal.WithLabelValues(result).Inc()
}

func kindLabel(kind error) string {
	switch kind {
	case types.ErrNotFound:
		return "not_found"
	case types.ErrSelfReference:
		return "self_reference"
	case types.ErrInvalidRelationshipType:
		return "invalid_type"
	case types.ErrTypeIncompatible:
		return "type_incompatible"
	case types.ErrDuplicateRelationship:
		return "duplicate"
	case types.ErrCycleDetected:
		return "cycle"
	}
	return "error"
}
