package db

import (
	"errors"
	"strings"

	"github.com/ncruces/go-sqlite3"

	"github.com/mschirtzinger/docgraph/internal/types"
)

// translateConstraint maps a SQLite constraint failure on the relationships
// table to a *types.IntegrityError. Other errors are returned unchanged.
//
// This is the race-condition backstop: two writers that both passed
// validation cannot both insert the same pair.
func translateConstraint(err error) error {
	if err == nil {
		return nil
	}

	var serr *sqlite3.Error
	if !errors.As(err, &serr) {
		return err
	}

	msg := serr.Error()
	switch serr.ExtendedCode() {
	case sqlite3.CONSTRAINT_UNIQUE:
		return &types.IntegrityError{Constraint: "uq_parent_child", Err: types.ErrDuplicateRelationship, Cause: err}
	case sqlite3.CONSTRAINT_PRIMARYKEY:
		return &types.IntegrityError{Constraint: "primary_key", Err: types.ErrDuplicateRelationship, Cause: err}
	case sqlite3.CONSTRAINT_FOREIGNKEY:
		return &types.IntegrityError{Constraint: "foreign_key", Err: types.ErrNotFound, Cause: err}
	case sqlite3.CONSTRAINT_CHECK:
		switch {
		case strings.Contains(msg, "chk_no_self_reference"):
			return &types.IntegrityError{Constraint: "chk_no_self_reference", Err: types.ErrSelfReference, Cause: err}
		case strings.Contains(msg, "chk_relationship_type"):
			return &types.IntegrityError{Constraint: "chk_relationship_type", Err: types.ErrInvalidRelationshipType, Cause: err}
		}
		return &types.IntegrityError{Constraint: "check", Cause: err}
	}

	return err
}
