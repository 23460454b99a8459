package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mschirtzinger/docgraph/internal/types"
)

const relationshipColumns = `id, parent_id, child_id, relationship_type, created_at`

// CreateRelationship inserts a single edge. The id is generated when empty.
// Constraint failures are returned as *types.IntegrityError.
func (db *DB) CreateRelationship(ctx context.Context, in types.RelationshipInput) (*types.Relationship, error) {
	rel := newRelationship(in)
	if err := db.insertRelationship(ctx, db.q(ctx), rel); err != nil {
		return nil, err
	}
	return rel, nil
}

// CreateRelationships inserts every edge in one transaction. If any insert
// fails the whole batch is rolled back and the error is a *types.BulkError
// carrying the failing index.
func (db *DB) CreateRelationships(ctx context.Context, ins []types.RelationshipInput) ([]*types.Relationship, error) {
	rels := make([]*types.Relationship, len(ins))
	err := db.RunInTx(ctx, func(ctx context.Context) error {
		q := db.q(ctx)
		for i, in := range ins {
			rel := newRelationship(in)
			if err := db.insertRelationship(ctx, q, rel); err != nil {
				return &types.BulkError{Index: i, Err: err}
			}
			rels[i] = rel
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rels, nil
}

func newRelationship(in types.RelationshipInput) *types.Relationship {
	typ := in.RelationshipType
	if typ == "" {
		typ = types.DefaultRelationshipType
	}
	return &types.Relationship{
		ID:               uuid.NewString(),
		ParentID:         in.ParentID,
		ChildID:          in.ChildID,
		RelationshipType: typ,
		CreatedAt:        time.Now().UTC(),
	}
}

func (db *DB) insertRelationship(ctx context.Context, q querier, rel *types.Relationship) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO document_relationships (id, parent_id, child_id, relationship_type, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, rel.ID, rel.ParentID, rel.ChildID, string(rel.RelationshipType), formatTime(rel.CreatedAt))
	if err != nil {
		return translateConstraint(fmt.Errorf("failed to insert relationship %s: %w", rel, err))
	}
	return nil
}

// RestoreRelationship inserts an edge keeping the id and timestamp it was exported or filed with.
// Used by import; an existing edge for the same pair is left untouched and
// reported as created=false.
func (db *DB) RestoreRelationship(ctx context.Context, rel *types.Relationship) (created bool, err error) {
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = time.Now().UTC()
	}
	result, err := db.q(ctx).ExecContext(ctx, `
		INSERT INTO document_relationships (id, parent_id, child_id, relationship_type, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(parent_id, child_id) DO NOTHING
	`, rel.ID, rel.ParentID, rel.ChildID, string(rel.RelationshipType), formatTime(rel.CreatedAt))
	if err != nil {
		return false, translateConstraint(fmt.Errorf("failed to restore relationship %s: %w", rel, err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// GetRelationship returns a relationship by id, or (nil, nil) if not found.
func (db *DB) GetRelationship(ctx context.Context, id string) (*types.Relationship, error) {
	row := db.q(ctx).QueryRowContext(ctx,
		`SELECT `+relationshipColumns+` FROM document_relationships WHERE id = ?`, id)
	rel, err := scanRelationship(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get relationship %s: %w", id, err)
	}
	return rel, nil
}

// FindRelationship returns the edge for a (parent, child) pair, or (nil, nil).
func (db *DB) FindRelationship(ctx context.Context, parentID, childID string) (*types.Relationship, error) {
	row := db.q(ctx).QueryRowContext(ctx,
		`SELECT `+relationshipColumns+` FROM document_relationships WHERE parent_id = ? AND child_id = ?`,
		parentID, childID)
	rel, err := scanRelationship(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find relationship %s -> %s: %w", parentID, childID, err)
	}
	return rel, nil
}

// ListRelationshipsByParent returns the outgoing edges of parentID, ordered by
// child id.
func (db *DB) ListRelationshipsByParent(ctx context.Context, parentID string) ([]*types.Relationship, error) {
	return db.queryRelationships(ctx,
		`SELECT `+relationshipColumns+` FROM document_relationships WHERE parent_id = ? ORDER BY child_id`,
		parentID)
}

// ListRelationshipsByChild returns the incoming edges of childID, ordered by
// parent id.
func (db *DB) ListRelationshipsByChild(ctx context.Context, childID string) ([]*types.Relationship, error) {
	return db.queryRelationships(ctx,
		`SELECT `+relationshipColumns+` FROM document_relationships WHERE child_id = ? ORDER BY parent_id`,
		childID)
}

// ListAllRelationships returns every edge ordered by (parent_id, child_id).
func (db *DB) ListAllRelationships(ctx context.Context) ([]*types.Relationship, error) {
	return db.queryRelationships(ctx,
		`SELECT `+relationshipColumns+` FROM document_relationships ORDER BY parent_id, child_id`)
}

// ChildEdges returns the outgoing edges of every id in parentIDs, ordered by
// child id. This is one frontier level of a descendant traversal.
func (db *DB) ChildEdges(ctx context.Context, parentIDs []string) ([]*types.Relationship, error) {
	var out []*types.Relationship
	for _, part := range chunk(parentIDs, 500) {
		in, args := inClause(part)
		rels, err := db.queryRelationships(ctx,
			`SELECT `+relationshipColumns+` FROM document_relationships
			 WHERE parent_id IN (`+in+`) ORDER BY child_id, parent_id`, args...)
		if err != nil {
			return nil, err
		}
		out = append(out, rels...)
	}
	return out, nil
}

// ParentEdges returns the incoming edges of every id in childIDs, ordered by
// parent id. This is one frontier level of an ancestor traversal.
func (db *DB) ParentEdges(ctx context.Context, childIDs []string) ([]*types.Relationship, error) {
	var out []*types.Relationship
	for _, part := range chunk(childIDs, 500) {
		in, args := inClause(part)
		rels, err := db.queryRelationships(ctx,
			`SELECT `+relationshipColumns+` FROM document_relationships
			 WHERE child_id IN (`+in+`) ORDER BY parent_id, child_id`, args...)
		if err != nil {
			return nil, err
		}
		out = append(out, rels...)
	}
	return out, nil
}

// UpdateRelationshipType changes only the type of an existing edge.
func (db *DB) UpdateRelationshipType(ctx context.Context, id string, typ types.RelationshipType) (*types.Relationship, error) {
	var rel *types.Relationship
	err := db.RunInTx(ctx, func(ctx context.Context) error {
		result, err := db.q(ctx).ExecContext(ctx,
			"UPDATE document_relationships SET relationship_type = ? WHERE id = ?", string(typ), id)
		if err != nil {
			return translateConstraint(fmt.Errorf("failed to update relationship %s: %w", id, err))
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", types.ErrRelationshipNotFound, id)
		}
		rel, err = db.GetRelationship(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rel, nil
}

// DeleteRelationship removes an edge by id. Returns false if it did not exist.
func (db *DB) DeleteRelationship(ctx context.Context, id string) (bool, error) {
	result, err := db.q(ctx).ExecContext(ctx, "DELETE FROM document_relationships WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete relationship %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteRelationshipByPair removes the edge for a (parent, child) pair.
// Returns false if it did not exist.
func (db *DB) DeleteRelationshipByPair(ctx context.Context, parentID, childID string) (bool, error) {
	result, err := db.q(ctx).ExecContext(ctx,
		"DELETE FROM document_relationships WHERE parent_id = ? AND child_id = ?", parentID, childID)
	if err != nil {
		return false, fmt.Errorf("failed to delete relationship %s -> %s: %w", parentID, childID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

func (db *DB) queryRelationships(ctx context.Context, query string, args ...any) ([]*types.Relationship, error) {
	rows, err := db.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query relationships: %w", err)
	}
	defer rows.Close()

	var rels []*types.Relationship
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan relationship: %w", err)
		}
		rels = append(rels, rel)
	}
	return rels, rows.Err()
}

func scanRelationship(row rowScanner) (*types.Relationship, error) {
	var rel types.Relationship
	var typ, createdAt string
	if err := row.Scan(&rel.ID, &rel.ParentID, &rel.ChildID, &typ, &createdAt); err != nil {
		return nil, err
	}
	rel.RelationshipType = types.RelationshipType(typ)
	rel.CreatedAt = parseTime(createdAt)
	return &rel, nil
}
