package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mschirtzinger/docgraph/internal/types"
)

// CreateRelationship validates and inserts the edge parentID -> childID. An
// empty relationship type defaults to parent_child.
//
// Validation and insert share one write transaction. If a concurrent writer
// slips in the same pair anyway, the store's uniqueness constraint fails the
// insert and the returned error matches both types.ErrStorageIntegrity and
// types.ErrDuplicateRelationship.
func (e *Engine) CreateRelationship(ctx context.Context, parentID, childID string, typ types.RelationshipType) (rel *types.Relationship, err error) {
	ctx, span := startSpan(ctx, "CreateRelationship",
		attribute.String("parent_id", parentID),
		attribute.String("child_id", childID),
		attribute.String("relationship_type", string(typ)),
	)
	defer func() { endSpan(span, err) }()

	in := withDefaultType(types.RelationshipInput{ParentID: parentID, ChildID: childID, RelationshipType: typ})

	err = e.store.RunInTx(ctx, func(ctx context.Context) error {
		verr := e.validate(ctx, in, nil)
		recordValidation(verr)
		if verr != nil {
			return verr
		}

		created, err := e.store.CreateRelationship(ctx, in)
		if err != nil {
			return err
		}
		rel = created
		return nil
	})
	if err != nil {
		e.logger.Debugw("relationship rejected", "parent_id", parentID, "child_id", childID, "error", err)
		return nil, err
	}

	e.logger.Infow("relationship created", "id", rel.ID, "parent_id", rel.ParentID, "child_id", rel.ChildID, "type", rel.RelationshipType)
	e.emit(EventRelationshipCreated, rel.ChildID, rel)
	return rel, nil
}

// CreateBulkRelationships creates every item or none.
//
// Each item is validated in order against the persisted graph plus the
// items before it in the batch, so a batch cannot repeat a pair or close a
// cycle among its own edges. Checking against persisted state alone would
// accept [(A,B), (B,A)] and store a cycle; here the second item fails with
// ErrCycleDetected. The first failing item is reported as a
// *types.BulkError carrying its index; nothing is persisted in that case.
func (e *Engine) CreateBulkRelationships(ctx context.Context, items []types.RelationshipInput) (rels []*types.Relationship, err error) {
	ctx, span := startSpan(ctx, "CreateBulkRelationships", attribute.Int("count", len(items)))
	defer func() { endSpan(span, err) }()

	if len(items) == 0 {
		return []*types.Relationship{}, nil
	}

	ins := make([]types.RelationshipInput, len(items))
	for i, it := range items {
		ins[i] = withDefaultType(it)
	}

	err = e.store.RunInTx(ctx, func(ctx context.Context) error {
		pending := newPendingEdges()
		for i, in := range ins {
			verr := e.validate(ctx, in, pending)
			recordValidation(verr)
			if verr != nil {
				return &types.BulkError{Index: i, Err: verr}
			}
			pending.add(i, in)
		}

		created, err := e.store.CreateRelationships(ctx, ins)
		if err != nil {
			return err
		}
		rels = created
		return nil
	})
	if err != nil {
		e.logger.Debugw("bulk relationship create rejected", "count", len(items), "error", err)
		return nil, err
	}

	e.logger.Infow("relationships created", "count", len(rels))
	for _, rel := range rels {
		e.emit(EventRelationshipCreated, rel.ChildID, rel)
	}
	return rels, nil
}

// RestoreRelationship validates and inserts an edge that already has an id
// and creation time, as read from a relationship file. If the pair is
// already linked the stored edge is kept, its type is brought in line with
// rel, and created is false.
func (e *Engine) RestoreRelationship(ctx context.Context, rel *types.Relationship) (created bool, err error) {
	ctx, span := startSpan(ctx, "RestoreRelationship",
		attribute.String("relationship_id", rel.ID),
		attribute.String("parent_id", rel.ParentID),
		attribute.String("child_id", rel.ChildID),
	)
	defer func() { endSpan(span, err) }()

	if rel.RelationshipType == "" {
		rel.RelationshipType = types.DefaultRelationshipType
	}

	var retyped *types.Relationship
	err = e.store.RunInTx(ctx, func(ctx context.Context) error {
		existing, err := e.store.FindRelationship(ctx, rel.ParentID, rel.ChildID)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.RelationshipType == rel.RelationshipType {
				return nil
			}
			if !rel.RelationshipType.IsValid() {
				return &types.ValidationError{
					Kind: types.ErrInvalidRelationshipType, ParentID: rel.ParentID, ChildID: rel.ChildID,
					Detail: fmt.Sprintf("%q is not one of %v", rel.RelationshipType, types.RelationshipTypes()),
				}
			}
			retyped, err = e.store.UpdateRelationshipType(ctx, existing.ID, rel.RelationshipType)
			return err
		}

		in := types.RelationshipInput{ParentID: rel.ParentID, ChildID: rel.ChildID, RelationshipType: rel.RelationshipType}
		verr := e.validate(ctx, in, nil)
		recordValidation(verr)
		if verr != nil {
			return verr
		}
		created, err = e.store.RestoreRelationship(ctx, rel)
		return err
	})
	if err != nil {
		return false, err
	}

	switch {
	case created:
		e.logger.Infow("relationship restored", "id", rel.ID, "parent_id", rel.ParentID, "child_id", rel.ChildID, "type", rel.RelationshipType)
		e.emit(EventRelationshipCreated, rel.ChildID, rel)
	case retyped != nil:
		e.logger.Infow("relationship updated", "id", retyped.ID, "type", retyped.RelationshipType)
		e.emit(EventRelationshipUpdated, retyped.ChildID, retyped)
	}
	return created, nil
}

// GetRelationship returns a relationship by id, or (nil, nil) if not found.
func (e *Engine) GetRelationship(ctx context.Context, id string) (*types.Relationship, error) {
	return e.store.GetRelationship(ctx, id)
}

// GetRelationshipsByParent returns the outgoing edges of a document.
func (e *Engine) GetRelationshipsByParent(ctx context.Context, parentID string) ([]*types.Relationship, error) {
	return e.store.ListRelationshipsByParent(ctx, parentID)
}

// GetRelationshipsByChild returns the incoming edges of a document.
func (e *Engine) GetRelationshipsByChild(ctx context.Context, childID string) ([]*types.Relationship, error) {
	return e.store.ListRelationshipsByChild(ctx, childID)
}

// UpdateRelationshipType changes the type of an existing edge. Only the type
// enum is revalidated; endpoints are unchanged so no cycle check is needed.
func (e *Engine) UpdateRelationshipType(ctx context.Context, id string, typ types.RelationshipType) (rel *types.Relationship, err error) {
	ctx, span := startSpan(ctx, "UpdateRelationshipType",
		attribute.String("relationship_id", id),
		attribute.String("relationship_type", string(typ)),
	)
	defer func() { endSpan(span, err) }()

	if !typ.IsValid() {
		return nil, &types.ValidationError{
			Kind:   types.ErrInvalidRelationshipType,
			Detail: fmt.Sprintf("%q is not one of %v", typ, types.RelationshipTypes()),
		}
	}

	rel, err = e.store.UpdateRelationshipType(ctx, id, typ)
	if err != nil {
		return nil, err
	}

	e.logger.Infow("relationship updated", "id", id, "type", typ)
	e.emit(EventRelationshipUpdated, rel.ChildID, rel)
	return rel, nil
}

// DeleteRelationship removes an edge. It reports false if the id did not
// exist.
func (e *Engine) DeleteRelationship(ctx context.Context, id string) (deleted bool, err error) {
	ctx, span := startSpan(ctx, "DeleteRelationship", attribute.String("relationship_id", id))
	defer func() { endSpan(span, err) }()

	var rel *types.Relationship
	err = e.store.RunInTx(ctx, func(ctx context.Context) error {
		found, err := e.store.GetRelationship(ctx, id)
		if err != nil || found == nil {
			return err
		}
		rel = found
		ok, err := e.store.DeleteRelationship(ctx, id)
		deleted = ok
		return err
	})
	if err != nil {
		return false, err
	}

	if deleted {
		e.logger.Infow("relationship deleted", "id", id, "parent_id", rel.ParentID, "child_id", rel.ChildID)
		e.emit(EventRelationshipDeleted, rel.ChildID, rel)
	}
	return deleted, nil
}
