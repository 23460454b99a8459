package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mschirtzinger/docgraph/internal/types"
)

// MarkedDescendants is the payload of an EventDescendantsMarked event.
type MarkedDescendants struct {
	DocumentID string `json:"document_id"`
	Count      int    `json:"count"`
}

// MarkDescendantsForReview flags every descendant of documentID for review
// after it changed, and returns how many distinct documents were flagged.
// maxDepth <= 0 means no depth bound.
//
// Each descendant's metadata keeps its existing keys and gains:
//
//	needs_review: true
//	parent_changed: {parent_id, changed_at, depth_from_changed}
//
// where depth_from_changed is the shortest distance from documentID. All
// updates commit together or not at all. Repeating the call refreshes
// changed_at. A nonexistent document marks nothing.
func (e *Engine) MarkDescendantsForReview(ctx context.Context, documentID string, maxDepth int) (count int, err error) {
	ctx, span := startSpan(ctx, "MarkDescendantsForReview",
		attribute.String("document_id", documentID),
		attribute.Int("max_depth", maxDepth),
	)
	defer func() {
		span.SetAttributes(attribute.Int("marked", count))
		endSpan(span, err)
	}()

	if maxDepth <= 0 {
		maxDepth = -1
	}

	err = e.store.RunInTx(ctx, func(ctx context.Context) error {
		steps, err := e.expand(ctx, documentID, down, maxDepth, true)
		if err != nil {
			return err
		}
		if len(steps) == 0 {
			return nil
		}

		changedAt := e.now().UTC().Format(types.TimestampLayout)
		patches := make(map[string]map[string]any, len(steps))
		for _, s := range steps {
			patches[s.node] = map[string]any{
				types.MetaNeedsReview: true,
				types.MetaParentChanged: map[string]any{
					"parent_id":          documentID,
					"changed_at":         changedAt,
					"depth_from_changed": s.depth,
				},
			}
		}

		if err := e.store.MergeMetadataBatch(ctx, patches); err != nil {
			return fmt.Errorf("failed to mark descendants of %s: %w", documentID, err)
		}
		count = len(patches)
		return nil
	})
	if err != nil {
		return 0, err
	}

	if count > 0 {
		rippleMarked.Add(float64(count))
		e.logger.Infow("descendants marked for review", "document_id", documentID, "count", count)
		e.emit(EventDescendantsMarked, documentID, MarkedDescendants{DocumentID: documentID, Count: count})
	}
	return count, nil
}
