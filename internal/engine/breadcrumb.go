package engine

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mschirtzinger/docgraph/internal/types"
)

// DefaultBreadcrumbSeparator joins breadcrumb segments.
const DefaultBreadcrumbSeparator = " > "

// BreadcrumbOptions controls breadcrumb formatting.
type BreadcrumbOptions struct {
	// Separator between segments; empty means DefaultBreadcrumbSeparator.
	Separator string
	// IncludeIDs appends " [<first 8 chars of id>]" to each segment.
	IncludeIDs bool
}

// GetBreadcrumb returns the root-to-self title path of a document, for
// example "Vision > Feature > Epic > Story". A root document yields its own
// title; a nonexistent document yields "".
func (e *Engine) GetBreadcrumb(ctx context.Context, documentID string, opts BreadcrumbOptions) (crumb string, err error) {
	ctx, span := startSpan(ctx, "GetBreadcrumb", attribute.String("document_id", documentID))
	defer func() { endSpan(span, err) }()

	items, err := e.GetBreadcrumbWithDetails(ctx, documentID)
	if err != nil || len(items) == 0 {
		return "", err
	}

	sep := opts.Separator
	if sep == "" {
		sep = DefaultBreadcrumbSeparator
	}

	segments := make([]string, len(items))
	for i, item := range items {
		if opts.IncludeIDs {
			segments[i] = item.Title + " [" + shortID(item.ID) + "]"
		} else {
			segments[i] = item.Title
		}
	}
	return strings.Join(segments, sep), nil
}

// GetBreadcrumbWithDetails returns the breadcrumb as structured entries from
// root to self. Each ancestor entry carries the type of the edge through
// which it was reached; the self entry has a nil RelationshipType.
//
// Entries follow GetAncestors reversed, so an ancestor reachable by several
// paths appears once per path. A nonexistent document yields an empty list.
func (e *Engine) GetBreadcrumbWithDetails(ctx context.Context, documentID string) ([]types.BreadcrumbItem, error) {
	doc, err := e.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return []types.BreadcrumbItem{}, nil
	}

	ancestors, err := e.GetAncestors(ctx, documentID, 0)
	if err != nil {
		return nil, err
	}

	items := make([]types.BreadcrumbItem, 0, len(ancestors)+1)
	for i := len(ancestors) - 1; i >= 0; i-- {
		a := ancestors[i]
		typ := a.RelationshipType
		items = append(items, types.BreadcrumbItem{
			ID:               a.Document.ID,
			Title:            a.Document.Title,
			DocumentType:     a.Document.DocumentType,
			RelationshipType: &typ,
		})
	}
	items = append(items, types.BreadcrumbItem{
		ID:           doc.ID,
		Title:        doc.Title,
		DocumentType: doc.DocumentType,
	})
	return items, nil
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
