package engine

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

const (
	parentContextHeader = "# Parent Context\n\n"
	truncationMarker    = "[...truncated]"
)

// GetParentContext renders the ancestors of a document as a markdown block
// for downstream generation:
//
//	# Parent Context
//
//	## vision_document: Product Vision
//
//	<content>
//
//	## feature_document: Login
//
//	<content>
//
// Sections run from the root-most ancestor to the immediate parent. Each
// ancestor appears once, at its position on the shortest path. Content longer
// than maxCharsPerParent characters (maxCharsPerParent <= 0 uses the
// configured default of 2000) is cut and followed by "[...truncated]".
// A document without ancestors yields "".
func (e *Engine) GetParentContext(ctx context.Context, documentID string, maxCharsPerParent int) (out string, err error) {
	ctx, span := startSpan(ctx, "GetParentContext",
		attribute.String("document_id", documentID),
		attribute.Int("max_chars_per_parent", maxCharsPerParent),
	)
	defer func() { endSpan(span, err) }()

	if maxCharsPerParent <= 0 {
		maxCharsPerParent = e.cfg.MaxCharsPerParent
	}

	ancestors, err := e.GetAncestors(ctx, documentID, 0)
	if err != nil {
		return "", err
	}
	if len(ancestors) == 0 {
		return "", nil
	}

	// Ancestors arrive by increasing depth, so the first occurrence of an id
	// is its shortest-path position.
	seen := make(map[string]bool, len(ancestors))
	var sections []string
	for _, a := range ancestors {
		if seen[a.Document.ID] {
			continue
		}
		seen[a.Document.ID] = true

		var b strings.Builder
		b.WriteString("## ")
		b.WriteString(a.Document.DocumentType)
		b.WriteString(": ")
		b.WriteString(a.Document.Title)
		b.WriteString("\n\n")
		b.WriteString(truncate(a.Document.Content, maxCharsPerParent))
		b.WriteString("\n\n")
		sections = append(sections, b.String())
	}

	var b strings.Builder
	b.WriteString(parentContextHeader)
	for i := len(sections) - 1; i >= 0; i-- {
		b.WriteString(sections[i])
	}
	return b.String(), nil
}

// truncate cuts s to limit characters (runes) and appends the marker.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "\n" + truncationMarker
}
