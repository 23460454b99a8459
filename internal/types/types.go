// Package types defines the core data types shared by the docgraph storage,
// engine, and command layers.
package types

import (
	"fmt"
	"time"
)

// Document is the minimal projection of a repository document that the
// relationship engine reads. Documents are owned by the document store; the
// engine only reads them and merges keys into Metadata.
type Document struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	DocumentType string         `json:"document_type"`
	Content      string         `json:"content,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	ContentHash  string         `json:"content_hash,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Validate checks the fields required to persist a document.
func (d *Document) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("id is required")
	}
	if d.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(d.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(d.Title))
	}
	if d.DocumentType == "" {
		return fmt.Errorf("document_type is required")
	}
	return nil
}

// NeedsReview reports whether ripple marking has flagged this document.
func (d *Document) NeedsReview() bool {
	v, ok := d.Metadata[MetaNeedsReview].(bool)
	return ok && v
}

// TimestampLayout is RFC3339 with a fixed nine-digit fraction, so stored
// timestamps sort as text in time order.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Metadata keys written by ripple marking.
const (
	MetaNeedsReview   = "needs_review"
	MetaParentChanged = "parent_changed"
)

// RelationshipType classifies a directed edge between two documents.
type RelationshipType string

const (
	// RelParentChild is the standard hierarchical relationship.
	RelParentChild RelationshipType = "parent_child"
	// RelReference means the child references the parent.
	RelReference RelationshipType = "reference"
	// RelDerivedFrom means the child was derived from the parent.
	RelDerivedFrom RelationshipType = "derived_from"
)

// DefaultRelationshipType is used when a caller leaves the type empty.
const DefaultRelationshipType = RelParentChild

// RelationshipTypes lists every allowed relationship type.
func RelationshipTypes() []RelationshipType {
	return []RelationshipType{RelParentChild, RelReference, RelDerivedFrom}
}

// IsValid reports whether t is one of the allowed relationship types.
func (t RelationshipType) IsValid() bool {
	switch t {
	case RelParentChild, RelReference, RelDerivedFrom:
		return true
	}
	return false
}

// Relationship is a directed edge parent -> child.
type Relationship struct {
	ID               string           `json:"id"`
	ParentID         string           `json:"parent_id"`
	ChildID          string           `json:"child_id"`
	RelationshipType RelationshipType `json:"relationship_type"`
	CreatedAt        time.Time        `json:"created_at"`
}

func (r *Relationship) String() string {
	return fmt.Sprintf("%s --%s--> %s", r.ParentID, r.RelationshipType, r.ChildID)
}

// RelationshipInput is one requested edge, used by single and bulk creation.
type RelationshipInput struct {
	ParentID         string           `json:"parent_id"`
	ChildID          string           `json:"child_id"`
	RelationshipType RelationshipType `json:"relationship_type,omitempty"`
}

// HierarchyNode is one entry of an ancestor or descendant traversal: the
// document reached, the type and id of the edge used to reach it, and its
// distance from the starting document (1 = immediate neighbour).
type HierarchyNode struct {
	Document         *Document        `json:"document"`
	RelationshipType RelationshipType `json:"relationship_type"`
	RelationshipID   string           `json:"relationship_id"`
	Depth            int              `json:"depth"`
}

// BreadcrumbItem is one root-to-self breadcrumb segment. RelationshipType is
// nil for the final (self) entry.
type BreadcrumbItem struct {
	ID               string            `json:"id"`
	Title            string            `json:"title"`
	DocumentType     string            `json:"document_type"`
	RelationshipType *RelationshipType `json:"relationship_type"`
}
