// Package schema defines the file-based JSON schemas for docgraph documents
// and relationships.
package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mschirtzinger/docgraph/internal/types"
)

// RelFile represents a single relationship stored in rels/*.json
// Filename convention: {parent}--{type}--{child}.json
type RelFile struct {
	ID               string    `json:"id,omitempty"`
	ParentID         string    `json:"parent_id"`
	ChildID          string    `json:"child_id"`
	RelationshipType string    `json:"relationship_type"`
	CreatedAt        time.Time `json:"created_at"`
}

// Validate checks if the RelFile has valid field values
func (r *RelFile) Validate() error {
	if r.ParentID == "" {
		return fmt.Errorf("parent_id is required")
	}
	if r.ChildID == "" {
		return fmt.Errorf("child_id is required")
	}
	if err := validateFileID(r.ParentID); err != nil {
		return fmt.Errorf("parent_id: %w", err)
	}
	if err := validateFileID(r.ChildID); err != nil {
		return fmt.Errorf("child_id: %w", err)
	}
	if r.RelationshipType == "" {
		return fmt.Errorf("relationship_type is required")
	}
	if !types.RelationshipType(r.RelationshipType).IsValid() {
		return fmt.Errorf("%w: %s", types.ErrInvalidRelationshipType, r.RelationshipType)
	}
	if r.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	return nil
}

// validateFileID rejects ids that cannot be encoded in a relationship filename.
func validateFileID(id string) error {
	if strings.Contains(id, "--") {
		return fmt.Errorf("id %q must not contain \"--\"", id)
	}
	if strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("id %q must not contain path separators", id)
	}
	return nil
}

// ToFileName generates the filename for this relationship
// Format: {parent}--{type}--{child}.json
func (r *RelFile) ToFileName() string {
	return RelFileName(r.ParentID, r.RelationshipType, r.ChildID)
}

// RelFileName builds a relationship filename from its parts.
func RelFileName(parentID, typ, childID string) string {
	return fmt.Sprintf("%s--%s--%s.json", parentID, typ, childID)
}

// ParseRelFileName parses a relationship filename and returns the components.
// Returns (parent, type, child, error)
func ParseRelFileName(filename string) (string, string, string, error) {
	name := strings.TrimSuffix(filepath.Base(filename), ".json")

	parts := strings.Split(name, "--")
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("invalid filename format: expected {parent}--{type}--{child}.json, got %s", filename)
	}

	parent, typ, child := parts[0], parts[1], parts[2]
	if parent == "" || typ == "" || child == "" {
		return "", "", "", fmt.Errorf("invalid filename: parent, type, and child cannot be empty")
	}

	return parent, typ, child, nil
}

// ReadRelFile reads and validates a relationship file. The filename must
// agree with the file contents.
func ReadRelFile(path string) (*RelFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rel file: %w", err)
	}

	var rel RelFile
	if err := json.Unmarshal(data, &rel); err != nil {
		return nil, fmt.Errorf("failed to parse rel file: %w", err)
	}
	if rel.RelationshipType == "" {
		rel.RelationshipType = string(types.DefaultRelationshipType)
	}

	if err := rel.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rel file: %w", err)
	}

	if filepath.Base(path) != rel.ToFileName() {
		return nil, fmt.Errorf("rel file %s does not match its contents (%s)", filepath.Base(path), rel.ToFileName())
	}

	return &rel, nil
}

// WriteRelFile writes a relationship file with validation. Any other file for
// the same (parent, child) pair with a different type is removed, so a pair
// is never represented twice on disk.
func WriteRelFile(dir string, rel *RelFile) error {
	if err := rel.Validate(); err != nil {
		return fmt.Errorf("invalid relationship: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create rels directory: %w", err)
	}

	for _, typ := range types.RelationshipTypes() {
		if string(typ) == rel.RelationshipType {
			continue
		}
		if err := DeleteRelFile(dir, rel.ParentID, string(typ), rel.ChildID); err != nil {
			return err
		}
	}

	data, err := json.MarshalIndent(rel, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal rel file: %w", err)
	}

	path := filepath.Join(dir, rel.ToFileName())
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write rel file: %w", err)
	}

	return nil
}

// ListRelsForDocument lists all relationship files involving a document, as
// parent or as child.
func ListRelsForDocument(relsDir string, docID string) ([]*RelFile, error) {
	return listRels(relsDir, func(parent, child string) bool {
		return parent == docID || child == docID
	})
}

// ListAllRels lists all relationship files in the directory, ordered by
// filename. Invalid files are skipped; use ScanRels to see them.
func ListAllRels(relsDir string) ([]*RelFile, error) {
	return listRels(relsDir, nil)
}

func listRels(relsDir string, match func(parent, child string) bool) ([]*RelFile, error) {
	rels, _, err := scanRels(relsDir, match)
	return rels, err
}

// ScanRels reads every relationship file and returns the valid ones together
// with a per-file error for each invalid one, keyed by filename.
func ScanRels(relsDir string) ([]*RelFile, map[string]error, error) {
	return scanRels(relsDir, nil)
}

func scanRels(relsDir string, match func(parent, child string) bool) ([]*RelFile, map[string]error, error) {
	entries, err := os.ReadDir(relsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*RelFile{}, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to read rels directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var rels []*RelFile
	invalid := map[string]error{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		parent, _, child, err := ParseRelFileName(entry.Name())
		if err != nil {
			invalid[entry.Name()] = err
			continue
		}
		if match != nil && !match(parent, child) {
			continue
		}

		rel, err := ReadRelFile(filepath.Join(relsDir, entry.Name()))
		if err != nil {
			invalid[entry.Name()] = err
			continue
		}
		rels = append(rels, rel)
	}

	return rels, invalid, nil
}

// DeleteRelFile deletes a relationship file. Deleting a missing file is not
// an error.
func DeleteRelFile(relsDir string, parentID, typ, childID string) error {
	path := filepath.Join(relsDir, RelFileName(parentID, typ, childID))

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete rel file: %w", err)
	}

	return nil
}

// ToRelationship converts a RelFile to types.Relationship
func (r *RelFile) ToRelationship() *types.Relationship {
	return &types.Relationship{
		ID:               r.ID,
		ParentID:         r.ParentID,
		ChildID:          r.ChildID,
		RelationshipType: types.RelationshipType(r.RelationshipType),
		CreatedAt:        r.CreatedAt,
	}
}

// ToInput converts a RelFile to a creation request.
func (r *RelFile) ToInput() types.RelationshipInput {
	return types.RelationshipInput{
		ParentID:         r.ParentID,
		ChildID:          r.ChildID,
		RelationshipType: types.RelationshipType(r.RelationshipType),
	}
}

// FromRelationship creates a RelFile from types.Relationship
func FromRelationship(rel *types.Relationship) *RelFile {
	return &RelFile{
		ID:               rel.ID,
		ParentID:         rel.ParentID,
		ChildID:          rel.ChildID,
		RelationshipType: string(rel.RelationshipType),
		CreatedAt:        rel.CreatedAt,
	}
}
