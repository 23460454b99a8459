package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/mschirtzinger/docgraph/internal/types"
)

// DocFile represents a document stored as a JSON file anywhere under docs/.
// Subdirectories are allowed (docs/features/auth.json); the id, not the path,
// identifies the document.
type DocFile struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	DocumentType string         `json:"document_type"`
	Content      string         `json:"content,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Validate checks if the DocFile has valid field values.
func (d *DocFile) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("id is required")
	}
	if err := validateFileID(d.ID); err != nil {
		return err
	}
	if d.Title == "" {
		return fmt.Errorf("title is required")
	}
	if d.DocumentType == "" {
		return fmt.Errorf("document_type is required")
	}
	return nil
}

// Filename returns the canonical filename for this document: {id}.json
func (d *DocFile) Filename() string {
	return d.ID + ".json"
}

// ToDocument converts a DocFile to types.Document.
func (d *DocFile) ToDocument() *types.Document {
	meta := d.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return &types.Document{
		ID:           d.ID,
		Title:        d.Title,
		DocumentType: d.DocumentType,
		Content:      d.Content,
		Metadata:     meta,
	}
}

// FromDocument creates a DocFile from types.Document.
func FromDocument(doc *types.Document) *DocFile {
	return &DocFile{
		ID:           doc.ID,
		Title:        doc.Title,
		DocumentType: doc.DocumentType,
		Content:      doc.Content,
		Metadata:     doc.Metadata,
	}
}

// ReadDocFile reads and validates a document file.
func ReadDocFile(path string) (*DocFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read doc file: %w", err)
	}

	var doc DocFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse doc file: %w", err)
	}

	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid doc file: %w", err)
	}

	return &doc, nil
}

// WriteDocFile writes a document file to dir/{id}.json.
func WriteDocFile(dir string, doc *DocFile) error {
	return WriteDocFileAt(filepath.Join(dir, doc.Filename()), doc)
}

// WriteDocFileAt writes a document file to path, which need not be named
// after the id.
func WriteDocFileAt(path string, doc *DocFile) error {
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("invalid document: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create docs directory: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal doc file: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write doc file: %w", err)
	}

	return nil
}

// ReadAllDocFiles reads every docs/**/*.json file, ordered by path. Invalid
// files are returned in the second map keyed by path relative to docsDir.
func ReadAllDocFiles(docsDir string) ([]*DocFile, map[string]error, error) {
	if _, err := os.Stat(docsDir); os.IsNotExist(err) {
		return []*DocFile{}, nil, nil
	}

	matches, err := doublestar.Glob(os.DirFS(docsDir), "**/*.json")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to glob docs directory: %w", err)
	}
	sort.Strings(matches)

	var docs []*DocFile
	invalid := map[string]error{}
	for _, rel := range matches {
		doc, err := ReadDocFile(filepath.Join(docsDir, filepath.FromSlash(rel)))
		if err != nil {
			invalid[rel] = err
			continue
		}
		docs = append(docs, doc)
	}

	return docs, invalid, nil
}

// FindDocFile returns the path of the file holding id, searching docs/**.
// Files named {id}.json are tried first; otherwise every file is read and
// matched on its id field. Returns "" if no file holds it.
func FindDocFile(docsDir, id string) (string, error) {
	if _, err := os.Stat(docsDir); os.IsNotExist(err) {
		return "", nil
	}
	fsys := os.DirFS(docsDir)

	named, err := doublestar.Glob(fsys, "**/"+id+".json")
	if err != nil {
		return "", fmt.Errorf("failed to glob docs directory: %w", err)
	}
	sort.Strings(named)
	tried := make(map[string]bool, len(named))
	for _, rel := range named {
		tried[rel] = true
		path := filepath.Join(docsDir, filepath.FromSlash(rel))
		if doc, err := ReadDocFile(path); err == nil && doc.ID == id {
			return path, nil
		}
	}

	all, err := doublestar.Glob(fsys, "**/*.json")
	if err != nil {
		return "", fmt.Errorf("failed to glob docs directory: %w", err)
	}
	sort.Strings(all)
	for _, rel := range all {
		if tried[rel] {
			continue
		}
		path := filepath.Join(docsDir, filepath.FromSlash(rel))
		if doc, err := ReadDocFile(path); err == nil && doc.ID == id {
			return path, nil
		}
	}
	return "", nil
}

// IsDocPath reports whether path names a document file under docsDir.
func IsDocPath(docsDir, path string) bool {
	rel, err := filepath.Rel(docsDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	ok, _ := doublestar.Match("**/*.json", filepath.ToSlash(rel))
	return ok
}
