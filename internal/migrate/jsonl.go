// Package migrate moves a whole document graph in and out of the database
// as a JSONL stream, optionally zstd-compressed.
//
// The first line is a header carrying a semantic format version; every
// following line is one record:
//
//	{"format_version":"v1.0.0","exported_at":"...","documents":2,"relationships":1}
//	{"kind":"document","document":{...}}
//	{"kind":"document","document":{...}}
//	{"kind":"relationship","relationship":{...}}
package migrate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/mod/semver"

	"github.com/mschirtzinger/docgraph/internal/store/db"
	"github.com/mschirtzinger/docgraph/internal/types"
)

// FormatVersion is written into every export header. Imports accept any
// version with the same major number.
const FormatVersion = "v1.0.0"

const (
	KindDocument     = "document"
	KindRelationship = "relationship"
)

// zstd frame magic number.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Header is the first line of an export.
type Header struct {
	FormatVersion string    `json:"format_version"`
	ExportedAt    time.Time `json:"exported_at"`
	Documents     int       `json:"documents"`
	Relationships int       `json:"relationships"`
}

// Record is one document or relationship line.
type Record struct {
	Kind         string              `json:"kind"`
	Document     *types.Document     `json:"document,omitempty"`
	Relationship *types.Relationship `json:"relationship,omitempty"`
}

// BulkCreator creates relationships all-or-nothing with full validation.
type BulkCreator interface {
	CreateBulkRelationships(ctx context.Context, items []types.RelationshipInput) ([]*types.Relationship, error)
}

// Result reports what an export or import did.
type Result struct {
	Documents       int
	Relationships   int
	SkippedExisting int
	FormatVersion   string
}

// Export writes every document and relationship to w.
func Export(ctx context.Context, database *db.DB, w io.Writer, compress bool) (*Result, error) {
	docs, err := database.ListDocuments(ctx, db.DocumentFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	rels, err := database.ListAllRelationships(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list relationships: %w", err)
	}

	out := w
	var zw *zstd.Encoder
	if compress {
		zw, err = zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		out = zw
	}

	bw := bufio.NewWriter(out)
	enc := json.NewEncoder(bw)
	header := Header{
		FormatVersion: FormatVersion,
		ExportedAt:    time.Now().UTC(),
		Documents:     len(docs),
		Relationships: len(rels),
	}
	if err := enc.Encode(header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	for _, doc := range docs {
		if err := enc.Encode(Record{Kind: KindDocument, Document: doc}); err != nil {
			return nil, fmt.Errorf("failed to write document %s: %w", doc.ID, err)
		}
	}
	for _, rel := range rels {
		if err := enc.Encode(Record{Kind: KindRelationship, Relationship: rel}); err != nil {
			return nil, fmt.Errorf("failed to write relationship %s: %w", rel.ID, err)
		}
	}

	if err := bw.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush export: %w", err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("failed to finish zstd stream: %w", err)
		}
	}

	return &Result{Documents: len(docs), Relationships: len(rels), FormatVersion: FormatVersion}, nil
}

// ExportFile exports to path, compressing when it ends in .zst. The file is
// written to a temp name and renamed into place.
func ExportFile(ctx context.Context, database *db.DB, path string) (*Result, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create export file: %w", err)
	}

	result, err := Export(ctx, database, f, strings.HasSuffix(path, ".zst"))
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close export file: %w", cerr)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return nil, err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to rename export file: %w", err)
	}
	return result, nil
}

// ImportOptions controls Import.
type ImportOptions struct {
	// DryRun validates the whole stream inside a transaction and rolls it
	// back.
	DryRun bool
}

var errDryRun = errors.New("dry run")

// Import reads an export from r (plain or zstd) into the database. Documents
// are upserted. Relationships whose pair already exists are skipped; the
// rest are created through creator in one all-or-nothing batch, so an edge
// that would close a cycle aborts the import with a *types.BulkError. The
// whole import commits as a single transaction.
func Import(ctx context.Context, database *db.DB, creator BulkCreator, r io.Reader, opts ImportOptions) (*Result, error) {
	br := bufio.NewReader(r)
	in := io.Reader(br)
	if magic, err := br.Peek(len(zstdMagic)); err == nil && bytes.Equal(magic, zstdMagic) {
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to open zstd stream: %w", err)
		}
		defer zr.Close()
		in = zr
	}

	dec := json.NewDecoder(in)
	var header Header
	if err := dec.Decode(&header); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if err := checkVersion(header.FormatVersion); err != nil {
		return nil, err
	}

	var docs []*types.Document
	var rels []*types.Relationship
	for line := 2; ; line++ {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid JSON at line %d: %w", line, err)
		}
		switch {
		case rec.Kind == KindDocument && rec.Document != nil:
			docs = append(docs, rec.Document)
		case rec.Kind == KindRelationship && rec.Relationship != nil:
			rels = append(rels, rec.Relationship)
		default:
			return nil, fmt.Errorf("line %d: unknown record kind %q", line, rec.Kind)
		}
	}

	result := &Result{FormatVersion: header.FormatVersion}
	err := database.RunInTx(ctx, func(ctx context.Context) error {
		for _, doc := range docs {
			if _, err := database.UpsertDocument(ctx, doc); err != nil {
				return fmt.Errorf("failed to import document %s: %w", doc.ID, err)
			}
		}
		result.Documents = len(docs)

		var items []types.RelationshipInput
		for _, rel := range rels {
			existing, err := database.FindRelationship(ctx, rel.ParentID, rel.ChildID)
			if err != nil {
				return err
			}
			if existing != nil {
				result.SkippedExisting++
				continue
			}
			items = append(items, types.RelationshipInput{
				ParentID:         rel.ParentID,
				ChildID:          rel.ChildID,
				RelationshipType: rel.RelationshipType,
			})
		}
		created, err := creator.CreateBulkRelationships(ctx, items)
		if err != nil {
			return fmt.Errorf("failed to import relationships: %w", err)
		}
		result.Relationships = len(created)

		if opts.DryRun {
			return errDryRun
		}
		return nil
	})
	if err != nil && !errors.Is(err, errDryRun) {
		return nil, err
	}
	return result, nil
}

// ImportFile opens path and imports it.
func ImportFile(ctx context.Context, database *db.DB, creator BulkCreator, path string, opts ImportOptions) (*Result, error) {
	// #nosec G304 - path comes from the CLI
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open import file: %w", err)
	}
	defer f.Close()
	return Import(ctx, database, creator, f, opts)
}

func checkVersion(v string) error {
	if !semver.IsValid(v) {
		return fmt.Errorf("invalid format version %q", v)
	}
	if semver.Major(v) != semver.Major(FormatVersion) {
		return fmt.Errorf("unsupported format version %s (this build reads %s.x)", v, semver.Major(FormatVersion))
	}
	return nil
}
