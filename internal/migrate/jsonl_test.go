package migrate

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mschirtzinger/docgraph/internal/engine"
	"github.com/mschirtzinger/docgraph/internal/store/db"
	"github.com/mschirtzinger/docgraph/internal/typereg"
	"github.com/mschirtzinger/docgraph/internal/types"
)

func openDB(t *testing.T) (*db.DB, *engine.Engine) {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	return database, engine.New(database, typereg.Default(), engine.DefaultConfig())
}

// seed builds A -> B -> C plus a reference edge A -> C.
func seed(t *testing.T, database *db.DB, eng *engine.Engine) {
	t.Helper()
	ctx := context.Background()
	for _, id := range []string{"A", "B", "C"} {
		doc := &types.Document{
			ID:           id,
			Title:        "Doc " + id,
			DocumentType: "note",
			Content:      "content of " + id,
			Metadata:     map[string]any{"owner": "team-" + id},
		}
		if _, err := database.UpsertDocument(ctx, doc); err != nil {
			t.Fatal(err)
		}
	}
	_, err := eng.CreateBulkRelationships(ctx, []types.RelationshipInput{
		{ParentID: "A", ChildID: "B"},
		{ParentID: "B", ChildID: "C"},
		{ParentID: "A", ChildID: "C", RelationshipType: types.RelReference},
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestExportImport_RoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		name := "plain"
		if compress {
			name = "zstd"
		}
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			src, srcEng := openDB(t)
			seed(t, src, srcEng)

			var buf bytes.Buffer
			res, err := Export(ctx, src, &buf, compress)
			if err != nil {
				t.Fatalf("Export() failed: %v", err)
			}
			if res.Documents != 3 || res.Relationships != 3 {
				t.Errorf("export result = %+v", res)
			}
			if compress == bytes.HasPrefix(buf.Bytes(), []byte(`{"format_version"`)) {
				t.Errorf("compressed=%v but output starts with %q", compress, buf.Bytes()[:4])
			}

			dst, dstEng := openDB(t)
			res, err = Import(ctx, dst, dstEng, &buf, ImportOptions{})
			if err != nil {
				t.Fatalf("Import() failed: %v", err)
			}
			if res.Documents != 3 || res.Relationships != 3 || res.SkippedExisting != 0 {
				t.Errorf("import result = %+v", res)
			}

			doc, err := dst.GetDocument(ctx, "B")
			if err != nil {
				t.Fatal(err)
			}
			if doc.Content != "content of B" || doc.Metadata["owner"] != "team-B" {
				t.Errorf("imported document = %+v", doc)
			}
			rel, err := dst.FindRelationship(ctx, "A", "C")
			if err != nil || rel == nil {
				t.Fatalf("FindRelationship(A, C) = %v, %v", rel, err)
			}
			if rel.RelationshipType != types.RelReference {
				t.Errorf("A->C type = %s, want reference", rel.RelationshipType)
			}
		})
	}
}

func TestImport_SkipsExisting(t *testing.T) {
	ctx := context.Background()
	database, eng := openDB(t)
	seed(t, database, eng)

	var buf bytes.Buffer
	if _, err := Export(ctx, database, &buf, false); err != nil {
		t.Fatal(err)
	}
	res, err := Import(ctx, database, eng, &buf, ImportOptions{})
	if err != nil {
		t.Fatalf("Import() into same database failed: %v", err)
	}
	if res.SkippedExisting != 3 || res.Relationships != 0 {
		t.Errorf("result = %+v, want 3 skipped", res)
	}
}

func TestImport_CycleRollsBack(t *testing.T) {
	ctx := context.Background()
	database, eng := openDB(t)
	seed(t, database, eng)

	stream := strings.Join([]string{
		`{"format_version":"v1.2.0","exported_at":"2026-01-01T00:00:00Z"}`,
		`{"kind":"document","document":{"id":"D","title":"Doc D","document_type":"note"}}`,
		`{"kind":"relationship","relationship":{"parent_id":"C","child_id":"D","relationship_type":"parent_child"}}`,
		`{"kind":"relationship","relationship":{"parent_id":"C","child_id":"A","relationship_type":"parent_child"}}`,
	}, "\n")

	_, err := Import(ctx, database, eng, strings.NewReader(stream), ImportOptions{})
	if !errors.Is(err, types.ErrCycleDetected) {
		t.Fatalf("Import() error = %v, want cycle", err)
	}
	var bulkErr *types.BulkError
	if !errors.As(err, &bulkErr) || bulkErr.Index != 1 {
		t.Errorf("error = %v, want BulkError at index 1", err)
	}

	if doc, err := database.GetDocument(ctx, "D"); err != nil || doc != nil {
		t.Errorf("document D should have been rolled back, got %v, %v", doc, err)
	}
	if n, _ := database.GetRelationshipCount(ctx); n != 3 {
		t.Errorf("relationship count = %d, want 3", n)
	}
}

func TestImport_DryRun(t *testing.T) {
	ctx := context.Background()
	src, srcEng := openDB(t)
	seed(t, src, srcEng)
	var buf bytes.Buffer
	if _, err := Export(ctx, src, &buf, false); err != nil {
		t.Fatal(err)
	}

	dst, dstEng := openDB(t)
	res, err := Import(ctx, dst, dstEng, &buf, ImportOptions{DryRun: true})
	if err != nil {
		t.Fatalf("Import(DryRun) failed: %v", err)
	}
	if res.Documents != 3 || res.Relationships != 3 {
		t.Errorf("result = %+v", res)
	}
	if n, _ := dst.GetDocumentCount(ctx); n != 0 {
		t.Errorf("dry run wrote %d documents", n)
	}
}

func TestImport_BadInput(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"empty", "", "failed to read header"},
		{"invalid version", `{"format_version":"1.0"}`, "invalid format version"},
		{"future major", `{"format_version":"v2.0.0"}`, "unsupported format version"},
		{"bad json", "{\"format_version\":\"v1.0.0\"}\n{not json}", "invalid JSON at line 2"},
		{"unknown kind", "{\"format_version\":\"v1.0.0\"}\n{\"kind\":\"issue\"}", `unknown record kind "issue"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			database, eng := openDB(t)
			_, err := Import(context.Background(), database, eng, strings.NewReader(tt.input), ImportOptions{})
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Import() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestExportFile_ImportFile(t *testing.T) {
	ctx := context.Background()
	src, srcEng := openDB(t)
	seed(t, src, srcEng)

	path := filepath.Join(t.TempDir(), "backup", "graph.jsonl.zst")
	if _, err := ExportFile(ctx, src, path); err != nil {
		t.Fatalf("ExportFile() failed: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, zstdMagic) {
		t.Error(".zst export is not zstd-compressed")
	}

	dst, dstEng := openDB(t)
	res, err := ImportFile(ctx, dst, dstEng, path, ImportOptions{})
	if err != nil {
		t.Fatalf("ImportFile() failed: %v", err)
	}
	if res.Relationships != 3 {
		t.Errorf("result = %+v", res)
	}

	if _, err := ImportFile(ctx, dst, dstEng, filepath.Join(t.TempDir(), "missing.jsonl"), ImportOptions{}); err == nil {
		t.Error("ImportFile() on missing file succeeded")
	}
}
