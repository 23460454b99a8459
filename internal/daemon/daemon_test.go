package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mschirtzinger/docgraph/internal/engine"
	"github.com/mschirtzinger/docgraph/internal/store/db"
	"github.com/mschirtzinger/docgraph/internal/store/schema"
	docsync "github.com/mschirtzinger/docgraph/internal/sync"
	"github.com/mschirtzinger/docgraph/internal/typereg"
)

type testEnv struct {
	db      *db.DB
	engine  *engine.Engine
	syncer  docsync.Syncer
	docsDir string
	relsDir string
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	tmpDir := t.TempDir()
	database, err := db.Open(filepath.Join(tmpDir, "test.db"), nil)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.InitSchema(); err != nil {
		t.Fatalf("Failed to initialize schema: %v", err)
	}

	eng := engine.New(database, typereg.Default(), engine.DefaultConfig())
	env := &testEnv{
		db:      database,
		engine:  eng,
		syncer:  docsync.New(database, eng, nil),
		docsDir: filepath.Join(tmpDir, "docs"),
		relsDir: filepath.Join(tmpDir, "rels"),
	}
	for _, dir := range []string{env.docsDir, env.relsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("Failed to create %s: %v", dir, err)
		}
	}
	return env
}

func writeDocFile(t *testing.T, dir, id, typ, content string) {
	t.Helper()
	if err := schema.WriteDocFile(dir, &schema.DocFile{ID: id, Title: "Doc " + id, DocumentType: typ, Content: content}); err != nil {
		t.Fatalf("Failed to write doc file: %v", err)
	}
}

func writeRelFile(t *testing.T, dir, id, parent, child string) {
	t.Helper()
	rel := &schema.RelFile{ID: id, ParentID: parent, ChildID: child, RelationshipType: "parent_child", CreatedAt: time.Now().UTC()}
	if err := schema.WriteRelFile(dir, rel); err != nil {
		t.Fatalf("Failed to write rel file: %v", err)
	}
}

// startDaemon runs the daemon until the test ends.
func startDaemon(t *testing.T, env *testEnv, cfg *Config) *Daemon {
	t.Helper()
	d, err := New(env.syncer, env.engine, env.docsDir, env.relsDir, cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Start() returned error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})

	waitFor(t, "watcher running", d.watcher.IsRunning)
	return d
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew(t *testing.T) {
	env := setupTestEnv(t)

	tests := []struct {
		name    string
		syncer  docsync.Syncer
		docs    string
		rels    string
		wantErr bool
	}{
		{"valid", env.syncer, env.docsDir, env.relsDir, false},
		{"nil syncer", nil, env.docsDir, env.relsDir, true},
		{"empty docs dir", env.syncer, "", env.relsDir, true},
		{"empty rels dir", env.syncer, env.docsDir, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.syncer, nil, tt.docs, tt.rels, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if d != nil && d.config.DebounceInterval != 100*time.Millisecond {
				t.Errorf("DebounceInterval = %v, want default", d.config.DebounceInterval)
			}
		})
	}
}

func TestDaemon_InitialSyncAndReport(t *testing.T) {
	env := setupTestEnv(t)
	writeDocFile(t, env.docsDir, "vision", "vision_document", "")
	writeDocFile(t, filepath.Join(env.docsDir, "features"), "feature", "feature_document", "")
	writeRelFile(t, env.relsDir, "r1", "vision", "feature")

	var mu sync.Mutex
	var reports []SyncReport
	startDaemon(t, env, &Config{
		DebounceInterval: 20 * time.Millisecond,
		OnSync: func(r SyncReport) {
			mu.Lock()
			reports = append(reports, r)
			mu.Unlock()
		},
	})

	mu.Lock()
	defer mu.Unlock()
	if len(reports) == 0 || reports[0].Full == nil {
		t.Fatalf("reports = %+v, want initial full sync first", reports)
	}
	if reports[0].Full.DocsSynced != 2 || reports[0].Full.RelsCreated != 1 {
		t.Errorf("full sync = %+v", *reports[0].Full)
	}
}

func TestDaemon_ContentChangeRipples(t *testing.T) {
	env := setupTestEnv(t)
	writeDocFile(t, env.docsDir, "vision", "vision_document", "v1")
	writeDocFile(t, env.docsDir, "feature", "feature_document", "")
	writeDocFile(t, env.docsDir, "epic", "epic_document", "")
	writeRelFile(t, env.relsDir, "r1", "vision", "feature")
	writeRelFile(t, env.relsDir, "r2", "feature", "epic")

	startDaemon(t, env, &Config{DebounceInterval: 20 * time.Millisecond})
	ctx := context.Background()

	writeDocFile(t, env.docsDir, "vision", "vision_document", "v2")

	waitFor(t, "descendants marked", func() bool {
		docs, err := env.db.ListNeedingReview(ctx, time.Time{})
		return err == nil && len(docs) == 2
	})
	vision, err := env.db.GetDocument(ctx, "vision")
	if err != nil || vision == nil || vision.Content != "v2" {
		t.Fatalf("vision = %+v, %v", vision, err)
	}
	if vision.NeedsReview() {
		t.Error("changed document marked itself")
	}
}

func TestDaemon_NewFilesAndDeletes(t *testing.T) {
	env := setupTestEnv(t)
	startDaemon(t, env, &Config{DebounceInterval: 20 * time.Millisecond})
	ctx := context.Background()

	sub := filepath.Join(env.docsDir, "nested")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	// Give the watcher a moment to add the new directory.
	time.Sleep(100 * time.Millisecond)
	writeDocFile(t, env.docsDir, "vision", "vision_document", "")
	writeDocFile(t, sub, "feature", "feature_document", "")

	waitFor(t, "documents synced", func() bool {
		n, err := env.db.GetDocumentCount(ctx)
		return err == nil && n == 2
	})

	writeRelFile(t, env.relsDir, "r1", "vision", "feature")
	waitFor(t, "relationship synced", func() bool {
		n, err := env.db.GetRelationshipCount(ctx)
		return err == nil && n == 1
	})

	if err := schema.DeleteRelFile(env.relsDir, "vision", "parent_child", "feature"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "relationship deleted", func() bool {
		n, err := env.db.GetRelationshipCount(ctx)
		return err == nil && n == 0
	})

	if err := os.Remove(filepath.Join(sub, "feature.json")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "document deleted", func() bool {
		n, err := env.db.GetDocumentCount(ctx)
		return err == nil && n == 1
	})
}

func TestDaemon_RejectedRelationshipIsNotFatal(t *testing.T) {
	env := setupTestEnv(t)
	writeDocFile(t, env.docsDir, "vision", "vision_document", "")

	var mu sync.Mutex
	failed := 0
	startDaemon(t, env, &Config{
		DebounceInterval: 20 * time.Millisecond,
		OnSync: func(r SyncReport) {
			mu.Lock()
			failed += r.Failed
			mu.Unlock()
		},
	})

	writeRelFile(t, env.relsDir, "r1", "vision", "ghost")
	waitFor(t, "failure reported", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return failed == 1
	})
}

func TestDaemon_StopBeforeStart(t *testing.T) {
	env := setupTestEnv(t)
	d, err := New(env.syncer, nil, env.docsDir, env.relsDir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}
