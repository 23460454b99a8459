package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func startWatcher(t *testing.T) (*FileWatcher, string, string) {
	t.Helper()
	tmpDir := t.TempDir()
	docsDir := filepath.Join(tmpDir, "docs")
	relsDir := filepath.Join(tmpDir, "rels")
	for _, dir := range []string{filepath.Join(docsDir, "features"), relsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	if err := fw.Start(docsDir, relsDir); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { fw.Stop() })
	return fw, docsDir, relsDir
}

func nextEvent(t *testing.T, fw *FileWatcher) FileEvent {
	t.Helper()
	select {
	case ev := <-fw.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for file event")
		return FileEvent{}
	}
}

func TestFileWatcher_StartStop(t *testing.T) {
	fw, docsDir, relsDir := startWatcher(t)
	if !fw.IsRunning() {
		t.Fatal("watcher not running after Start")
	}
	if err := fw.Start(docsDir, relsDir); err == nil {
		t.Error("second Start() succeeded")
	}
	if err := fw.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if fw.IsRunning() {
		t.Error("watcher running after Stop")
	}
	if _, ok := <-fw.Events(); ok {
		t.Error("Events channel not closed")
	}
	if err := fw.Stop(); err != nil {
		t.Errorf("second Stop() failed: %v", err)
	}
}

func TestFileWatcher_Classifies(t *testing.T) {
	fw, docsDir, relsDir := startWatcher(t)

	tests := []struct {
		name     string
		path     string
		wantType FileType
	}{
		{"top-level document", filepath.Join(docsDir, "vision.json"), TypeDocument},
		{"nested document", filepath.Join(docsDir, "features", "login.json"), TypeDocument},
		{"relationship", filepath.Join(relsDir, "a--parent_child--b.json"), TypeRelationship},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := os.WriteFile(tt.path, []byte("{}"), 0o644); err != nil {
				t.Fatal(err)
			}
			ev := nextEvent(t, fw)
			if ev.Type != tt.wantType || ev.Op != OpCreate {
				t.Errorf("event = %+v, want %v create", ev, tt.wantType)
			}
			// Drain the write that follows the create.
			for {
				select {
				case <-fw.Events():
					continue
				case <-time.After(100 * time.Millisecond):
				}
				break
			}
		})
	}
}

func TestFileWatcher_IgnoresNonJSON(t *testing.T) {
	fw, docsDir, _ := startWatcher(t)

	if err := os.WriteFile(filepath.Join(docsDir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(docsDir, "real.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	ev := nextEvent(t, fw)
	if filepath.Base(ev.Path) != "real.json" {
		t.Errorf("first event for %s, want real.json", ev.Path)
	}
}

func TestFileWatcher_Delete(t *testing.T) {
	fw, _, relsDir := startWatcher(t)
	path := filepath.Join(relsDir, "a--reference--b.json")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	for len(fw.Events()) > 0 {
		<-fw.Events()
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	for {
		ev := nextEvent(t, fw)
		if ev.Op == OpDelete {
			if ev.Type != TypeRelationship {
				t.Errorf("Type = %v, want relationship", ev.Type)
			}
			return
		}
	}
}

func TestFileWatcher_StartNonexistentDirectory(t *testing.T) {
	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatal(err)
	}
	defer fw.Stop()
	if err := fw.Start("/nonexistent/docs", "/nonexistent/rels"); err == nil {
		t.Error("Start() succeeded on missing directories")
	}
}

func TestEventOpAndFileType_String(t *testing.T) {
	if OpCreate.String() != "create" || OpModify.String() != "modify" || OpDelete.String() != "delete" || EventOp(9).String() != "unknown" {
		t.Error("EventOp.String mismatch")
	}
	if TypeDocument.String() != "document" || TypeRelationship.String() != "relationship" || FileType(9).String() != "unknown" {
		t.Error("FileType.String mismatch")
	}
}
