package daemon

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/mschirtzinger/docgraph/internal/store/schema"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a new file was created.
	OpCreate EventOp = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file was deleted or renamed away.
	OpDelete
)

func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FileType says whether an event concerns a document or a relationship file.
type FileType int

const (
	// TypeDocument is a file anywhere under docs/.
	TypeDocument FileType = iota
	// TypeRelationship is a file directly in rels/.
	TypeRelationship
)

func (ft FileType) String() string {
	switch ft {
	case TypeDocument:
		return "document"
	case TypeRelationship:
		return "relationship"
	default:
		return "unknown"
	}
}

// FileEvent is a change to a document or relationship file.
type FileEvent struct {
	Path string
	Type FileType
	Op   EventOp
}

// FileWatcher watches the docs tree and the rels directory. fsnotify is not
// recursive, so every directory under docs/ gets its own watch and new
// subdirectories are added as they appear.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	events  chan FileEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	docsDir string
	relsDir string
}

// NewFileWatcher creates a watcher. Call Start before reading Events.
func NewFileWatcher() (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher: watcher,
		events:  make(chan FileEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching docsDir (recursively) and relsDir.
func (fw *FileWatcher) Start(docsDir, relsDir string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}

	absDocs, err := filepath.Abs(docsDir)
	if err != nil {
		return fmt.Errorf("failed to resolve docs directory: %w", err)
	}
	absRels, err := filepath.Abs(relsDir)
	if err != nil {
		return fmt.Errorf("failed to resolve rels directory: %w", err)
	}
	fw.docsDir, fw.relsDir = absDocs, absRels

	if err := fw.addTree(absDocs); err != nil {
		return fmt.Errorf("failed to watch docs directory %s: %w", docsDir, err)
	}
	if err := fw.watcher.Add(absRels); err != nil {
		for _, p := range fw.watcher.WatchList() {
			fw.watcher.Remove(p)
		}
		return fmt.Errorf("failed to watch rels directory %s: %w", relsDir, err)
	}

	fw.running = true
	fw.wg.Add(1)
	go fw.processEvents()

	return nil
}

func (fw *FileWatcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return fw.watcher.Add(path)
	})
}

// Stop stops watching and closes the Events and Errors channels. It blocks
// until the event loop has exited.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return nil
	}
	fw.running = false
	fw.mu.Unlock()

	close(fw.done)

	if err := fw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	fw.wg.Wait()

	close(fw.events)
	close(fw.errors)

	return nil
}

// Events returns the channel of file events. Closed by Stop.
func (fw *FileWatcher) Events() <-chan FileEvent {
	return fw.events
}

// Errors returns the channel of watcher errors. Closed by Stop.
func (fw *FileWatcher) Errors() <-chan error {
	return fw.errors
}

// IsRunning reports whether Start has been called without a matching Stop.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}

			if event.Has(fsnotify.Create) && fw.isDocsSubdir(event.Name) {
				// Files written into the new directory before the watch
				// lands are picked up by the next full sync.
				if err := fw.addTree(event.Name); err != nil {
					fw.sendError(fmt.Errorf("failed to watch %s: %w", event.Name, err))
				}
				continue
			}

			if fileEvent, ok := fw.convertEvent(event); ok {
				select {
				case fw.events <- fileEvent:
				case <-fw.done:
					return
				}
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.sendError(err)
		}
	}
}

func (fw *FileWatcher) sendError(err error) {
	select {
	case fw.errors <- err:
	case <-fw.done:
	}
}

func (fw *FileWatcher) isDocsSubdir(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	rel, err := filepath.Rel(fw.docsDir, path)
	return err == nil && !strings.HasPrefix(rel, "..")
}

// convertEvent maps an fsnotify event to a FileEvent, or reports false for
// events to ignore (non-JSON files, chmod, files outside the watched dirs).
func (fw *FileWatcher) convertEvent(event fsnotify.Event) (FileEvent, bool) {
	if !strings.HasSuffix(event.Name, ".json") {
		return FileEvent{}, false
	}

	fileType, ok := fw.determineFileType(event.Name)
	if !ok {
		return FileEvent{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove):
		op = OpDelete
	case event.Has(fsnotify.Rename):
		// The new name arrives as its own create.
		op = OpDelete
	default:
		return FileEvent{}, false
	}

	return FileEvent{Path: event.Name, Type: fileType, Op: op}, true
}

func (fw *FileWatcher) determineFileType(path string) (FileType, bool) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return 0, false
	}

	if filepath.Dir(absPath) == fw.relsDir {
		return TypeRelationship, true
	}
	if schema.IsDocPath(fw.docsDir, absPath) {
		return TypeDocument, true
	}
	return 0, false
}
