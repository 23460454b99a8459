// Package daemon keeps the database in step with the docs/ and rels/ trees
// while they are being edited.
//
// The daemon:
//  1. Performs a full sync on start
//  2. Watches docs/** and rels/ for JSON file changes
//  3. Debounces bursts of events per file and syncs each file once
//  4. Marks the descendants of a document for review when its content changes
//  5. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mschirtzinger/docgraph/internal/store/schema"
	docsync "github.com/mschirtzinger/docgraph/internal/sync"
)

// Rippler marks the descendants of a changed document for review.
type Rippler interface {
	MarkDescendantsForReview(ctx context.Context, documentID string, maxDepth int) (int, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long a file must be quiet before it is synced.
	DebounceInterval time.Duration

	// RippleDepth bounds review marking after a content change. 0 means
	// unbounded.
	RippleDepth int

	// OnSync, if set, is called after the initial full sync and after every
	// batch of debounced changes.
	OnSync func(SyncReport)

	Logger *zap.SugaredLogger
}

// DefaultConfig returns the default daemon configuration.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 100 * time.Millisecond,
		Logger:           zap.NewNop().Sugar(),
	}
}

// SyncReport describes one unit of daemon work.
type SyncReport struct {
	Full    *docsync.Stats `json:"full,omitempty"`
	Files   int            `json:"files"`
	Failed  int            `json:"failed"`
	Rippled map[string]int `json:"rippled,omitempty"`
}

type queued struct {
	typ FileType
	at  time.Time
}

// Daemon orchestrates file watching and synchronization.
type Daemon struct {
	syncer  docsync.Syncer
	rippler Rippler
	docsDir string
	relsDir string
	config  *Config

	watcher       *FileWatcher
	changeQueue   map[string]queued
	changeQueueMu sync.Mutex

	// docIDs remembers which document each synced path held, so a deleted
	// file can be mapped back to its id.
	docIDs   map[string]string
	docIDsMu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon. Use Start to begin watching and syncing.
func New(syncer docsync.Syncer, rippler Rippler, docsDir, relsDir string, config *Config) (*Daemon, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if docsDir == "" {
		return nil, fmt.Errorf("docsDir cannot be empty")
	}
	if relsDir == "" {
		return nil, fmt.Errorf("relsDir cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop().Sugar()
	}

	watcher, err := NewFileWatcher()
	if err != nil {
		return nil, err
	}

	return &Daemon{
		syncer:      syncer,
		rippler:     rippler,
		docsDir:     docsDir,
		relsDir:     relsDir,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]queued),
		docIDs:      make(map[string]string),
	}, nil
}

// Start performs a full sync, then watches for changes until ctx is
// cancelled. Missing docs/ and rels/ directories are created.
func (d *Daemon) Start(ctx context.Context) error {
	log := d.config.Logger
	log.Infow("starting daemon", "docs", d.docsDir, "rels", d.relsDir)

	for _, dir := range []string{d.docsDir, d.relsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	if _, err := d.PerformFullSync(ctx); err != nil {
		return fmt.Errorf("initial sync failed: %w", err)
	}

	if err := d.watcher.Start(d.docsDir, d.relsDir); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.wg.Add(2)
	go d.watchFileEvents(runCtx)
	go d.processChangeQueue(runCtx)

	<-runCtx.Done()
	log.Infow("shutdown signal received")
	return d.Stop()
}

// Stop shuts the daemon down and waits for in-flight work.
func (d *Daemon) Stop() error {
	if d.cancel != nil {
		d.cancel()
	}
	if err := d.watcher.Stop(); err != nil {
		d.config.Logger.Warnw("error closing watcher", "error", err)
	}
	d.wg.Wait()
	d.config.Logger.Infow("daemon stopped")
	return nil
}

// PerformFullSync syncs every file. It runs on start and can be triggered
// manually.
func (d *Daemon) PerformFullSync(ctx context.Context) (*docsync.Stats, error) {
	stats, err := d.syncer.FullSync(ctx, d.docsDir, d.relsDir)
	if err != nil {
		return nil, err
	}
	d.report(SyncReport{Full: stats})
	return stats, nil
}

func (d *Daemon) watchFileEvents(ctx context.Context) {
	defer d.wg.Done()

	events, errs := d.watcher.Events(), d.watcher.Errors()
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			d.config.Logger.Debugw("file event", "op", ev.Op, "type", ev.Type, "path", ev.Path)
			d.queueChange(ev)

		case err, ok := <-errs:
			if !ok {
				return
			}
			d.config.Logger.Warnw("watcher error", "error", err)
		}
	}
}

func (d *Daemon) queueChange(ev FileEvent) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()
	d.changeQueue[ev.Path] = queued{typ: ev.Type, at: time.Now()}
}

func (d *Daemon) processChangeQueue(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.processPendingChanges(ctx)
		}
	}
}

// processPendingChanges syncs files that have been quiet for a full debounce
// interval. Documents go first so relationship files arriving in the same
// burst find their endpoints.
func (d *Daemon) processPendingChanges(ctx context.Context) {
	now := time.Now()
	var docs, rels []string

	d.changeQueueMu.Lock()
	for path, q := range d.changeQueue {
		if now.Sub(q.at) < d.config.DebounceInterval {
			continue
		}
		if q.typ == TypeDocument {
			docs = append(docs, path)
		} else {
			rels = append(rels, path)
		}
		delete(d.changeQueue, path)
	}
	d.changeQueueMu.Unlock()

	if len(docs)+len(rels) == 0 {
		return
	}

	report := SyncReport{Files: len(docs) + len(rels)}
	for _, path := range docs {
		if err := d.syncDocumentFile(ctx, path, &report); err != nil {
			d.config.Logger.Warnw("failed to sync document file", "path", path, "error", err)
			report.Failed++
		}
	}
	for _, path := range rels {
		if err := d.syncRelationshipFile(ctx, path); err != nil {
			d.config.Logger.Warnw("failed to sync relationship file", "path", path, "error", err)
			report.Failed++
		}
	}
	d.report(report)
}

func (d *Daemon) syncDocumentFile(ctx context.Context, path string, report *SyncReport) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		id := d.forgetDocPath(path)
		d.config.Logger.Infow("document file removed", "id", id, "path", path)
		return d.syncer.DeleteDocument(ctx, id)
	}

	doc, changed, err := d.syncer.SyncDocument(ctx, path)
	if err != nil {
		return err
	}
	d.docIDsMu.Lock()
	d.docIDs[path] = doc.ID
	d.docIDsMu.Unlock()

	if !changed || d.rippler == nil {
		return nil
	}
	n, err := d.rippler.MarkDescendantsForReview(ctx, doc.ID, d.config.RippleDepth)
	if err != nil {
		return fmt.Errorf("failed to mark descendants of %s: %w", doc.ID, err)
	}
	if n > 0 {
		if report.Rippled == nil {
			report.Rippled = map[string]int{}
		}
		report.Rippled[doc.ID] = n
	}
	return nil
}

func (d *Daemon) forgetDocPath(path string) string {
	d.docIDsMu.Lock()
	defer d.docIDsMu.Unlock()
	if id, ok := d.docIDs[path]; ok {
		delete(d.docIDs, path)
		return id
	}
	return strings.TrimSuffix(filepath.Base(path), ".json")
}

func (d *Daemon) syncRelationshipFile(ctx context.Context, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		parent, typ, child, err := schema.ParseRelFileName(path)
		if err != nil {
			return fmt.Errorf("failed to parse relationship filename: %w", err)
		}
		// WriteRelFile replaces a pair's file when its type changes; only
		// drop the edge if no file for the pair remains.
		if remaining, err := schema.ListRelsForDocument(d.relsDir, parent); err == nil {
			for _, r := range remaining {
				if r.ParentID == parent && r.ChildID == child {
					return nil
				}
			}
		}
		d.config.Logger.Infow("relationship file removed", "parent_id", parent, "child_id", child, "type", typ)
		return d.syncer.DeleteRelationship(ctx, parent, child)
	}

	_, err := d.syncer.SyncRelationship(ctx, path)
	return err
}

func (d *Daemon) report(r SyncReport) {
	if d.config.OnSync != nil {
		d.config.OnSync(r)
	}
}
