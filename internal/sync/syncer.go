package sync

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/mschirtzinger/docgraph/internal/engine"
	"github.com/mschirtzinger/docgraph/internal/store/db"
	"github.com/mschirtzinger/docgraph/internal/store/schema"
	"github.com/mschirtzinger/docgraph/internal/types"
)

// Syncer applies file contents to the database.
type Syncer interface {
	// SyncDocument reads a document file and upserts it. changed reports
	// whether the document is new or its content differs from the stored
	// version.
	SyncDocument(ctx context.Context, path string) (doc *types.Document, changed bool, err error)

	// SyncRelationship reads a relationship file and restores the edge
	// through the engine. An edge already present for the pair is in sync
	// (its type is updated if the file's differs).
	SyncRelationship(ctx context.Context, path string) (created bool, err error)

	// DeleteDocument removes a document and, by cascade, its edges.
	// Deleting a missing document is not an error.
	DeleteDocument(ctx context.Context, id string) error

	// DeleteRelationship removes the edge for a (parent, child) pair.
	// Deleting a missing edge is not an error.
	DeleteRelationship(ctx context.Context, parentID, childID string) error

	// FullSync syncs every document under docsDir, then every relationship
	// file in relsDir. Missing directories are skipped.
	FullSync(ctx context.Context, docsDir, relsDir string) (*Stats, error)
}

// Stats summarises a full sync.
type Stats struct {
	DocsSynced  int `json:"docs_synced"`
	DocsChanged int `json:"docs_changed"`
	DocsFailed  int `json:"docs_failed"`
	RelsCreated int `json:"rels_created"`
	RelsInSync  int `json:"rels_in_sync"`
	RelsFailed  int `json:"rels_failed"`
}

func (s *Stats) String() string {
	return fmt.Sprintf("docs=%d (changed=%d, failed=%d), rels=%d new, %d in sync (failed=%d)",
		s.DocsSynced, s.DocsChanged, s.DocsFailed, s.RelsCreated, s.RelsInSync, s.RelsFailed)
}

type syncer struct {
	db     *db.DB
	engine *engine.Engine
	logger *zap.SugaredLogger
}

// New creates a Syncer. The database must have its schema initialized.
// A nil logger discards output.
func New(database *db.DB, eng *engine.Engine, logger *zap.SugaredLogger) Syncer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &syncer{db: database, engine: eng, logger: logger.Named("sync")}
}

func (s *syncer) SyncDocument(ctx context.Context, path string) (*types.Document, bool, error) {
	file, err := schema.ReadDocFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read document file: %w", err)
	}

	doc := file.ToDocument()
	changed, err := s.db.UpsertDocument(ctx, doc)
	if err != nil {
		return nil, false, fmt.Errorf("failed to sync document %s: %w", doc.ID, err)
	}

	s.logger.Debugw("synced document", "id", doc.ID, "title", doc.Title, "changed", changed)
	return doc, changed, nil
}

func (s *syncer) SyncRelationship(ctx context.Context, path string) (bool, error) {
	file, err := schema.ReadRelFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to read relationship file: %w", err)
	}

	rel := file.ToRelationship()
	created, err := s.engine.RestoreRelationship(ctx, rel)
	if err != nil {
		return false, fmt.Errorf("failed to sync relationship %s: %w", rel, err)
	}

	s.logger.Debugw("synced relationship", "parent_id", rel.ParentID, "child_id", rel.ChildID, "type", rel.RelationshipType, "created", created)
	return created, nil
}

func (s *syncer) DeleteDocument(ctx context.Context, id string) error {
	if err := s.db.DeleteDocument(ctx, id); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete document: %w", err)
	}
	s.logger.Infow("deleted document", "id", id)
	return nil
}

func (s *syncer) DeleteRelationship(ctx context.Context, parentID, childID string) error {
	rel, err := s.db.FindRelationship(ctx, parentID, childID)
	if err != nil {
		return fmt.Errorf("failed to look up relationship: %w", err)
	}
	if rel == nil {
		return nil
	}
	if _, err := s.engine.DeleteRelationship(ctx, rel.ID); err != nil {
		return fmt.Errorf("failed to delete relationship: %w", err)
	}
	return nil
}

func (s *syncer) FullSync(ctx context.Context, docsDir, relsDir string) (*Stats, error) {
	s.logger.Infow("starting full sync", "docs", docsDir, "rels", relsDir)
	stats := &Stats{}

	if err := s.syncAllDocuments(ctx, docsDir, stats); err != nil {
		return nil, fmt.Errorf("failed to sync documents: %w", err)
	}
	if err := s.syncAllRelationships(ctx, relsDir, stats); err != nil {
		return nil, fmt.Errorf("failed to sync relationships: %w", err)
	}

	s.logger.Infow("full sync complete",
		"docs", stats.DocsSynced, "docs_changed", stats.DocsChanged, "docs_failed", stats.DocsFailed,
		"rels_created", stats.RelsCreated, "rels_in_sync", stats.RelsInSync, "rels_failed", stats.RelsFailed)
	return stats, nil
}

func (s *syncer) syncAllDocuments(ctx context.Context, docsDir string, stats *Stats) error {
	if _, err := os.Stat(docsDir); os.IsNotExist(err) {
		s.logger.Infow("docs directory doesn't exist, skipping", "dir", docsDir)
		return nil
	}

	files, invalid, err := schema.ReadAllDocFiles(docsDir)
	if err != nil {
		return err
	}
	for name, ferr := range invalid {
		s.logger.Warnw("skipping invalid document file", "file", name, "error", ferr)
		stats.DocsFailed++
	}

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		changed, err := s.db.UpsertDocument(ctx, file.ToDocument())
		if err != nil {
			s.logger.Warnw("failed to sync document", "id", file.ID, "error", err)
			stats.DocsFailed++
			continue
		}
		stats.DocsSynced++
		if changed {
			stats.DocsChanged++
		}
	}
	return nil
}

func (s *syncer) syncAllRelationships(ctx context.Context, relsDir string, stats *Stats) error {
	if _, err := os.Stat(relsDir); os.IsNotExist(err) {
		s.logger.Infow("rels directory doesn't exist, skipping", "dir", relsDir)
		return nil
	}

	files, invalid, err := schema.ScanRels(relsDir)
	if err != nil {
		return err
	}
	for name, ferr := range invalid {
		s.logger.Warnw("skipping invalid relationship file", "file", name, "error", ferr)
		stats.RelsFailed++
	}

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		rel := file.ToRelationship()
		created, err := s.engine.RestoreRelationship(ctx, rel)
		if err != nil {
			s.logger.Warnw("rejected relationship file", "file", file.ToFileName(), "error", err)
			stats.RelsFailed++
			continue
		}
		if created {
			stats.RelsCreated++
		} else {
			stats.RelsInSync++
		}
	}
	return nil
}
