package db

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"lukechampine.com/blake3"

	"github.com/mschirtzinger/docgraph/internal/types"
)

// ContentHash returns the blake3 hex digest used for change detection.
func ContentHash(content string) string {
	sum := blake3.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// UpsertDocument inserts or updates a document. Incoming metadata is merged
// into the stored object (json_patch), so keys written by ripple marking
// survive a re-sync of the document file.
//
// Returns changed=true when the document is new or its content hash differs
// from the stored one.
func (db *DB) UpsertDocument(ctx context.Context, doc *types.Document) (changed bool, err error) {
	if err := doc.Validate(); err != nil {
		return false, fmt.Errorf("invalid document: %w", err)
	}

	meta := doc.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return false, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	hash := ContentHash(doc.Content)
	now := time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	err = db.RunInTx(ctx, func(ctx context.Context) error {
		q := db.q(ctx)

		var prevHash string
		err := q.QueryRowContext(ctx, "SELECT content_hash FROM documents WHERE id = ?", doc.ID).Scan(&prevHash)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			changed = true
		case err != nil:
			return fmt.Errorf("failed to read document hash: %w", err)
		default:
			changed = prevHash != hash
		}

		_, err = q.ExecContext(ctx, `
			INSERT INTO documents (id, title, document_type, content, metadata, content_hash, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				title = excluded.title,
				document_type = excluded.document_type,
				content = excluded.content,
				metadata = json_patch(documents.metadata, excluded.metadata),
				content_hash = excluded.content_hash,
				updated_at = excluded.updated_at
		`,
			doc.ID, doc.Title, doc.DocumentType, doc.Content, string(metaJSON), hash,
			formatTime(doc.CreatedAt), formatTime(doc.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert document: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	doc.ContentHash = hash
	return changed, nil
}

// GetDocument retrieves a document by id. Returns (nil, nil) if not found.
func (db *DB) GetDocument(ctx context.Context, id string) (*types.Document, error) {
	row := db.q(ctx).QueryRowContext(ctx, `
		SELECT id, title, document_type, content, metadata, content_hash, created_at, updated_at
		FROM documents WHERE id = ?
	`, id)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	return doc, nil
}

// GetDocuments batch-fetches documents by id. Missing ids are absent from the
// returned map.
func (db *DB) GetDocuments(ctx context.Context, ids []string) (map[string]*types.Document, error) {
	docs := make(map[string]*types.Document, len(ids))
	for _, part := range chunk(ids, 500) {
		in, args := inClause(part)
		rows, err := db.q(ctx).QueryContext(ctx, `
			SELECT id, title, document_type, content, metadata, content_hash, created_at, updated_at
			FROM documents WHERE id IN (`+in+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to get documents: %w", err)
		}
		for rows.Next() {
			doc, err := scanDocument(rows)
			if err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("failed to scan document: %w", err)
			}
			docs[doc.ID] = doc
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return docs, nil
}

// DocumentFilter narrows ListDocuments.
type DocumentFilter struct {
	DocumentType string
	NeedsReview  bool
	// ChangedSince filters on parent_changed.changed_at when NeedsReview is set.
	ChangedSince time.Time
}

// changedSinceClause compares parent_changed.changed_at as a time rather
// than as text; metadata may come from hand-edited files with any RFC3339
// fraction width.
const changedSinceClause = `julianday(json_extract(metadata, '$.parent_changed.changed_at')) >= julianday(?)`

// ListDocuments returns documents ordered by id.
func (db *DB) ListDocuments(ctx context.Context, filter DocumentFilter) ([]*types.Document, error) {
	var where []string
	var args []any

	if filter.DocumentType != "" {
		where = append(where, "document_type = ?")
		args = append(args, filter.DocumentType)
	}
	if filter.NeedsReview {
		where = append(where, "json_extract(metadata, '$.needs_review') = 1")
		if !filter.ChangedSince.IsZero() {
			where = append(where, changedSinceClause)
			args = append(args, formatTime(filter.ChangedSince))
		}
	}

	query := `SELECT id, title, document_type, content, metadata, content_hash, created_at, updated_at FROM documents`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := db.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*types.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document. Its relationships are removed by the
// ON DELETE CASCADE foreign keys.
func (db *DB) DeleteDocument(ctx context.Context, id string) error {
	result, err := db.q(ctx).ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", types.ErrNotFound, id)
	}
	return nil
}

// MergeMetadataBatch merges patch into the metadata of every listed document,
// preserving existing keys. All updates run in one transaction (or join the
// caller's). Unknown ids are skipped.
func (db *DB) MergeMetadataBatch(ctx context.Context, patches map[string]map[string]any) error {
	if len(patches) == 0 {
		return nil
	}

	return db.RunInTx(ctx, func(ctx context.Context) error {
		q := db.q(ctx)
		now := formatTime(time.Now())
		for id, patch := range patches {
			patchJSON, err := json.Marshal(patch)
			if err != nil {
				return fmt.Errorf("failed to marshal metadata for %s: %w", id, err)
			}
			if _, err := q.ExecContext(ctx,
				"UPDATE documents SET metadata = json_patch(metadata, ?), updated_at = ? WHERE id = ?",
				string(patchJSON), now, id,
			); err != nil {
				return fmt.Errorf("failed to merge metadata for %s: %w", id, err)
			}
		}
		return nil
	})
}

// RemoveMetadataKeys deletes top-level metadata keys from a document.
func (db *DB) RemoveMetadataKeys(ctx context.Context, id string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	paths := make([]string, len(keys))
	args := make([]any, 0, len(keys)+2)
	for i, k := range keys {
		paths[i] = "?"
		args = append(args, "$."+k)
	}
	args = append(args, formatTime(time.Now()), id)

	result, err := db.q(ctx).ExecContext(ctx,
		"UPDATE documents SET metadata = json_remove(metadata, "+strings.Join(paths, ", ")+"), updated_at = ? WHERE id = ?",
		args...,
	)
	if err != nil {
		return fmt.Errorf("failed to remove metadata keys: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", types.ErrNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*types.Document, error) {
	var doc types.Document
	var content sql.NullString
	var metaJSON, createdAt, updatedAt string

	if err := row.Scan(
		&doc.ID, &doc.Title, &doc.DocumentType, &content, &metaJSON,
		&doc.ContentHash, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	doc.Content = content.String
	doc.CreatedAt = parseTime(createdAt)
	doc.UpdatedAt = parseTime(updatedAt)
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}
	return &doc, nil
}

// MergeMetadata merges patch into one document's metadata.
func (db *DB) MergeMetadata(ctx context.Context, id string, patch map[string]any) error {
	return db.MergeMetadataBatch(ctx, map[string]map[string]any{id: patch})
}

// ListNeedingReview returns documents flagged needs_review, newest
// parent_changed.changed_at first. A zero since returns all of them.
func (db *DB) ListNeedingReview(ctx context.Context, since time.Time) ([]*types.Document, error) {
	query := `SELECT id, title, document_type, content, metadata, content_hash, created_at, updated_at
		FROM documents
		WHERE json_extract(metadata, '$.needs_review') = 1`
	var args []any
	if !since.IsZero() {
		query += ` AND ` + changedSinceClause
		args = append(args, formatTime(since))
	}
	query += ` ORDER BY julianday(json_extract(metadata, '$.parent_changed.changed_at')) DESC, id`

	rows, err := db.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents needing review: %w", err)
	}
	defer rows.Close()

	var docs []*types.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// ClearReview removes the ripple-marking keys from a document.
func (db *DB) ClearReview(ctx context.Context, id string) error {
	return db.RemoveMetadataKeys(ctx, id, types.MetaNeedsReview, types.MetaParentChanged)
}
