// Package db provides SQLite persistence for docgraph documents and their
// relationships.
//
// The database runs embedded (ncruces/go-sqlite3, no cgo) with WAL enabled so
// traversal reads can proceed while a writer holds the write lock.
//
// Architecture:
//   - Database file: .docgraph/docgraph.db
//   - Tables: documents, document_relationships
//   - Constraints: UNIQUE(parent_id, child_id), CHECK(parent_id != child_id),
//     relationship_type enum, ON DELETE CASCADE from both endpoints
//   - Indexes on parent_id and child_id for one-level frontier expansion
//
// Write transactions are opened with BEGIN IMMEDIATE (the _txlock DSN
// parameter), so a validate-then-insert sequence executed inside RunInTx is
// serialized against every other writer.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.uber.org/zap"

	"github.com/mschirtzinger/docgraph/internal/types"
)

// DB wraps the SQLite connection pool.
type DB struct {
	conn   *sql.DB
	path   string
	logger *zap.SugaredLogger
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// Open creates a new database connection at the specified path.
//
// If the database doesn't exist, it is created. The caller MUST call Close()
// when done and InitSchema() before first use.
//
// Example:
//
//	database, err := db.Open(".docgraph/docgraph.db", logger)
//	if err != nil {
//	    return err
//	}
//	defer database.Close()
func Open(path string, logger *zap.SugaredLogger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Per-connection pragmas go in the DSN so every pooled connection gets them.
	connStr := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn:   conn,
		path:   path,
		logger: logger,
	}

	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close closes the database connection after checkpointing the WAL.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		db.logger.Warnw("failed to checkpoint WAL", "error", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist. Idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		document_type TEXT NOT NULL,
		content TEXT,
		metadata TEXT NOT NULL DEFAULT '{}',  -- JSON object
		content_hash TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS document_relationships (
		id TEXT PRIMARY KEY,
		parent_id TEXT NOT NULL,
		child_id TEXT NOT NULL,
		relationship_type TEXT NOT NULL DEFAULT 'parent_child',
		created_at TEXT NOT NULL,
		CONSTRAINT uq_parent_child UNIQUE (parent_id, child_id),
		CONSTRAINT chk_no_self_reference CHECK (parent_id != child_id),
		CONSTRAINT chk_relationship_type
			CHECK (relationship_type IN ('parent_child', 'reference', 'derived_from')),
		FOREIGN KEY (parent_id) REFERENCES documents(id) ON DELETE CASCADE,
		FOREIGN KEY (child_id) REFERENCES documents(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_documents_type ON documents(document_type);
	CREATE INDEX IF NOT EXISTS idx_relationships_parent ON document_relationships(parent_id);
	CREATE INDEX IF NOT EXISTS idx_relationships_child ON document_relationships(child_id);
	CREATE INDEX IF NOT EXISTS idx_relationships_type ON document_relationships(relationship_type);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// RunInTx runs fn inside a single write transaction. Store methods called with
// the context passed to fn use that transaction. If ctx already carries a
// transaction, fn joins it instead of opening a nested one.
//
// The transaction is committed if fn returns nil and rolled back otherwise.
func (db *DB) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// q returns the transaction carried by ctx, or the pool.
func (db *DB) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return db.conn
}

// GetDocumentCount returns the total number of documents.
func (db *DB) GetDocumentCount(ctx context.Context) (int, error) {
	var count int
	if err := db.q(ctx).QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get document count: %w", err)
	}
	return count, nil
}

// GetRelationshipCount returns the total number of relationships.
func (db *DB) GetRelationshipCount(ctx context.Context) (int, error) {
	var count int
	if err := db.q(ctx).QueryRowContext(ctx, "SELECT COUNT(*) FROM document_relationships").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get relationship count: %w", err)
	}
	return count, nil
}

// inClause returns "?, ?, ?" for n arguments and the ids as []any.
func inClause(ids []string) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", "), args
}

// chunk splits ids into slices of at most size elements to stay well under
// SQLite's bound-parameter limit.
func chunk(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

func formatTime(t time.Time) string {
	return t.UTC().Format(types.TimestampLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
