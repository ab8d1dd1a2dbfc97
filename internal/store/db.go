// Package store persists the version-control engine's state in SQLite.
//
// The database runs embedded (ncruces/go-sqlite3) with WAL mode for
// concurrent readers. Relational tables hold branches, commits, merges,
// conflicts, and cached comparisons; commit snapshots are opaque blobs kept
// in an ObjectStore keyed by content hash, so large documents can live in
// object storage while metadata stays relational.
//
// All mutations that must be atomic (commit insert + head advance, merge
// completion) run inside a single transaction with an expected-head
// compare-and-swap on the branch head pointer.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/trellishq/trellis/internal/snapshot"
)

var (
	ErrBranchNotFound     = errors.New("branch not found")
	ErrBranchExists       = errors.New("branch already exists")
	ErrCommitNotFound     = errors.New("commit not found")
	ErrMergeNotFound      = errors.New("merge not found")
	ErrConflictNotFound   = errors.New("conflict not found")
	ErrComparisonNotFound = errors.New("comparison not found")
	ErrObjectNotFound     = errors.New("object not found")
	ErrStaleHead          = errors.New("branch head changed concurrently")
	ErrConflictsPending   = errors.New("merge has unresolved conflicts")
	ErrInvalidInput       = errors.New("invalid input")
)

// DB wraps the SQLite connection and the snapshot object store.
type DB struct {
	conn    *sql.DB
	path    string
	objects ObjectStore
}

// Option configures Open.
type Option func(*DB)

// WithObjectStore overrides the default SQLite-table object store, for
// example with the S3 implementation.
func WithObjectStore(os ObjectStore) Option {
	return func(db *DB) { db.objects = os }
}

// Open creates a database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the database doesn't exist it is created; call InitSchema before first
// use. The caller MUST call Close when done.
func Open(path string, opts ...Option) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
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

	db := &DB{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.conn.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	for _, opt := range opts {
		opt(db)
	}
	if db.objects == nil {
		db.objects = &sqliteObjectStore{conn: conn}
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Objects returns the snapshot object store in use.
func (db *DB) Objects() ObjectStore {
	return db.objects
}

// Close closes the database connection after checkpointing the WAL.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the tables and indexes if they don't exist.
// Idempotent - safe to call multiple times.
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS branches (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		parent_branch_id TEXT,
		branch_point_commit_id TEXT,
		head_commit_id TEXT,
		is_default INTEGER NOT NULL DEFAULT 0,
		is_protected INTEGER NOT NULL DEFAULT 0,
		requires_review INTEGER NOT NULL DEFAULT 0,
		min_reviewers INTEGER NOT NULL DEFAULT 0,
		collaborators TEXT,  -- JSON array
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (project_id, name)
	);

	CREATE TABLE IF NOT EXISTS commits (
		id TEXT PRIMARY KEY,
		branch_id TEXT NOT NULL REFERENCES branches(id),
		message TEXT NOT NULL,
		description TEXT,
		hash TEXT NOT NULL UNIQUE,
		parent_id TEXT REFERENCES commits(id),
		merge_parent_id TEXT REFERENCES commits(id),
		snapshot_key TEXT NOT NULL,
		delta TEXT NOT NULL,  -- JSON diff summary vs parent
		author TEXT NOT NULL,
		co_authors TEXT,  -- JSON array
		created_at TEXT NOT NULL,
		is_auto_save INTEGER NOT NULL DEFAULT 0,
		tags TEXT  -- JSON array
	);

	CREATE TABLE IF NOT EXISTS merges (
		id TEXT PRIMARY KEY,
		source_branch_id TEXT NOT NULL REFERENCES branches(id),
		target_branch_id TEXT NOT NULL REFERENCES branches(id),
		strategy TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		merge_commit_id TEXT REFERENCES commits(id),
		source_commit_id TEXT,
		target_commit_id TEXT,
		initiated_by TEXT NOT NULL,
		squash_message TEXT,
		delete_source INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE TABLE IF NOT EXISTS conflicts (
		id TEXT PRIMARY KEY,
		merge_id TEXT NOT NULL REFERENCES merges(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		node_id TEXT NOT NULL,
		node_type TEXT,
		node_name TEXT,
		property_path TEXT NOT NULL,
		source_value TEXT NOT NULL,  -- JSON {property: value}
		target_value TEXT NOT NULL,
		base_value TEXT,
		resolution TEXT NOT NULL DEFAULT 'pending',
		resolved_value TEXT,
		resolved_by TEXT,
		resolved_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS comparisons (
		id TEXT PRIMARY KEY,
		base_branch_id TEXT NOT NULL REFERENCES branches(id),
		compare_branch_id TEXT NOT NULL REFERENCES branches(id),
		base_commit_id TEXT,
		compare_commit_id TEXT,
		added_node_ids TEXT NOT NULL,     -- JSON array
		modified_node_ids TEXT NOT NULL,  -- JSON array
		deleted_node_ids TEXT NOT NULL,   -- JSON array
		conflict_node_ids TEXT NOT NULL,  -- JSON array
		is_stale INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		expires_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS objects (
		key TEXT PRIMARY KEY,
		body BLOB NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_branches_project ON branches(project_id);
	CREATE INDEX IF NOT EXISTS idx_branches_status ON branches(status);
	CREATE INDEX IF NOT EXISTS idx_branches_default
	    ON branches(project_id, is_default) WHERE is_default = 1;

	CREATE INDEX IF NOT EXISTS idx_commits_branch ON commits(branch_id);
	CREATE INDEX IF NOT EXISTS idx_commits_parent ON commits(parent_id);
	CREATE INDEX IF NOT EXISTS idx_commits_created ON commits(branch_id, created_at);

	CREATE INDEX IF NOT EXISTS idx_merges_pair ON merges(source_branch_id, target_branch_id);
	CREATE INDEX IF NOT EXISTS idx_merges_status ON merges(status);

	CREATE INDEX IF NOT EXISTS idx_conflicts_merge ON conflicts(merge_id);
	CREATE INDEX IF NOT EXISTS idx_conflicts_resolution ON conflicts(merge_id, resolution);

	CREATE INDEX IF NOT EXISTS idx_comparisons_pair
	    ON comparisons(base_branch_id, compare_branch_id, created_at);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Ping checks database accessibility.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func snapshotKey(hash string) string {
	return "snapshots/" + hash
}

// putSnapshot writes a commit snapshot to the object store under its hash.
// Blobs are content-addressed, so rewriting the same key is harmless.
func (db *DB) putSnapshot(ctx context.Context, hash string, snap snapshot.Snapshot) error {
	data, err := snap.Encode()
	if err != nil {
		return err
	}
	if err := db.objects.PutObject(ctx, snapshotKey(hash), data); err != nil {
		return fmt.Errorf("failed to store snapshot %s: %w", hash, err)
	}
	return nil
}

// getSnapshot loads a commit snapshot from the object store.
func (db *DB) getSnapshot(ctx context.Context, key string) (snapshot.Snapshot, error) {
	data, err := db.objects.GetObject(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", key, err)
	}
	return snapshot.Decode(data)
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalJSON[T any](raw string, target *T) error {
	if raw == "" || raw == "null" {
		return nil
	}
	return json.Unmarshal([]byte(raw), target)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := parseTime(ns.String)
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
