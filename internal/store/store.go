// Package store is the daemon's persistent symbol/edge index: one sqlite
// database per workspace, opened lazily and kept for the workspace's
// lifetime in the daemon process.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the sqlite connection for one workspace.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at dbPath and
// applies any pending migrations.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("store: create dir for %s: %w", dbPath, err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dbPath, err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA synchronous=NORMAL;",
	} {
		if _, err := db.ExecContext(context.Background(), pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: apply pragma %q: %w", pragma, err)
		}
	}

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying *sql.DB for packages (indexer) that need to
// run their own queries without growing this package into a god object.
func (s *Store) DB() *sql.DB { return s.db }

const schemaVersionTableDDL = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    checksum   TEXT NOT NULL,
    applied_at TEXT NOT NULL
);
`

// migration is one numbered, checksummed schema change. checksum is
// computed from sql so a migration's recorded checksum can be compared
// against what actually ran, catching an accidentally edited historical
// migration (migrations must never be modified once applied anywhere;
// only appended to).
type migration struct {
	sql string
}

func (m migration) checksum() string {
	sum := sha256.Sum256([]byte(m.sql))
	return hex.EncodeToString(sum[:])
}

// migrations is the ordered list of schema changes, applied starting from
// version 0. Never edit an existing entry; only append.
var migrations = []migration{
	{sql: migrationV0SQL},
	{sql: migrationV1SQL},
}

const migrationV0SQL = `
CREATE TABLE IF NOT EXISTS workspaces (
    id         TEXT PRIMARY KEY,
    root       TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS file_versions (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    workspace_id TEXT NOT NULL,
    path         TEXT NOT NULL,
    content_md5  TEXT NOT NULL,
    size         INTEGER NOT NULL,
    mtime        TEXT NOT NULL,
    indexed_at   TEXT NOT NULL,
    language     TEXT NOT NULL DEFAULT '',
    UNIQUE(workspace_id, path),
    FOREIGN KEY(workspace_id) REFERENCES workspaces(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS symbols (
    uid          TEXT PRIMARY KEY,
    workspace_id TEXT NOT NULL,
    path         TEXT NOT NULL,
    name         TEXT NOT NULL,
    kind         TEXT NOT NULL,
    line         INTEGER NOT NULL,
    content_md5  TEXT NOT NULL,
    FOREIGN KEY(workspace_id) REFERENCES workspaces(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_symbols_workspace_path ON symbols(workspace_id, path);
CREATE INDEX IF NOT EXISTS idx_symbols_workspace_name ON symbols(workspace_id, name);

CREATE TABLE IF NOT EXISTS edges (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    workspace_id TEXT NOT NULL,
    source_uid   TEXT NOT NULL,
    target_uid   TEXT NOT NULL,
    relation     TEXT NOT NULL,
    start_line   INTEGER NOT NULL DEFAULT 0,
    start_char   INTEGER NOT NULL DEFAULT 0,
    UNIQUE(workspace_id, source_uid, target_uid, relation, start_line, start_char),
    FOREIGN KEY(workspace_id) REFERENCES workspaces(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(workspace_id, source_uid, relation);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(workspace_id, target_uid, relation);
`

// migrationV1SQL adds the edge-audit snapshot table. Nothing in this code
// writes or reads it: the audit counters live only in memory
// (internal/audit) and reset when the daemon restarts. The original syntactic
// indexer (grounded in apps/cli/internal/index) never needed because it
// never produced cross-reference edges in the first place.
const migrationV1SQL = `
CREATE TABLE IF NOT EXISTS edge_audit_snapshots (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    code       TEXT NOT NULL,
    count      INTEGER NOT NULL,
    taken_at   TEXT NOT NULL
);
`

func ensureSchema(db *sql.DB) error {
	if _, err := db.ExecContext(context.Background(), schemaVersionTableDDL); err != nil {
		return fmt.Errorf("store: create schema_version table: %w", err)
	}

	var current int
	row := db.QueryRowContext(context.Background(), "SELECT COALESCE(MAX(version), -1) FROM schema_version")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("store: read schema version: %w", err)
	}

	if current >= len(migrations) {
		return fmt.Errorf("store: database schema version %d is newer than the %d migration(s) this build knows; refusing to open with an older binary", current, len(migrations))
	}

	for v := 0; v <= current; v++ {
		var recorded string
		row := db.QueryRowContext(context.Background(), "SELECT checksum FROM schema_version WHERE version = ?", v)
		if err := row.Scan(&recorded); err != nil {
			return fmt.Errorf("store: read checksum of migration %d: %w", v, err)
		}
		if recorded != migrations[v].checksum() {
			return fmt.Errorf("store: migration %d was applied with a different checksum than this build's; refusing to open", v)
		}
	}

	for v := current + 1; v < len(migrations); v++ {
		if err := runMigration(db, v); err != nil {
			return fmt.Errorf("store: run migration %d: %w", v, err)
		}
	}
	return nil
}

func runMigration(db *sql.DB, version int) error {
	tx, err := db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	m := migrations[version]
	if _, err := tx.ExecContext(context.Background(), m.sql); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(context.Background(),
		"INSERT INTO schema_version (version, checksum, applied_at) VALUES (?, ?, ?)",
		version, m.checksum(), now,
	); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}

// SchemaVersion returns the highest applied migration version, or -1 if
// none have been applied (which Open never actually returns, since it
// always runs migration 0 before returning).
func SchemaVersion(db *sql.DB) (int, error) {
	var version int
	row := db.QueryRowContext(context.Background(), "SELECT COALESCE(MAX(version), -1) FROM schema_version")
	if err := row.Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

// FileCount returns the number of indexed files recorded for a workspace,
// for the daemon's status response.
func (s *Store) FileCount(ctx context.Context, workspaceID string) (int, error) {
	var n int
	row := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM file_versions WHERE workspace_id = ?", workspaceID)
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// SymbolCount returns the number of indexed symbols recorded for a
// workspace, for the daemon's status response.
func (s *Store) SymbolCount(ctx context.Context, workspaceID string) (int, error) {
	var n int
	row := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM symbols WHERE workspace_id = ?", workspaceID)
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// EnsureWorkspace records (idempotently) that a workspace exists.
func (s *Store) EnsureWorkspace(ctx context.Context, id, root string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO workspaces (id, root, created_at) VALUES (?, ?, ?)`,
		id, root, time.Now().UTC().Format(time.RFC3339))
	return err
}
