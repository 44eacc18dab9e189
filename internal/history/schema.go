// Package history keeps a SQLite ledger of builds and snapshots.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS builds (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	text_dir        TEXT NOT NULL,
	slug            TEXT NOT NULL DEFAULT '',
	pipeline        TEXT NOT NULL,
	version         TEXT NOT NULL,
	output          TEXT NOT NULL DEFAULT '',
	source_checksum TEXT NOT NULL DEFAULT '',
	dry_run         INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL,
	error           TEXT NOT NULL DEFAULT '',
	duration_ms     INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshots (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	text_dir   TEXT NOT NULL,
	slug       TEXT NOT NULL DEFAULT '',
	label      TEXT NOT NULL,
	note       TEXT NOT NULL DEFAULT '',
	tag        TEXT NOT NULL DEFAULT '',
	committed  INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_builds_slug ON builds(slug, created_at);
CREATE INDEX IF NOT EXISTS idx_snapshots_slug ON snapshots(slug, created_at);
`

// DB wraps a sql.DB with ledger operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	if dir := filepath.Dir(dsn); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("history: create dir: %w", err)
		}
	}
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("history: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("history: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
