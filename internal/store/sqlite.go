// Package store provides SQLite-backed persistence for the midstream engine.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/anthropics/midstream/internal/domain"
)

// schemaV1 defines the initial database schema.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id        TEXT PRIMARY KEY,
	state             TEXT NOT NULL DEFAULT 'streaming',
	state_version     INTEGER NOT NULL DEFAULT 1,
	continuations     INTEGER NOT NULL DEFAULT 0,
	max_continuations INTEGER NOT NULL DEFAULT 5,
	model             TEXT NOT NULL DEFAULT '',
	transcript_chars  INTEGER NOT NULL DEFAULT 0,
	last_event_seq    INTEGER NOT NULL DEFAULT 0,
	created_at_unix   INTEGER NOT NULL DEFAULT 0,
	updated_at_unix   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS transcript_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	seq_no     INTEGER NOT NULL,
	kind       TEXT NOT NULL,
	text       TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	UNIQUE(session_id, seq_no)
);
CREATE INDEX IF NOT EXISTS idx_transcript_session_seq ON transcript_events(session_id, seq_no);

CREATE TABLE IF NOT EXISTS audit_records (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id    TEXT NOT NULL,
	action        TEXT NOT NULL,
	path          TEXT NOT NULL DEFAULT '',
	success       INTEGER NOT NULL DEFAULT 0,
	error         TEXT NOT NULL DEFAULT '',
	payload_bytes INTEGER NOT NULL DEFAULT 0,
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_records(session_id);
`

// NewDB opens a SQLite database at the given path with recommended pragmas
// and runs the V1 schema migration, creating parent directories as needed.
func NewDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, domain.WrapEngineError(domain.ErrStoreInit.Code, "create database dir", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreInit.Code, "open database", err)
	}

	// Limit connections to 1 for SQLite (WAL allows concurrent reads but single writer).
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, domain.WrapEngineError(domain.ErrStoreInit.Code, "migrate schema", err)
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	_, err := db.ExecContext(context.Background(), schemaV1)
	return err
}
