// ABOUTME: SQLite connection management: WAL pragmas, versioned migration runner
// ABOUTME: All other files in this package operate against the *sql.DB opened here

// Package storage implements the reader core's SQLite-backed persistence
// layer: feeds, entries, tags, the search change-log, and the schema
// migration runner that keeps them current.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/colinashford/feedcore/readererr"
)

// Store is a SQLite-backed handle on the reader core's database. A reader
// instance is pinned to exactly one storage engine (SQLite); the type is
// concrete rather than an interface so callers can reach engine-specific
// helpers (chunked iteration cursors, the search change-log) directly.
type Store struct {
	db *sql.DB
}

// applicationID is stamped into the SQLite application_id header so file
// tooling can recognize a reader database without opening its tables.
const applicationID = 0x66646372 // "fdcr"

// Open opens (creating if necessary) the SQLite database at path, applies
// WAL/foreign-key/busy-timeout pragmas, and runs any pending migrations.
// An empty path opens a private in-memory database, primarily for tests.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != "" && path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, readererr.NewStorageError("open", fmt.Errorf("create database directory: %w", err))
		}
	}

	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}
	dsn += "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, readererr.NewStorageError("open", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA application_id = %d", applicationID)); err != nil {
		_ = db.Close()
		return nil, readererr.NewStorageError("open: stamp application_id", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for callers (search, hooks) that need
// to participate in a shared connection but live in other packages.
func (s *Store) DB() *sql.DB { return s.db }
