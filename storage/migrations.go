// ABOUTME: Ordered, versioned schema migrations tracked in a _schema_version table
// ABOUTME: Each step runs once, inside its own transaction, in strictly ascending order

package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/colinashford/feedcore/readererr"
)

// migration is one forward-only schema change. version must be unique and
// migrations must be listed in ascending version order; migrate() applies
// them in list order and does not check either property.
type migration struct {
	version int
	name    string
	stmts   []string
}

// migrations lists every schema change in the order it was introduced.
// Never edit an applied migration's stmts; add a new migration instead.
var migrations = []migration{
	{
		version: 1,
		name:    "initial schema",
		stmts: []string{
			`CREATE TABLE feeds (
				url TEXT PRIMARY KEY,
				updated TIMESTAMP,
				title TEXT,
				link TEXT,
				author TEXT,
				subtitle TEXT,
				version TEXT,
				user_title TEXT,
				added TIMESTAMP NOT NULL,
				last_updated TIMESTAMP,
				last_retrieved TIMESTAMP,
				last_exception_category TEXT,
				last_exception_message TEXT,
				updates_enabled INTEGER NOT NULL DEFAULT 1,
				update_after TIMESTAMP,
				caching_etag TEXT,
				caching_last_modified TEXT,
				stale INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX idx_feeds_added ON feeds(added)`,
			`CREATE TABLE entries (
				feed_url TEXT NOT NULL REFERENCES feeds(url) ON DELETE CASCADE,
				id TEXT NOT NULL,
				updated TIMESTAMP,
				published TIMESTAMP,
				title TEXT,
				link TEXT,
				author TEXT,
				summary TEXT,
				content TEXT,
				enclosures TEXT,
				read INTEGER NOT NULL DEFAULT 0,
				read_modified TIMESTAMP,
				important TEXT NOT NULL DEFAULT 'unset',
				important_modified TIMESTAMP,
				added TIMESTAMP NOT NULL,
				last_updated TIMESTAMP NOT NULL,
				added_by TEXT NOT NULL,
				original_feed_url TEXT,
				first_updated TIMESTAMP NOT NULL,
				first_updated_epoch INTEGER NOT NULL,
				feed_order INTEGER NOT NULL,
				recent_sort TIMESTAMP NOT NULL,
				data_hash BLOB,
				hash_changed INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (feed_url, id)
			)`,
			`CREATE INDEX idx_entries_feed_url ON entries(feed_url)`,
			`CREATE INDEX idx_entries_recent_sort ON entries(recent_sort)`,
			`CREATE INDEX idx_entries_read ON entries(read)`,
			`CREATE INDEX idx_entries_important ON entries(important)`,
			`CREATE TABLE tags (
				resource_feed_url TEXT NOT NULL DEFAULT '',
				resource_entry_id TEXT NOT NULL DEFAULT '',
				name TEXT NOT NULL,
				value TEXT,
				PRIMARY KEY (resource_feed_url, resource_entry_id, name)
			)`,
			`CREATE INDEX idx_tags_name ON tags(name)`,
			`CREATE TABLE search_changes (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				feed_url TEXT NOT NULL,
				entry_id TEXT NOT NULL,
				deleted INTEGER NOT NULL DEFAULT 0,
				changed_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX idx_search_changes_seq ON search_changes(seq)`,
		},
	},
	{
		version: 2,
		name:    "search_changes drain cursor + search index table",
		stmts: []string{
			`CREATE TABLE search_cursor (
				id INTEGER PRIMARY KEY CHECK (id = 0),
				last_seq INTEGER NOT NULL DEFAULT 0,
				enabled INTEGER NOT NULL DEFAULT 0
			)`,
			`INSERT INTO search_cursor (id, last_seq, enabled) VALUES (0, 0, 0)`,
			`CREATE VIRTUAL TABLE search_entries USING fts5(
				feed_url UNINDEXED,
				entry_id UNINDEXED,
				sequence UNINDEXED,
				title,
				content,
				tokenize = 'porter unicode61'
			)`,
		},
	},
	{
		version: 3,
		name:    "entry/feed write triggers append to search_changes",
		stmts: []string{
			`CREATE TRIGGER trg_entries_ai AFTER INSERT ON entries BEGIN
				INSERT INTO search_changes (feed_url, entry_id, deleted, changed_at)
				VALUES (new.feed_url, new.id, 0, CURRENT_TIMESTAMP);
			END`,
			`CREATE TRIGGER trg_entries_au AFTER UPDATE ON entries BEGIN
				INSERT INTO search_changes (feed_url, entry_id, deleted, changed_at)
				VALUES (new.feed_url, new.id, 0, CURRENT_TIMESTAMP);
			END`,
			`CREATE TRIGGER trg_entries_ad AFTER DELETE ON entries BEGIN
				INSERT INTO search_changes (feed_url, entry_id, deleted, changed_at)
				VALUES (old.feed_url, old.id, 1, CURRENT_TIMESTAMP);
			END`,
		},
	},
	{
		version: 4,
		name:    "per-feed entry epoch counter + update scheduling index",
		stmts: []string{
			`CREATE TABLE feed_entry_epoch (
				feed_url TEXT PRIMARY KEY REFERENCES feeds(url) ON DELETE CASCADE,
				next_epoch INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX idx_feeds_update_after ON feeds(updates_enabled, update_after)`,
		},
	},
}

// migrate brings the database up to the latest schema version, applying
// any migrations not yet recorded in _schema_version. Each step runs
// exactly once and in its own transaction, so a step can alter or drop
// structures a later step introduced without fighting idempotency. A
// database stamped with a version newer than this build knows about is
// refused outright rather than partially understood.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS _schema_version (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL
	)`); err != nil {
		return readererr.NewStorageError("migrate: create version table", err)
	}

	applied, err := appliedVersions(ctx, s.db)
	if err != nil {
		return readererr.NewStorageError("migrate: read version table", err)
	}

	latest := migrations[len(migrations)-1].version
	for v := range applied {
		if v > latest {
			return readererr.NewStorageError("migrate",
				fmt.Errorf("database schema version %d is newer than the latest supported version %d", v, latest))
		}
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		if err := applyMigration(ctx, s.db, m); err != nil {
			return readererr.NewStorageError(fmt.Sprintf("migrate: apply version %d (%s)", m.version, m.name), err)
		}
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM _schema_version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range m.stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", stmt, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO _schema_version (version, name, applied_at) VALUES (?, ?, CURRENT_TIMESTAMP)`,
		m.version, m.name,
	); err != nil {
		return err
	}

	return tx.Commit()
}
