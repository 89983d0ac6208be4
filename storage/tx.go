// ABOUTME: Single-transaction commit support for the update pipeline's per-feed commit stage
// ABOUTME: Tx exposes the subset of writes one feed's update must land atomically

package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/colinashford/feedcore/models"
	"github.com/colinashford/feedcore/readererr"
)

// execer is satisfied by both *sql.DB and *sql.Tx, so the CRUD helpers in
// entries.go/feeds.go can run against either a bare connection or an
// in-flight transaction without duplicating their SQL.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx is one feed's commit transaction: the feed-level metadata update and
// every entry INSERT/UPDATE it produced, applied atomically. The
// search_changes rows ride along automatically via the triggers installed
// in migration 3; they fire inside this same transaction, so they become
// visible at the same instant as the entry writes that produced them.
type Tx struct {
	tx *sql.Tx
}

// Begin starts a new commit transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, readererr.NewStorageError("begin", err)
	}
	return &Tx{tx: tx}, nil
}

// Commit finalizes the transaction.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return readererr.NewStorageError("commit", err)
	}
	return nil
}

// Rollback aborts the transaction. Safe to call after a successful Commit
// (it then reports sql.ErrTxDone, which callers ignore via defer).
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

// AddEntry inserts a new entry row within the transaction.
func (t *Tx) AddEntry(ctx context.Context, e *models.Entry) error {
	return addEntry(ctx, t.tx, e)
}

// UpdateEntryContent overwrites an existing entry's feed-derived fields
// within the transaction.
func (t *Tx) UpdateEntryContent(ctx context.Context, e *models.Entry) error {
	return updateEntryContent(ctx, t.tx, e)
}

// NextEntryEpoch allocates the next per-feed entry epoch within the
// transaction, so it's visible (and rolled back) together with the entry
// row it numbers.
func (t *Tx) NextEntryEpoch(ctx context.Context, feedURL string) (int64, error) {
	return nextEntryEpoch(ctx, t.tx, feedURL)
}

// TouchFeedUpdated applies the feed-level metadata merge within the transaction.
func (t *Tx) TouchFeedUpdated(ctx context.Context, url string, when time.Time, feedMeta *models.Feed) error {
	return touchFeedUpdated(ctx, t.tx, url, when, feedMeta)
}

// UpdateFeedAfterAttempt records caching tokens and retrieval time within
// the transaction (used when a feed update succeeds; the NotModified and
// error paths use the non-transactional Store method instead, since
// there's no entry/feed content to commit alongside them).
func (t *Tx) UpdateFeedAfterAttempt(ctx context.Context, url string, retrieved time.Time, exc *models.ExceptionInfo, etag, lastModified *string) error {
	return updateFeedAfterAttempt(ctx, t.tx, url, retrieved, exc, etag, lastModified)
}
