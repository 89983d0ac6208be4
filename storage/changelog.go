// ABOUTME: Drainable change-log over entry writes (search_changes table) for the search indexer
// ABOUTME: Triggers installed by migration 3 append rows; search.Index drains them past a cursor

package storage

import (
	"context"

	"github.com/colinashford/feedcore/readererr"
)

// SearchChange is one row of the search change-log: an entry that was
// inserted, updated, or deleted since the search index last drained.
type SearchChange struct {
	Seq     int64
	FeedURL string
	EntryID string
	Deleted bool
}

// DrainSearchChanges returns up to limit change-log rows after the stored
// cursor, without advancing it. Call AdvanceSearchCursor once the caller
// has durably applied them to the search index.
func (s *Store) DrainSearchChanges(ctx context.Context, limit int) ([]SearchChange, error) {
	var lastSeq int64
	if err := s.db.QueryRowContext(ctx, `SELECT last_seq FROM search_cursor WHERE id = 0`).Scan(&lastSeq); err != nil {
		return nil, readererr.NewStorageError("drain_search_changes: read cursor", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT seq, feed_url, entry_id, deleted FROM search_changes
		WHERE seq > ? ORDER BY seq ASC LIMIT ?`, lastSeq, clampChunkSize(limit))
	if err != nil {
		return nil, readererr.NewStorageError("drain_search_changes", err)
	}
	defer rows.Close()

	var changes []SearchChange
	for rows.Next() {
		var c SearchChange
		var deleted int
		if err := rows.Scan(&c.Seq, &c.FeedURL, &c.EntryID, &deleted); err != nil {
			return nil, readererr.NewStorageError("drain_search_changes: scan", err)
		}
		c.Deleted = deleted != 0
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// AdvanceSearchCursor records seq as the last change-log row the search
// index has durably applied.
func (s *Store) AdvanceSearchCursor(ctx context.Context, seq int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE search_cursor SET last_seq = ? WHERE id = 0`, seq)
	if err != nil {
		return readererr.NewStorageError("advance_search_cursor", err)
	}
	return nil
}
