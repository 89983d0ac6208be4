// ABOUTME: Raw CRUD over the search_entries FTS5 table and the enabled/cursor flags guarding it
// ABOUTME: Text extraction/sanitization lives in the search package; this file only persists its output

package storage

import (
	"context"
	"time"

	"github.com/colinashford/feedcore/models"
	"github.com/colinashford/feedcore/query"
	"github.com/colinashford/feedcore/readererr"
)

// IsSearchEnabled reports whether enable_search has been called (and
// disable_search hasn't since).
func (s *Store) IsSearchEnabled(ctx context.Context) (bool, error) {
	var enabled int
	if err := s.db.QueryRowContext(ctx, `SELECT enabled FROM search_cursor WHERE id = 0`).Scan(&enabled); err != nil {
		return false, readererr.NewStorageError("is_search_enabled", err)
	}
	return enabled != 0, nil
}

// SetSearchEnabled flips the enabled flag. It never touches search_entries
// or search_changes rows itself; callers decide whether to also clear or
// rebuild the index (search.Index.Enable/Disable do both).
func (s *Store) SetSearchEnabled(ctx context.Context, enabled bool) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE search_cursor SET enabled = ? WHERE id = 0`, boolToInt(enabled)); err != nil {
		return readererr.NewStorageError("set_search_enabled", err)
	}
	return nil
}

// ClearSearchIndex deletes every row of the search index, without
// touching search_changes or the cursor. Used by disable_search.
func (s *Store) ClearSearchIndex(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM search_entries`); err != nil {
		return readererr.NewStorageError("clear_search_index", err)
	}
	return nil
}

// QueueFullReindex appends one non-deleted search_changes row per existing
// entry, so the next Update() drain rebuilds the whole index from scratch.
// Used by enable_search, since a dropped index has nothing left to
// incrementally apply change-log rows on top of.
func (s *Store) QueueFullReindex(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO search_changes (feed_url, entry_id, deleted, changed_at)
		SELECT feed_url, id, 0, ? FROM entries`, time.Now())
	if err != nil {
		return readererr.NewStorageError("queue_full_reindex", err)
	}
	return nil
}

// UpsertSearchEntry replaces any existing index row for se.Key with se,
// stamped with its producing change-log sequence.
func (s *Store) UpsertSearchEntry(ctx context.Context, se models.SearchEntry) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM search_entries WHERE feed_url = ? AND entry_id = ?`,
		se.Key.FeedURL, se.Key.ID); err != nil {
		return readererr.NewStorageError("upsert_search_entry: delete prior", err)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO search_entries (feed_url, entry_id, sequence, title, content)
		VALUES (?, ?, ?, ?, ?)`, se.Key.FeedURL, se.Key.ID, se.Sequence, se.Title, se.Content)
	if err != nil {
		return readererr.NewStorageError("upsert_search_entry", err)
	}
	return nil
}

// DeleteSearchEntry removes the index row for key, but only if it isn't
// already owned by a change newer than upToSequence, guarding against a
// stale DELETE change clobbering a subsequent INSERT that already landed.
func (s *Store) DeleteSearchEntry(ctx context.Context, key models.EntryKey, upToSequence int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM search_entries
		WHERE feed_url = ? AND entry_id = ? AND sequence <= ?`, key.FeedURL, key.ID, upToSequence)
	if err != nil {
		return readererr.NewStorageError("delete_search_entry", err)
	}
	return nil
}

// SearchQuery runs an FTS5 MATCH query joined against the same filter
// surface as get_entries, returning results with bm25 relevance and
// highlight() markup for title/content.
func (s *Store) SearchQuery(ctx context.Context, ftsQuery string, filter models.EntryFilter, sort models.SearchSort, limit int) ([]models.EntrySearchResult, error) {
	const markStart, markEnd = "\x01", "\x02"

	b := query.Select(
		"se.feed_url", "se.entry_id", "bm25(search_entries)",
		"highlight(search_entries, 3, '"+markStart+"', '"+markEnd+"')",
		"highlight(search_entries, 4, '"+markStart+"', '"+markEnd+"')",
	).From("search_entries se").
		Join("JOIN entries e ON e.feed_url = se.feed_url AND e.id = se.entry_id").
		Where("search_entries MATCH ?", ftsQuery)
	applyEntryFilter(b, filter)
	if sort == models.SearchSortRecent {
		b.OrderBy("e.recent_sort DESC")
	} else {
		b.OrderBy("bm25(search_entries) ASC")
	}
	if limit > 0 {
		b.Limit(limit)
	}

	sqlText, args := b.Build()
	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, readererr.NewInvalidSearchQueryError(ftsQuery, err)
	}
	defer rows.Close()

	var results []models.EntrySearchResult
	for rows.Next() {
		var r models.EntrySearchResult
		var title, content string
		if err := rows.Scan(&r.Key.FeedURL, &r.Key.ID, &r.Score, &title, &content); err != nil {
			return nil, readererr.NewStorageError("search_query: scan", err)
		}
		r.Title = parseHighlighted(title, markStart, markEnd)
		r.Content = parseHighlighted(content, markStart, markEnd)
		results = append(results, r)
	}
	return results, rows.Err()
}

// CountSearchQuery returns how many indexed entries match ftsQuery and
// filter, for search_entry_counts.
func (s *Store) CountSearchQuery(ctx context.Context, ftsQuery string, filter models.EntryFilter) (int, error) {
	b := query.Select("COUNT(*)").From("search_entries se").
		Join("JOIN entries e ON e.feed_url = se.feed_url AND e.id = se.entry_id").
		Where("search_entries MATCH ?", ftsQuery)
	applyEntryFilter(b, filter)

	sqlText, args := b.Build()
	var n int
	if err := s.db.QueryRowContext(ctx, sqlText, args...).Scan(&n); err != nil {
		return 0, readererr.NewInvalidSearchQueryError(ftsQuery, err)
	}
	return n, nil
}

// parseHighlighted splits FTS5 highlight() output (markers surrounding
// each matched term) back into a plain string plus the byte ranges the
// markers bounded.
func parseHighlighted(marked, start, end string) models.HighlightedString {
	var plain []byte
	var ranges []models.HighlightRange
	var openAt = -1

	for i := 0; i < len(marked); {
		switch {
		case hasPrefixAt(marked, i, start):
			openAt = len(plain)
			i += len(start)
		case hasPrefixAt(marked, i, end):
			if openAt >= 0 {
				ranges = append(ranges, models.HighlightRange{Start: openAt, End: len(plain)})
				openAt = -1
			}
			i += len(end)
		default:
			plain = append(plain, marked[i])
			i++
		}
	}
	return models.HighlightedString{Value: string(plain), Highlights: ranges}
}

func hasPrefixAt(s string, i int, prefix string) bool {
	return i+len(prefix) <= len(s) && s[i:i+len(prefix)] == prefix
}
