// ABOUTME: Entry CRUD, diff-support lookups, chunked iteration, and time-windowed counts
// ABOUTME: Feed-derived writes and user-flag writes touch disjoint columns so neither clobbers the other

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/colinashford/feedcore/models"
	"github.com/colinashford/feedcore/query"
	"github.com/colinashford/feedcore/readererr"
)

const entryColumns = `feed_url, id, updated, published, title, link, author, summary, content, enclosures,
	read, read_modified, important, important_modified, added, last_updated, added_by,
	original_feed_url, first_updated, first_updated_epoch, feed_order, recent_sort, data_hash, hash_changed`

// AddEntry inserts a new entry row. Returns *readererr.EntryExistsError if
// (feed_url, id) is already stored.
func (s *Store) AddEntry(ctx context.Context, e *models.Entry) error {
	return addEntry(ctx, s.db, e)
}

func addEntry(ctx context.Context, c execer, e *models.Entry) error {
	content, err := json.Marshal(e.Content)
	if err != nil {
		return readererr.NewStorageError("add_entry: marshal content", err)
	}
	enclosures, err := json.Marshal(e.Enclosures)
	if err != nil {
		return readererr.NewStorageError("add_entry: marshal enclosures", err)
	}

	_, err = c.ExecContext(ctx, `INSERT INTO entries (`+entryColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.Key.FeedURL, e.Key.ID, timePtrToSQL(e.Updated), timePtrToSQL(e.Published), e.Title, e.Link, e.Author, e.Summary,
		string(content), string(enclosures),
		boolToInt(e.Read), timePtrToSQL(e.ReadModified), importantToSQL(e.Important), timePtrToSQL(e.ImportantModified),
		e.Added, e.LastUpdated, string(e.AddedBy), e.OriginalFeedURL,
		e.FirstUpdated, e.FirstUpdatedEpoch, e.FeedOrder, e.RecentSort, e.DataHash, e.HashChanged,
	)
	if isUniqueViolation(err) {
		return readererr.NewEntryExistsError(e.Key.FeedURL, e.Key.ID)
	}
	if isForeignKeyViolation(err) {
		return readererr.NewFeedNotFoundError(e.Key.FeedURL)
	}
	if err != nil {
		return readererr.NewStorageError("add_entry", err)
	}
	return nil
}

// NextEntryEpoch returns the next value of a feed's monotonic per-entry
// counter, used as Entry.FirstUpdatedEpoch, the recency sort's stable
// tie-breaker. Each call consumes one value; it never repeats for a given
// feed_url for the lifetime of the feed_entry_epoch row. Deleting the feed
// deletes that row (ON DELETE CASCADE), so a re-added feed starts again
// at 1. Returns *readererr.FeedNotFoundError if the feed isn't stored.
func (s *Store) NextEntryEpoch(ctx context.Context, feedURL string) (int64, error) {
	return nextEntryEpoch(ctx, s.db, feedURL)
}

func nextEntryEpoch(ctx context.Context, c execer, feedURL string) (int64, error) {
	_, err := c.ExecContext(ctx, `INSERT INTO feed_entry_epoch (feed_url, next_epoch) VALUES (?, 0)
		ON CONFLICT (feed_url) DO NOTHING`, feedURL)
	if isForeignKeyViolation(err) {
		return 0, readererr.NewFeedNotFoundError(feedURL)
	}
	if err != nil {
		return 0, readererr.NewStorageError("next_entry_epoch: seed", err)
	}

	var epoch int64
	if err := c.QueryRowContext(ctx, `UPDATE feed_entry_epoch SET next_epoch = next_epoch + 1
		WHERE feed_url = ? RETURNING next_epoch`, feedURL).Scan(&epoch); err != nil {
		return 0, readererr.NewStorageError("next_entry_epoch: increment", err)
	}
	return epoch, nil
}

// GetEntry fetches a single entry by key.
func (s *Store) GetEntry(ctx context.Context, key models.EntryKey) (*models.Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE feed_url = ? AND id = ?`, key.FeedURL, key.ID)
	e, err := scanEntryRow(row)
	if isNoRows(err) {
		return nil, readererr.NewEntryNotFoundError(key.FeedURL, key.ID)
	}
	if err != nil {
		return nil, readererr.NewStorageError("get_entry", err)
	}
	return e, nil
}

// GetEntriesForDiff loads the current stored (data_hash, hash_changed)
// pair for every known entry ID in feedURL, so the update pipeline's diff
// step can decide add/update/skip without a round trip per entry.
func (s *Store) GetEntriesForDiff(ctx context.Context, feedURL string) (map[string]EntryDiffState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, updated, data_hash, hash_changed, first_updated, first_updated_epoch, feed_order, recent_sort
		FROM entries WHERE feed_url = ?`, feedURL)
	if err != nil {
		return nil, readererr.NewStorageError("get_entries_for_diff", err)
	}
	defer rows.Close()

	out := make(map[string]EntryDiffState)
	for rows.Next() {
		var id string
		var updated sql.NullTime
		var st EntryDiffState
		if err := rows.Scan(&id, &updated, &st.DataHash, &st.HashChanged, &st.FirstUpdated, &st.FirstUpdatedEpoch, &st.FeedOrder, &st.RecentSort); err != nil {
			return nil, readererr.NewStorageError("get_entries_for_diff: scan", err)
		}
		st.Updated = nullTimePtr(updated)
		out[id] = st
	}
	return out, rows.Err()
}

// EntryDiffState is the slice of an entry's stored state the diff pipeline
// needs to decide whether a retrieved entry changed.
type EntryDiffState struct {
	Updated           *time.Time
	DataHash          []byte
	HashChanged       int
	FirstUpdated      time.Time
	FirstUpdatedEpoch int64
	FeedOrder         int
	RecentSort        time.Time
}

// UpdateEntryContent overwrites the feed-derived fields of an existing
// entry (the ones diff.go compares) and bumps last_updated/data_hash/
// hash_changed/recent_sort. User-set fields (Read, Important) are left
// untouched.
func (s *Store) UpdateEntryContent(ctx context.Context, e *models.Entry) error {
	return updateEntryContent(ctx, s.db, e)
}

func updateEntryContent(ctx context.Context, c execer, e *models.Entry) error {
	content, err := json.Marshal(e.Content)
	if err != nil {
		return readererr.NewStorageError("update_entry_content: marshal content", err)
	}
	enclosures, err := json.Marshal(e.Enclosures)
	if err != nil {
		return readererr.NewStorageError("update_entry_content: marshal enclosures", err)
	}

	res, err := c.ExecContext(ctx, `UPDATE entries SET
		updated = ?, published = ?, title = ?, link = ?, author = ?, summary = ?, content = ?, enclosures = ?,
		last_updated = ?, feed_order = ?, recent_sort = ?, data_hash = ?, hash_changed = ?
		WHERE feed_url = ? AND id = ?`,
		timePtrToSQL(e.Updated), timePtrToSQL(e.Published), e.Title, e.Link, e.Author, e.Summary, string(content), string(enclosures),
		e.LastUpdated, e.FeedOrder, e.RecentSort, e.DataHash, e.HashChanged,
		e.Key.FeedURL, e.Key.ID,
	)
	if err != nil {
		return readererr.NewStorageError("update_entry_content", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return readererr.NewEntryNotFoundError(e.Key.FeedURL, e.Key.ID)
	}
	return nil
}

// DeleteEntry removes a single entry along with its tags, in one
// transaction. Returns *readererr.EntryNotFoundError if it isn't stored.
func (s *Store) DeleteEntry(ctx context.Context, key models.EntryKey) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return readererr.NewStorageError("delete_entry: begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE resource_feed_url = ? AND resource_entry_id = ?`,
		key.FeedURL, key.ID); err != nil {
		return readererr.NewStorageError("delete_entry: tags", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE feed_url = ? AND id = ?`, key.FeedURL, key.ID)
	if err != nil {
		return readererr.NewStorageError("delete_entry", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return readererr.NewEntryNotFoundError(key.FeedURL, key.ID)
	}
	if err := tx.Commit(); err != nil {
		return readererr.NewStorageError("delete_entry: commit", err)
	}
	return nil
}

// SetEntryRead marks one entry's read flag.
func (s *Store) SetEntryRead(ctx context.Context, key models.EntryKey, read bool, when time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE entries SET read = ?, read_modified = ? WHERE feed_url = ? AND id = ?`,
		boolToInt(read), when, key.FeedURL, key.ID)
	if err != nil {
		return readererr.NewStorageError("set_entry_read", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return readererr.NewEntryNotFoundError(key.FeedURL, key.ID)
	}
	return nil
}

// SetEntryImportant marks one entry's tri-state important flag.
func (s *Store) SetEntryImportant(ctx context.Context, key models.EntryKey, state models.ImportantState, when time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE entries SET important = ?, important_modified = ? WHERE feed_url = ? AND id = ?`,
		importantToSQL(state), when, key.FeedURL, key.ID)
	if err != nil {
		return readererr.NewStorageError("set_entry_important", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return readererr.NewEntryNotFoundError(key.FeedURL, key.ID)
	}
	return nil
}

// GetEntries returns entries matching filter, ordered by sort, as a single page.
func (s *Store) GetEntries(ctx context.Context, filter models.EntryFilter, sort models.EntrySort, limit int) ([]*models.Entry, error) {
	b := query.Select(entryColumns).From("entries e")
	applyEntryFilter(b, filter)
	b.OrderBy(entrySortClause(sort))
	if limit > 0 {
		b.Limit(limit)
	}

	sqlText, args := b.Build()
	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, readererr.NewStorageError("get_entries", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// IterEntries returns the next chunk of entries after cursor, and the
// cursor for the following chunk, in the same recency order (and with the
// same tie-break chain) GetEntries uses, so the two surfaces always agree
// and chunks never skip or repeat rows over a quiescent table.
func (s *Store) IterEntries(ctx context.Context, filter models.EntryFilter, after Cursor, chunkSize int) ([]*models.Entry, Cursor, error) {
	chunkSize = clampChunkSize(chunkSize)

	b := query.Select(entryColumns).From("entries e")
	applyEntryFilter(b, filter)
	if c := after.Entry; c != nil {
		// "Strictly after the cursor row" in the recency order, expanded
		// lexicographically; the mixed ASC/DESC directions rule out a
		// single row-value comparison.
		b.Where(`(e.recent_sort < ?
			OR (e.recent_sort = ? AND e.feed_url > ?)
			OR (e.recent_sort = ? AND e.feed_url = ? AND e.last_updated < ?)
			OR (e.recent_sort = ? AND e.feed_url = ? AND e.last_updated = ? AND e.first_updated_epoch < ?)
			OR (e.recent_sort = ? AND e.feed_url = ? AND e.last_updated = ? AND e.first_updated_epoch = ? AND e.feed_order < ?)
			OR (e.recent_sort = ? AND e.feed_url = ? AND e.last_updated = ? AND e.first_updated_epoch = ? AND e.feed_order = ? AND e.id > ?))`,
			c.RecentSort,
			c.RecentSort, c.FeedURL,
			c.RecentSort, c.FeedURL, c.LastUpdated,
			c.RecentSort, c.FeedURL, c.LastUpdated, c.FirstUpdatedEpoch,
			c.RecentSort, c.FeedURL, c.LastUpdated, c.FirstUpdatedEpoch, c.FeedOrder,
			c.RecentSort, c.FeedURL, c.LastUpdated, c.FirstUpdatedEpoch, c.FeedOrder, c.ID,
		)
	}
	b.OrderBy(entrySortClause(models.EntrySortRecent)).Limit(chunkSize)

	sqlText, args := b.Build()
	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, Cursor{}, readererr.NewStorageError("iter_entries", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, Cursor{}, err
	}
	if len(entries) == 0 {
		return entries, Cursor{}, nil
	}
	last := entries[len(entries)-1]
	return entries, Cursor{
		Value: last.RecentSort.Format(time.RFC3339Nano),
		Entry: &EntryCursor{
			RecentSort:        last.RecentSort,
			FeedURL:           last.Key.FeedURL,
			LastUpdated:       last.LastUpdated,
			FirstUpdatedEpoch: last.FirstUpdatedEpoch,
			FeedOrder:         last.FeedOrder,
			ID:                last.Key.ID,
		},
	}, nil
}

// EntryCounts summarizes counts for a filter: the total matching, how many
// of those are read/important/have enclosures, and how many fall in each
// of the three recency windows the per-day averages are derived from.
type EntryCounts struct {
	Total         int
	Read          int
	Important     int
	HasEnclosures int
	Last30Days    int
	Last91Days    int
	Last365Days   int
}

// CountEntries computes EntryCounts for filter as of now.
func (s *Store) CountEntries(ctx context.Context, filter models.EntryFilter, now time.Time) (EntryCounts, error) {
	b := query.Select(
		"COUNT(*)",
		"COUNT(*) FILTER (WHERE e.read = 1)",
		"COUNT(*) FILTER (WHERE e.important = 'true')",
		"COUNT(*) FILTER (WHERE e.enclosures IS NOT NULL AND e.enclosures != '[]' AND e.enclosures != 'null')",
		"COUNT(*) FILTER (WHERE e.recent_sort >= ?)",
		"COUNT(*) FILTER (WHERE e.recent_sort >= ?)",
		"COUNT(*) FILTER (WHERE e.recent_sort >= ?)",
	).From("entries e")
	applyEntryFilter(b, filter)

	sqlText, args := b.Build()
	// The three window bind values must be inserted ahead of the WHERE
	// args already collected by applyEntryFilter, since Build() places
	// column expressions (evaluated left to right by SQLite as bound
	// positionally in SELECT-list order) before the WHERE args.
	windowArgs := []any{
		now.AddDate(0, 0, -30),
		now.AddDate(0, 0, -91),
		now.AddDate(0, 0, -365),
	}
	finalArgs := append(append([]any{}, windowArgs...), args...)

	var c EntryCounts
	if err := s.db.QueryRowContext(ctx, sqlText, finalArgs...).Scan(
		&c.Total, &c.Read, &c.Important, &c.HasEnclosures, &c.Last30Days, &c.Last91Days, &c.Last365Days,
	); err != nil {
		return EntryCounts{}, readererr.NewStorageError("count_entries", err)
	}
	return c, nil
}

// Averages returns the count-per-day average of matching entries over the
// last 30, 91, and 365 days.
func (c EntryCounts) Averages() (last30, last91, last365 float64) {
	return float64(c.Last30Days) / 30, float64(c.Last91Days) / 91, float64(c.Last365Days) / 365
}

func applyEntryFilter(b *query.Builder, filter models.EntryFilter) {
	if filter.Feed != nil {
		b.Where("e.feed_url = ?", *filter.Feed)
	}
	if filter.Entry != nil {
		b.Where("e.feed_url = ? AND e.id = ?", filter.Entry.FeedURL, filter.Entry.ID)
	}
	switch filter.Read {
	case models.TristateTrue:
		b.Where("e.read = 1")
	case models.TristateFalse:
		b.Where("e.read = 0")
	}
	applyImportantFilter(b, filter.Important)
	switch filter.HasEnclosures {
	case models.TristateTrue:
		b.Where("e.enclosures != '[]' AND e.enclosures != 'null'")
	case models.TristateFalse:
		b.Where("(e.enclosures = '[]' OR e.enclosures = 'null' OR e.enclosures IS NULL)")
	}
	switch filter.Broken {
	case models.BrokenTrue:
		b.Join("JOIN feeds bf ON bf.url = e.feed_url")
		b.Where("bf.last_exception_category IS NOT NULL")
	case models.BrokenFalse:
		b.Join("JOIN feeds bf ON bf.url = e.feed_url")
		b.Where("bf.last_exception_category IS NULL")
	}
	switch filter.UpdatesEnabled {
	case models.TristateTrue:
		b.Join("JOIN feeds uf ON uf.url = e.feed_url")
		b.Where("uf.updates_enabled = 1")
	case models.TristateFalse:
		b.Join("JOIN feeds uf ON uf.url = e.feed_url")
		b.Where("uf.updates_enabled = 0")
	}
	if filter.NewSince != nil {
		b.Where("e.added >= ?", *filter.NewSince)
	}
	if filter.NewBefore != nil {
		b.Where("e.added < ?", *filter.NewBefore)
	}

	entryTagSQL, entryTagArgs := query.CompileTagFilter(filter.Tags, query.TagTableSpec{
		Table:      "tags",
		KeyColumns: []string{"resource_feed_url", "resource_entry_id"},
		OuterAlias: []string{"e.feed_url", "e.id"},
	})
	b.Where(entryTagSQL, entryTagArgs...)

	feedTagSQL, feedTagArgs := query.CompileTagFilter(filter.FeedTags, query.TagTableSpec{
		Table:      "tags",
		KeyColumns: []string{"resource_feed_url", "resource_entry_id"},
		OuterAlias: []string{"e.feed_url", "''"},
	})
	b.Where(feedTagSQL, feedTagArgs...)
}

func applyImportantFilter(b *query.Builder, f models.TristateFilter) {
	switch f {
	case models.TristateFilterIsTrue:
		b.Where("e.important = 'true'")
	case models.TristateFilterIsFalse:
		b.Where("e.important = 'false'")
	case models.TristateFilterNotSet:
		b.Where("e.important = 'unset'")
	case models.TristateFilterNotFalse:
		b.Where("e.important != 'false'")
	case models.TristateFilterNotTrue:
		b.Where("e.important != 'true'")
	}
}

// entrySortClause renders an EntrySort as ORDER BY terms. The recency
// order carries a full tie-break chain so two calls over the same data
// always agree; random is a fresh sample per query and deliberately has
// no cursor semantics.
func entrySortClause(sort models.EntrySort) string {
	switch sort {
	case models.EntrySortRandom:
		return "RANDOM()"
	default:
		return "e.recent_sort DESC, e.feed_url ASC, e.last_updated DESC, e.first_updated_epoch DESC, e.feed_order DESC, e.id ASC"
	}
}

func scanEntries(rows *sql.Rows) ([]*models.Entry, error) {
	var entries []*models.Entry
	for rows.Next() {
		e, err := scanEntryRow(rows)
		if err != nil {
			return nil, readererr.NewStorageError("scan_entry", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntryRow(row rowScanner) (*models.Entry, error) {
	var e models.Entry
	var updated, published, readModified, importantModified sql.NullTime
	var title, link, author, summary, originalFeedURL sql.NullString
	var content, enclosures string
	var read int
	var important, addedBy string
	var dataHash []byte

	err := row.Scan(
		&e.Key.FeedURL, &e.Key.ID, &updated, &published, &title, &link, &author, &summary, &content, &enclosures,
		&read, &readModified, &important, &importantModified,
		&e.Added, &e.LastUpdated, &addedBy, &originalFeedURL,
		&e.FirstUpdated, &e.FirstUpdatedEpoch, &e.FeedOrder, &e.RecentSort, &dataHash, &e.HashChanged,
	)
	if err != nil {
		return nil, err
	}

	e.Updated = nullTimePtr(updated)
	e.Published = nullTimePtr(published)
	e.Title = nullStringPtr(title)
	e.Link = nullStringPtr(link)
	e.Author = nullStringPtr(author)
	e.Summary = nullStringPtr(summary)
	e.ReadModified = nullTimePtr(readModified)
	e.ImportantModified = nullTimePtr(importantModified)
	e.OriginalFeedURL = nullStringPtr(originalFeedURL)
	e.Read = read != 0
	e.Important = importantFromSQL(important)
	e.AddedBy = models.AddedBy(addedBy)
	e.DataHash = dataHash

	if err := json.Unmarshal([]byte(content), &e.Content); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(enclosures), &e.Enclosures); err != nil {
		return nil, err
	}
	return &e, nil
}

func importantToSQL(s models.ImportantState) string {
	switch s {
	case models.ImportantTrue:
		return "true"
	case models.ImportantFalse:
		return "false"
	default:
		return "unset"
	}
}

func importantFromSQL(s string) models.ImportantState {
	switch s {
	case "true":
		return models.ImportantTrue
	case "false":
		return models.ImportantFalse
	default:
		return models.ImportantUnset
	}
}
