// ABOUTME: Feed CRUD, chunked iteration, and counts, built on the query package's Builder
// ABOUTME: Rename and delete run multi-table transactions so entries, tags, and the change log stay in step

package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/colinashford/feedcore/models"
	"github.com/colinashford/feedcore/query"
	"github.com/colinashford/feedcore/readererr"
)

const feedColumns = `url, updated, title, link, author, subtitle, version, user_title, added,
	last_updated, last_retrieved, last_exception_category, last_exception_message,
	updates_enabled, update_after, caching_etag, caching_last_modified, stale`

// AddFeed inserts a new feed row. Returns *readererr.FeedExistsError if the
// URL is already stored.
func (s *Store) AddFeed(ctx context.Context, feed *models.Feed) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO feeds (`+feedColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		feed.URL, timePtrToSQL(feed.Updated), feed.Title, feed.Link, feed.Author, feed.Subtitle,
		feed.Version, feed.UserTitle, feed.Added, timePtrToSQL(feed.LastUpdated), timePtrToSQL(feed.LastRetrieved),
		exceptionCategory(feed.LastException), exceptionMessage(feed.LastException),
		boolToInt(feed.UpdatesEnabled), timePtrToSQL(feed.UpdateAfter), feed.CachingETag, feed.CachingLastModified,
		boolToInt(feed.Stale),
	)
	if isUniqueViolation(err) {
		return readererr.NewFeedExistsError(feed.URL)
	}
	if err != nil {
		return readererr.NewStorageError("add_feed", err)
	}
	return nil
}

// GetFeed fetches a single feed by URL.
func (s *Store) GetFeed(ctx context.Context, url string) (*models.Feed, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+feedColumns+` FROM feeds WHERE url = ?`, url)
	feed, err := scanFeed(row)
	if isNoRows(err) {
		return nil, readererr.NewFeedNotFoundError(url)
	}
	if err != nil {
		return nil, readererr.NewStorageError("get_feed", err)
	}
	return feed, nil
}

// DeleteFeed removes a feed, its entries (via ON DELETE CASCADE, which
// also fires the entry delete triggers so the search index gets purged on
// the next drain), and every tag on the feed or its entries, in one
// transaction.
func (s *Store) DeleteFeed(ctx context.Context, url string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return readererr.NewStorageError("delete_feed: begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE resource_feed_url = ?`, url); err != nil {
		return readererr.NewStorageError("delete_feed: tags", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM feeds WHERE url = ?`, url)
	if err != nil {
		return readererr.NewStorageError("delete_feed", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return readererr.NewFeedNotFoundError(url)
	}
	if err := tx.Commit(); err != nil {
		return readererr.NewStorageError("delete_feed: commit", err)
	}
	return nil
}

// ChangeFeedURL renames a feed's primary key and moves its entries, tags,
// and epoch counter along with it, all in one transaction. Each moved
// entry remembers the URL it was originally fetched under (the first
// rename wins), and the feed is flagged stale with its caching tokens
// cleared so the next update attempt does a full refetch of the new
// location rather than a conditional request against the old one's state.
func (s *Store) ChangeFeedURL(ctx context.Context, oldURL, newURL string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return readererr.NewStorageError("change_feed_url: begin", err)
	}
	defer tx.Rollback()

	// The feeds.url parent key and the entries.feed_url child keys can't
	// both be renamed first; defer enforcement to the commit, where both
	// sides agree again.
	if _, err := tx.ExecContext(ctx, `PRAGMA defer_foreign_keys = ON`); err != nil {
		return readererr.NewStorageError("change_feed_url: defer foreign keys", err)
	}

	// Queue search-index removals for the old entry keys; the entry
	// updates below queue fresh inserts under the new URL via the entry
	// triggers.
	if _, err := tx.ExecContext(ctx, `INSERT INTO search_changes (feed_url, entry_id, deleted, changed_at)
		SELECT feed_url, id, 1, CURRENT_TIMESTAMP FROM entries WHERE feed_url = ?`, oldURL); err != nil {
		return readererr.NewStorageError("change_feed_url: queue search removals", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE feeds SET url = ?, stale = 1,
		caching_etag = NULL, caching_last_modified = NULL, updated = NULL,
		last_exception_category = NULL, last_exception_message = NULL
		WHERE url = ?`, newURL, oldURL)
	if isUniqueViolation(err) {
		return readererr.NewFeedExistsError(newURL)
	}
	if err != nil {
		return readererr.NewStorageError("change_feed_url", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return readererr.NewFeedNotFoundError(oldURL)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE entries SET feed_url = ?,
		original_feed_url = COALESCE(original_feed_url, ?) WHERE feed_url = ?`,
		newURL, oldURL, oldURL); err != nil {
		return readererr.NewStorageError("change_feed_url: entries", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tags SET resource_feed_url = ? WHERE resource_feed_url = ?`,
		newURL, oldURL); err != nil {
		return readererr.NewStorageError("change_feed_url: tags", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE feed_entry_epoch SET feed_url = ? WHERE feed_url = ?`,
		newURL, oldURL); err != nil {
		return readererr.NewStorageError("change_feed_url: epoch counter", err)
	}

	if err := tx.Commit(); err != nil {
		return readererr.NewStorageError("change_feed_url: commit", err)
	}
	return nil
}

// SetFeedUserTitle updates the user-assigned display title override.
func (s *Store) SetFeedUserTitle(ctx context.Context, url string, title *string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE feeds SET user_title = ? WHERE url = ?`, title, url)
	if err != nil {
		return readererr.NewStorageError("set_feed_user_title", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return readererr.NewFeedNotFoundError(url)
	}
	return nil
}

// EnableFeedUpdates toggles whether the update pipeline considers a feed due.
func (s *Store) EnableFeedUpdates(ctx context.Context, url string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE feeds SET updates_enabled = ? WHERE url = ?`, boolToInt(enabled), url)
	if err != nil {
		return readererr.NewStorageError("enable_feed_updates", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return readererr.NewFeedNotFoundError(url)
	}
	return nil
}

// UpdateFeedAfterAttempt records the outcome of a retrieval/parse attempt:
// caching tokens on success, an ExceptionInfo on failure, and always the
// last-retrieved timestamp.
func (s *Store) UpdateFeedAfterAttempt(ctx context.Context, url string, retrieved time.Time, exc *models.ExceptionInfo, etag, lastModified *string) error {
	return updateFeedAfterAttempt(ctx, s.db, url, retrieved, exc, etag, lastModified)
}

func updateFeedAfterAttempt(ctx context.Context, c execer, url string, retrieved time.Time, exc *models.ExceptionInfo, etag, lastModified *string) error {
	res, err := c.ExecContext(ctx, `UPDATE feeds SET
		last_retrieved = ?, last_exception_category = ?, last_exception_message = ?,
		caching_etag = COALESCE(?, caching_etag), caching_last_modified = COALESCE(?, caching_last_modified)
		WHERE url = ?`,
		retrieved, exceptionCategory(exc), exceptionMessage(exc), etag, lastModified, url,
	)
	if err != nil {
		return readererr.NewStorageError("update_feed_after_attempt", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return readererr.NewFeedNotFoundError(url)
	}
	return nil
}

// TouchFeedUpdated bumps last_updated after a successful content merge,
// clears stale (a full update has now happened) and any last_exception
// (the feed just parsed cleanly).
func (s *Store) TouchFeedUpdated(ctx context.Context, url string, when time.Time, feedMeta *models.Feed) error {
	return touchFeedUpdated(ctx, s.db, url, when, feedMeta)
}

func touchFeedUpdated(ctx context.Context, c execer, url string, when time.Time, feedMeta *models.Feed) error {
	res, err := c.ExecContext(ctx, `UPDATE feeds SET
		last_updated = ?, updated = ?, title = COALESCE(?, title), link = COALESCE(?, link),
		author = COALESCE(?, author), subtitle = COALESCE(?, subtitle), version = ?,
		last_exception_category = NULL, last_exception_message = NULL, stale = 0
		WHERE url = ?`,
		when, timePtrToSQL(feedMeta.Updated), feedMeta.Title, feedMeta.Link, feedMeta.Author, feedMeta.Subtitle, feedMeta.Version, url,
	)
	if err != nil {
		return readererr.NewStorageError("touch_feed_updated", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return readererr.NewFeedNotFoundError(url)
	}
	return nil
}

// SetFeedUpdateAfter sets the earliest instant the pipeline may attempt
// this feed again. A nil when clears the constraint (feed is due anytime).
func (s *Store) SetFeedUpdateAfter(ctx context.Context, url string, when *time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE feeds SET update_after = ? WHERE url = ?`, timePtrToSQL(when), url)
	if err != nil {
		return readererr.NewStorageError("set_feed_update_after", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return readererr.NewFeedNotFoundError(url)
	}
	return nil
}

// FeedForUpdate is the slice of feed state the update pipeline needs to
// retrieve and diff one feed.
type FeedForUpdate struct {
	URL                 string
	CachingETag         *string
	CachingLastModified *string
	Stale               bool
}

// FeedsForUpdate returns feeds due for an update attempt as of now:
// updates_enabled and either update_after is unset or has passed. Order is
// by last_retrieved ascending (nulls first) so feeds never attempted, or
// least recently attempted, are offered first — a simple fairness policy
// in the absence of per-feed scheduling hints.
func (s *Store) FeedsForUpdate(ctx context.Context, now time.Time, limit int) ([]FeedForUpdate, error) {
	b := query.Select("url, caching_etag, caching_last_modified, stale").From("feeds f").
		Where("f.updates_enabled = 1").
		Where("(f.update_after IS NULL OR f.update_after <= ?)", now).
		OrderBy("f.last_retrieved IS NOT NULL").OrderBy("f.last_retrieved ASC")
	if limit > 0 {
		b.Limit(limit)
	}
	sqlText, args := b.Build()

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, readererr.NewStorageError("feeds_for_update", err)
	}
	defer rows.Close()

	var out []FeedForUpdate
	for rows.Next() {
		var f FeedForUpdate
		var stale int
		if err := rows.Scan(&f.URL, &f.CachingETag, &f.CachingLastModified, &stale); err != nil {
			return nil, readererr.NewStorageError("feeds_for_update: scan", err)
		}
		f.Stale = stale != 0
		out = append(out, f)
	}
	return out, rows.Err()
}

// FeedCounts summarizes get_feed_counts: how many feeds match a filter,
// and how many of those are currently broken (last attempt failed).
type FeedCounts struct {
	Total  int
	Broken int
}

// GetFeedCounts computes FeedCounts for filter.
func (s *Store) GetFeedCounts(ctx context.Context, filter models.FeedFilter) (FeedCounts, error) {
	b := query.Select("COUNT(*)", "COUNT(*) FILTER (WHERE f.last_exception_category IS NOT NULL)").From("feeds f")
	applyFeedFilter(b, filter)
	sqlText, args := b.Build()

	var c FeedCounts
	if err := s.db.QueryRowContext(ctx, sqlText, args...).Scan(&c.Total, &c.Broken); err != nil {
		return FeedCounts{}, readererr.NewStorageError("get_feed_counts", err)
	}
	return c, nil
}

// GetFeeds returns feeds matching filter, ordered by sort, as a single page.
// Use IterFeeds for restartable chunked iteration over large result sets.
func (s *Store) GetFeeds(ctx context.Context, filter models.FeedFilter, sort models.FeedSort, limit int) ([]*models.Feed, error) {
	b := query.Select(feedColumns).From("feeds f")
	applyFeedFilter(b, filter)
	b.OrderBy(feedSortClause(sort))
	if limit > 0 {
		b.Limit(limit)
	}

	sqlText, args := b.Build()
	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, readererr.NewStorageError("get_feeds", err)
	}
	defer rows.Close()
	return scanFeeds(rows)
}

// IterFeeds returns the next chunk of feeds after cursor, and the cursor to
// pass for the following chunk. An empty returned cursor Value means the
// iteration is complete.
func (s *Store) IterFeeds(ctx context.Context, filter models.FeedFilter, after Cursor, chunkSize int) ([]*models.Feed, Cursor, error) {
	chunkSize = clampChunkSize(chunkSize)

	b := query.Select(feedColumns).From("feeds f")
	applyFeedFilter(b, filter)
	if after.Value != "" {
		b.Where("f.url > ?", after.Value)
	}
	b.OrderBy("f.url ASC").Limit(chunkSize)

	sqlText, args := b.Build()
	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, Cursor{}, readererr.NewStorageError("iter_feeds", err)
	}
	defer rows.Close()

	feeds, err := scanFeeds(rows)
	if err != nil {
		return nil, Cursor{}, err
	}
	if len(feeds) == 0 {
		return feeds, Cursor{}, nil
	}
	return feeds, Cursor{Value: feeds[len(feeds)-1].URL}, nil
}

// CountFeeds returns the number of feeds matching filter.
func (s *Store) CountFeeds(ctx context.Context, filter models.FeedFilter) (int, error) {
	b := query.Select("COUNT(*)").From("feeds f")
	applyFeedFilter(b, filter)
	sqlText, args := b.Build()

	var n int
	if err := s.db.QueryRowContext(ctx, sqlText, args...).Scan(&n); err != nil {
		return 0, readererr.NewStorageError("count_feeds", err)
	}
	return n, nil
}

func applyFeedFilter(b *query.Builder, filter models.FeedFilter) {
	if filter.Feed != nil {
		b.Where("f.url = ?", *filter.Feed)
	}
	switch filter.Broken {
	case models.BrokenTrue:
		b.Where("f.last_exception_category IS NOT NULL")
	case models.BrokenFalse:
		b.Where("f.last_exception_category IS NULL")
	}
	switch filter.UpdatesEnabled {
	case models.TristateTrue:
		b.Where("f.updates_enabled = 1")
	case models.TristateFalse:
		b.Where("f.updates_enabled = 0")
	}
	tagSQL, tagArgs := query.CompileTagFilter(filter.Tags, query.TagTableSpec{
		Table:      "tags",
		KeyColumns: []string{"resource_feed_url", "resource_entry_id"},
		OuterAlias: []string{"f.url", "''"},
	})
	b.Where(tagSQL, tagArgs...)
	if filter.NewSince != nil {
		b.Where("f.added >= ?", *filter.NewSince)
	}
	if filter.NewBefore != nil {
		b.Where("f.added < ?", *filter.NewBefore)
	}
}

// feedSortClause renders a FeedSort as ORDER BY terms: titles sort
// case-insensitively with untitled feeds last (URL as the tiebreaker),
// added sorts newest first.
func feedSortClause(sort models.FeedSort) string {
	switch sort {
	case models.FeedSortAdded:
		return "f.added DESC, f.url ASC"
	case models.FeedSortUserTitleOrTitle:
		return "COALESCE(f.user_title, f.title) IS NULL, COALESCE(f.user_title, f.title) COLLATE NOCASE ASC, f.url ASC"
	default:
		return "f.title IS NULL, f.title COLLATE NOCASE ASC, f.url ASC"
	}
}

func scanFeeds(rows *sql.Rows) ([]*models.Feed, error) {
	var feeds []*models.Feed
	for rows.Next() {
		feed, err := scanFeedRow(rows)
		if err != nil {
			return nil, readererr.NewStorageError("scan_feed", err)
		}
		feeds = append(feeds, feed)
	}
	return feeds, rows.Err()
}

// rowScanner abstracts over *sql.Row and *sql.Rows, which both implement Scan.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeed(row rowScanner) (*models.Feed, error) {
	return scanFeedRow(row)
}

func scanFeedRow(row rowScanner) (*models.Feed, error) {
	var f models.Feed
	var updated, lastUpdated, lastRetrieved, updateAfter sql.NullTime
	var title, link, author, subtitle, userTitle sql.NullString
	var excCategory, excMessage sql.NullString
	var etag, lastModified sql.NullString
	var updatesEnabled, stale int

	err := row.Scan(
		&f.URL, &updated, &title, &link, &author, &subtitle, &f.Version, &userTitle, &f.Added,
		&lastUpdated, &lastRetrieved, &excCategory, &excMessage,
		&updatesEnabled, &updateAfter, &etag, &lastModified, &stale,
	)
	if err != nil {
		return nil, err
	}

	f.Updated = nullTimePtr(updated)
	f.Title = nullStringPtr(title)
	f.Link = nullStringPtr(link)
	f.Author = nullStringPtr(author)
	f.Subtitle = nullStringPtr(subtitle)
	f.UserTitle = nullStringPtr(userTitle)
	f.LastUpdated = nullTimePtr(lastUpdated)
	f.LastRetrieved = nullTimePtr(lastRetrieved)
	f.UpdateAfter = nullTimePtr(updateAfter)
	f.CachingETag = nullStringPtr(etag)
	f.CachingLastModified = nullStringPtr(lastModified)
	f.UpdatesEnabled = updatesEnabled != 0
	f.Stale = stale != 0

	if excCategory.Valid {
		f.LastException = &models.ExceptionInfo{Category: excCategory.String, Message: excMessage.String}
	}
	return &f, nil
}

func exceptionCategory(e *models.ExceptionInfo) *string {
	if e == nil {
		return nil
	}
	return &e.Category
}

func exceptionMessage(e *models.ExceptionInfo) *string {
	if e == nil {
		return nil
	}
	return &e.Message
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timePtrToSQL(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullTimePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	return &n.Time
}

func nullStringPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	return &n.String
}
