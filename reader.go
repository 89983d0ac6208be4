// ABOUTME: Reader facade: the public API surface wiring storage, search, the update pipeline, and hooks
// ABOUTME: Every method guards against use after Close and resolves the reader-facing filter surface

// Package reader implements a personal feed-reading engine core: storage
// for feeds and entries, a concurrent update pipeline, full-text search,
// a generic tagging system, and a synchronous hook/plugin surface. It
// ships no HTTP client, no feed-format parser, and no UI; callers supply
// a feedio.Retriever and feedio.Parser and drive everything else through
// the Reader type returned by New.
package reader

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/colinashford/feedcore/hooks"
	"github.com/colinashford/feedcore/models"
	"github.com/colinashford/feedcore/readererr"
	"github.com/colinashford/feedcore/search"
	"github.com/colinashford/feedcore/storage"
	"github.com/colinashford/feedcore/update"
)

// Reader owns one SQLite-backed database and coordinates storage, the
// update pipeline, search indexing, and hooks over it. A Reader is safe
// for concurrent use; the underlying storage connection is single-writer
// (storage.Store pins sql.DB to one connection), so concurrent callers
// serialize at that layer rather than inside Reader itself.
type Reader struct {
	store           *storage.Store
	search          *search.Index
	pipeline        *update.Pipeline
	hooks           *hooks.Registry
	reserved        models.ReservedPrefixes
	feedRoot        string
	retrieveTimeout time.Duration
	log             *slog.Logger

	mu     sync.Mutex
	closed bool
}

func (r *Reader) checkOpen(op string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return readererr.NewClosedError(op)
	}
	return nil
}

// Close releases the underlying database connection. Idempotent: calling
// Close more than once is a no-op returning nil after the first call.
// Every other Reader method returns a *readererr.ClosedError once Close
// has run.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	_, _ = r.store.DB().Exec(`PRAGMA optimize`)
	return r.store.Close()
}

// previousUpdateTagName is the reader-reserved global tag recording when
// the last update_feeds/update_feed run started, the moving reference
// instant the "new" filter resolves against.
func (r *Reader) previousUpdateTagName() string {
	return r.reserved.MakeReaderReservedName("previous_update_time")
}

// previousUpdateTime reads the stored previous-update-cycle instant. A
// reader that has never run an update has no baseline yet; that case
// resolves to the zero time, under which every entry counts as "new"
// and none counts as "not new".
func (r *Reader) previousUpdateTime(ctx context.Context) (time.Time, error) {
	v, err := r.store.GetTag(ctx, models.ResourceKey{}, r.previousUpdateTagName())
	if _, notFound := err.(*readererr.TagNotFoundError); notFound {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	s, ok := v.(string)
	if !ok {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, nil
	}
	return t, nil
}

func (r *Reader) recordUpdateStart(ctx context.Context, startedAt time.Time) {
	if err := r.store.SetTag(ctx, models.ResourceKey{}, r.previousUpdateTagName(), startedAt.Format(time.RFC3339Nano)); err != nil {
		r.log.Error("failed to record update cycle start", slog.Any("err", err))
	}
}

// EntryFilter is the reader-facing filter surface for get_entries,
// get_entry_counts, and search_entries. It mirrors storage's
// models.EntryFilter but replaces the resolved NewSince/NewBefore pair
// with the tristate New callers actually have in hand.
type EntryFilter struct {
	Feed           *string
	Entry          *models.EntryKey
	Read           models.TristateValue
	Important      models.TristateFilter
	HasEnclosures  models.TristateValue
	FeedTags       models.TagFilter
	Tags           models.TagFilter
	Broken         models.BrokenFilter
	UpdatesEnabled models.TristateValue
	New            models.TristateValue
}

// FeedFilter is the reader-facing filter surface for get_feeds and
// get_feed_counts.
type FeedFilter struct {
	Feed           *string
	Tags           models.TagFilter
	Broken         models.BrokenFilter
	UpdatesEnabled models.TristateValue
	New            models.TristateValue
}

func (r *Reader) resolveEntryFilter(ctx context.Context, f EntryFilter) (models.EntryFilter, error) {
	out := models.EntryFilter{
		Feed:           f.Feed,
		Entry:          f.Entry,
		Read:           f.Read,
		Important:      f.Important,
		HasEnclosures:  f.HasEnclosures,
		FeedTags:       f.FeedTags,
		Tags:           f.Tags,
		Broken:         f.Broken,
		UpdatesEnabled: f.UpdatesEnabled,
	}
	if f.New != models.TristateAny {
		threshold, err := r.previousUpdateTime(ctx)
		if err != nil {
			return models.EntryFilter{}, err
		}
		if f.New == models.TristateTrue {
			out.NewSince = &threshold
		} else {
			out.NewBefore = &threshold
		}
	}
	return out, nil
}

func (r *Reader) resolveFeedFilter(ctx context.Context, f FeedFilter) (models.FeedFilter, error) {
	out := models.FeedFilter{
		Feed:           f.Feed,
		Tags:           f.Tags,
		Broken:         f.Broken,
		UpdatesEnabled: f.UpdatesEnabled,
	}
	if f.New != models.TristateAny {
		threshold, err := r.previousUpdateTime(ctx)
		if err != nil {
			return models.FeedFilter{}, err
		}
		if f.New == models.TristateTrue {
			out.NewSince = &threshold
		} else {
			out.NewBefore = &threshold
		}
	}
	return out, nil
}

// AddFeed validates url (against FeedRoot for local-file feeds) and
// stores a new feed. Returns *readererr.FeedExistsError if url is already
// stored and existOK is false, *readererr.InvalidFeedURLError if it fails
// validation. With existOK true, adding an already-stored feed returns the
// stored feed unchanged.
func (r *Reader) AddFeed(ctx context.Context, feedURL string, existOK bool) (*models.Feed, error) {
	if err := r.checkOpen("add_feed"); err != nil {
		return nil, err
	}
	if _, err := models.ValidateFeedURL(feedURL, r.feedRoot); err != nil {
		return nil, readererr.NewInvalidFeedURLError(feedURL, err)
	}
	feed := models.NewFeed(feedURL)
	err := r.store.AddFeed(ctx, feed)
	if _, exists := err.(*readererr.FeedExistsError); exists && existOK {
		return r.store.GetFeed(ctx, feedURL)
	}
	if err != nil {
		return nil, err
	}
	return feed, nil
}

// DeleteFeed removes a feed, its entries (via cascade), and the tags on the
// feed and its entries.
func (r *Reader) DeleteFeed(ctx context.Context, feedURL string) error {
	if err := r.checkOpen("delete_feed"); err != nil {
		return err
	}
	return r.store.DeleteFeed(ctx, feedURL)
}

// ChangeFeedURL renames a feed's primary key.
func (r *Reader) ChangeFeedURL(ctx context.Context, oldURL, newURL string) error {
	if err := r.checkOpen("change_feed_url"); err != nil {
		return err
	}
	if _, err := models.ValidateFeedURL(newURL, r.feedRoot); err != nil {
		return readererr.NewInvalidFeedURLError(newURL, err)
	}
	return r.store.ChangeFeedURL(ctx, oldURL, newURL)
}

// SetFeedUserTitle sets or clears (title == nil) a feed's display title override.
func (r *Reader) SetFeedUserTitle(ctx context.Context, feedURL string, title *string) error {
	if err := r.checkOpen("set_feed_user_title"); err != nil {
		return err
	}
	return r.store.SetFeedUserTitle(ctx, feedURL, title)
}

// EnableFeedUpdates marks a feed eligible for the update pipeline.
func (r *Reader) EnableFeedUpdates(ctx context.Context, feedURL string) error {
	if err := r.checkOpen("enable_feed_updates"); err != nil {
		return err
	}
	return r.store.EnableFeedUpdates(ctx, feedURL, true)
}

// DisableFeedUpdates excludes a feed from the update pipeline.
func (r *Reader) DisableFeedUpdates(ctx context.Context, feedURL string) error {
	if err := r.checkOpen("disable_feed_updates"); err != nil {
		return err
	}
	return r.store.EnableFeedUpdates(ctx, feedURL, false)
}

// SetFeedUpdateAfter sets (or, with when == nil, clears) the earliest
// instant the pipeline may attempt this feed again.
func (r *Reader) SetFeedUpdateAfter(ctx context.Context, feedURL string, when *time.Time) error {
	if err := r.checkOpen("set_feed_update_after"); err != nil {
		return err
	}
	return r.store.SetFeedUpdateAfter(ctx, feedURL, when)
}

// GetFeed fetches a single feed by URL.
func (r *Reader) GetFeed(ctx context.Context, feedURL string) (*models.Feed, error) {
	if err := r.checkOpen("get_feed"); err != nil {
		return nil, err
	}
	return r.store.GetFeed(ctx, feedURL)
}

// GetFeeds returns feeds matching filter as a single page, ordered by sort.
func (r *Reader) GetFeeds(ctx context.Context, filter FeedFilter, sort models.FeedSort, limit int) ([]*models.Feed, error) {
	if err := r.checkOpen("get_feeds"); err != nil {
		return nil, err
	}
	resolved, err := r.resolveFeedFilter(ctx, filter)
	if err != nil {
		return nil, err
	}
	return r.store.GetFeeds(ctx, resolved, sort, limit)
}

// IterFeeds returns the next chunk of feeds matching filter after cursor.
func (r *Reader) IterFeeds(ctx context.Context, filter FeedFilter, after storage.Cursor, chunkSize int) ([]*models.Feed, storage.Cursor, error) {
	if err := r.checkOpen("iter_feeds"); err != nil {
		return nil, storage.Cursor{}, err
	}
	resolved, err := r.resolveFeedFilter(ctx, filter)
	if err != nil {
		return nil, storage.Cursor{}, err
	}
	return r.store.IterFeeds(ctx, resolved, after, chunkSize)
}

// CountFeeds returns the number of feeds matching filter.
func (r *Reader) CountFeeds(ctx context.Context, filter FeedFilter) (int, error) {
	if err := r.checkOpen("count_feeds"); err != nil {
		return 0, err
	}
	resolved, err := r.resolveFeedFilter(ctx, filter)
	if err != nil {
		return 0, err
	}
	return r.store.CountFeeds(ctx, resolved)
}

// GetFeedCounts computes FeedCounts for filter.
func (r *Reader) GetFeedCounts(ctx context.Context, filter FeedFilter) (storage.FeedCounts, error) {
	if err := r.checkOpen("get_feed_counts"); err != nil {
		return storage.FeedCounts{}, err
	}
	resolved, err := r.resolveFeedFilter(ctx, filter)
	if err != nil {
		return storage.FeedCounts{}, err
	}
	return r.store.GetFeedCounts(ctx, resolved)
}

// AddEntryParams is the caller-supplied shape of a manually added entry
// (add_entry), as opposed to one produced by the update pipeline.
type AddEntryParams struct {
	FeedURL    string
	ID         string // empty generates an opaque ID via update.NewEntryID
	Title      *string
	Link       *string
	Author     *string
	Summary    *string
	Content    []models.EntryContent
	Enclosures []models.Enclosure
	Published  *time.Time
	Updated    *time.Time
}

// AddEntry stores a user-authored entry under an existing feed. Returns
// *readererr.EntryExistsError if the ID collides with an existing entry.
func (r *Reader) AddEntry(ctx context.Context, params AddEntryParams) (*models.Entry, error) {
	if err := r.checkOpen("add_entry"); err != nil {
		return nil, err
	}
	id := params.ID
	if id == "" {
		id = update.NewEntryID()
	}

	epoch, err := r.store.NextEntryEpoch(ctx, params.FeedURL)
	if err != nil {
		return nil, err
	}

	entry := models.NewEntry(params.FeedURL, id)
	entry.FirstUpdatedEpoch = epoch
	entry.AddedBy = models.AddedByUser
	entry.Title = params.Title
	entry.Link = params.Link
	entry.Author = params.Author
	entry.Summary = params.Summary
	entry.Content = params.Content
	entry.Enclosures = params.Enclosures
	entry.Published = params.Published
	entry.Updated = params.Updated
	entry.RecentSort = update.DeriveRecentSort(params.Published, params.Updated, entry.FirstUpdated, nil)

	if err := r.store.AddEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// DeleteEntry removes a single entry.
func (r *Reader) DeleteEntry(ctx context.Context, key models.EntryKey) error {
	if err := r.checkOpen("delete_entry"); err != nil {
		return err
	}
	return r.store.DeleteEntry(ctx, key)
}

// MarkEntryAsRead marks an entry read.
func (r *Reader) MarkEntryAsRead(ctx context.Context, key models.EntryKey) error {
	if err := r.checkOpen("mark_entry_as_read"); err != nil {
		return err
	}
	return r.store.SetEntryRead(ctx, key, true, time.Now())
}

// MarkEntryAsUnread marks an entry unread.
func (r *Reader) MarkEntryAsUnread(ctx context.Context, key models.EntryKey) error {
	if err := r.checkOpen("mark_entry_as_unread"); err != nil {
		return err
	}
	return r.store.SetEntryRead(ctx, key, false, time.Now())
}

// MarkEntryAsImportant sets an entry's important flag to true.
func (r *Reader) MarkEntryAsImportant(ctx context.Context, key models.EntryKey) error {
	if err := r.checkOpen("mark_entry_as_important"); err != nil {
		return err
	}
	return r.store.SetEntryImportant(ctx, key, models.ImportantTrue, time.Now())
}

// MarkEntryAsUnimportant sets an entry's important flag to false.
func (r *Reader) MarkEntryAsUnimportant(ctx context.Context, key models.EntryKey) error {
	if err := r.checkOpen("mark_entry_as_unimportant"); err != nil {
		return err
	}
	return r.store.SetEntryImportant(ctx, key, models.ImportantFalse, time.Now())
}

// ClearEntryImportant resets an entry's important flag to unset.
func (r *Reader) ClearEntryImportant(ctx context.Context, key models.EntryKey) error {
	if err := r.checkOpen("clear_entry_important"); err != nil {
		return err
	}
	return r.store.SetEntryImportant(ctx, key, models.ImportantUnset, time.Now())
}

// GetEntry fetches a single entry by key.
func (r *Reader) GetEntry(ctx context.Context, key models.EntryKey) (*models.Entry, error) {
	if err := r.checkOpen("get_entry"); err != nil {
		return nil, err
	}
	return r.store.GetEntry(ctx, key)
}

// GetEntries returns entries matching filter as a single page, ordered by sort.
func (r *Reader) GetEntries(ctx context.Context, filter EntryFilter, sort models.EntrySort, limit int) ([]*models.Entry, error) {
	if err := r.checkOpen("get_entries"); err != nil {
		return nil, err
	}
	resolved, err := r.resolveEntryFilter(ctx, filter)
	if err != nil {
		return nil, err
	}
	return r.store.GetEntries(ctx, resolved, sort, limit)
}

// IterEntries returns the next chunk of entries matching filter after cursor.
func (r *Reader) IterEntries(ctx context.Context, filter EntryFilter, after storage.Cursor, chunkSize int) ([]*models.Entry, storage.Cursor, error) {
	if err := r.checkOpen("iter_entries"); err != nil {
		return nil, storage.Cursor{}, err
	}
	resolved, err := r.resolveEntryFilter(ctx, filter)
	if err != nil {
		return nil, storage.Cursor{}, err
	}
	return r.store.IterEntries(ctx, resolved, after, chunkSize)
}

// GetEntryCounts computes EntryCounts for filter.
func (r *Reader) GetEntryCounts(ctx context.Context, filter EntryFilter) (storage.EntryCounts, error) {
	if err := r.checkOpen("get_entry_counts"); err != nil {
		return storage.EntryCounts{}, err
	}
	resolved, err := r.resolveEntryFilter(ctx, filter)
	if err != nil {
		return storage.EntryCounts{}, err
	}
	return r.store.CountEntries(ctx, resolved, time.Now())
}

// EnableSearch creates/verifies the full-text search index and queues a
// full reindex if it was never enabled before. Call UpdateSearch
// afterward to actually populate it.
func (r *Reader) EnableSearch(ctx context.Context) error {
	if err := r.checkOpen("enable_search"); err != nil {
		return err
	}
	return r.search.Enable(ctx)
}

// DisableSearch drops the search index and marks search unavailable.
func (r *Reader) DisableSearch(ctx context.Context) error {
	if err := r.checkOpen("disable_search"); err != nil {
		return err
	}
	return r.search.Disable(ctx)
}

// IsSearchEnabled reports whether the search index is currently active.
func (r *Reader) IsSearchEnabled(ctx context.Context) (bool, error) {
	if err := r.checkOpen("is_search_enabled"); err != nil {
		return false, err
	}
	return r.search.IsEnabled(ctx)
}

// UpdateSearch drains pending entry changes into the search index.
func (r *Reader) UpdateSearch(ctx context.Context, chunkSize int) error {
	if err := r.checkOpen("update_search"); err != nil {
		return err
	}
	return r.search.Update(ctx, chunkSize)
}

// SearchEntries runs query against the indexed text, joined with filter.
// Returns *readererr.SearchNotEnabledError if EnableSearch hasn't been
// called, *readererr.InvalidSearchQueryError if query fails to compile.
func (r *Reader) SearchEntries(ctx context.Context, query string, filter EntryFilter, sort models.SearchSort, limit int) ([]models.EntrySearchResult, error) {
	if err := r.checkOpen("search_entries"); err != nil {
		return nil, err
	}
	resolved, err := r.resolveEntryFilter(ctx, filter)
	if err != nil {
		return nil, err
	}
	return r.search.Search(ctx, query, resolved, sort, limit)
}

// SearchEntryCounts reports how many indexed entries match query and filter.
func (r *Reader) SearchEntryCounts(ctx context.Context, query string, filter EntryFilter) (int, error) {
	if err := r.checkOpen("search_entry_counts"); err != nil {
		return 0, err
	}
	resolved, err := r.resolveEntryFilter(ctx, filter)
	if err != nil {
		return 0, err
	}
	return r.search.Count(ctx, query, resolved)
}

// GetTags lists every tag (name and value) set on the resource identified
// by key, ordered by name.
func (r *Reader) GetTags(ctx context.Context, key models.ResourceKey) ([]models.Tag, error) {
	if err := r.checkOpen("get_tags"); err != nil {
		return nil, err
	}
	return r.store.GetTags(ctx, key)
}

// GetTagKeys lists every tag name set on the resource identified by key,
// without fetching values.
func (r *Reader) GetTagKeys(ctx context.Context, key models.ResourceKey) ([]string, error) {
	if err := r.checkOpen("get_tag_keys"); err != nil {
		return nil, err
	}
	return r.store.GetTagKeys(ctx, key)
}

// GetTag fetches a single tag's value.
func (r *Reader) GetTag(ctx context.Context, key models.ResourceKey, name string) (any, error) {
	if err := r.checkOpen("get_tag"); err != nil {
		return nil, err
	}
	return r.store.GetTag(ctx, key, name)
}

// SetTag upserts a user tag. Returns *readererr.ReservedNameError if name
// falls under a reserved prefix: user code may read reserved tags but
// never write them directly; use the reader's own operations, or a
// plugin's SetPluginTag, instead.
func (r *Reader) SetTag(ctx context.Context, key models.ResourceKey, name string, value any) error {
	if err := r.checkOpen("set_tag"); err != nil {
		return err
	}
	if r.reserved.IsReserved(name) {
		return readererr.NewReservedNameError(name)
	}
	return r.store.SetTag(ctx, key, name, value)
}

// DeleteTag removes a user tag. Returns *readererr.ReservedNameError if
// name falls under a reserved prefix, *readererr.TagNotFoundError if it
// wasn't set.
func (r *Reader) DeleteTag(ctx context.Context, key models.ResourceKey, name string) error {
	if err := r.checkOpen("delete_tag"); err != nil {
		return err
	}
	if r.reserved.IsReserved(name) {
		return readererr.NewReservedNameError(name)
	}
	return r.store.DeleteTag(ctx, key, name)
}

// SetReaderTag upserts a tag under the reader's own reserved prefix,
// bypassing the refusal SetTag applies to user-supplied names. Intended
// for the reader core's own bookkeeping (e.g. previousUpdateTagName);
// most callers want SetTag.
func (r *Reader) SetReaderTag(ctx context.Context, key models.ResourceKey, suffix string, value any) error {
	if err := r.checkOpen("set_reader_tag"); err != nil {
		return err
	}
	return r.store.SetTag(ctx, key, r.reserved.MakeReaderReservedName(suffix), value)
}

// SetPluginTag upserts a tag under a named plugin's reserved prefix,
// bypassing SetTag's refusal. Lets a registered hook persist its own
// state without colliding with user tags or other plugins.
func (r *Reader) SetPluginTag(ctx context.Context, key models.ResourceKey, pluginName, suffix string, value any) error {
	if err := r.checkOpen("set_plugin_tag"); err != nil {
		return err
	}
	return r.store.SetTag(ctx, key, r.reserved.MakePluginReservedName(pluginName, suffix), value)
}

// AddBeforeFeedsUpdate registers a hook run once before a multi-feed
// update batch starts.
func (r *Reader) AddBeforeFeedsUpdate(name string, fn hooks.BeforeFeedsUpdateFunc) {
	r.hooks.AddBeforeFeedsUpdate(name, fn)
}

// AddBeforeFeedUpdate registers a hook run before a single feed is
// retrieved, able to veto the update for that feed.
func (r *Reader) AddBeforeFeedUpdate(name string, fn hooks.BeforeFeedUpdateFunc) {
	r.hooks.AddBeforeFeedUpdate(name, fn)
}

// AddAfterEntryUpdate registers a hook run after a single entry is added
// or updated, once the feed's commit has succeeded.
func (r *Reader) AddAfterEntryUpdate(name string, fn hooks.AfterEntryUpdateFunc) {
	r.hooks.AddAfterEntryUpdate(name, fn)
}

// AddAfterFeedsUpdate registers a hook run once after a multi-feed update
// batch finishes, receiving every feed's result.
func (r *Reader) AddAfterFeedsUpdate(name string, fn func(ctx context.Context, results []update.FeedResult) error) {
	r.hooks.AddAfterFeedsUpdate(name, func(ctx context.Context, results any) error {
		typed, _ := results.([]update.FeedResult)
		return fn(ctx, typed)
	})
}

// UpdateFeeds runs the update pipeline over every due feed (up to limit;
// limit <= 0 means no cap), logging per-feed and hook failures instead of
// returning them.
func (r *Reader) UpdateFeeds(ctx context.Context, limit int) error {
	if err := r.checkOpen("update_feeds"); err != nil {
		return err
	}
	startedAt := time.Now()
	r.pipeline.UpdateFeeds(ctx, limit)
	r.recordUpdateStart(ctx, startedAt)
	return nil
}

// UpdateFeedsIter runs the update pipeline over every due feed, streaming
// one result per feed as it finishes. The previous-update-cycle tag used
// by the "new" filter is stamped once the returned channel is fully
// drained and closed.
func (r *Reader) UpdateFeedsIter(ctx context.Context, limit int) (<-chan update.FeedResult, error) {
	if err := r.checkOpen("update_feeds_iter"); err != nil {
		return nil, err
	}
	startedAt := time.Now()
	in := r.pipeline.UpdateFeedsIter(ctx, limit)
	out := make(chan update.FeedResult)
	go func() {
		defer close(out)
		for res := range in {
			out <- res
		}
		r.recordUpdateStart(ctx, startedAt)
	}()
	return out, nil
}

// UpdateFeed updates a single named feed outside the worker pool.
func (r *Reader) UpdateFeed(ctx context.Context, feedURL string) (update.FeedResult, error) {
	if err := r.checkOpen("update_feed"); err != nil {
		return update.FeedResult{}, err
	}
	startedAt := time.Now()
	res := r.pipeline.UpdateFeed(ctx, feedURL)
	r.recordUpdateStart(ctx, startedAt)
	return res, nil
}
