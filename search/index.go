// ABOUTME: Search index lifecycle: enable/disable, change-log drain (Update), and query (Search)
// ABOUTME: The index is rebuilt incrementally from storage's change log, never synchronously with writes

// Package search implements the reader core's full-text search subsystem:
// an FTS5 index over entry text, kept eventually consistent with stored
// entries by draining storage's append-only change log, so entry writes
// never pay FTS indexing cost inline.
package search

import (
	"context"

	"github.com/colinashford/feedcore/models"
	"github.com/colinashford/feedcore/readererr"
	"github.com/colinashford/feedcore/storage"
)

// DefaultDrainChunkSize bounds how many change-log rows Update applies per
// internal batch when the caller doesn't specify one.
const DefaultDrainChunkSize = 200

// Index is a handle on the search subsystem for one reader's storage.
type Index struct {
	store *storage.Store
}

// New wraps store's search facilities.
func New(store *storage.Store) *Index {
	return &Index{store: store}
}

// Enable creates/verifies the search index is active. If search was never
// enabled (or was disabled since), every existing entry is queued for a
// full reindex; Update must be called afterward to actually populate it.
func (idx *Index) Enable(ctx context.Context) error {
	wasEnabled, err := idx.store.IsSearchEnabled(ctx)
	if err != nil {
		return err
	}
	if err := idx.store.SetSearchEnabled(ctx, true); err != nil {
		return err
	}
	if !wasEnabled {
		if err := idx.store.QueueFullReindex(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Disable drops the search index contents and marks search as unavailable.
// search_entries returns SearchNotEnabledError until Enable is called again.
func (idx *Index) Disable(ctx context.Context) error {
	if err := idx.store.ClearSearchIndex(ctx); err != nil {
		return err
	}
	return idx.store.SetSearchEnabled(ctx, false)
}

// IsEnabled reports whether the index is currently active.
func (idx *Index) IsEnabled(ctx context.Context) (bool, error) {
	return idx.store.IsSearchEnabled(ctx)
}

// Update drains pending search_changes rows in bounded batches, applying
// each to the FTS5 index: deletions remove the matching row (guarded
// against clobbering a newer insert), insertions recompute the entry's
// searchable text and upsert it stamped with the change's sequence. The
// drain is idempotent and safe to resume after an interruption — it never
// advances the stored cursor past a batch it hasn't finished applying.
func (idx *Index) Update(ctx context.Context, chunkSize int) error {
	if chunkSize <= 0 {
		chunkSize = DefaultDrainChunkSize
	}

	// With search disabled there is no index to keep current; leave the
	// change log untouched so Enable's full reindex starts from a clean
	// cursor position.
	enabled, err := idx.store.IsSearchEnabled(ctx)
	if err != nil {
		return err
	}
	if !enabled {
		return nil
	}

	for {
		changes, err := idx.store.DrainSearchChanges(ctx, chunkSize)
		if err != nil {
			return err
		}
		if len(changes) == 0 {
			return nil
		}

		for _, c := range changes {
			if err := idx.applyChange(ctx, c); err != nil {
				return err
			}
		}

		if err := idx.store.AdvanceSearchCursor(ctx, changes[len(changes)-1].Seq); err != nil {
			return err
		}
		if len(changes) < chunkSize {
			return nil
		}
	}
}

func (idx *Index) applyChange(ctx context.Context, c storage.SearchChange) error {
	key := models.EntryKey{FeedURL: c.FeedURL, ID: c.EntryID}

	if c.Deleted {
		return idx.store.DeleteSearchEntry(ctx, key, c.Seq)
	}

	entry, err := idx.store.GetEntry(ctx, key)
	if _, notFound := err.(*readererr.EntryNotFoundError); notFound {
		// The entry was deleted again after this change was queued;
		// nothing to index, and any stale index row is handled by its
		// own later DELETE change.
		return nil
	}
	if err != nil {
		return err
	}

	feed, err := idx.store.GetFeed(ctx, entry.Key.FeedURL)
	if _, notFound := err.(*readererr.FeedNotFoundError); notFound {
		// Feed (and so the entry) deleted between the entry read above and
		// here; the cascade's own DELETE changes clean up the index row.
		return nil
	}
	if err != nil {
		return err
	}

	title, content := buildSearchText(entry, feed)
	return idx.store.UpsertSearchEntry(ctx, models.SearchEntry{
		Key:      key,
		Title:    title,
		Content:  content,
		Sequence: c.Seq,
	})
}

// Search runs query against the indexed text, joined with the storage
// filter surface, and returns results ordered per sort.
func (idx *Index) Search(ctx context.Context, query string, filter models.EntryFilter, sort models.SearchSort, limit int) ([]models.EntrySearchResult, error) {
	enabled, err := idx.store.IsSearchEnabled(ctx)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, readererr.NewSearchNotEnabledError()
	}
	return idx.store.SearchQuery(ctx, query, filter, sort, limit)
}

// Count reports how many indexed entries match query and filter, for
// search_entry_counts.
func (idx *Index) Count(ctx context.Context, query string, filter models.EntryFilter) (int, error) {
	enabled, err := idx.store.IsSearchEnabled(ctx)
	if err != nil {
		return 0, err
	}
	if !enabled {
		return 0, readererr.NewSearchNotEnabledError()
	}
	return idx.store.CountSearchQuery(ctx, query, filter)
}
