// ABOUTME: Per-feed select/retrieve/parse/diff/commit sequence, fanned out over a bounded worker pool
// ABOUTME: One feed's failure never aborts its siblings; each feed commits in a single transaction

// Package update implements the reader core's feed refresh pipeline: for
// each due feed, retrieve its document, parse it, diff the parsed entries
// against storage, and commit the result in one transaction.
package update

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/colinashford/feedcore/feedio"
	"github.com/colinashford/feedcore/hooks"
	"github.com/colinashford/feedcore/models"
	"github.com/colinashford/feedcore/readererr"
	"github.com/colinashford/feedcore/storage"
)

// DefaultWorkers bounds concurrent feed updates when Config.Workers is unset.
const DefaultWorkers = 4

// Config wires a Pipeline's dependencies. Store, Retriever, and Parser are
// required; Hooks, Workers, and Logger fall back to usable defaults.
type Config struct {
	Store     *storage.Store
	Retriever feedio.Retriever
	Parser    feedio.Parser
	Hooks     *hooks.Registry
	Workers   int
	Logger    *slog.Logger
}

// Pipeline runs update_feeds/update_feeds_iter/update_feed over a reader's
// storage, one feed at a time per worker, never starting two goroutines for
// the same feed concurrently within a single call.
type Pipeline struct {
	store     *storage.Store
	retriever feedio.Retriever
	parser    feedio.Parser
	hooks     *hooks.Registry
	workers   int
	log       *slog.Logger
}

// New builds a Pipeline from cfg.
func New(cfg Config) *Pipeline {
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	reg := cfg.Hooks
	if reg == nil {
		reg = &hooks.Registry{}
	}
	return &Pipeline{
		store:     cfg.Store,
		retriever: cfg.Retriever,
		parser:    cfg.Parser,
		hooks:     reg,
		workers:   workers,
		log:       log,
	}
}

// UpdateFeedsIter selects up to limit due feeds (limit <= 0 means no cap)
// and updates them concurrently, streaming one FeedResult per feed as it
// finishes. The channel closes once every dispatched feed has reported, or
// sooner if ctx is cancelled before all feeds are dispatched — feeds already
// in flight are allowed to finish their current stage rather than being cut
// off mid-commit.
func (p *Pipeline) UpdateFeedsIter(ctx context.Context, limit int) <-chan FeedResult {
	out := make(chan FeedResult)
	runID := uuid.NewString()

	go func() {
		defer close(out)

		if err := p.hooks.RunBeforeFeedsUpdate(ctx); err != nil {
			p.log.Error("before_feeds_update hook failed", slog.Any("err", err))
		}

		due, err := p.store.FeedsForUpdate(ctx, time.Now(), limit)
		if err != nil {
			p.log.Error("failed to select feeds for update", slog.Any("err", err))
			return
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.workers)

		var mu sync.Mutex
		var results []FeedResult

		for _, feed := range due {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				res := p.updateOneFeed(gctx, runID, feed)
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
				select {
				case out <- res:
				case <-ctx.Done():
				}
				return nil
			})
		}
		_ = g.Wait()

		if err := p.hooks.RunAfterFeedsUpdate(ctx, results); err != nil {
			p.log.Error("after_feeds_update hook failed", slog.Any("err", err))
		}
	}()

	return out
}

// UpdateFeeds drains UpdateFeedsIter, logging per-feed errors and hook
// failures instead of returning them, for callers who don't need the
// per-feed channel.
func (p *Pipeline) UpdateFeeds(ctx context.Context, limit int) {
	for res := range p.UpdateFeedsIter(ctx, limit) {
		if res.Err != nil {
			p.log.Error("feed update failed", slog.String("feed_url", res.FeedURL), slog.Any("err", res.Err))
		}
		if res.HookErr != nil {
			p.log.Warn("feed update hooks reported failures", slog.String("feed_url", res.FeedURL), slog.Any("err", res.HookErr))
		}
	}
}

// UpdateFeed updates a single named feed outside the worker pool, returning
// its result directly.
func (p *Pipeline) UpdateFeed(ctx context.Context, feedURL string) FeedResult {
	feed, err := p.store.GetFeed(ctx, feedURL)
	if err != nil {
		return FeedResult{FeedURL: feedURL, Err: err}
	}
	due := storage.FeedForUpdate{
		URL:                 feed.URL,
		CachingETag:         feed.CachingETag,
		CachingLastModified: feed.CachingLastModified,
		Stale:               feed.Stale,
	}
	return p.updateOneFeed(ctx, uuid.NewString(), due)
}

// updateOneFeed runs every stage for one feed: the before_feed_update veto,
// retrieve, parse, diff, the single commit transaction that lands every
// entry write plus the feed-level metadata merge together, and then the
// after_entry_update hooks for each written entry.
func (p *Pipeline) updateOneFeed(ctx context.Context, runID string, feed storage.FeedForUpdate) FeedResult {
	res := FeedResult{RunID: runID, FeedURL: feed.URL, StartedAt: time.Now()}
	defer func() { res.FinishedAt = time.Now() }()

	if err := p.hooks.RunBeforeFeedUpdate(ctx, feed.URL); err != nil {
		res.Skipped = true
		res.Err = err
		return res
	}

	caching := feedio.CachingTokens{ETag: feed.CachingETag, LastModified: feed.CachingLastModified}
	retrieved, err := p.retriever.Retrieve(ctx, feed.URL, caching, feed.Stale)
	attemptedAt := time.Now()

	if errors.Is(err, feedio.ErrNotModified) {
		res.NotModified = true
		if uerr := p.store.UpdateFeedAfterAttempt(ctx, feed.URL, attemptedAt, nil, nil, nil); uerr != nil {
			res.Err = uerr
		}
		return res
	}
	if err != nil {
		exc := &models.ExceptionInfo{Category: "retrieve", Message: err.Error()}
		if uerr := p.store.UpdateFeedAfterAttempt(ctx, feed.URL, attemptedAt, exc, nil, nil); uerr != nil {
			p.log.Error("failed to record retrieval failure", slog.String("feed_url", feed.URL), slog.Any("err", uerr))
		}
		res.Err = readererr.NewParseError(feed.URL, err)
		return res
	}
	res.Retrieved = true

	feedData, entries, err := p.parser.Parse(ctx, retrieved)
	if err != nil {
		exc := &models.ExceptionInfo{Category: "parse", Message: err.Error()}
		if uerr := p.store.UpdateFeedAfterAttempt(ctx, feed.URL, attemptedAt, exc, retrieved.Caching.ETag, retrieved.Caching.LastModified); uerr != nil {
			p.log.Error("failed to record parse failure", slog.String("feed_url", feed.URL), slog.Any("err", uerr))
		}
		res.Err = readererr.NewParseError(feed.URL, err)
		return res
	}

	prior, err := p.store.GetEntriesForDiff(ctx, feed.URL)
	if err != nil {
		res.Err = err
		return res
	}

	tx, err := p.store.Begin(ctx)
	if err != nil {
		res.Err = err
		return res
	}
	defer tx.Rollback()

	now := time.Now()
	type writtenEntry struct {
		entry  *models.Entry
		status hooks.EntryUpdateStatus
	}
	var written []writtenEntry

	for i, ed := range entries {
		hash := computeDataHash(ed)
		state, known := prior[ed.ID]
		var statePtr *storage.EntryDiffState
		if known {
			statePtr = &state
		}

		action, hashChanged := diffEntry(statePtr, ed.Updated, hash)
		if action == actionSkip {
			res.EntriesSame++
			continue
		}

		entry, err := buildEntry(ctx, tx, feed.URL, ed, statePtr, hash, hashChanged, i, now)
		if err != nil {
			res.Err = err
			return res
		}

		status := hooks.EntryModified
		switch action {
		case actionAdd:
			if err := tx.AddEntry(ctx, entry); err != nil {
				res.Err = err
				return res
			}
			res.EntriesAdded++
			status = hooks.EntryNew
		case actionUpdate:
			if err := tx.UpdateEntryContent(ctx, entry); err != nil {
				res.Err = err
				return res
			}
			res.EntriesUpdated++
		}

		written = append(written, writtenEntry{entry: entry, status: status})
	}

	feedMeta := &models.Feed{
		Updated:  feedData.Updated,
		Title:    feedData.Title,
		Link:     feedData.Link,
		Author:   feedData.Author,
		Subtitle: feedData.Subtitle,
		Version:  feedData.Version,
	}
	if err := tx.TouchFeedUpdated(ctx, feed.URL, now, feedMeta); err != nil {
		res.Err = err
		return res
	}
	if err := tx.UpdateFeedAfterAttempt(ctx, feed.URL, attemptedAt, nil, retrieved.Caching.ETag, retrieved.Caching.LastModified); err != nil {
		res.Err = err
		return res
	}

	if err := tx.Commit(); err != nil {
		res.Err = err
		return res
	}

	var hookErrs []error
	for _, w := range written {
		if herr := p.hooks.RunAfterEntryUpdate(ctx, w.entry, w.status); herr != nil {
			hookErrs = append(hookErrs, herr)
		}
	}
	if len(hookErrs) > 0 {
		res.HookErr = errors.Join(hookErrs...)
	}
	return res
}

// buildEntry materializes the models.Entry a diff action should write.
// For a new entry it allocates the feed's next epoch value inside tx, so
// the allocation rolls back together with the rest of the commit on
// failure; for an update it carries forward the fields UpdateEntryContent
// doesn't overwrite (first_updated, first_updated_epoch) from prior.
func buildEntry(ctx context.Context, tx *storage.Tx, feedURL string, ed feedio.EntryData, prior *storage.EntryDiffState, hash []byte, hashChanged, feedOrder int, now time.Time) (*models.Entry, error) {
	var entry *models.Entry

	if prior == nil {
		epoch, err := tx.NextEntryEpoch(ctx, feedURL)
		if err != nil {
			return nil, err
		}
		entry = models.NewEntry(feedURL, ed.ID)
		entry.FirstUpdatedEpoch = epoch
		entry.RecentSort = DeriveRecentSort(ed.Published, ed.Updated, now, nil)
	} else {
		entry = &models.Entry{Key: models.EntryKey{FeedURL: feedURL, ID: ed.ID}}
		entry.FirstUpdated = prior.FirstUpdated
		entry.FirstUpdatedEpoch = prior.FirstUpdatedEpoch
		priorRecentSort := prior.RecentSort
		entry.RecentSort = DeriveRecentSort(ed.Published, ed.Updated, now, &priorRecentSort)
	}

	entry.Title = ed.Title
	entry.Link = ed.Link
	entry.Author = ed.Author
	entry.Summary = ed.Summary
	entry.Published = ed.Published
	entry.Updated = ed.Updated
	entry.Content = make([]models.EntryContent, len(ed.Content))
	for i, c := range ed.Content {
		entry.Content[i] = models.EntryContent{Value: c.Value, Type: c.Type, Language: c.Language, IsSummary: c.IsSummary}
	}
	entry.Enclosures = make([]models.Enclosure, len(ed.Enclosures))
	for i, enc := range ed.Enclosures {
		entry.Enclosures[i] = models.Enclosure{Href: enc.Href, Type: enc.Type, Length: enc.Length}
	}
	entry.DataHash = hash
	entry.HashChanged = hashChanged
	entry.FeedOrder = feedOrder
	entry.LastUpdated = now

	return entry, nil
}
