// ABOUTME: Ordered hook registry for the four update-pipeline extension points
// ABOUTME: Hooks run synchronously in registration order; failures are aggregated, never roll back storage

// Package hooks implements the reader core's synchronous plugin extension
// points. A hook family is a slice of callbacks invoked in the order they
// were added; a failing hook does not stop later hooks in the same family
// and does not undo storage writes already committed for the feeds
// processed before it.
package hooks

import (
	"context"

	"github.com/colinashford/feedcore/models"
	"github.com/colinashford/feedcore/readererr"
)

// BeforeFeedsUpdateFunc runs once before a multi-feed update batch starts.
type BeforeFeedsUpdateFunc func(ctx context.Context) error

// BeforeFeedUpdateFunc runs before a single feed is retrieved, and may
// veto the update by returning a non-nil error.
type BeforeFeedUpdateFunc func(ctx context.Context, feedURL string) error

// EntryUpdateStatus tags an after_entry_update call with why the hook is
// firing: a freshly inserted entry or a modified existing one.
type EntryUpdateStatus int

const (
	EntryNew EntryUpdateStatus = iota
	EntryModified
)

func (s EntryUpdateStatus) String() string {
	if s == EntryNew {
		return "NEW"
	}
	return "MODIFIED"
}

// AfterEntryUpdateFunc runs after a single entry has been added or
// updated in storage, once the surrounding transaction has committed.
type AfterEntryUpdateFunc func(ctx context.Context, entry *models.Entry, status EntryUpdateStatus) error

// AfterFeedsUpdateFunc runs once after a multi-feed update batch finishes,
// regardless of whether individual feeds failed.
type AfterFeedsUpdateFunc func(ctx context.Context, results any) error

// Registry holds every hook family for a reader instance. Add* methods
// append; nothing in this package ever reorders or removes a registered
// hook.
type Registry struct {
	beforeFeedsUpdate []namedHook[BeforeFeedsUpdateFunc]
	beforeFeedUpdate  []namedHook[BeforeFeedUpdateFunc]
	afterEntryUpdate  []namedHook[AfterEntryUpdateFunc]
	afterFeedsUpdate  []namedHook[AfterFeedsUpdateFunc]
}

type namedHook[F any] struct {
	name string
	fn   F
}

func (r *Registry) AddBeforeFeedsUpdate(name string, fn BeforeFeedsUpdateFunc) {
	r.beforeFeedsUpdate = append(r.beforeFeedsUpdate, namedHook[BeforeFeedsUpdateFunc]{name, fn})
}

func (r *Registry) AddBeforeFeedUpdate(name string, fn BeforeFeedUpdateFunc) {
	r.beforeFeedUpdate = append(r.beforeFeedUpdate, namedHook[BeforeFeedUpdateFunc]{name, fn})
}

func (r *Registry) AddAfterEntryUpdate(name string, fn AfterEntryUpdateFunc) {
	r.afterEntryUpdate = append(r.afterEntryUpdate, namedHook[AfterEntryUpdateFunc]{name, fn})
}

func (r *Registry) AddAfterFeedsUpdate(name string, fn AfterFeedsUpdateFunc) {
	r.afterFeedsUpdate = append(r.afterFeedsUpdate, namedHook[AfterFeedsUpdateFunc]{name, fn})
}

// RunBeforeFeedsUpdate invokes every before_feeds_update hook in order,
// aggregating failures into a single *readererr.UpdateHookErrorGroup.
func (r *Registry) RunBeforeFeedsUpdate(ctx context.Context) error {
	var failures []*readererr.SingleUpdateHookError
	for _, h := range r.beforeFeedsUpdate {
		if err := h.fn(ctx); err != nil {
			failures = append(failures, readererr.NewSingleUpdateHookError(h.name, "", err))
		}
	}
	return joinFailures(failures)
}

// RunBeforeFeedUpdate invokes every before_feed_update hook for feedURL in
// order. The first hook to return an error stops the chain for this feed
// (a veto), and the feed is skipped for this update pass.
func (r *Registry) RunBeforeFeedUpdate(ctx context.Context, feedURL string) error {
	for _, h := range r.beforeFeedUpdate {
		if err := h.fn(ctx, feedURL); err != nil {
			return readererr.NewSingleUpdateHookError(h.name, feedURL, err)
		}
	}
	return nil
}

// RunAfterEntryUpdate invokes every after_entry_update hook for entry in
// order, aggregating failures. Hook failures here do not roll back the
// entry write that already happened.
func (r *Registry) RunAfterEntryUpdate(ctx context.Context, entry *models.Entry, status EntryUpdateStatus) error {
	var failures []*readererr.SingleUpdateHookError
	for _, h := range r.afterEntryUpdate {
		if err := h.fn(ctx, entry, status); err != nil {
			failures = append(failures, readererr.NewSingleUpdateHookError(h.name, entry.Key.FeedURL, err))
		}
	}
	return joinFailures(failures)
}

// RunAfterFeedsUpdate invokes every after_feeds_update hook with the
// batch's results, aggregating failures.
func (r *Registry) RunAfterFeedsUpdate(ctx context.Context, results any) error {
	var failures []*readererr.SingleUpdateHookError
	for _, h := range r.afterFeedsUpdate {
		if err := h.fn(ctx, results); err != nil {
			failures = append(failures, readererr.NewSingleUpdateHookError(h.name, "", err))
		}
	}
	return joinFailures(failures)
}

func joinFailures(failures []*readererr.SingleUpdateHookError) error {
	if len(failures) == 0 {
		return nil
	}
	return readererr.NewUpdateHookErrorGroup(failures)
}
