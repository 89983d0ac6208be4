// ABOUTME: Tests for feed CRUD, chunked iteration, and counts against an in-memory SQLite store
// ABOUTME: Every test opens its own private database via storage.Open(ctx, "")

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/colinashford/feedcore/models"
	"github.com/colinashford/feedcore/readererr"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAddAndGetFeed(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	feed := models.NewFeed("https://example.com/feed.xml")
	if err := s.AddFeed(ctx, feed); err != nil {
		t.Fatalf("AddFeed: %v", err)
	}

	got, err := s.GetFeed(ctx, feed.URL)
	if err != nil {
		t.Fatalf("GetFeed: %v", err)
	}
	if got.URL != feed.URL {
		t.Errorf("URL = %q, want %q", got.URL, feed.URL)
	}
	if !got.UpdatesEnabled {
		t.Error("expected UpdatesEnabled to default true")
	}
}

func TestAddFeedDuplicateReturnsFeedExistsError(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	feed := models.NewFeed("https://example.com/feed.xml")
	if err := s.AddFeed(ctx, feed); err != nil {
		t.Fatalf("AddFeed: %v", err)
	}
	err := s.AddFeed(ctx, models.NewFeed(feed.URL))
	if err == nil {
		t.Fatal("expected an error adding a duplicate feed")
	}
	var fe *readererr.FeedExistsError
	if !asFeedExists(err, &fe) {
		t.Errorf("expected *FeedExistsError, got %T: %v", err, err)
	}
}

func asFeedExists(err error, target **readererr.FeedExistsError) bool {
	fe, ok := err.(*readererr.FeedExistsError)
	if !ok {
		return false
	}
	*target = fe
	return true
}

func TestGetFeedNotFound(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.GetFeed(context.Background(), "https://missing.example.com/feed.xml")
	if _, ok := err.(*readererr.FeedNotFoundError); !ok {
		t.Errorf("expected *FeedNotFoundError, got %T: %v", err, err)
	}
}

func TestDeleteFeed(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	feed := models.NewFeed("https://example.com/feed.xml")
	if err := s.AddFeed(ctx, feed); err != nil {
		t.Fatalf("AddFeed: %v", err)
	}
	if err := s.DeleteFeed(ctx, feed.URL); err != nil {
		t.Fatalf("DeleteFeed: %v", err)
	}
	if _, err := s.GetFeed(ctx, feed.URL); err == nil {
		t.Error("expected feed to be gone after delete")
	}
	if err := s.DeleteFeed(ctx, feed.URL); err == nil {
		t.Error("expected deleting an already-deleted feed to fail")
	}
}

func TestChangeFeedURL(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	feed := models.NewFeed("https://old.example.com/feed.xml")
	if err := s.AddFeed(ctx, feed); err != nil {
		t.Fatalf("AddFeed: %v", err)
	}
	if err := s.ChangeFeedURL(ctx, feed.URL, "https://new.example.com/feed.xml"); err != nil {
		t.Fatalf("ChangeFeedURL: %v", err)
	}
	got, err := s.GetFeed(ctx, "https://new.example.com/feed.xml")
	if err != nil {
		t.Fatalf("expected feed at new url, got err: %v", err)
	}
	if !got.Stale {
		t.Error("expected the renamed feed to be flagged stale")
	}
	if _, err := s.GetFeed(ctx, feed.URL); err == nil {
		t.Error("expected old url to be gone")
	}
}

func TestChangeFeedURLMovesEntriesAndStampsOrigin(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	oldURL := "https://old.example.com/feed.xml"
	newURL := "https://new.example.com/feed.xml"
	if err := s.AddFeed(ctx, models.NewFeed(oldURL)); err != nil {
		t.Fatalf("AddFeed: %v", err)
	}
	entry := models.NewEntry(oldURL, "e1")
	if err := s.AddEntry(ctx, entry); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	if err := s.SetTag(ctx, models.ResourceKey{FeedURL: oldURL}, "category", "news"); err != nil {
		t.Fatalf("SetTag: %v", err)
	}

	if err := s.ChangeFeedURL(ctx, oldURL, newURL); err != nil {
		t.Fatalf("ChangeFeedURL: %v", err)
	}

	moved, err := s.GetEntry(ctx, models.EntryKey{FeedURL: newURL, ID: "e1"})
	if err != nil {
		t.Fatalf("GetEntry under new url: %v", err)
	}
	if moved.OriginalFeedURL == nil || *moved.OriginalFeedURL != oldURL {
		t.Errorf("OriginalFeedURL = %v, want %q", moved.OriginalFeedURL, oldURL)
	}

	v, err := s.GetTag(ctx, models.ResourceKey{FeedURL: newURL}, "category")
	if err != nil {
		t.Fatalf("GetTag under new url: %v", err)
	}
	if v != "news" {
		t.Errorf("tag value = %v, want news", v)
	}
}

func TestDeleteFeedRemovesTags(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	url := "https://example.com/feed.xml"
	if err := s.AddFeed(ctx, models.NewFeed(url)); err != nil {
		t.Fatalf("AddFeed: %v", err)
	}
	if err := s.AddEntry(ctx, models.NewEntry(url, "e1")); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	if err := s.SetTag(ctx, models.ResourceKey{FeedURL: url}, "category", "news"); err != nil {
		t.Fatalf("SetTag feed: %v", err)
	}
	if err := s.SetTag(ctx, models.ResourceKey{FeedURL: url, EntryID: "e1"}, "note", "keep"); err != nil {
		t.Fatalf("SetTag entry: %v", err)
	}

	if err := s.DeleteFeed(ctx, url); err != nil {
		t.Fatalf("DeleteFeed: %v", err)
	}

	for _, key := range []models.ResourceKey{
		{FeedURL: url},
		{FeedURL: url, EntryID: "e1"},
	} {
		names, err := s.GetTagKeys(ctx, key)
		if err != nil {
			t.Fatalf("GetTagKeys: %v", err)
		}
		if len(names) != 0 {
			t.Errorf("tags on %+v after feed delete = %v, want none", key, names)
		}
	}
}

func TestEnableFeedUpdatesAndFeedsForUpdate(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	a := models.NewFeed("https://a.example.com/feed.xml")
	b := models.NewFeed("https://b.example.com/feed.xml")
	if err := s.AddFeed(ctx, a); err != nil {
		t.Fatalf("AddFeed a: %v", err)
	}
	if err := s.AddFeed(ctx, b); err != nil {
		t.Fatalf("AddFeed b: %v", err)
	}
	if err := s.EnableFeedUpdates(ctx, b.URL, false); err != nil {
		t.Fatalf("EnableFeedUpdates: %v", err)
	}

	due, err := s.FeedsForUpdate(ctx, time.Now(), 0)
	if err != nil {
		t.Fatalf("FeedsForUpdate: %v", err)
	}
	if len(due) != 1 || due[0].URL != a.URL {
		t.Errorf("expected only %q due, got %+v", a.URL, due)
	}
}

func TestFeedsForUpdateRespectsUpdateAfter(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	feed := models.NewFeed("https://example.com/feed.xml")
	if err := s.AddFeed(ctx, feed); err != nil {
		t.Fatalf("AddFeed: %v", err)
	}
	future := time.Now().Add(time.Hour)
	if err := s.SetFeedUpdateAfter(ctx, feed.URL, &future); err != nil {
		t.Fatalf("SetFeedUpdateAfter: %v", err)
	}

	due, err := s.FeedsForUpdate(ctx, time.Now(), 0)
	if err != nil {
		t.Fatalf("FeedsForUpdate: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("expected no feeds due before update_after, got %+v", due)
	}
}

func TestGetFeedCountsAndCountFeeds(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f := models.NewFeed(feedURLForIndex(i))
		if err := s.AddFeed(ctx, f); err != nil {
			t.Fatalf("AddFeed: %v", err)
		}
	}
	broken := models.NewFeed("https://broken.example.com/feed.xml")
	if err := s.AddFeed(ctx, broken); err != nil {
		t.Fatalf("AddFeed broken: %v", err)
	}
	exc := &models.ExceptionInfo{Category: "retrieve", Message: "connection refused"}
	if err := s.UpdateFeedAfterAttempt(ctx, broken.URL, time.Now(), exc, nil, nil); err != nil {
		t.Fatalf("UpdateFeedAfterAttempt: %v", err)
	}

	n, err := s.CountFeeds(ctx, models.FeedFilter{})
	if err != nil {
		t.Fatalf("CountFeeds: %v", err)
	}
	if n != 4 {
		t.Errorf("CountFeeds = %d, want 4", n)
	}

	counts, err := s.GetFeedCounts(ctx, models.FeedFilter{})
	if err != nil {
		t.Fatalf("GetFeedCounts: %v", err)
	}
	if counts.Total != 4 {
		t.Errorf("Total = %d, want 4", counts.Total)
	}
	if counts.Broken != 1 {
		t.Errorf("Broken = %d, want 1", counts.Broken)
	}
}

func TestIterFeedsPaginatesAndTerminates(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := s.AddFeed(ctx, models.NewFeed(feedURLForIndex(i))); err != nil {
			t.Fatalf("AddFeed: %v", err)
		}
	}

	var all []*models.Feed
	cursor := Cursor{}
	for {
		chunk, next, err := s.IterFeeds(ctx, models.FeedFilter{}, cursor, 2)
		if err != nil {
			t.Fatalf("IterFeeds: %v", err)
		}
		all = append(all, chunk...)
		if next.Value == "" {
			break
		}
		cursor = next
	}
	if len(all) != 5 {
		t.Errorf("expected 5 feeds iterated, got %d", len(all))
	}
}

func feedURLForIndex(i int) string {
	letters := []string{"a", "b", "c", "d", "e", "f", "g"}
	return "https://" + letters[i] + ".example.com/feed.xml"
}

func TestTouchFeedUpdatedClearsExceptionAndStale(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	feed := models.NewFeed("https://example.com/feed.xml")
	feed.Stale = true
	if err := s.AddFeed(ctx, feed); err != nil {
		t.Fatalf("AddFeed: %v", err)
	}
	exc := &models.ExceptionInfo{Category: "parse", Message: "bad xml"}
	if err := s.UpdateFeedAfterAttempt(ctx, feed.URL, time.Now(), exc, nil, nil); err != nil {
		t.Fatalf("UpdateFeedAfterAttempt: %v", err)
	}

	title := "New Title"
	meta := &models.Feed{Title: &title, Version: "atom10"}
	if err := s.TouchFeedUpdated(ctx, feed.URL, time.Now(), meta); err != nil {
		t.Fatalf("TouchFeedUpdated: %v", err)
	}

	got, err := s.GetFeed(ctx, feed.URL)
	if err != nil {
		t.Fatalf("GetFeed: %v", err)
	}
	if got.LastException != nil {
		t.Errorf("expected exception cleared, got %+v", got.LastException)
	}
	if got.Stale {
		t.Error("expected stale cleared")
	}
	if got.Title == nil || *got.Title != title {
		t.Errorf("Title = %v, want %q", got.Title, title)
	}
}
