// ABOUTME: Tests for the raw search_entries CRUD and FTS5 query/count helpers
// ABOUTME: Indexing/change-draining is exercised end-to-end in the search package's own tests

package storage

import (
	"context"
	"testing"

	"github.com/colinashford/feedcore/models"
)

func TestSearchEnabledToggle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	enabled, err := s.IsSearchEnabled(ctx)
	if err != nil {
		t.Fatalf("IsSearchEnabled: %v", err)
	}
	if enabled {
		t.Error("expected search to start disabled")
	}

	if err := s.SetSearchEnabled(ctx, true); err != nil {
		t.Fatalf("SetSearchEnabled: %v", err)
	}
	enabled, err = s.IsSearchEnabled(ctx)
	if err != nil {
		t.Fatalf("IsSearchEnabled: %v", err)
	}
	if !enabled {
		t.Error("expected search to be enabled")
	}
}

func TestUpsertAndQuerySearchEntry(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	mustAddFeed(t, s, "https://example.com/feed.xml")
	e := models.NewEntry("https://example.com/feed.xml", "entry-1")
	if err := s.AddEntry(ctx, e); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}

	se := models.SearchEntry{Key: e.Key, Title: "Rust ownership", Content: "borrow checker memory safety", Sequence: 1}
	if err := s.UpsertSearchEntry(ctx, se); err != nil {
		t.Fatalf("UpsertSearchEntry: %v", err)
	}

	results, err := s.SearchQuery(ctx, "ownership", models.EntryFilter{}, models.SearchSortRelevance, 0)
	if err != nil {
		t.Fatalf("SearchQuery: %v", err)
	}
	if len(results) != 1 || results[0].Key.ID != "entry-1" {
		t.Errorf("expected one matching result, got %+v", results)
	}

	n, err := s.CountSearchQuery(ctx, "ownership", models.EntryFilter{})
	if err != nil {
		t.Fatalf("CountSearchQuery: %v", err)
	}
	if n != 1 {
		t.Errorf("CountSearchQuery = %d, want 1", n)
	}
}

func TestUpsertSearchEntryReplacesPriorRow(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	mustAddFeed(t, s, "https://example.com/feed.xml")
	e := models.NewEntry("https://example.com/feed.xml", "entry-1")
	if err := s.AddEntry(ctx, e); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}

	if err := s.UpsertSearchEntry(ctx, models.SearchEntry{Key: e.Key, Title: "old", Content: "stale", Sequence: 1}); err != nil {
		t.Fatalf("UpsertSearchEntry (1): %v", err)
	}
	if err := s.UpsertSearchEntry(ctx, models.SearchEntry{Key: e.Key, Title: "new", Content: "fresh", Sequence: 2}); err != nil {
		t.Fatalf("UpsertSearchEntry (2): %v", err)
	}

	results, err := s.SearchQuery(ctx, "fresh", models.EntryFilter{}, models.SearchSortRelevance, 0)
	if err != nil {
		t.Fatalf("SearchQuery: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected exactly one row after replace, got %d", len(results))
	}

	stale, err := s.SearchQuery(ctx, "stale", models.EntryFilter{}, models.SearchSortRelevance, 0)
	if err != nil {
		t.Fatalf("SearchQuery stale: %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("expected the stale row to be gone, got %+v", stale)
	}
}

func TestDeleteSearchEntryDoesNotClobberNewerInsert(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	mustAddFeed(t, s, "https://example.com/feed.xml")
	e := models.NewEntry("https://example.com/feed.xml", "entry-1")
	if err := s.AddEntry(ctx, e); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}

	if err := s.UpsertSearchEntry(ctx, models.SearchEntry{Key: e.Key, Title: "current", Content: "body", Sequence: 5}); err != nil {
		t.Fatalf("UpsertSearchEntry: %v", err)
	}
	// A stale delete at a sequence older than the current row must be a no-op.
	if err := s.DeleteSearchEntry(ctx, e.Key, 3); err != nil {
		t.Fatalf("DeleteSearchEntry: %v", err)
	}

	results, err := s.SearchQuery(ctx, "current", models.EntryFilter{}, models.SearchSortRelevance, 0)
	if err != nil {
		t.Fatalf("SearchQuery: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("expected the newer row to survive a stale delete, got %+v", results)
	}
}
