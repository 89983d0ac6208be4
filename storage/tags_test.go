// ABOUTME: Tests for generic tag storage across global/feed/entry resource keys
// ABOUTME: Storage layer enforces no reserved-name policy; that's the reader facade's job

package storage

import (
	"context"
	"testing"

	"github.com/colinashford/feedcore/models"
	"github.com/colinashford/feedcore/readererr"
)

func TestSetAndGetTagGlobal(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	key := models.ResourceKey{}

	if err := s.SetTag(ctx, key, "theme", "dark"); err != nil {
		t.Fatalf("SetTag: %v", err)
	}
	v, err := s.GetTag(ctx, key, "theme")
	if err != nil {
		t.Fatalf("GetTag: %v", err)
	}
	if v != "dark" {
		t.Errorf("value = %v, want dark", v)
	}
}

func TestSetTagUpsertsOnConflict(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	key := models.ResourceKey{FeedURL: "https://example.com/feed.xml"}

	if err := s.SetTag(ctx, key, "priority", float64(1)); err != nil {
		t.Fatalf("SetTag: %v", err)
	}
	if err := s.SetTag(ctx, key, "priority", float64(2)); err != nil {
		t.Fatalf("SetTag (update): %v", err)
	}
	v, err := s.GetTag(ctx, key, "priority")
	if err != nil {
		t.Fatalf("GetTag: %v", err)
	}
	if v != float64(2) {
		t.Errorf("value = %v, want 2", v)
	}
}

func TestGetTagNotFound(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.GetTag(context.Background(), models.ResourceKey{}, "missing")
	if _, ok := err.(*readererr.TagNotFoundError); !ok {
		t.Errorf("expected *TagNotFoundError, got %T: %v", err, err)
	}
}

func TestGetTagsListsAllNamesSorted(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	key := models.ResourceKey{FeedURL: "https://example.com/feed.xml", EntryID: "entry-1"}

	if err := s.SetTag(ctx, key, "zeta", true); err != nil {
		t.Fatalf("SetTag: %v", err)
	}
	if err := s.SetTag(ctx, key, "alpha", "x"); err != nil {
		t.Fatalf("SetTag: %v", err)
	}

	tags, err := s.GetTags(ctx, key)
	if err != nil {
		t.Fatalf("GetTags: %v", err)
	}
	if len(tags) != 2 {
		t.Fatalf("expected 2 tags, got %d", len(tags))
	}
	if tags[0].Name != "alpha" || tags[1].Name != "zeta" {
		t.Errorf("expected alphabetical order, got %v, %v", tags[0].Name, tags[1].Name)
	}
}

func TestGetTagKeys(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	key := models.ResourceKey{FeedURL: "https://example.com/feed.xml"}

	if err := s.SetTag(ctx, key, "beta", nil); err != nil {
		t.Fatalf("SetTag: %v", err)
	}
	if err := s.SetTag(ctx, key, "alpha", 1); err != nil {
		t.Fatalf("SetTag: %v", err)
	}

	names, err := s.GetTagKeys(ctx, key)
	if err != nil {
		t.Fatalf("GetTagKeys: %v", err)
	}
	if len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("names = %v, want [alpha beta]", names)
	}

	empty, err := s.GetTagKeys(ctx, models.ResourceKey{FeedURL: "https://other.example.com/feed.xml"})
	if err != nil {
		t.Fatalf("GetTagKeys (empty): %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no names on an untagged resource, got %v", empty)
	}
}

func TestDeleteTag(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	key := models.ResourceKey{}
	if err := s.SetTag(ctx, key, "starred", true); err != nil {
		t.Fatalf("SetTag: %v", err)
	}
	if err := s.DeleteTag(ctx, key, "starred"); err != nil {
		t.Fatalf("DeleteTag: %v", err)
	}
	if _, err := s.GetTag(ctx, key, "starred"); err == nil {
		t.Error("expected tag to be gone")
	}
	if err := s.DeleteTag(ctx, key, "starred"); err == nil {
		t.Error("expected deleting an already-deleted tag to fail")
	}
}

func TestTagNamespacesAreIndependentPerResource(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	globalKey := models.ResourceKey{}
	feedKey := models.ResourceKey{FeedURL: "https://example.com/feed.xml"}

	if err := s.SetTag(ctx, globalKey, "name", "global-value"); err != nil {
		t.Fatalf("SetTag global: %v", err)
	}
	if err := s.SetTag(ctx, feedKey, "name", "feed-value"); err != nil {
		t.Fatalf("SetTag feed: %v", err)
	}

	gv, err := s.GetTag(ctx, globalKey, "name")
	if err != nil {
		t.Fatalf("GetTag global: %v", err)
	}
	fv, err := s.GetTag(ctx, feedKey, "name")
	if err != nil {
		t.Fatalf("GetTag feed: %v", err)
	}
	if gv != "global-value" || fv != "feed-value" {
		t.Errorf("expected independent values, got global=%v feed=%v", gv, fv)
	}
}
