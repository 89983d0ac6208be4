// ABOUTME: Tests that every leaf error type satisfies its category marker interface via errors.As
// ABOUTME: Also checks Unwrap carries the wrapped cause through the category chain

package readererr

import (
	"errors"
	"testing"
)

func TestFeedNotFoundErrorAsFeedError(t *testing.T) {
	var err error = NewFeedNotFoundError("https://example.com/feed.xml")

	var fe FeedError
	if !errors.As(err, &fe) {
		t.Fatal("expected *FeedNotFoundError to satisfy FeedError via errors.As")
	}

	var re ReaderError
	if !errors.As(err, &re) {
		t.Fatal("expected *FeedNotFoundError to satisfy ReaderError via errors.As")
	}
}

func TestInvalidFeedURLErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("missing host")
	err := NewInvalidFeedURLError("ftp://bad", cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
	if err.Error() == "" {
		t.Error("expected a non-empty error message")
	}
}

func TestUpdateHookErrorGroupAggregatesAndUnwraps(t *testing.T) {
	c1 := errors.New("hook one failed")
	c2 := errors.New("hook two failed")
	single1 := NewSingleUpdateHookError("hook-one", "https://a.example/feed.xml", c1)
	single2 := NewSingleUpdateHookError("hook-two", "https://b.example/feed.xml", c2)

	group := NewUpdateHookErrorGroup([]*SingleUpdateHookError{single1, single2})

	if len(group.Errors) != 2 {
		t.Fatalf("expected 2 aggregated errors, got %d", len(group.Errors))
	}
	if !errors.Is(group, c1) || !errors.Is(group, c2) {
		t.Error("expected errors.Is to find both wrapped causes")
	}

	var ue UpdateError
	if !errors.As(error(group), &ue) {
		t.Error("expected *UpdateHookErrorGroup to satisfy UpdateError")
	}
}

func TestTagAndReservedNameErrorsSatisfyTagError(t *testing.T) {
	var notFound error = NewTagNotFoundError("starred")
	var reserved error = NewReservedNameError(".reader.internal")

	var te TagError
	if !errors.As(notFound, &te) {
		t.Error("expected *TagNotFoundError to satisfy TagError")
	}
	if !errors.As(reserved, &te) {
		t.Error("expected *ReservedNameError to satisfy TagError")
	}
}

func TestClosedErrorMessage(t *testing.T) {
	err := NewClosedError("get_feed")
	if err.Op != "get_feed" {
		t.Errorf("Op = %q", err.Op)
	}
	if err.Error() == "" {
		t.Error("expected a non-empty error message")
	}

	var re ReaderError
	if !errors.As(error(err), &re) {
		t.Error("expected *ClosedError to satisfy ReaderError")
	}
}

func TestSearchErrorsSatisfySearchError(t *testing.T) {
	var notEnabled error = NewSearchNotEnabledError()
	var invalidQuery error = NewInvalidSearchQueryError("title: (unterminated", errors.New("syntax error"))

	var se SearchError
	if !errors.As(notEnabled, &se) {
		t.Error("expected *SearchNotEnabledError to satisfy SearchError")
	}
	if !errors.As(invalidQuery, &se) {
		t.Error("expected *InvalidSearchQueryError to satisfy SearchError")
	}
}
