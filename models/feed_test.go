// ABOUTME: Tests for feed URL validation: remote http(s), local-file root confinement
// ABOUTME: Feed URL validation and display-title fallback tests

package models

import "testing"

func TestValidateFeedURL_Remote(t *testing.T) {
	if _, err := ValidateFeedURL("https://example.com/feed.xml", ""); err != nil {
		t.Errorf("expected https url to validate, got %v", err)
	}
	if _, err := ValidateFeedURL("http://example.com/feed.xml", ""); err != nil {
		t.Errorf("expected http url to validate, got %v", err)
	}
	if _, err := ValidateFeedURL("https:///feed.xml", ""); err == nil {
		t.Error("expected hostless https url to fail")
	}
	if _, err := ValidateFeedURL("", ""); err == nil {
		t.Error("expected empty url to fail")
	}
	if _, err := ValidateFeedURL("ftp://example.com/feed.xml", ""); err == nil {
		t.Error("expected unsupported scheme to fail")
	}
}

func TestValidateFeedURL_LocalFileDisabledByDefault(t *testing.T) {
	if _, err := ValidateFeedURL("file:///etc/feed.xml", ""); err == nil {
		t.Error("expected local-file url to fail when feedRoot is empty")
	}
}

func TestValidateFeedURL_LocalFileWithinRoot(t *testing.T) {
	root := "/var/feeds"
	if _, err := ValidateFeedURL("file:///var/feeds/a/feed.xml", root); err != nil {
		t.Errorf("expected path within root to validate, got %v", err)
	}
}

func TestValidateFeedURL_LocalFileEscapesRoot(t *testing.T) {
	root := "/var/feeds"
	if _, err := ValidateFeedURL("file:///var/feeds/../secrets/feed.xml", root); err == nil {
		t.Error("expected path escaping feedRoot to fail")
	}
}

func TestFeedDisplayTitle(t *testing.T) {
	f := NewFeed("https://example.com/feed.xml")
	if got := f.DisplayTitle(); got != f.URL {
		t.Errorf("expected bare feed to display its URL, got %q", got)
	}

	title := "Feed Title"
	f.Title = &title
	if got := f.DisplayTitle(); got != title {
		t.Errorf("expected Title fallback, got %q", got)
	}

	userTitle := "My Name For It"
	f.UserTitle = &userTitle
	if got := f.DisplayTitle(); got != userTitle {
		t.Errorf("expected UserTitle to win, got %q", got)
	}
}
