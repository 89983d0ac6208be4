// ABOUTME: Tests for the resource key shape and reserved tag-name scheme
// ABOUTME: Validates Global/IsFeed/IsEntry classification and name construction

package models

import "testing"

func TestResourceKeyClassification(t *testing.T) {
	cases := []struct {
		name   string
		key    ResourceKey
		global bool
		feed   bool
		entry  bool
	}{
		{"global", ResourceKey{}, true, false, false},
		{"feed", ResourceKey{FeedURL: "https://example.com/feed.xml"}, false, true, false},
		{"entry", ResourceKey{FeedURL: "https://example.com/feed.xml", EntryID: "e1"}, false, false, true},
	}
	for _, c := range cases {
		if got := c.key.Global(); got != c.global {
			t.Errorf("%s: Global() = %v, want %v", c.name, got, c.global)
		}
		if got := c.key.IsFeed(); got != c.feed {
			t.Errorf("%s: IsFeed() = %v, want %v", c.name, got, c.feed)
		}
		if got := c.key.IsEntry(); got != c.entry {
			t.Errorf("%s: IsEntry() = %v, want %v", c.name, got, c.entry)
		}
	}
}

func TestReservedPrefixes(t *testing.T) {
	p := DefaultReservedPrefixes()

	if !p.IsReserved(".reader.some-name") {
		t.Error("expected .reader. prefix to be reserved")
	}
	if !p.IsReserved(".plugin.myplugin.state") {
		t.Error("expected .plugin. prefix to be reserved")
	}
	if p.IsReserved("starred") {
		t.Error("expected unprefixed name to not be reserved")
	}

	if got := p.MakeReaderReservedName("previous_update_time"); got != ".reader.previous_update_time" {
		t.Errorf("MakeReaderReservedName = %q", got)
	}
	if got := p.MakePluginReservedName("summarizer", "state"); got != ".plugin.summarizer.state" {
		t.Errorf("MakePluginReservedName = %q", got)
	}
	if !p.IsReserved(p.MakePluginReservedName("summarizer", "state")) {
		t.Error("a name built by MakePluginReservedName must itself be reserved")
	}
}
