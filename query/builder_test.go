// ABOUTME: Tests for the SQL builder's deterministic clause ordering and positional args
// ABOUTME: Validates Build() against the fixed CTE/SELECT/FROM/JOIN/WHERE/ORDER/LIMIT order

package query

import (
	"strings"
	"testing"
)

func TestBuilderBasicSelect(t *testing.T) {
	sqlText, args := Select("url", "title").From("feeds f").
		Where("f.updates_enabled = 1").
		Where("f.url = ?", "https://example.com/feed.xml").
		OrderBy("f.title ASC").
		Limit(10).
		Build()

	want := "SELECT url, title FROM feeds f WHERE f.updates_enabled = 1 AND f.url = ? ORDER BY f.title ASC LIMIT ?"
	if sqlText != want {
		t.Errorf("sql = %q, want %q", sqlText, want)
	}
	if len(args) != 2 || args[0] != "https://example.com/feed.xml" || args[1] != 10 {
		t.Errorf("args = %v", args)
	}
}

func TestBuilderEmptyWhereIgnored(t *testing.T) {
	sqlText, args := Select("*").From("entries").Where("").Build()
	if strings.Contains(sqlText, "WHERE") {
		t.Errorf("expected no WHERE clause, got %q", sqlText)
	}
	if len(args) != 0 {
		t.Errorf("expected no args, got %v", args)
	}
}

func TestBuilderJoinArgsPrecedeWhereArgs(t *testing.T) {
	sqlText, args := Select("COUNT(*)").From("entries e").
		Join("JOIN feeds f ON f.url = e.feed_url AND f.version = ?", "atom10").
		Where("e.read = ?", 1).
		Build()

	if !strings.Contains(sqlText, "JOIN feeds f") {
		t.Errorf("expected join clause in %q", sqlText)
	}
	if len(args) != 2 || args[0] != "atom10" || args[1] != 1 {
		t.Errorf("expected join arg before where arg, got %v", args)
	}
}

func TestBuilderWithCTE(t *testing.T) {
	sqlText, args := Select("*").From("x").
		With("recent", "SELECT id FROM entries WHERE recent_sort > ?", "2024-01-01").
		Build()

	if !strings.HasPrefix(sqlText, "WITH recent AS (SELECT id FROM entries WHERE recent_sort > ?) SELECT * FROM x") {
		t.Errorf("unexpected sql: %q", sqlText)
	}
	if len(args) != 1 || args[0] != "2024-01-01" {
		t.Errorf("args = %v", args)
	}
}

func TestBuilderOffset(t *testing.T) {
	sqlText, args := Select("*").From("x").Limit(5).Offset(10).Build()
	if !strings.HasSuffix(sqlText, "LIMIT ? OFFSET ?") {
		t.Errorf("unexpected sql: %q", sqlText)
	}
	if len(args) != 2 || args[0] != 5 || args[1] != 10 {
		t.Errorf("args = %v", args)
	}
}
