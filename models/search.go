// ABOUTME: Search-facing value types: the indexed SearchEntry row and query result shape
// ABOUTME: HighlightedString carries byte ranges into a field's text that matched the query

package models

// SearchEntry is the sanitized, tokenized projection of one entry that the
// search subsystem indexes. Sequence links it back to the search_changes
// row that produced it, so a drain can tell whether its own write is still
// the newest one for this entry.
type SearchEntry struct {
	Key      EntryKey
	Title    string
	Content  string
	Sequence int64
}

// HighlightRange is one matched span within a HighlightedString's text,
// expressed as a byte offset pair into Value.
type HighlightRange struct {
	Start int
	End   int
}

// HighlightedString is a piece of matched text plus the byte ranges within
// it that the search query actually matched, for UI highlighting.
type HighlightedString struct {
	Value      string
	Highlights []HighlightRange
}

// EntrySearchResult is one row of a search_entries query: the matched
// entry's key, its relevance score (lower is more relevant, matching
// SQLite FTS5's bm25() convention), and the per-field highlighted text.
type EntrySearchResult struct {
	Key     EntryKey
	Score   float64
	Title   HighlightedString
	Content HighlightedString
}
