// ABOUTME: Cursor helpers for restartable chunked iteration over feeds and entries
// ABOUTME: A cursor is the primary key of the last row seen; pages never re-derive offsets

package storage

import "time"

// Cursor identifies the last row returned by a previous chunk, so the next
// call can resume strictly after it. Offset-based pagination over a table
// that's being concurrently written (as entries are, by the update
// pipeline) skips or repeats rows when the row set shifts between pages;
// keying off the last-seen ordering columns avoids that at the cost of
// only weak consistency across the whole iteration.
type Cursor struct {
	// Value is the primary ordering column's rendered value for the last
	// row of the previous chunk (a feed's url, an entry's recent_sort
	// timestamp). Empty means "start from the beginning".
	Value string
	// Entry carries the full recency tie-break tuple for entry iteration;
	// nil for feed cursors. Callers never populate it by hand — they pass
	// back the cursor IterEntries returned.
	Entry *EntryCursor
}

// EntryCursor is the complete sort-key tuple of the last entry a chunk
// returned, mirroring the recency ORDER BY column for column so the next
// chunk resumes at exactly the right spot even among rows tied on
// recent_sort.
type EntryCursor struct {
	RecentSort        time.Time
	FeedURL           string
	LastUpdated       time.Time
	FirstUpdatedEpoch int64
	FeedOrder         int
	ID                string
}

// DefaultChunkSize is used when a caller requests chunked iteration
// without specifying a chunk size.
const DefaultChunkSize = 100

// clampChunkSize applies DefaultChunkSize when n is non-positive and
// leaves any positive value as the caller's explicit choice.
func clampChunkSize(n int) int {
	if n <= 0 {
		return DefaultChunkSize
	}
	return n
}
