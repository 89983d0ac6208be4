// ABOUTME: Filter value types shared by get_feeds/get_entries/get_entry_counts/search_entries
// ABOUTME: TristateFilter and TagFilter are small tagged unions rejected at the API boundary if malformed

package models

import (
	"fmt"
	"time"
)

// TristateValue is a three-valued field: unset, true, or false.
type TristateValue int

const (
	TristateAny TristateValue = iota
	TristateTrue
	TristateFalse
)

// TristateFilter is a five-valued filter over a boolean-or-absent field
// (e.g. Entry.Important). Use one of the TristateFilter* constants, or
// ParseTristateFilter for a user-supplied name.
type TristateFilter int

const (
	TristateFilterAny TristateFilter = iota
	TristateFilterIsTrue
	TristateFilterIsFalse
	TristateFilterNotSet
	TristateFilterNotFalse
	TristateFilterNotTrue
)

// ParseTristateFilter validates a user-supplied tristate filter name.
func ParseTristateFilter(s string) (TristateFilter, error) {
	switch s {
	case "", "any":
		return TristateFilterAny, nil
	case "istrue":
		return TristateFilterIsTrue, nil
	case "isfalse":
		return TristateFilterIsFalse, nil
	case "notset":
		return TristateFilterNotSet, nil
	case "notfalse":
		return TristateFilterNotFalse, nil
	case "nottrue":
		return TristateFilterNotTrue, nil
	default:
		return 0, fmt.Errorf("invalid tristate filter: %q", s)
	}
}

// TagFilterOp is a single literal within a TagFilter conjunction.
type TagFilterOp int

const (
	TagExists TagFilterOp = iota
	TagNotExists
	AnyTagExists
	NoTagExists
)

// TagFilterLiteral is one term: either a named tag existence check, or a
// wildcard existence check ("any tag"/"no tag") when Name is empty.
type TagFilterLiteral struct {
	Name string
	Op   TagFilterOp
}

// TagFilter is a DNF expression: OR of AND-conjunctions of TagFilterLiteral.
// Encoded as [][]TagFilterLiteral — outer slice is the disjunction, inner
// slice is one conjunction clause.
type TagFilter [][]TagFilterLiteral

// Empty reports whether the filter carries no clauses (i.e. no constraint).
func (f TagFilter) Empty() bool { return len(f) == 0 }

// BrokenFilter selects feeds by whether their last update attempt failed.
type BrokenFilter int

const (
	BrokenAny BrokenFilter = iota
	BrokenTrue
	BrokenFalse
)

// FeedSort enumerates the supported feed sort orders.
type FeedSort int

const (
	FeedSortTitle FeedSort = iota
	FeedSortAdded
	FeedSortUserTitleOrTitle
)

// EntrySort enumerates the supported entry sort orders.
type EntrySort int

const (
	EntrySortRecent EntrySort = iota
	EntrySortRandom
)

// SearchSort enumerates the supported search result sort orders.
type SearchSort int

const (
	SearchSortRelevance SearchSort = iota
	SearchSortRecent
)

// EntryFilter is the uniform filter surface shared by get_entries,
// get_entry_counts, and search_entries.
type EntryFilter struct {
	Feed           *string
	Entry          *EntryKey
	Read           TristateValue
	Important      TristateFilter
	HasEnclosures  TristateValue
	FeedTags       TagFilter
	Tags           TagFilter
	Broken         BrokenFilter
	UpdatesEnabled TristateValue
	// NewSince/NewBefore implement the "new" filter: an entry is "new"
	// when it was added since the previous update call, a boolean relative
	// to a moving reference instant rather than an absolute timestamp the
	// caller would know. The reader facade resolves a requested
	// TristateValue against the stored time of the previous update cycle
	// and fills in exactly one of these: NewSince for "new=true" (added at
	// or after that instant), NewBefore for "new=false" (added strictly
	// before it). Both nil means no constraint.
	NewSince  *time.Time
	NewBefore *time.Time
}

// FeedFilter is the filter surface for get_feeds.
type FeedFilter struct {
	Feed           *string
	Tags           TagFilter
	Broken         BrokenFilter
	UpdatesEnabled TristateValue
	// NewSince/NewBefore behave as EntryFilter's, relative to Feed.Added.
	NewSince  *time.Time
	NewBefore *time.Time
}
