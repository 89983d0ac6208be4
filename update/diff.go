// ABOUTME: Pure content-hash diff rules deciding add/update/skip for one retrieved entry
// ABOUTME: Hash-only changes are capped (hash_changed < 24) to stop silent update storms

package update

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/colinashford/feedcore/feedio"
	"github.com/colinashford/feedcore/storage"
)

// MaxHashOnlyChanges bounds how many times an entry may be re-marked
// "changed" purely because its content hash moved, with no other
// observable field changing. A misbehaving feed that reshuffles
// whitespace or ad markup on every poll would otherwise push the same
// entry back to the top of every recency-sorted view forever; past this
// cap, further hash-only changes are treated as content noise and
// silently absorbed without bumping recent_sort.
const MaxHashOnlyChanges = 24

// entryAction is the outcome of diffing one retrieved entry against
// storage.
type entryAction int

const (
	actionAdd entryAction = iota
	actionUpdate
	actionSkip
)

// computeDataHash hashes the fields that determine whether an entry's
// visible content changed, so purely incidental metadata (e.g. a feed
// re-serving an unchanged item with a new fetch timestamp) doesn't count
// as a change.
func computeDataHash(e feedio.EntryData) []byte {
	h := xxhash.New()
	writeHashField(h, derefString(e.Title))
	writeHashField(h, derefString(e.Link))
	writeHashField(h, derefString(e.Author))
	writeHashField(h, derefString(e.Summary))
	writeHashField(h, timeHashField(e.Published))
	writeHashField(h, timeHashField(e.Updated))
	for _, c := range e.Content {
		writeHashField(h, c.Value)
		writeHashField(h, c.Type)
		writeHashField(h, c.Language)
	}
	for _, enc := range e.Enclosures {
		writeHashField(h, enc.Href)
		writeHashField(h, enc.Type)
	}
	sum := h.Sum64()
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, sum)
	return buf
}

func writeHashField(h *xxhash.Digest, s string) {
	_, _ = h.WriteString(s)
	_, _ = h.Write([]byte{0})
}

func timeHashField(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// diffEntry decides what to do with a retrieved entry given the prior
// stored state (nil if the entry is unknown), the parsed entry's updated
// timestamp, and its freshly computed data hash. It also returns the
// hash_changed counter value the commit should store:
//
//   - no prior state: INSERT, hash_changed starts at 0.
//   - parsed updated is strictly after the stored updated (or the stored
//     entry never had one): UPDATE unconditionally, resetting hash_changed
//     to 0 — a real updated advance is never treated as hash-only noise.
//   - otherwise (updated equal, parsed updated absent, or updated moved
//     backwards): only the data hash can tell a real change from a no-op.
//     Identical hash skips; a differing hash updates and increments
//     hash_changed, unless the cap has already been reached, in which case
//     the update is suppressed (skip) and hash_changed stays put.
func diffEntry(prior *storage.EntryDiffState, newUpdated *time.Time, newHash []byte) (action entryAction, hashChanged int) {
	if prior == nil {
		return actionAdd, 0
	}

	advanced := newUpdated != nil && (prior.Updated == nil || newUpdated.After(*prior.Updated))
	if advanced {
		return actionUpdate, 0
	}

	if bytesEqual(prior.DataHash, newHash) {
		return actionSkip, prior.HashChanged
	}
	if prior.HashChanged >= MaxHashOnlyChanges {
		return actionSkip, prior.HashChanged
	}
	return actionUpdate, prior.HashChanged + 1
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// DeriveRecentSort computes an entry's recency sort key: the maximum of
// published and updated, capped at now (the moment this write is being
// processed) so a feed can't vault an entry to the top by claiming a
// future timestamp. An entry carrying neither timestamp sorts by now.
// On every subsequent update, recent_sort only ever moves forward: it's
// the maximum of the prior recent_sort and the newly observed value, so
// a feed that later reports an earlier updated timestamp can't pull an
// entry back down the recency order.
func DeriveRecentSort(published, updated *time.Time, now time.Time, priorRecentSort *time.Time) time.Time {
	var observed time.Time
	if published != nil {
		observed = *published
	}
	if updated != nil && updated.After(observed) {
		observed = *updated
	}
	if observed.IsZero() || observed.After(now) {
		observed = now
	}

	if priorRecentSort != nil && priorRecentSort.After(observed) {
		return *priorRecentSort
	}
	return observed
}

// NewEntryID generates an opaque identifier for add_entry callers that
// don't supply their own entry ID.
func NewEntryID() string {
	var buf [16]byte
	_, _ = rand.Read(buf[:])
	return hex.EncodeToString(buf[:])
}
