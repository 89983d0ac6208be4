// ABOUTME: Searchable-text extraction: HTML stripping, Unicode normalization, field combination
// ABOUTME: Only the visible words reach the index; markup, entities, and odd whitespace are discarded

package search

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/unicode/norm"

	"github.com/colinashford/feedcore/models"
)

// stripHTML reduces an HTML fragment to its visible text. goquery's
// parser handles malformed markup and entity decoding; only the
// underlying words matter for indexing, so the document structure is
// discarded entirely.
func stripHTML(s string) string {
	if s == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return doc.Text()
}

// normalize applies Unicode NFC normalization and collapses whitespace, so
// visually identical text composed differently (combining marks vs.
// precomposed characters) tokenizes identically.
func normalize(s string) string {
	s = norm.NFC.String(s)
	return strings.Join(strings.Fields(s), " ")
}

func sanitize(s string) string {
	return normalize(stripHTML(s))
}

// buildSearchText derives the title/content text indexed for one entry
// from its searchable fields (title, content, feed title, feed
// user_title, author). Title and content are indexed as separate FTS5
// columns so a query can still be scoped to one (this module doesn't
// expose that, but the schema keeps the option open); author and feed
// identity fold into content since they're rarely the target of a
// standalone phrase search.
func buildSearchText(entry *models.Entry, feed *models.Feed) (title, content string) {
	title = sanitize(derefStr(entry.Title))

	var parts []string
	if entry.Summary != nil {
		parts = append(parts, sanitize(*entry.Summary))
	}
	for _, c := range entry.Content {
		parts = append(parts, sanitize(c.Value))
	}
	if entry.Author != nil {
		parts = append(parts, sanitize(*entry.Author))
	}
	if feed != nil {
		if feed.Title != nil {
			parts = append(parts, sanitize(*feed.Title))
		}
		if feed.UserTitle != nil {
			parts = append(parts, sanitize(*feed.UserTitle))
		}
	}
	content = strings.Join(parts, "\n")
	return title, content
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
