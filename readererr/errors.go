// ABOUTME: Typed error taxonomy for the reader core: Feed/Entry/Update/Storage/Search/Tag/Plugin errors
// ABOUTME: All leaf types implement error and Unwrap so errors.Is/As walk the category chain

// Package readererr defines the error types returned by the reader core.
// Every error the core returns is (or wraps) a ReaderError so callers can
// use errors.As to branch on category without inspecting error strings.
package readererr

import (
	"errors"
	"fmt"
)

// ReaderError is the root of the error taxonomy. Every error the core
// returns satisfies this interface.
type ReaderError interface {
	error
	readerError()
}

// base is embedded by every leaf error type to provide storage for the
// wrapped cause and to implement the ReaderError marker method.
type base struct {
	cause error
}

func (base) readerError() {}

func (b base) Unwrap() error { return b.cause }

// FeedError is the category for all feed-related errors.
type FeedError interface {
	ReaderError
	feedError()
}

type feedBase struct{ base }

func (feedBase) feedError() {}

// FeedExistsError is returned when adding a feed whose URL is already stored.
type FeedExistsError struct {
	feedBase
	URL string
}

func NewFeedExistsError(url string) *FeedExistsError {
	return &FeedExistsError{URL: url}
}

func (e *FeedExistsError) Error() string {
	return fmt.Sprintf("feed already exists: %s", e.URL)
}

// FeedNotFoundError is returned when a referenced feed URL has no row.
type FeedNotFoundError struct {
	feedBase
	URL string
}

func NewFeedNotFoundError(url string) *FeedNotFoundError {
	return &FeedNotFoundError{URL: url}
}

func (e *FeedNotFoundError) Error() string {
	return fmt.Sprintf("feed not found: %s", e.URL)
}

// InvalidFeedURLError is returned when a feed URL fails structural validation.
type InvalidFeedURLError struct {
	feedBase
	URL string
}

func NewInvalidFeedURLError(url string, cause error) *InvalidFeedURLError {
	return &InvalidFeedURLError{feedBase: feedBase{base{cause: cause}}, URL: url}
}

func (e *InvalidFeedURLError) Error() string {
	return fmt.Sprintf("invalid feed url %q: %v", e.URL, e.cause)
}

// ParseError is returned when a retrieved feed document fails to parse.
type ParseError struct {
	feedBase
	URL string
}

func NewParseError(url string, cause error) *ParseError {
	return &ParseError{feedBase: feedBase{base{cause: cause}}, URL: url}
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse feed %s: %v", e.URL, e.cause)
}

// EntryError is the category for all entry-related errors.
type EntryError interface {
	ReaderError
	entryError()
}

type entryBase struct{ base }

func (entryBase) entryError() {}

// EntryExistsError is returned when add_entry targets an ID already stored.
type EntryExistsError struct {
	entryBase
	FeedURL string
	EntryID string
}

func NewEntryExistsError(feedURL, entryID string) *EntryExistsError {
	return &EntryExistsError{FeedURL: feedURL, EntryID: entryID}
}

func (e *EntryExistsError) Error() string {
	return fmt.Sprintf("entry already exists: %s/%s", e.FeedURL, e.EntryID)
}

// EntryNotFoundError is returned when a referenced entry has no row.
type EntryNotFoundError struct {
	entryBase
	FeedURL string
	EntryID string
}

func NewEntryNotFoundError(feedURL, entryID string) *EntryNotFoundError {
	return &EntryNotFoundError{FeedURL: feedURL, EntryID: entryID}
}

func (e *EntryNotFoundError) Error() string {
	return fmt.Sprintf("entry not found: %s/%s", e.FeedURL, e.EntryID)
}

// UpdateError is the category for errors surfaced during a feed update.
type UpdateError interface {
	ReaderError
	updateError()
}

type updateBase struct{ base }

func (updateBase) updateError() {}

// SingleUpdateHookError wraps the error raised by one hook callback.
type SingleUpdateHookError struct {
	updateBase
	HookName string
	FeedURL  string
}

func NewSingleUpdateHookError(hookName, feedURL string, cause error) *SingleUpdateHookError {
	return &SingleUpdateHookError{updateBase: updateBase{base{cause: cause}}, HookName: hookName, FeedURL: feedURL}
}

func (e *SingleUpdateHookError) Error() string {
	return fmt.Sprintf("hook %s failed for %s: %v", e.HookName, e.FeedURL, e.cause)
}

// UpdateHookErrorGroup aggregates every SingleUpdateHookError raised while
// updating one or more feeds. The pipeline does not roll back already
// committed storage writes when hooks fail; this error only reports them.
type UpdateHookErrorGroup struct {
	updateBase
	Errors []*SingleUpdateHookError
}

func NewUpdateHookErrorGroup(errs []*SingleUpdateHookError) *UpdateHookErrorGroup {
	joined := make([]error, len(errs))
	for i, e := range errs {
		joined[i] = e
	}
	return &UpdateHookErrorGroup{updateBase: updateBase{base{cause: errors.Join(joined...)}}, Errors: errs}
}

func (e *UpdateHookErrorGroup) Error() string {
	return fmt.Sprintf("%d update hook(s) failed: %v", len(e.Errors), e.cause)
}

// StorageError wraps a failure returned by the storage engine that isn't
// better represented by a more specific category (e.g. a transaction or
// connection failure).
type StorageError struct {
	base
	Op string
}

func NewStorageError(op string, cause error) *StorageError {
	return &StorageError{base: base{cause: cause}, Op: op}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.cause)
}

// SearchError is the category for full-text search errors.
type SearchError interface {
	ReaderError
	searchError()
}

type searchBase struct{ base }

func (searchBase) searchError() {}

// SearchNotEnabledError is returned when a search operation is attempted
// before enable_search has been called.
type SearchNotEnabledError struct{ searchBase }

func NewSearchNotEnabledError() *SearchNotEnabledError { return &SearchNotEnabledError{} }

func (e *SearchNotEnabledError) Error() string { return "full-text search is not enabled" }

// InvalidSearchQueryError is returned when a search query string fails to
// compile against the FTS5 query grammar.
type InvalidSearchQueryError struct {
	searchBase
	Query string
}

func NewInvalidSearchQueryError(query string, cause error) *InvalidSearchQueryError {
	return &InvalidSearchQueryError{searchBase: searchBase{base{cause: cause}}, Query: query}
}

func (e *InvalidSearchQueryError) Error() string {
	return fmt.Sprintf("invalid search query %q: %v", e.Query, e.cause)
}

// TagError is the category for tag-related errors.
type TagError interface {
	ReaderError
	tagError()
}

type tagBase struct{ base }

func (tagBase) tagError() {}

// TagNotFoundError is returned when deleting or reading a tag that does
// not exist on the named resource.
type TagNotFoundError struct {
	tagBase
	Name string
}

func NewTagNotFoundError(name string) *TagNotFoundError {
	return &TagNotFoundError{Name: name}
}

func (e *TagNotFoundError) Error() string {
	return fmt.Sprintf("tag not found: %s", e.Name)
}

// ReservedNameError is returned when user code attempts to write a tag
// name under a reserved prefix it doesn't own.
type ReservedNameError struct {
	tagBase
	Name string
}

func NewReservedNameError(name string) *ReservedNameError {
	return &ReservedNameError{Name: name}
}

func (e *ReservedNameError) Error() string {
	return fmt.Sprintf("tag name is reserved: %s", e.Name)
}

// ClosedError is returned when an operation is attempted on a Reader after
// Close has already been called.
type ClosedError struct {
	base
	Op string
}

func NewClosedError(op string) *ClosedError {
	return &ClosedError{Op: op}
}

func (e *ClosedError) Error() string {
	return fmt.Sprintf("reader is closed: %s", e.Op)
}

// PluginError is the category for plugin lifecycle errors.
type PluginError interface {
	ReaderError
	pluginError()
}

type pluginBase struct{ base }

func (pluginBase) pluginError() {}

// InvalidPluginError is returned when a plugin fails its shape/version check.
type InvalidPluginError struct {
	pluginBase
	Name string
}

func NewInvalidPluginError(name string, cause error) *InvalidPluginError {
	return &InvalidPluginError{pluginBase: pluginBase{base{cause: cause}}, Name: name}
}

func (e *InvalidPluginError) Error() string {
	return fmt.Sprintf("invalid plugin %s: %v", e.Name, e.cause)
}

// PluginInitError is returned when a plugin's init hook returns an error.
type PluginInitError struct {
	pluginBase
	Name string
}

func NewPluginInitError(name string, cause error) *PluginInitError {
	return &PluginInitError{pluginBase: pluginBase{base{cause: cause}}, Name: name}
}

func (e *PluginInitError) Error() string {
	return fmt.Sprintf("plugin %s failed to initialize: %v", e.Name, e.cause)
}
