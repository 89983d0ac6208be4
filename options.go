// ABOUTME: Config/New constructor wiring storage, search, pipeline, hooks, and plugins into one Reader
// ABOUTME: Config carries already-resolved values; loading them from files/env/flags is the caller's job

package reader

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/colinashford/feedcore/feedio"
	"github.com/colinashford/feedcore/hooks"
	"github.com/colinashford/feedcore/models"
	"github.com/colinashford/feedcore/readererr"
	"github.com/colinashford/feedcore/search"
	"github.com/colinashford/feedcore/storage"
	"github.com/colinashford/feedcore/update"
)

// DefaultRetrieveTimeout bounds a single Retriever.Retrieve call when
// Config.RetrieveTimeout is unset.
const DefaultRetrieveTimeout = 30 * time.Second

// Plugin extends a Reader at construction time. Init receives the fully
// wired (but not yet returned) Reader and typically registers hooks on it;
// it may also seed plugin tags via SetPluginTag. Name identifies the
// plugin in errors and is the conventional first segment of its reserved
// tag names.
type Plugin struct {
	Name string
	Init func(r *Reader) error
}

// Config wires a Reader's dependencies. Loading this struct from a file,
// environment variables, or flags is the caller's job; Reader only
// accepts the already-resolved values.
type Config struct {
	// DBPath is the SQLite database file. Empty opens a private in-memory
	// database (tests only — it vanishes on Close).
	DBPath string

	// FeedRoot, if non-empty, enables local-file feed URLs rooted at this
	// directory (models.ValidateFeedURL). Empty disables local-file feeds.
	FeedRoot string

	// Retriever and Parser are required: the reader core ships no
	// concrete HTTP client or feed-format parser.
	Retriever feedio.Retriever
	Parser    feedio.Parser

	// Plugins run in order during New, after the Reader is wired and
	// before it is returned. A failing plugin aborts construction.
	Plugins []Plugin

	// Workers bounds concurrent feed updates. Defaults to
	// update.DefaultWorkers.
	Workers int

	// RetrieveTimeout bounds a single feed's retrieval attempt. Defaults
	// to DefaultRetrieveTimeout. Zero-valued (connect, read) timeout
	// pairs are the Retriever implementation's own concern; this timeout
	// only bounds the call from the pipeline's side via context.
	RetrieveTimeout time.Duration

	// ReservedPrefixes configures the tag reserved-name scheme. Defaults
	// to models.DefaultReservedPrefixes(); must stay stable for the
	// lifetime of a given database.
	ReservedPrefixes *models.ReservedPrefixes

	// Logger receives structured log output from storage, the update
	// pipeline, and the search subsystem. Defaults to slog.Default().
	Logger *slog.Logger
}

// New opens (creating if necessary) the database at cfg.DBPath, runs any
// pending migrations, and returns a Reader ready for use. The returned
// Reader owns the database connection; callers must call Close.
func New(ctx context.Context, cfg Config) (*Reader, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	reserved := models.DefaultReservedPrefixes()
	if cfg.ReservedPrefixes != nil {
		reserved = *cfg.ReservedPrefixes
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = update.DefaultWorkers
	}

	retrieveTimeout := cfg.RetrieveTimeout
	if retrieveTimeout <= 0 {
		retrieveTimeout = DefaultRetrieveTimeout
	}

	store, err := storage.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}

	reg := &hooks.Registry{}
	pipeline := update.New(update.Config{
		Store:     store,
		Retriever: timeoutRetriever{inner: cfg.Retriever, timeout: retrieveTimeout},
		Parser:    cfg.Parser,
		Hooks:     reg,
		Workers:   workers,
		Logger:    log,
	})

	r := &Reader{
		store:           store,
		search:          search.New(store),
		pipeline:        pipeline,
		hooks:           reg,
		reserved:        reserved,
		feedRoot:        cfg.FeedRoot,
		retrieveTimeout: retrieveTimeout,
		log:             log,
	}

	for _, p := range cfg.Plugins {
		if p.Init == nil {
			_ = store.Close()
			return nil, readererr.NewInvalidPluginError(p.Name, errors.New("plugin has no Init function"))
		}
		if err := p.Init(r); err != nil {
			_ = store.Close()
			return nil, readererr.NewPluginInitError(p.Name, err)
		}
	}
	return r, nil
}

// timeoutRetriever bounds a wrapped Retriever's Retrieve call with a
// fixed per-call timeout, so one slow or hanging source can't stall the
// worker pool slot it occupies indefinitely.
type timeoutRetriever struct {
	inner   feedio.Retriever
	timeout time.Duration
}

func (t timeoutRetriever) Retrieve(ctx context.Context, feedURL string, caching feedio.CachingTokens, stale bool) (*feedio.RetrievedFeed, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Retrieve(ctx, feedURL, caching, stale)
}
