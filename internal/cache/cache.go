// Package cache implements the persistent response cache of the Unpaywall client.
//
// The cache maps DOIs to the full response last fetched for them, together
// with the time of that fetch. Every mutation writes the whole map to the
// configured Store as one blob. A cache instance is safe for concurrent use
// within a process; there is no locking across processes sharing a store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/helixir/unpaywall-client/internal/domain"
	"github.com/helixir/unpaywall-client/internal/observability"
)

// GetOptions controls a single Get call.
type GetOptions struct {
	// ErrorMode selects whether service failures are returned or logged.
	// Empty means raise.
	ErrorMode domain.ErrorMode
	// Force re-fetches even when a fresh entry exists.
	Force bool
	// IgnoreCache fetches without reading or writing the cache.
	IgnoreCache bool
}

// Option configures a ResponseCache.
type Option func(*ResponseCache)

// WithExpiry sets the expiry applied to every entry. NeverExpire disables it.
func WithExpiry(d time.Duration) Option {
	return func(c *ResponseCache) {
		c.expiry = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *ResponseCache) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *ResponseCache) {
		c.metrics = m
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *ResponseCache) {
		c.now = now
	}
}

// ResponseCache is a persistent DOI-keyed store of responses.
type ResponseCache struct {
	mu      sync.Mutex
	flights singleflight.Group
	store   Store
	fetcher Fetcher
	entries map[string]Entry
	expiry  time.Duration
	logger  zerolog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// New creates a cache backed by store and loads any previously saved entries.
// A store with nothing saved yet yields an empty cache.
func New(ctx context.Context, store Store, fetcher Fetcher, opts ...Option) (*ResponseCache, error) {
	if store == nil {
		return nil, errors.New("cache store is required")
	}
	if fetcher == nil {
		return nil, errors.New("cache fetcher is required")
	}

	c := &ResponseCache{
		store:   store,
		fetcher: fetcher,
		entries: make(map[string]Entry),
		expiry:  NeverExpire,
		logger:  zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = observability.WithComponent(c.logger, "cache")

	if err := c.Load(ctx); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		c.logger.Info().Str("location", store.Location()).Msg("no cache found")
	}

	return c, nil
}

// Get returns the response for doi, fetching it when it is absent, expired
// or when opts.Force is set. Callers receive a copy they may modify.
//
// Under the ignore error mode a failed fetch is logged and Get returns
// nil, nil, leaving any stale entry in place. Validation failures are
// returned regardless of the mode.
func (c *ResponseCache) Get(ctx context.Context, doi string, opts GetOptions) (*domain.Response, error) {
	mode, err := resolveMode(opts.ErrorMode)
	if err != nil {
		return nil, err
	}

	if opts.IgnoreCache {
		c.metrics.RecordCacheLookup(observability.CacheBypass)
		return c.Download(ctx, doi, mode)
	}

	if resp, ok := c.cached(doi, opts.Force); ok {
		return resp, nil
	}

	resp, err := c.refresh(ctx, doi, opts.Force)
	if err != nil {
		return c.handle(doi, nil, err, mode)
	}
	return resp, nil
}

// cached returns a copy of the fresh entry for doi and records the lookup outcome.
func (c *ResponseCache) cached(doi string, force bool) (*domain.Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[doi]
	switch {
	case !ok:
		c.metrics.RecordCacheLookup(observability.CacheMiss)
	case force:
		c.metrics.RecordCacheLookup(observability.CacheForced)
	case entry.expired(c.expiry, c.now()):
		c.metrics.RecordCacheLookup(observability.CacheExpired)
	default:
		c.metrics.RecordCacheLookup(observability.CacheHit)
		return entry.Value.Clone(), true
	}
	return nil, false
}

// refresh fetches doi and stores the answer. The cache lock is not held while
// fetching; concurrent refreshes of the same DOI share one fetch.
func (c *ResponseCache) refresh(ctx context.Context, doi string, force bool) (*domain.Response, error) {
	key := doi
	if force {
		key = "force\x00" + doi
	}

	for {
		ch := c.flights.DoChan(key, func() (any, error) {
			return c.fetchAndStore(ctx, doi, force)
		})

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				// The caller that started the shared fetch went away; start our own.
				if res.Shared && ctx.Err() == nil && isContextError(res.Err) {
					continue
				}
				return nil, res.Err
			}
			resp, _ := res.Val.(*domain.Response)
			return resp.Clone(), nil
		}
	}
}

func (c *ResponseCache) fetchAndStore(ctx context.Context, doi string, force bool) (*domain.Response, error) {
	if !force {
		c.mu.Lock()
		entry, ok := c.entries[doi]
		fresh := ok && !entry.expired(c.expiry, c.now())
		c.mu.Unlock()
		if fresh {
			return entry.Value.Clone(), nil
		}
	}

	resp, err := c.fetcher.Fetch(ctx, doi)
	if err != nil || resp == nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prev, had := c.entries[doi]
	c.entries[doi] = Entry{
		Key:        doi,
		Value:      *resp.Clone(),
		LastAccess: c.now().UTC().Round(0),
	}
	if err := c.persistLocked(ctx); err != nil {
		if had {
			c.entries[doi] = prev
		} else {
			delete(c.entries, doi)
		}
		c.metrics.SetCacheEntries(len(c.entries))
		return nil, err
	}

	return resp, nil
}

func isContextError(err error) bool {
	if domain.IsServiceError(err) {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Download fetches the response for doi without touching the cache.
func (c *ResponseCache) Download(ctx context.Context, doi string, mode domain.ErrorMode) (*domain.Response, error) {
	mode, err := resolveMode(mode)
	if err != nil {
		return nil, err
	}
	return c.download(ctx, doi, mode)
}

// Search runs a free-text query. Search results are never cached.
func (c *ResponseCache) Search(ctx context.Context, query string, isOA *bool, mode domain.ErrorMode) (*domain.Response, error) {
	mode, err := resolveMode(mode)
	if err != nil {
		return nil, err
	}

	resp, err := c.fetcher.Search(ctx, query, isOA)
	return c.handle(query, resp, err, mode)
}

func (c *ResponseCache) download(ctx context.Context, doi string, mode domain.ErrorMode) (*domain.Response, error) {
	resp, err := c.fetcher.Fetch(ctx, doi)
	return c.handle(doi, resp, err, mode)
}

// handle applies the error mode to a fetch outcome.
func (c *ResponseCache) handle(identifier string, resp *domain.Response, err error, mode domain.ErrorMode) (*domain.Response, error) {
	if err == nil {
		return resp, nil
	}
	if mode.Ignore() && domain.IsServiceError(err) {
		c.logger.Warn().Str("doi", identifier).Err(err).Msg("could not fetch response")
		return nil, nil
	}
	return nil, err
}

// TimedOut reports whether the entry for doi has expired. It returns a
// domain.ErrNotFound error when doi is not cached.
func (c *ResponseCache) TimedOut(doi string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[doi]
	if !ok {
		return false, domain.NewNotFoundError("cache entry", doi)
	}
	return entry.expired(c.expiry, c.now()), nil
}

// Delete removes doi from the cache and persists. Deleting an absent key is not an error.
func (c *ResponseCache) Delete(ctx context.Context, doi string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[doi]; ok {
		delete(c.entries, doi)
		c.metrics.RecordCacheEvictions(1)
	}
	return c.persistLocked(ctx)
}

// Reset removes every entry and persists the empty cache.
func (c *ResponseCache) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics.RecordCacheEvictions(len(c.entries))
	c.entries = make(map[string]Entry)
	return c.persistLocked(ctx)
}

// PruneExpired removes expired entries and returns how many were removed.
func (c *ResponseCache) PruneExpired(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if e.expired(c.expiry, now) {
			delete(c.entries, k)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}

	c.metrics.RecordCacheEvictions(removed)
	if err := c.persistLocked(ctx); err != nil {
		return removed, err
	}

	c.logger.Info().Int("removed", removed).Msg("pruned expired entries")
	return removed, nil
}

// Save writes the cache to its store.
func (c *ResponseCache) Save(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.persistLocked(ctx)
}

// SaveTo writes the cache to another store. The cache keeps its own store.
func (c *ResponseCache) SaveTo(ctx context.Context, store Store) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.saveLocked(ctx, store)
}

// Load replaces the entries with those saved in the cache's store.
func (c *ResponseCache) Load(ctx context.Context) error {
	return c.LoadFrom(ctx, c.store)
}

// LoadFrom replaces the entries with those saved in store.
// On error the current entries are kept.
func (c *ResponseCache) LoadFrom(ctx context.Context, store Store) error {
	data, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading cache from %s: %w", store.Location(), err)
	}

	entries, err := decodeEntries(data)
	if err != nil {
		return fmt.Errorf("loading cache from %s: %w", store.Location(), err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = entries
	c.metrics.SetCacheEntries(len(c.entries))
	c.logger.Debug().Str("location", store.Location()).Int("entries", len(entries)).Msg("cache loaded")
	return nil
}

// Entries returns a copy of all entries, ordered by key.
func (c *ResponseCache) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Contains reports whether doi is cached, expired or not.
func (c *ResponseCache) Contains(doi string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[doi]
	return ok
}

// Len returns the number of cached entries.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// Expiry returns the configured expiry. NeverExpire means entries never expire.
func (c *ResponseCache) Expiry() time.Duration {
	return c.expiry
}

// Location returns the location of the cache's store.
func (c *ResponseCache) Location() string {
	return c.store.Location()
}

func (c *ResponseCache) persistLocked(ctx context.Context) error {
	c.metrics.SetCacheEntries(len(c.entries))
	return c.saveLocked(ctx, c.store)
}

func (c *ResponseCache) saveLocked(ctx context.Context, store Store) error {
	data, err := encodeEntries(c.entries)
	if err != nil {
		return err
	}

	err = store.Save(ctx, data)
	c.metrics.RecordCachePersist(storeKind(store), err)
	if err != nil {
		return fmt.Errorf("saving cache to %s: %w", store.Location(), err)
	}
	return nil
}

func resolveMode(mode domain.ErrorMode) (domain.ErrorMode, error) {
	if mode == "" {
		return domain.ErrorModeRaise, nil
	}
	if err := mode.Validate(); err != nil {
		return "", err
	}
	return mode, nil
}
