// Package random selects a random file from the catalog and renders it.
package random

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	randomfile "github.com/wolfeidau/random-file"
	"github.com/wolfeidau/random-file/catalog"
	"github.com/wolfeidau/random-file/listcache"
	"github.com/wolfeidau/random-file/telemetry"
)

const (
	// ListingTTL is how long a built listing is served from cache.
	ListingTTL = 24 * time.Hour

	// listingKeySuffix is appended to the request origin to form the cache key.
	listingKeySuffix = "/api/randomFileList"

	// cacheTimeout is the maximum time allowed for background cache writes.
	cacheTimeout = 30 * time.Second
)

// ListingKey returns the cache key for the listing served to origin.
func ListingKey(origin string) string {
	return origin + listingKeySuffix
}

// Aggregator builds the filtered catalog listing and caches it per origin.
type Aggregator struct {
	store     catalog.Store
	cache     listcache.Cache
	pageLimit int
	ttl       time.Duration
	logger    *slog.Logger

	asyncWrites bool
	coalesce    bool
	group       singleflight.Group

	// Lifecycle management for background cache writes
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithLogger sets the logger for the aggregator.
func WithLogger(logger *slog.Logger) AggregatorOption {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// WithPageLimit sets the number of keys requested per catalog page.
func WithPageLimit(n int) AggregatorOption {
	return func(a *Aggregator) {
		a.pageLimit = n
	}
}

// WithTTL overrides the listing cache TTL.
func WithTTL(ttl time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		a.ttl = ttl
	}
}

// WithAsyncCacheWrites moves listing cache writes off the request path.
// Writes still complete before Close returns.
func WithAsyncCacheWrites(async bool) AggregatorOption {
	return func(a *Aggregator) {
		a.asyncWrites = async
	}
}

// WithCoalescing makes concurrent cache misses for the same origin share a
// single catalog traversal.
func WithCoalescing(enabled bool) AggregatorOption {
	return func(a *Aggregator) {
		a.coalesce = enabled
	}
}

// NewAggregator creates an aggregator over store. cache may be nil, in which
// case every call traverses the store.
func NewAggregator(store catalog.Store, cache listcache.Cache, opts ...AggregatorOption) *Aggregator {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Aggregator{
		store:     store,
		cache:     cache,
		pageLimit: catalog.DefaultPageLimit,
		ttl:       ListingTTL,
		logger:    slog.Default(),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Close waits for pending cache writes to complete.
func (a *Aggregator) Close() {
	a.wg.Wait()
	a.cancel()
}

// Configured reports whether a catalog store is available.
func (a *Aggregator) Configured() bool {
	return a != nil && a.store != nil
}

// GetFilteredCatalog returns the filtered listing for origin, served from the
// listing cache when a fresh record exists.
func (a *Aggregator) GetFilteredCatalog(ctx context.Context, origin string) (randomfile.Listing, error) {
	if !a.Configured() {
		return nil, ErrNotConfigured
	}

	key := ListingKey(origin)
	logger := a.logger.With("key", key)

	if listing, ok := a.lookup(ctx, key, logger); ok {
		telemetry.SetCacheResultContext(ctx, telemetry.CacheHit)
		return listing, nil
	}
	telemetry.SetCacheResultContext(ctx, telemetry.CacheMiss)

	if !a.coalesce {
		return a.rebuild(ctx, key, logger)
	}

	ch := a.group.DoChan(key, func() (any, error) {
		return a.rebuild(context.WithoutCancel(ctx), key, logger)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			a.group.Forget(key)
			return nil, res.Err
		}
		return res.Val.(randomfile.Listing), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, ctx.Err())
	}
}

func (a *Aggregator) lookup(ctx context.Context, key string, logger *slog.Logger) (randomfile.Listing, bool) {
	if a.cache == nil {
		return nil, false
	}

	data, err := a.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, listcache.ErrNotFound) {
			logger.Warn("listing cache read failed", "error", err)
		}
		return nil, false
	}

	var listing randomfile.Listing
	if err := json.Unmarshal(data, &listing); err != nil {
		logger.Warn("discarding undecodable cached listing", "error", err)
		return nil, false
	}

	// shared caches such as redis may hold records this process did not write
	listing = Normalize(listing)
	logger.Debug("listing cache hit", "entries", len(listing))
	return listing, true
}

func (a *Aggregator) rebuild(ctx context.Context, key string, logger *slog.Logger) (randomfile.Listing, error) {
	start := time.Now()

	listing, err := a.collect(ctx)
	if err != nil {
		return nil, err
	}

	telemetry.RecordListingBuild(ctx, len(listing), time.Since(start))
	logger.Info("built listing", "entries", len(listing), "duration", time.Since(start))

	a.save(ctx, key, listing, logger)
	return listing, nil
}

// collect walks every catalog page in order and keeps the eligible keys.
func (a *Aggregator) collect(ctx context.Context) (randomfile.Listing, error) {
	listing := randomfile.Listing{}
	cursor := ""
	pages := 0
	for {
		page, err := a.store.List(ctx, cursor, a.pageLimit)
		if err != nil {
			return nil, fmt.Errorf("%w: listing catalog page %d: %w", ErrUpstreamUnavailable, pages+1, err)
		}
		pages++
		listing = append(listing, FilterKeys(page.Keys)...)

		if page.Cursor == "" {
			return listing, nil
		}
		cursor = page.Cursor
	}
}

func (a *Aggregator) save(ctx context.Context, key string, listing randomfile.Listing, logger *slog.Logger) {
	if a.cache == nil {
		return
	}

	data, err := json.Marshal(listing)
	if err != nil {
		logger.Warn("failed to encode listing", "error", err)
		return
	}

	write := func(ctx context.Context) {
		if err := a.cache.Put(ctx, key, data, a.ttl); err != nil {
			logger.Warn("listing cache write failed", "error", err)
		}
	}

	if !a.asyncWrites {
		write(ctx)
		return
	}

	a.wg.Go(func() {
		writeCtx, cancel := context.WithTimeout(a.ctx, cacheTimeout)
		defer cancel()
		write(writeCtx)
	})
}
