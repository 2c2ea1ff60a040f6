// Package client provides a read-through facade over the range and
// conditional caches: derive the key, serve from cache when possible,
// otherwise fetch through a caller-supplied function and feed the
// result back into the cache.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/brantberg/rest-query-cache/pkg/cache"
	"github.com/brantberg/rest-query-cache/pkg/query"
	"github.com/brantberg/rest-query-cache/pkg/store"
)

// RangeFetcher loads one window of records from the backend: the
// records of entity starting at params.Offset, at most params.Limit of
// them, plus the total result set size, -1 when the backend does not
// report one.
type RangeFetcher[T any] func(ctx context.Context, entity, operation string, params *query.Params) ([]T, int, error)

// ResponseFetcher loads a whole response from the backend. versionTag
// is the tag of the cached copy, empty when there is none. The fetcher
// returns the payload with its new tag, or notModified true when the
// backend confirmed the tagged copy is still current.
type ResponseFetcher[V any] func(ctx context.Context, entity, operation string, params *query.Params, versionTag string) (payload V, newTag string, notModified bool, err error)

// Client is the read-through facade for one backend connection.
type Client[T, V any] struct {
	connection    string
	ranges        *cache.RangeCache[T]
	responses     *cache.ConditionalCache[V]
	fetchRange    RangeFetcher[T]
	fetchResponse ResponseFetcher[V]
	disabled      bool
	logger        zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Connection identifies the backend in every cache key.
	Connection string

	// Store backs the range cache. Leave nil for a fresh in-memory
	// store.
	Store store.Store

	// TTL bounds the age of range entries and marks conditional
	// entries stale for revalidation. Zero disables age checks.
	TTL time.Duration

	// MaxResponses caps the conditional cache entry count, 0 means
	// unbounded.
	MaxResponses int

	// Disabled bypasses both cache layers: every call fetches.
	Disabled bool
}

// DefaultConfig returns a safe default configuration for the given
// connection.
func DefaultConfig(connection string) Config {
	return Config{
		Connection:   connection,
		TTL:          5 * time.Minute,
		MaxResponses: 512,
	}
}

// New creates a client for one backend connection. Either fetcher may
// be nil as long as the other is set; the matching Fetch method then
// returns ErrNoFetcher.
func New[T, V any](cfg Config, ranges RangeFetcher[T], responses ResponseFetcher[V]) (*Client[T, V], error) {
	if cfg.Connection == "" {
		return nil, ErrConnectionRequired
	}
	if ranges == nil && responses == nil {
		return nil, ErrNoFetcher
	}

	// Initialize logger
	logger := log.With().Str("component", "query-client").Logger()

	st := cfg.Store
	if st == nil {
		st = store.NewMemoryStore()
	}

	return &Client[T, V]{
		connection: cfg.Connection,
		ranges:     cache.NewRangeCache[T](st, cfg.TTL, logger),
		responses: cache.NewConditionalCache[V](cache.ConditionalConfig{
			MaxSize:  cfg.MaxResponses,
			TTL:      cfg.TTL,
			Disabled: cfg.Disabled,
		}),
		fetchRange:    ranges,
		fetchResponse: responses,
		disabled:      cfg.Disabled,
		logger:        logger,
	}, nil
}

// FetchRange returns the records of the window params requests, serving
// from the range cache when the window is covered and fetching through
// the range fetcher otherwise. The returned total is the best known
// result set size, -1 when nothing has reported one yet.
func (c *Client[T, V]) FetchRange(ctx context.Context, entity, operation string, params *query.Params) ([]T, int, error) {
	if c.fetchRange == nil {
		return nil, -1, ErrNoFetcher
	}
	if params == nil {
		params = &query.Params{}
	}

	// Pagination is excluded from range keys: every window of the
	// query shares one entry
	key := cache.DeriveKey(c.connection, entity, operation, params)

	// Step 1: Try the cache
	if !c.disabled {
		if records, ok := c.ranges.Extract(ctx, key, params.Offset, params.Limit, -1); ok {
			c.logger.Debug().
				Str("key", key).
				Int("offset", params.Offset).
				Int("limit", params.Limit).
				Msg("Range served from cache")
			return records, c.ranges.Total(ctx, key), nil
		}
	}

	// Step 2: Fetch the window from the backend
	records, total, err := c.fetchRange(ctx, entity, operation, params)
	if err != nil {
		return nil, -1, fmt.Errorf("fetch %s %s: %w", entity, operation, err)
	}

	// Step 3: Feed the window back into the cache
	if !c.disabled {
		c.ranges.Merge(ctx, key, records, params.Offset, total)
	}

	return records, total, nil
}

// FetchResponse returns the whole response for params, serving from the
// conditional cache when fresh, revalidating by version tag when stale,
// and storing whatever the backend returns.
func (c *Client[T, V]) FetchResponse(ctx context.Context, entity, operation string, params *query.Params) (V, error) {
	var zero V
	if c.fetchResponse == nil {
		return zero, ErrNoFetcher
	}
	if params == nil {
		params = &query.Params{}
	}

	// Pagination is part of response keys: each window is its own
	// response
	key := cache.DeriveResponseKey(c.connection, entity, operation, params)

	// Step 1: Look up the cached copy
	cached, tag, found := c.responses.Lookup(key)
	if found && !c.responses.NeedsRevalidation(key) {
		return cached, nil
	}

	// Step 2: Fetch, conditionally when a tag is known
	payload, newTag, notModified, err := c.fetchResponse(ctx, entity, operation, params, tag)
	if err != nil {
		return zero, fmt.Errorf("fetch %s %s: %w", entity, operation, err)
	}

	// Step 3: Keep the confirmed copy or store the new one
	if notModified && found {
		c.responses.Touch(key)
		c.logger.Debug().Str("key", key).Msg("Backend confirmed cached response")
		return cached, nil
	}
	if notModified {
		return zero, fmt.Errorf("fetch %s %s: backend reported not modified without a cached copy", entity, operation)
	}

	c.responses.Store(key, newTag, payload)
	return payload, nil
}

// InvalidateEntity drops every cached result for entity on this
// connection, range entries and whole responses alike. The coarse
// safe-by-default call after any mutation.
func (c *Client[T, V]) InvalidateEntity(ctx context.Context, entity string) {
	prefix := cache.KeyPrefix(c.connection, entity)
	c.ranges.InvalidatePrefix(ctx, prefix)
	c.responses.InvalidatePrefix(prefix)
	c.logger.Debug().Str("prefix", prefix).Msg("Invalidated entity")
}

// InvalidateAll clears both cache layers and their stats.
func (c *Client[T, V]) InvalidateAll(ctx context.Context) {
	c.ranges.Clear(ctx)
	c.responses.Clear()
}

// Stats reports both cache layers side by side.
type Stats struct {
	Ranges    cache.Snapshot `json:"ranges"`
	Responses cache.Snapshot `json:"responses"`
}

// Stats returns a snapshot of both cache layers.
func (c *Client[T, V]) Stats(ctx context.Context) Stats {
	return Stats{
		Ranges:    c.ranges.Stats(ctx),
		Responses: c.responses.Stats(),
	}
}

// Ranges returns the underlying range cache (for testing).
func (c *Client[T, V]) Ranges() *cache.RangeCache[T] {
	return c.ranges
}

// Responses returns the underlying conditional cache (for testing).
func (c *Client[T, V]) Responses() *cache.ConditionalCache[V] {
	return c.responses
}
