// Package prefetch warms the range cache ahead of demand. A Prefetcher
// walks every window of a query through a bounded worker pool, retries
// transient fetch failures with exponential backoff, and merges the
// results into the cache so later reads are served locally.
package prefetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"

	"github.com/brantberg/rest-query-cache/pkg/cache"
	"github.com/brantberg/rest-query-cache/pkg/client"
	"github.com/brantberg/rest-query-cache/pkg/query"
)

// prefetchWindowsTotal counts fetched windows by outcome ("ok", "failed").
var prefetchWindowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "querycache_prefetch_windows_total",
	Help: "Total number of prefetched windows by outcome",
}, []string{"outcome"})

// Config holds prefetcher configuration.
type Config struct {
	// MaxConcurrency is the maximum number of parallel window fetches.
	MaxConcurrency int

	// WindowSize is the number of records requested per window.
	WindowSize int

	// Timeout bounds each individual window fetch.
	Timeout time.Duration

	// Retry configures the per-window retry behavior.
	Retry RetryConfig
}

// DefaultConfig returns safe default settings.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		WindowSize:     100,
		Timeout:        15 * time.Second,
		Retry:          DefaultRetryConfig(),
	}
}

// windowResult carries one fetched window from a worker back to the
// merging goroutine.
type windowResult[T any] struct {
	offset  int
	records []T
	err     error
}

// Prefetcher fetches every window of a query and merges the results
// into a range cache.
type Prefetcher[T any] struct {
	ranges *cache.RangeCache[T]
	fetch  client.RangeFetcher[T]
	config Config
}

// New creates a Prefetcher on top of the given range cache and fetcher.
// Invalid config values are replaced with defaults.
func New[T any](ranges *cache.RangeCache[T], fetch client.RangeFetcher[T], config Config) *Prefetcher[T] {
	if ranges == nil {
		panic("range cache cannot be nil")
	}
	if fetch == nil {
		panic("range fetcher cannot be nil")
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.WindowSize <= 0 {
		config.WindowSize = 100
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.Retry.MaxAttempts <= 0 {
		config.Retry = DefaultRetryConfig()
	}

	return &Prefetcher[T]{
		ranges: ranges,
		fetch:  fetch,
		config: config,
	}
}

// Warm fetches the full result set of the query described by params and
// merges it into the cache under the derived key. The first window
// reveals the total record count, the remaining windows are fetched by
// a worker pool while this goroutine merges them serially. Windows the
// cache already covers are skipped.
//
// It returns the total record count and the number of records actually
// fetched. When some windows fail, the successful ones stay merged and
// the first failure is returned alongside the partial counts.
func (p *Prefetcher[T]) Warm(ctx context.Context, connection, entity, operation string, params *query.Params) (int, int, error) {
	start := time.Now()
	if params == nil {
		params = &query.Params{}
	}
	key := cache.DeriveKey(connection, entity, operation, params)

	// Fetch the first window to learn how many records exist
	first, total, err := p.fetchWindow(ctx, entity, operation, params, 0)
	if err != nil {
		prefetchWindowsTotal.WithLabelValues("failed").Inc()
		return -1, 0, fmt.Errorf("fetch first window: %w", err)
	}

	mergeTotal := total
	if total < 0 && len(first) < p.config.WindowSize {
		// A short window marks the end of the result set
		mergeTotal = len(first)
	}
	p.ranges.Merge(ctx, key, first, 0, mergeTotal)
	prefetchWindowsTotal.WithLabelValues("ok").Inc()
	fetched := len(first)

	if total < 0 {
		if len(first) < p.config.WindowSize {
			return mergeTotal, fetched, nil
		}
		return p.warmSequential(ctx, key, entity, operation, params, fetched)
	}

	// Queue the remaining windows, skipping what the cache already holds
	var offsets []int
	for offset := p.config.WindowSize; offset < total; offset += p.config.WindowSize {
		if p.ranges.Covered(ctx, key, offset, p.config.WindowSize, total) {
			continue
		}
		offsets = append(offsets, offset)
	}

	if len(offsets) == 0 {
		log.Debug().
			Str("key", key).
			Int("total", total).
			Msg("Prefetch complete after first window")
		return total, fetched, nil
	}

	queue := make(chan int, len(offsets))
	for _, offset := range offsets {
		queue <- offset
	}
	close(queue)

	results := make(chan windowResult[T], p.config.MaxConcurrency)

	var wg sync.WaitGroup
	for i := 0; i < p.config.MaxConcurrency; i++ {
		wg.Add(1)
		go p.worker(ctx, entity, operation, params, queue, results, &wg, i)
	}

	// Close results when all workers finish
	go func() {
		wg.Wait()
		close(results)
	}()

	// Merge serially: concurrent merges into one key would clobber each
	// other through the store's read-modify-write cycle
	var firstErr error
	for result := range results {
		if result.err != nil {
			prefetchWindowsTotal.WithLabelValues("failed").Inc()
			if firstErr == nil {
				firstErr = result.err
			}
			continue
		}
		p.ranges.Merge(ctx, key, result.records, result.offset, total)
		prefetchWindowsTotal.WithLabelValues("ok").Inc()
		fetched += len(result.records)
	}

	if firstErr != nil {
		log.Warn().
			Err(firstErr).
			Str("key", key).
			Int("fetched", fetched).
			Int("total", total).
			Msg("Prefetch incomplete")
		return total, fetched, fmt.Errorf("prefetch incomplete (%d/%d records): %w", fetched, total, firstErr)
	}

	log.Info().
		Str("key", key).
		Int("records", fetched).
		Int("windows", len(offsets)+1).
		Dur("duration", time.Since(start)).
		Msg("Prefetch complete")

	return total, fetched, nil
}

// warmSequential walks the result set window by window when the backend
// does not report a total. It stops at the first short window, which
// bounds the result set.
func (p *Prefetcher[T]) warmSequential(ctx context.Context, key, entity, operation string, params *query.Params, fetched int) (int, int, error) {
	offset := fetched
	for {
		records, _, err := p.fetchWindow(ctx, entity, operation, params, offset)
		if err != nil {
			prefetchWindowsTotal.WithLabelValues("failed").Inc()
			return -1, fetched, fmt.Errorf("fetch window at offset %d: %w", offset, err)
		}

		mergeTotal := -1
		if len(records) < p.config.WindowSize {
			mergeTotal = offset + len(records)
		}
		p.ranges.Merge(ctx, key, records, offset, mergeTotal)
		prefetchWindowsTotal.WithLabelValues("ok").Inc()
		fetched += len(records)

		if len(records) < p.config.WindowSize {
			log.Info().
				Str("key", key).
				Int("records", fetched).
				Msg("Prefetch complete (no reported total)")
			return mergeTotal, fetched, nil
		}
		offset += p.config.WindowSize
	}
}

// worker fetches windows from the queue until it drains or the context
// is cancelled. A failed window stops the worker.
func (p *Prefetcher[T]) worker(ctx context.Context, entity, operation string, params *query.Params, queue <-chan int, results chan<- windowResult[T], wg *sync.WaitGroup, workerID int) {
	defer wg.Done()

	for offset := range queue {
		// Check for cancellation
		select {
		case <-ctx.Done():
			log.Debug().
				Int("worker_id", workerID).
				Msg("Prefetch worker stopping due to context cancellation")
			return
		default:
		}

		records, _, err := p.fetchWindow(ctx, entity, operation, params, offset)

		select {
		case results <- windowResult[T]{offset: offset, records: records, err: err}:
		case <-ctx.Done():
			return
		}

		if err != nil {
			log.Debug().
				Int("worker_id", workerID).
				Int("offset", offset).
				Err(err).
				Msg("Prefetch worker stopping after failed window")
			return
		}
	}
}

// fetchWindow fetches one window with retry and a per-fetch timeout.
func (p *Prefetcher[T]) fetchWindow(ctx context.Context, entity, operation string, params *query.Params, offset int) ([]T, int, error) {
	windowParams := *params
	windowParams.Offset = offset
	windowParams.Limit = p.config.WindowSize

	var records []T
	total := -1
	err := retryWithBackoff(ctx, p.config.Retry, func() error {
		fetchCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()

		var fetchErr error
		records, total, fetchErr = p.fetch(fetchCtx, entity, operation, &windowParams)
		return fetchErr
	})
	return records, total, err
}
