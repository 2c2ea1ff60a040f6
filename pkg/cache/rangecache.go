package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/brantberg/rest-query-cache/pkg/store"
)

// RangeCache tracks which offset/limit windows of a sequential result
// set are materialized per key. Windows merge into one sparse record
// array with a contiguous-range index, so overlapping and adjacent
// fetches are answered from cache without touching the backend.
//
// No operation returns an error: store failures degrade to misses on
// the read path and dropped writes on the write path, logged and
// counted in StoreErrors.
type RangeCache[T any] struct {
	store  store.Store
	ttl    time.Duration
	stats  *Stats
	logger zerolog.Logger
}

// NewRangeCache creates a range cache on top of the given store.
// A zero ttl disables age-based eviction.
func NewRangeCache[T any](s store.Store, ttl time.Duration, logger zerolog.Logger) *RangeCache[T] {
	if s == nil {
		panic("store cannot be nil")
	}
	return &RangeCache[T]{
		store:  s,
		ttl:    ttl,
		stats:  NewStats(),
		logger: logger,
	}
}

// Covered reports whether the window [offset, offset+limit) is fully
// materialized for key. It is a pure coverage check: no hit or miss is
// recorded. Pass total -1 when the caller has no authoritative count;
// a known total clamps the window to the last live index.
func (c *RangeCache[T]) Covered(ctx context.Context, key string, offset, limit, total int) bool {
	if offset < 0 || limit < 0 {
		return false
	}
	if limit == 0 {
		return true
	}

	entry, ok := c.loadEntry(ctx, key)
	if !ok {
		return false
	}

	start, end, empty := clampWindow(offset, limit, effectiveTotal(total, entry.Total))
	if empty {
		return true
	}
	return rangesCover(entry.Ranges, start, end)
}

// Extract returns the records of the window [offset, offset+limit) when
// the window is covered and every record is present. The returned slice
// is a copy. The outcome is recorded in the cache stats: true is a hit,
// false a miss.
func (c *RangeCache[T]) Extract(ctx context.Context, key string, offset, limit, total int) ([]T, bool) {
	if offset < 0 || limit < 0 {
		c.miss()
		return nil, false
	}
	if limit == 0 {
		c.hit()
		return []T{}, true
	}

	entry, ok := c.loadEntry(ctx, key)
	if !ok {
		c.miss()
		return nil, false
	}

	start, end, empty := clampWindow(offset, limit, effectiveTotal(total, entry.Total))
	if empty {
		// The window lies entirely past the end of the result set.
		c.hit()
		return []T{}, true
	}
	if !rangesCover(entry.Ranges, start, end) {
		c.miss()
		return nil, false
	}

	records := make([]T, 0, end-start+1)
	for i := start; i <= end; i++ {
		rec, present := entry.Records[i]
		if !present {
			c.miss()
			return nil, false
		}
		records = append(records, rec)
	}

	c.hit()
	return records, true
}

// Merge splices records into the entry for key at the given offset and
// records the window as materialized. Overlapping and touching windows
// coalesce into one range. A total >= 0 overwrites the entry's known
// count; pass -1 to leave it unchanged. Merging an identical window
// twice leaves coverage unchanged.
func (c *RangeCache[T]) Merge(ctx context.Context, key string, records []T, offset, total int) {
	if offset < 0 {
		c.logger.Warn().
			Str("key", key).
			Int("offset", offset).
			Msg("Dropping merge with negative offset")
		return
	}

	entry, ok := c.loadEntry(ctx, key)
	if !ok {
		entry = &rangeEntry[T]{Records: make(map[int]T), Total: -1}
	}

	// Splice records at their absolute positions
	for i, rec := range records {
		entry.Records[offset+i] = rec
	}
	if len(records) > 0 {
		entry.Ranges = mergeRanges(append(entry.Ranges, Range{Start: offset, End: offset + len(records) - 1}))
	}

	// Adopt the latest authoritative count. An empty fetch with no
	// reported count still bounds the result set at the offset.
	if total >= 0 {
		entry.Total = total
	} else if len(records) == 0 && entry.Total < 0 {
		entry.Total = offset
	}

	entry.CachedAt = time.Now()
	entry.TTL = c.ttl

	c.storeEntry(ctx, key, entry)
}

// Total returns the entry's known record count, -1 when the key is
// absent or no authoritative count has been seen yet.
func (c *RangeCache[T]) Total(ctx context.Context, key string) int {
	entry, ok := c.loadEntry(ctx, key)
	if !ok {
		return -1
	}
	return entry.Total
}

// Invalidate removes the entry for key. Removing an absent key is a
// no-op.
func (c *RangeCache[T]) Invalidate(ctx context.Context, key string) {
	if err := c.store.Delete(ctx, key); err != nil {
		StoreErrors.WithLabelValues("delete").Inc()
		c.logger.Warn().Err(err).Str("key", key).Msg("Store delete failed")
	}
}

// InvalidatePrefix removes every entry whose key starts with prefix,
// typically a KeyPrefix covering one connection and entity.
func (c *RangeCache[T]) InvalidatePrefix(ctx context.Context, prefix string) {
	if err := c.store.DeleteByPattern(ctx, prefix); err != nil {
		StoreErrors.WithLabelValues("delete").Inc()
		c.logger.Warn().Err(err).Str("prefix", prefix).Msg("Store pattern delete failed")
	}
}

// Clear removes every entry and resets the hit/miss counters.
func (c *RangeCache[T]) Clear(ctx context.Context) {
	if err := c.store.Clear(ctx); err != nil {
		StoreErrors.WithLabelValues("clear").Inc()
		c.logger.Warn().Err(err).Msg("Store clear failed")
	}
	c.stats.Reset()
}

// Stats returns a snapshot of the cache counters together with the
// store's current entry count.
func (c *RangeCache[T]) Stats(ctx context.Context) Snapshot {
	size, err := c.store.Size(ctx)
	if err != nil {
		StoreErrors.WithLabelValues("size").Inc()
		size = 0
	}
	CacheEntries.WithLabelValues("range").Set(float64(size))
	return c.stats.Snapshot(size)
}

// ResetStats zeroes the counters without touching cached entries.
func (c *RangeCache[T]) ResetStats() {
	c.stats.Reset()
}

// loadEntry reads and decodes the entry for key, evicting it when
// expired. Store and decode failures read as absent.
func (c *RangeCache[T]) loadEntry(ctx context.Context, key string) (*rangeEntry[T], bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			StoreErrors.WithLabelValues("get").Inc()
			c.logger.Warn().Err(err).Str("key", key).Msg("Store read failed, treating as miss")
		}
		return nil, false
	}

	var entry rangeEntry[T]
	if err := json.Unmarshal(data, &entry); err != nil {
		StoreErrors.WithLabelValues("get").Inc()
		c.logger.Warn().Err(err).Str("key", key).Msg("Corrupt cache entry, treating as miss")
		return nil, false
	}

	if entry.isExpired() {
		if err := c.store.Delete(ctx, key); err != nil {
			StoreErrors.WithLabelValues("delete").Inc()
		}
		CacheEvictions.WithLabelValues("range", "ttl").Inc()
		return nil, false
	}

	if entry.Records == nil {
		entry.Records = make(map[int]T)
	}
	return &entry, true
}

func (c *RangeCache[T]) storeEntry(ctx context.Context, key string, entry *rangeEntry[T]) {
	data, err := json.Marshal(entry)
	if err != nil {
		StoreErrors.WithLabelValues("set").Inc()
		c.logger.Warn().Err(err).Str("key", key).Msg("Cache entry not serializable, dropping write")
		return
	}
	if err := c.store.Set(ctx, key, data, c.ttl); err != nil {
		StoreErrors.WithLabelValues("set").Inc()
		c.logger.Warn().Err(err).Str("key", key).Msg("Store write failed, dropping write")
	}
}

func (c *RangeCache[T]) hit() {
	c.stats.RecordHit()
	CacheHits.WithLabelValues("range").Inc()
}

func (c *RangeCache[T]) miss() {
	c.stats.RecordMiss()
	CacheMisses.WithLabelValues("range").Inc()
}

// effectiveTotal prefers the caller's count and falls back to the count
// stored on the entry. -1 means no count is known.
func effectiveTotal(callerTotal, entryTotal int) int {
	if callerTotal >= 0 {
		return callerTotal
	}
	return entryTotal
}

// clampWindow converts offset/limit to the closed interval [start, end],
// clamped to the last live index when total is known. empty is true when
// nothing remains after clamping, such as a window entirely past the end
// of a shrunken result set.
func clampWindow(offset, limit, total int) (start, end int, empty bool) {
	start = offset
	end = offset + limit - 1
	if total >= 0 && end > total-1 {
		end = total - 1
	}
	return start, end, end < start
}
