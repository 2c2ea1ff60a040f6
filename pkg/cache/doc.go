// Package cache provides query result caching for a paginated,
// filterable REST data-access layer.
//
// The package combines three pieces:
//
// - Deterministic cache key derivation from query semantics
// - A range cache tracking which offset/limit windows are materialized
// - A conditional (version tag) cache with LRU eviction
//
// # Cache Keys
//
//	params := &query.Params{
//		Filters: []query.Filter{{Field: "status", Op: query.OpEq, Value: "active"}},
//		Order:   []query.Order{{Field: "name"}},
//		Offset:  40,
//		Limit:   20,
//	}
//
//	// Pagination excluded: all windows of this query share one key
//	key := cache.DeriveKey("b1", "Products", "query", params)
//
//	// Pagination included: one key per window
//	respKey := cache.DeriveResponseKey("b1", "Products", "query", params)
//
// Equal query semantics always produce equal keys; any semantic
// difference produces a different key. Derivation never fails: params
// that defeat JSON serialization fall back to a djb2 hash.
//
// # Range Caching
//
//	rc := cache.NewRangeCache[Product](memStore, 5*time.Minute, logger)
//
//	if records, ok := rc.Extract(ctx, key, 40, 20, -1); ok {
//		return records // served from cache
//	}
//	records, total, err := fetchWindow(ctx, 40, 20)
//	if err != nil {
//		return err
//	}
//	rc.Merge(ctx, key, records, 40, total)
//
// Windows that overlap or touch coalesce, so fetching [0,19] and
// [20,39] makes the whole of [0,39] extractable.
//
// # Conditional Caching
//
//	cc := cache.NewConditionalCache[[]byte](cache.ConditionalConfig{MaxSize: 512})
//
//	payload, tag, ok := cc.Lookup(respKey)
//	if ok && !cc.NeedsRevalidation(respKey) {
//		return payload
//	}
//	// revalidate with If-None-Match: tag; on 304 cc.Touch(respKey),
//	// on 200 cc.Store(respKey, newTag, newPayload)
//
// # Invalidation
//
//	prefix := cache.KeyPrefix("b1", "Products")
//	rc.InvalidatePrefix(ctx, prefix)
//	cc.InvalidatePrefix(prefix)
//
// # Error Policy
//
// Read and merge operations never return errors. Store failures read as
// misses, failed writes are dropped and logged, and key derivation
// falls back rather than failing. Callers only ever observe hit or
// miss.
//
// # Metrics
//
// The package exports Prometheus metrics:
//
//   - querycache_hits_total{layer} - Cache hits
//   - querycache_misses_total{layer} - Cache misses
//   - querycache_entries{layer} - Current entry count
//   - querycache_evictions_total{layer,reason} - TTL and LRU evictions
//   - querycache_store_errors_total{operation} - Store operation errors
package cache
