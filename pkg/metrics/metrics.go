// Package metrics provides the centralized Prometheus metrics registry for
// the query cache. All metrics are defined in their respective packages
// (cache, prefetch) to maintain modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the query cache.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - querycache_hits_total{layer} (Counter): Cache hits by layer (range, conditional)
//   - querycache_misses_total{layer} (Counter): Cache misses by layer
//   - querycache_entries{layer} (Gauge): Current number of cached entries by layer
//   - querycache_evictions_total{layer, reason} (Counter): Evictions by layer and reason (ttl, lru)
//   - querycache_store_errors_total{operation} (Counter): Store operation errors (get, set, delete, clear, size)
//
// Prefetch Metrics (pkg/prefetch):
//   - querycache_prefetch_windows_total{outcome} (Counter): Prefetched windows by outcome (ok, failed)
//   - querycache_prefetch_retries_total{error_class} (Counter): Retry attempts by error class
//   - querycache_prefetch_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - querycache_prefetch_retry_exhausted_total{error_class} (Counter): Windows that exhausted max retries
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(querycache_hits_total[5m])) /
//   (sum(rate(querycache_hits_total[5m])) + sum(rate(querycache_misses_total[5m])))
//
//   # Range Layer Hit Rate
//   rate(querycache_hits_total{layer="range"}[5m]) /
//   (rate(querycache_hits_total{layer="range"}[5m]) + rate(querycache_misses_total{layer="range"}[5m]))
//
//   # Eviction Pressure
//   rate(querycache_evictions_total[5m])
//
//   # Store Degradation
//   rate(querycache_store_errors_total[5m])
//
//   # P95 Retry Backoff
//   histogram_quantile(0.95, rate(querycache_prefetch_retry_backoff_seconds_bucket[5m]))
