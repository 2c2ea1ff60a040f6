package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by layer (range, conditional)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querycache_hits_total",
			Help: "Total number of query cache hits",
		},
		[]string{"layer"}, // "range", "conditional"
	)

	// CacheMisses tracks cache misses by layer
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querycache_misses_total",
			Help: "Total number of query cache misses",
		},
		[]string{"layer"}, // "range", "conditional"
	)

	// CacheEntries tracks the current entry count by layer
	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "querycache_entries",
			Help: "Current number of query cache entries",
		},
		[]string{"layer"}, // "range", "conditional"
	)

	// CacheEvictions tracks evicted entries by layer and reason
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querycache_evictions_total",
			Help: "Total number of query cache evictions",
		},
		[]string{"layer", "reason"}, // reason: "ttl", "lru"
	)

	// StoreErrors tracks failed store operations
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querycache_store_errors_total",
			Help: "Total number of cache store operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "clear", "size"
	)
)
