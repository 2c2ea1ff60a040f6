package cache

import "sync/atomic"

// Stats tracks cumulative hit/miss counters for one cache component.
// All methods are safe for concurrent use.
type Stats struct {
	hits   uint64
	misses uint64
}

// NewStats creates a zeroed counter set.
func NewStats() *Stats {
	return &Stats{}
}

// RecordHit increments the hit counter.
func (s *Stats) RecordHit() {
	atomic.AddUint64(&s.hits, 1)
}

// RecordMiss increments the miss counter.
func (s *Stats) RecordMiss() {
	atomic.AddUint64(&s.misses, 1)
}

// Snapshot is a point-in-time view of a cache component's counters.
type Snapshot struct {
	// Hits is the cumulative number of served-from-cache lookups.
	Hits uint64 `json:"hits"`

	// Misses is the cumulative number of lookups the cache could not serve.
	Misses uint64 `json:"misses"`

	// Size is the current entry count, supplied by the owning cache.
	Size int `json:"size"`

	// HitRate is Hits/(Hits+Misses), 0 when nothing has been looked up.
	HitRate float64 `json:"hit_rate"`
}

// Snapshot returns the current counters combined with the entry count
// the owning cache reports.
func (s *Stats) Snapshot(size int) Snapshot {
	hits := atomic.LoadUint64(&s.hits)
	misses := atomic.LoadUint64(&s.misses)

	snap := Snapshot{Hits: hits, Misses: misses, Size: size}
	if total := hits + misses; total > 0 {
		snap.HitRate = float64(hits) / float64(total)
	}
	return snap
}

// Reset zeroes the counters. Evicting entries is the owning cache's
// job; resetting stats never touches cached data.
func (s *Stats) Reset() {
	atomic.StoreUint64(&s.hits, 0)
	atomic.StoreUint64(&s.misses, 0)
}
