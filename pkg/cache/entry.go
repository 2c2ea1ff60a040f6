package cache

import (
	"sort"
	"time"
)

// Range is a closed interval of 0-based record indices. Both bounds are
// inclusive: a single record at index i is the range [i, i].
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// mergeRanges sorts and coalesces ranges so the result is sorted,
// non-overlapping, and maximally merged. Ranges that overlap or touch
// (next starts at prev.End+1) become one interval.
func mergeRanges(ranges []Range) []Range {
	if len(ranges) <= 1 {
		return ranges
	}

	sort.Slice(ranges, func(i, j int) bool {
		return ranges[i].Start < ranges[j].Start
	})

	merged := make([]Range, 0, len(ranges))
	merged = append(merged, ranges[0])
	for _, r := range ranges[1:] {
		last := &merged[len(merged)-1]
		if r.Start <= last.End+1 {
			if r.End > last.End {
				last.End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// rangesCover reports whether the window [start, end] is fully contained
// in the given ranges. Ranges must be sorted and maximally merged, so a
// contiguous window is covered iff a single range contains it.
func rangesCover(ranges []Range, start, end int) bool {
	for _, r := range ranges {
		if r.Start > start {
			return false
		}
		if end <= r.End {
			return true
		}
	}
	return false
}

// rangeEntry is the cached state of one logical query: the records
// fetched so far indexed by absolute position, the windows they came
// from, and the total count the backend last reported.
type rangeEntry[T any] struct {
	// Records holds fetched records keyed by 0-based index.
	Records map[int]T `json:"records"`

	// Ranges is the sorted, merged set of materialized windows.
	Ranges []Range `json:"ranges"`

	// Total is the record count reported by the backend, -1 when no
	// authoritative count has been seen yet.
	Total int `json:"total"`

	// CachedAt is when the entry was created or last merged into.
	CachedAt time.Time `json:"cached_at"`

	// TTL bounds the entry's age. Zero means the entry never expires.
	TTL time.Duration `json:"ttl"`
}

// isExpired returns true if the entry has outlived its TTL.
func (e *rangeEntry[T]) isExpired() bool {
	return e.TTL > 0 && time.Since(e.CachedAt) > e.TTL
}
