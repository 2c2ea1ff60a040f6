package cache

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestMergeRanges(t *testing.T) {
	tests := []struct {
		name   string
		ranges []Range
		want   []Range
	}{
		{
			name:   "empty",
			ranges: nil,
			want:   nil,
		},
		{
			name:   "single range",
			ranges: []Range{{Start: 0, End: 19}},
			want:   []Range{{Start: 0, End: 19}},
		},
		{
			name:   "touching ranges coalesce",
			ranges: []Range{{Start: 0, End: 19}, {Start: 20, End: 39}},
			want:   []Range{{Start: 0, End: 39}},
		},
		{
			name:   "overlapping ranges coalesce",
			ranges: []Range{{Start: 0, End: 25}, {Start: 20, End: 39}},
			want:   []Range{{Start: 0, End: 39}},
		},
		{
			name:   "gap of one index stays split",
			ranges: []Range{{Start: 0, End: 19}, {Start: 21, End: 39}},
			want:   []Range{{Start: 0, End: 19}, {Start: 21, End: 39}},
		},
		{
			name:   "contained range disappears",
			ranges: []Range{{Start: 0, End: 50}, {Start: 10, End: 20}},
			want:   []Range{{Start: 0, End: 50}},
		},
		{
			name:   "unsorted input",
			ranges: []Range{{Start: 40, End: 59}, {Start: 0, End: 19}, {Start: 20, End: 39}},
			want:   []Range{{Start: 0, End: 59}},
		},
		{
			name:   "duplicate windows",
			ranges: []Range{{Start: 0, End: 19}, {Start: 0, End: 19}},
			want:   []Range{{Start: 0, End: 19}},
		},
		{
			name:   "multiple islands",
			ranges: []Range{{Start: 0, End: 9}, {Start: 30, End: 39}, {Start: 5, End: 12}, {Start: 60, End: 60}},
			want:   []Range{{Start: 0, End: 12}, {Start: 30, End: 39}, {Start: 60, End: 60}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mergeRanges(tt.ranges)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mergeRanges() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRangesCover(t *testing.T) {
	ranges := []Range{{Start: 0, End: 19}, {Start: 40, End: 59}}

	tests := []struct {
		name       string
		start, end int
		want       bool
	}{
		{name: "inside first range", start: 5, end: 15, want: true},
		{name: "exact first range", start: 0, end: 19, want: true},
		{name: "single index", start: 40, end: 40, want: true},
		{name: "spans the gap", start: 10, end: 45, want: false},
		{name: "starts in gap", start: 25, end: 45, want: false},
		{name: "ends past last range", start: 50, end: 70, want: false},
		{name: "before everything", start: -5, end: 5, want: false},
		{name: "second range suffix", start: 55, end: 59, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rangesCover(ranges, tt.start, tt.end); got != tt.want {
				t.Errorf("rangesCover(%d, %d) = %v, want %v", tt.start, tt.end, got, tt.want)
			}
		})
	}
}

func TestRangeEntry_IsExpired(t *testing.T) {
	tests := []struct {
		name     string
		cachedAt time.Time
		ttl      time.Duration
		want     bool
	}{
		{
			name:     "fresh entry",
			cachedAt: time.Now(),
			ttl:      time.Hour,
			want:     false,
		},
		{
			name:     "expired entry",
			cachedAt: time.Now().Add(-2 * time.Hour),
			ttl:      time.Hour,
			want:     true,
		},
		{
			name:     "zero ttl never expires",
			cachedAt: time.Now().Add(-24 * time.Hour),
			ttl:      0,
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := &rangeEntry[int]{CachedAt: tt.cachedAt, TTL: tt.ttl}
			if got := entry.isExpired(); got != tt.want {
				t.Errorf("isExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}
