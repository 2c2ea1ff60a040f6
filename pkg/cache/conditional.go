package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// conditionalEntry is one cached response and the version tag the
// backend issued for it.
type conditionalEntry[V any] struct {
	key          string
	versionTag   string
	value        V
	refreshedAt  time.Time
	lastAccessed time.Time
	hits         uint64
}

// ConditionalConfig bounds a ConditionalCache.
type ConditionalConfig struct {
	// MaxSize caps the entry count, 0 means unbounded.
	MaxSize int

	// TTL is the age past which an entry must be revalidated before
	// reuse. Stale entries are not evicted, they keep serving through
	// revalidation. Zero means entries never go stale.
	TTL time.Duration

	// Disabled turns the cache into a permanent miss: lookups fail,
	// writes are dropped. Nothing else breaks.
	Disabled bool
}

// ConditionalCache stores whole responses keyed by query, each tagged
// with the opaque version tag (ETag) the backend issued for it. Lookup
// returns payload and tag so the caller can revalidate; Touch confirms
// a revalidation so the entry keeps serving without being replaced.
//
// Eviction is LRU at MaxSize through a doubly linked list: Store pushes
// new entries to the front, eviction takes the back. Entries never
// accessed since insertion tie on their insertion order, so the
// earliest inserted of the tied-oldest goes first.
type ConditionalCache[V any] struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
	maxSize int
	ttl     time.Duration
	enabled bool
	stats   *Stats
}

// NewConditionalCache creates a conditional cache with the given bounds.
func NewConditionalCache[V any](cfg ConditionalConfig) *ConditionalCache[V] {
	return &ConditionalCache[V]{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		maxSize: cfg.MaxSize,
		ttl:     cfg.TTL,
		enabled: !cfg.Disabled,
		stats:   NewStats(),
	}
}

// Lookup returns the cached payload and its version tag for key. A
// found entry counts as a hit even when the caller goes on to
// revalidate the tag against the backend. Disabled caches always miss.
func (c *ConditionalCache[V]) Lookup(key string) (V, string, bool) {
	var zero V
	if !c.enabled {
		c.miss()
		return zero, "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.miss()
		return zero, "", false
	}

	entry := elem.Value.(*conditionalEntry[V])
	entry.lastAccessed = time.Now()
	entry.hits++
	c.order.MoveToFront(elem)

	c.hit()
	return entry.value, entry.versionTag, true
}

// NeedsRevalidation reports whether the entry for key must be checked
// against the backend before its payload is reused. True when the entry
// is absent or has not been stored or revalidated within the configured
// TTL; false for fresh entries and whenever no TTL is configured.
func (c *ConditionalCache[V]) NeedsRevalidation(key string) bool {
	if !c.enabled {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return true
	}
	if c.ttl <= 0 {
		return false
	}
	entry := elem.Value.(*conditionalEntry[V])
	return time.Since(entry.refreshedAt) > c.ttl
}

// Store inserts or wholesale-replaces the entry for key. Inserting a
// new key at capacity evicts the least recently used entry first.
// Disabled caches drop the write.
func (c *ConditionalCache[V]) Store(key, versionTag string, value V) {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if elem, ok := c.entries[key]; ok {
		// Replace: new payload, fresh accounting
		entry := elem.Value.(*conditionalEntry[V])
		entry.versionTag = versionTag
		entry.value = value
		entry.refreshedAt = now
		entry.lastAccessed = now
		entry.hits = 0
		c.order.MoveToFront(elem)
		return
	}

	if c.maxSize > 0 && c.order.Len() >= c.maxSize {
		c.evictLocked()
	}

	entry := &conditionalEntry[V]{
		key:          key,
		versionTag:   versionTag,
		value:        value,
		refreshedAt:  now,
		lastAccessed: now,
	}
	c.entries[key] = c.order.PushFront(entry)
	CacheEntries.WithLabelValues("conditional").Set(float64(c.order.Len()))
}

// Touch records a revalidation-confirmed reuse: the backend reported
// the cached payload still current. The entry's staleness clock
// restarts while the payload and tag stay as they are, so the next
// lookups within a TTL serve without another round-trip.
func (c *ConditionalCache[V]) Touch(key string) {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*conditionalEntry[V])
		now := time.Now()
		entry.refreshedAt = now
		entry.lastAccessed = now
		entry.hits++
		c.order.MoveToFront(elem)
	}
}

// Invalidate removes the entry for key. Removing an absent key is a
// no-op.
func (c *ConditionalCache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.removeLocked(elem)
	}
}

// InvalidatePrefix removes every entry whose key starts with prefix.
func (c *ConditionalCache[V]) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, elem := range c.entries {
		if strings.HasPrefix(key, prefix) {
			c.removeLocked(elem)
		}
	}
}

// Clear removes every entry and resets the hit/miss counters.
func (c *ConditionalCache[V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
	c.mu.Unlock()

	CacheEntries.WithLabelValues("conditional").Set(0)
	c.stats.Reset()
}

// Len returns the current entry count.
func (c *ConditionalCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a snapshot of the cache counters and entry count.
func (c *ConditionalCache[V]) Stats() Snapshot {
	return c.stats.Snapshot(c.Len())
}

// ResetStats zeroes the counters without touching cached entries.
func (c *ConditionalCache[V]) ResetStats() {
	c.stats.Reset()
}

func (c *ConditionalCache[V]) evictLocked() {
	elem := c.order.Back()
	if elem == nil {
		return
	}
	c.removeLocked(elem)
	CacheEvictions.WithLabelValues("conditional", "lru").Inc()
}

func (c *ConditionalCache[V]) removeLocked(elem *list.Element) {
	entry := elem.Value.(*conditionalEntry[V])
	c.order.Remove(elem)
	delete(c.entries, entry.key)
	CacheEntries.WithLabelValues("conditional").Set(float64(c.order.Len()))
}

func (c *ConditionalCache[V]) hit() {
	c.stats.RecordHit()
	CacheHits.WithLabelValues("conditional").Inc()
}

func (c *ConditionalCache[V]) miss() {
	c.stats.RecordMiss()
	CacheMisses.WithLabelValues("conditional").Inc()
}
