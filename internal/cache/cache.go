// Package cache provides a bounded TTL cache with oldest-first eviction.
package cache

import (
	"sync"
	"time"

	"github.com/stupiduntilnot/relaybot/internal/clock"
)

type entry[V any] struct {
	value      V
	insertedAt time.Time
	seq        uint64
}

// Cache holds at most maxSize entries. Entries expire ttl after insertion and
// are removed lazily when read. Inserting a new key into a full cache evicts
// the entry inserted earliest, regardless of how recently it was read.
type Cache[K comparable, V any] struct {
	maxSize int
	ttl     time.Duration
	clock   clock.Clock

	mu      sync.Mutex
	entries map[K]*entry[V]
	seq     uint64
}

// New creates a cache. A non-positive maxSize disables storage.
func New[K comparable, V any](maxSize int, ttl time.Duration, c clock.Clock) *Cache[K, V] {
	if c == nil {
		c = clock.Real()
	}
	return &Cache[K, V]{
		maxSize: maxSize,
		ttl:     ttl,
		clock:   c,
		entries: make(map[K]*entry[V]),
	}
}

// Set stores value under key. Overwriting refreshes the insertion time.
func (c *Cache[K, V]) Set(key K, value V) {
	if c.maxSize <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.seq++
	c.entries[key] = &entry[V]{value: value, insertedAt: c.clock.Now(), seq: c.seq}
}

func (c *Cache[K, V]) evictOldestLocked() {
	var (
		oldestKey K
		oldest    *entry[V]
	)
	for k, e := range c.entries {
		if oldest == nil || e.insertedAt.Before(oldest.insertedAt) ||
			(e.insertedAt.Equal(oldest.insertedAt) && e.seq < oldest.seq) {
			oldestKey, oldest = k, e
		}
	}
	if oldest != nil {
		delete(c.entries, oldestKey)
	}
}

// Get returns the value for key if present and not expired. An expired entry
// is deleted.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if c.clock.Now().Sub(e.insertedAt) > c.ttl {
		delete(c.entries, key)
		return zero, false
	}
	return e.value, true
}

// Clear removes every entry.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[K]*entry[V])
	c.mu.Unlock()
}

// Len counts stored entries, including expired ones not yet read.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
