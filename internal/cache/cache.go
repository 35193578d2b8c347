// Package cache provides a bounded LRU cache that coalesces concurrent
// lookups for the same missing key into a single computation.
package cache

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

var errNilCompute = errors.New("cache: compute func is nil")

// Stats mirrors the cache counters exposed for diagnostics. Share counts
// lookups that waited on another caller's in-flight computation instead of
// running their own; Load counts compute executions, Store successful inserts.
type Stats struct {
	Hit   uint64
	Share uint64
	Miss  uint64
	Evict uint64
	Store uint64
	Load  uint64
	Erase uint64
	Clear uint64
	Size  uint64
}

// Options configures a Cache.
type Options[K comparable] struct {
	// Capacity bounds the number of resident entries. Values below 1 are
	// clamped to 1.
	Capacity int
	// KeyString encodes a key for in-flight deduplication. Defaults to
	// fmt.Sprintf("%v", key).
	KeyString func(K) string
}

// Cache is a capacity-bounded key/value store with strict LRU eviction.
// Concurrent misses for the same key share a single computation; misses for
// distinct keys proceed independently.
type Cache[K comparable, V any] struct {
	capacity  int
	keyString func(K) string
	group     singleflight.Group

	mu      sync.Mutex
	entries *lru.Cache[K, V]

	hit   atomic.Uint64
	share atomic.Uint64
	miss  atomic.Uint64
	evict atomic.Uint64
	store atomic.Uint64
	load  atomic.Uint64
	erase atomic.Uint64
	clear atomic.Uint64
}

func New[K comparable, V any](capacity int) *Cache[K, V] {
	return NewWithOptions[K, V](Options[K]{Capacity: capacity})
}

func NewWithOptions[K comparable, V any](options Options[K]) *Cache[K, V] {
	capacity := options.Capacity
	if capacity < 1 {
		capacity = 1
	}
	keyString := options.KeyString
	if keyString == nil {
		keyString = func(key K) string { return fmt.Sprintf("%v", key) }
	}

	entries, _ := lru.New[K, V](capacity)
	return &Cache[K, V]{
		capacity:  capacity,
		keyString: keyString,
		entries:   entries,
	}
}

// GetOrCompute returns the cached value for key, computing and storing it on
// a miss. The compute func runs at most once per key at any time; concurrent
// callers for the same missing key block on the in-flight computation and
// share its result. A failed computation stores nothing and every waiter
// observes the error; the key is immediately eligible for retry.
func (c *Cache[K, V]) GetOrCompute(key K, compute func() (V, error)) (V, error) {
	var zero V
	if c == nil || compute == nil {
		return zero, errNilCompute
	}

	if value, ok := c.get(key); ok {
		c.hit.Add(1)
		return value, nil
	}

	executed := false
	result, err, _ := c.group.Do(c.keyString(key), func() (any, error) {
		executed = true
		// An earlier flight for this key may have committed between our
		// miss and acquiring the flight slot.
		if value, ok := c.get(key); ok {
			c.hit.Add(1)
			return value, nil
		}

		c.miss.Add(1)
		c.load.Add(1)
		value, err := compute()
		if err != nil {
			return nil, err
		}
		c.add(key, value)
		return value, nil
	})
	if !executed {
		c.share.Add(1)
	}
	if err != nil {
		return zero, err
	}
	return result.(V), nil
}

// Peek returns the cached value without recording a hit or refreshing
// recency.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	var zero V
	if c == nil {
		return zero, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.entries.Peek(key)
	if !ok {
		return zero, false
	}
	return value, true
}

// Erase drops key from the cache if present.
func (c *Cache[K, V]) Erase(key K) {
	if c == nil {
		return
	}
	c.mu.Lock()
	removed := c.entries.Remove(key)
	c.mu.Unlock()
	if removed {
		c.erase.Add(1)
	}
}

// Clear empties the cache and zeroes every counter except the clear counter,
// which records the clear itself. Capacity is unchanged.
func (c *Cache[K, V]) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries.Purge()
	c.hit.Store(0)
	c.share.Store(0)
	c.miss.Store(0)
	c.evict.Store(0)
	c.store.Store(0)
	c.load.Store(0)
	c.erase.Store(0)
	c.clear.Add(1)
	c.mu.Unlock()
}

func (c *Cache[K, V]) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	c.mu.Lock()
	size := c.entries.Len()
	c.mu.Unlock()
	return Stats{
		Hit:   c.hit.Load(),
		Share: c.share.Load(),
		Miss:  c.miss.Load(),
		Evict: c.evict.Load(),
		Store: c.store.Load(),
		Load:  c.load.Load(),
		Erase: c.erase.Load(),
		Clear: c.clear.Load(),
		Size:  uint64(size),
	}
}

func (c *Cache[K, V]) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

func (c *Cache[K, V]) Capacity() int {
	if c == nil {
		return 0
	}
	return c.capacity
}

func (c *Cache[K, V]) get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Get(key)
}

func (c *Cache[K, V]) add(key K, value V) {
	c.mu.Lock()
	evicted := c.entries.Add(key, value)
	c.mu.Unlock()
	c.store.Add(1)
	if evicted {
		c.evict.Add(1)
	}
}
