package cache

import (
	"container/list"
	"sync"
	"time"
)

// boundedEntry is an entry in the bounded cache.
type boundedEntry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// boundedCache combines LRU and TTL eviction. Items are evicted when the
// cache exceeds its capacity (least recently used first) or when they expire.
// Expiry is checked lazily on every read; expired entries are additionally
// swept opportunistically whenever occupancy crosses the sweep threshold
// (80% of capacity) on a write.
type boundedCache[V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*list.Element
	order    *list.List // front = most recently used
	stats    *Statistics
	metrics  *cacheMetrics
	evictFn  EvictCallback[V]
	now      func() time.Time
}

// sweepThreshold is the occupancy fraction above which a write triggers an
// opportunistic sweep of expired entries.
const sweepThreshold = 0.8

func newBoundedCache[V any](capacity int, ttl time.Duration, opts *cacheOptions[V]) (*boundedCache[V], error) {
	var metrics *cacheMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, err
		}
	}

	now := opts.now
	if now == nil {
		now = time.Now
	}

	return &boundedCache[V]{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		stats:    NewStatistics(),
		metrics:  metrics,
		evictFn:  opts.evictCallback,
		now:      now,
	}, nil
}

// Get retrieves a value by key. An entry past its TTL is removed and reported
// as a miss; a hit repositions the entry as most recently used.
func (c *boundedCache[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.Lock()

	element, exists := c.items[key]
	if !exists {
		c.recordMissLocked()
		c.mu.Unlock()
		return zero, false
	}

	entry := element.Value.(*boundedEntry[V])
	if c.now().After(entry.expiresAt) {
		c.removeElementLocked(element)
		c.stats.Eviction()
		if c.metrics != nil {
			c.metrics.recordEviction()
			c.metrics.updateSize(len(c.items))
		}
		c.recordMissLocked()
		c.mu.Unlock()

		if c.evictFn != nil {
			c.evictFn(entry.key, entry.value)
		}
		return zero, false
	}

	c.order.MoveToFront(element)
	c.stats.Hit()
	if c.metrics != nil {
		c.metrics.recordHit()
	}
	value := entry.value
	c.mu.Unlock()
	return value, true
}

// Set stores a value, refreshing TTL and LRU position for existing keys.
// Insertion past capacity evicts the least recently used entry.
func (c *boundedCache[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	expiresAt := c.now().Add(c.ttl)

	var evicted []*boundedEntry[V]

	c.mu.Lock()

	if element, exists := c.items[key]; exists {
		entry := element.Value.(*boundedEntry[V])
		entry.value = value
		entry.expiresAt = expiresAt
		c.order.MoveToFront(element)

		c.stats.Set()
		if c.metrics != nil {
			c.metrics.recordSet()
		}
		c.mu.Unlock()
		return false, nil
	}

	entry := &boundedEntry[V]{key: key, value: value, expiresAt: expiresAt}
	element := c.order.PushFront(entry)
	c.items[key] = element

	// Opportunistic sweep once occupancy crosses the threshold; this may
	// free enough room to avoid evicting a live entry below.
	if float64(len(c.items)) > sweepThreshold*float64(c.capacity) {
		evicted = append(evicted, c.sweepExpiredLocked()...)
	}

	if len(c.items) > c.capacity {
		if victim := c.order.Back(); victim != nil {
			ve := victim.Value.(*boundedEntry[V])
			c.removeElementLocked(victim)
			c.stats.Eviction()
			if c.metrics != nil {
				c.metrics.recordEviction()
			}
			evicted = append(evicted, ve)
		}
	}

	c.stats.Set()
	c.stats.UpdateSize(int64(len(c.items)))
	if c.metrics != nil {
		c.metrics.recordSet()
		c.metrics.updateSize(len(c.items))
	}
	c.mu.Unlock()

	// Eviction callbacks run outside the lock to prevent deadlock
	if c.evictFn != nil {
		for _, e := range evicted {
			c.evictFn(e.key, e.value)
		}
	}

	return true, nil
}

// Delete removes an entry by key. Absent keys are not an error.
func (c *boundedCache[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	element, exists := c.items[key]
	if !exists {
		c.mu.Unlock()
		return false, nil
	}

	entry := element.Value.(*boundedEntry[V])
	c.removeElementLocked(element)

	c.stats.Delete()
	c.stats.UpdateSize(int64(len(c.items)))
	if c.metrics != nil {
		c.metrics.recordDelete()
		c.metrics.updateSize(len(c.items))
	}
	c.mu.Unlock()

	if c.evictFn != nil {
		c.evictFn(entry.key, entry.value)
	}
	return true, nil
}

// Clear removes all entries from the cache.
func (c *boundedCache[V]) Clear() error {
	var evicted []*boundedEntry[V]

	c.mu.Lock()
	if c.evictFn != nil {
		evicted = make([]*boundedEntry[V], 0, len(c.items))
		for element := c.order.Back(); element != nil; element = element.Prev() {
			evicted = append(evicted, element.Value.(*boundedEntry[V]))
		}
	}

	c.items = make(map[string]*list.Element)
	c.order.Init()

	c.stats.UpdateSize(0)
	if c.metrics != nil {
		c.metrics.updateSize(0)
	}
	c.mu.Unlock()

	if c.evictFn != nil {
		for _, e := range evicted {
			c.evictFn(e.key, e.value)
		}
	}
	return nil
}

// Size returns the current number of entries, expired or not.
func (c *boundedCache[V]) Size() int {
	c.mu.Lock()
	size := len(c.items)
	c.mu.Unlock()
	return size
}

// Keys returns all unexpired keys, most recently used first.
func (c *boundedCache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.items))
	now := c.now()
	for element := c.order.Front(); element != nil; element = element.Next() {
		entry := element.Value.(*boundedEntry[V])
		if now.Before(entry.expiresAt) {
			keys = append(keys, entry.key)
		}
	}
	return keys
}

// Stats returns cache statistics.
func (c *boundedCache[V]) Stats() *Statistics {
	return c.stats
}

// Close shuts down the cache. The bounded cache has no background goroutines.
func (c *boundedCache[V]) Close() error {
	return nil
}

// recordMissLocked tracks a miss. Must be called with mu held.
func (c *boundedCache[V]) recordMissLocked() {
	c.stats.Miss()
	if c.metrics != nil {
		c.metrics.recordMiss()
	}
}

// removeElementLocked removes an element from both the list and map.
// Must be called with mu held. Does not invoke the eviction callback.
func (c *boundedCache[V]) removeElementLocked(element *list.Element) {
	entry := element.Value.(*boundedEntry[V])
	delete(c.items, entry.key)
	c.order.Remove(element)
}

// sweepExpiredLocked removes all expired entries and returns them so the
// caller can run eviction callbacks outside the lock. Must be called with
// mu held.
func (c *boundedCache[V]) sweepExpiredLocked() []*boundedEntry[V] {
	now := c.now()
	var expired []*boundedEntry[V]

	for element := c.order.Front(); element != nil; {
		next := element.Next()
		entry := element.Value.(*boundedEntry[V])
		if now.After(entry.expiresAt) {
			expired = append(expired, entry)
			c.removeElementLocked(element)
			c.stats.Eviction()
			if c.metrics != nil {
				c.metrics.recordEviction()
			}
		}
		element = next
	}

	if len(expired) > 0 {
		c.stats.UpdateSize(int64(len(c.items)))
		if c.metrics != nil {
			c.metrics.updateSize(len(c.items))
		}
	}
	return expired
}
