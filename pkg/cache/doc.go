// Package cache provides the bounded, TTL-evicted cache that memoizes
// expensive remote lookups for protocol sessions.
//
// The bounded cache combines two eviction policies: entries expire after a
// configurable TTL (checked lazily on every read), and insertion past the
// configured capacity evicts the least recently used entry (a read hit
// repositions the entry to most recently used). When a write pushes
// occupancy past 80% of capacity, expired entries are swept opportunistically
// before resorting to LRU eviction.
//
// QueryCache layers the domain contract on top: it maps
// (session identity, lookup key) to a remote NodeID with a composite key, so
// concurrent sessions sharing one instance stay isolated. Invalidation is
// idempotent. A cached NodeID is a last-known identifier, not a guarantee of
// current validity; callers revalidate against the live page before use.
//
// Statistics (hits, misses, sets, deletes, evictions, size) are always
// collected; pass WithMetrics to additionally export them to Prometheus.
package cache
