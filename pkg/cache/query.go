package cache

import (
	"strings"
)

// NodeID is an opaque remote node identifier returned by DOM lookups.
// A cached NodeID is a last-known value, not a guarantee of current validity:
// callers must revalidate against the live page before trusting it (the
// referenced element may have been removed since the lookup).
type NodeID int64

// keySeparator joins session identity and lookup key into a composite key.
// NUL never appears in selector strings or UUIDs.
const keySeparator = "\x00"

// QueryCache memoizes expensive remote node lookups per session. Keys are
// composed from the owning session's identity and the lookup key (typically
// a selector string), so sessions sharing one cache instance never observe
// each other's entries.
type QueryCache struct {
	cache Cache[NodeID]
}

// NewQueryCache creates a query cache with the given configuration.
func NewQueryCache(cfg Config, options ...Option[NodeID]) (*QueryCache, error) {
	c, err := New[NodeID](cfg, options...)
	if err != nil {
		return nil, err
	}
	return &QueryCache{cache: c}, nil
}

// compositeKey builds the session-scoped cache key.
func compositeKey(sessionID, key string) string {
	return sessionID + keySeparator + key
}

// Get returns the cached node id for (session, key), if present and fresh.
func (q *QueryCache) Get(sessionID, key string) (NodeID, bool) {
	return q.cache.Get(compositeKey(sessionID, key))
}

// Set stores a node id for (session, key).
func (q *QueryCache) Set(sessionID, key string, id NodeID) error {
	_, err := q.cache.Set(compositeKey(sessionID, key), id)
	return err
}

// Invalidate removes the entry for (session, key). Removing an absent entry
// is a no-op.
func (q *QueryCache) Invalidate(sessionID, key string) error {
	_, err := q.cache.Delete(compositeKey(sessionID, key))
	return err
}

// InvalidateSession removes every entry belonging to the given session.
func (q *QueryCache) InvalidateSession(sessionID string) error {
	prefix := sessionID + keySeparator
	for _, key := range q.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			if _, err := q.cache.Delete(key); err != nil {
				return err
			}
		}
	}
	return nil
}

// InvalidateAll removes every entry in the cache.
func (q *QueryCache) InvalidateAll() error {
	return q.cache.Clear()
}

// Size returns the current number of entries.
func (q *QueryCache) Size() int {
	return q.cache.Size()
}

// Stats returns cache statistics (nil when caching is disabled).
func (q *QueryCache) Stats() *Statistics {
	return q.cache.Stats()
}

// Close releases cache resources.
func (q *QueryCache) Close() error {
	return q.cache.Close()
}
