package cache

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueryCache(t *testing.T) *QueryCache {
	t.Helper()
	q, err := NewQueryCache(Config{Enabled: true, Capacity: 100, TTL: time.Minute})
	require.NoError(t, err)
	return q
}

func TestQueryCache_SetGet(t *testing.T) {
	q := newTestQueryCache(t)
	session := uuid.NewString()

	require.NoError(t, q.Set(session, "#login-button", NodeID(42)))

	id, ok := q.Get(session, "#login-button")
	assert.True(t, ok)
	assert.Equal(t, NodeID(42), id)

	_, ok = q.Get(session, "#other")
	assert.False(t, ok)
}

func TestQueryCache_SessionIsolation(t *testing.T) {
	q := newTestQueryCache(t)
	a := uuid.NewString()
	b := uuid.NewString()

	require.NoError(t, q.Set(a, ".item", NodeID(1)))
	require.NoError(t, q.Set(b, ".item", NodeID(2)))

	idA, ok := q.Get(a, ".item")
	require.True(t, ok)
	idB, ok := q.Get(b, ".item")
	require.True(t, ok)

	assert.Equal(t, NodeID(1), idA)
	assert.Equal(t, NodeID(2), idB)
}

func TestQueryCache_InvalidateIdempotent(t *testing.T) {
	q := newTestQueryCache(t)
	session := uuid.NewString()

	require.NoError(t, q.Set(session, "#el", NodeID(7)))
	require.NoError(t, q.Invalidate(session, "#el"))

	_, ok := q.Get(session, "#el")
	assert.False(t, ok, "a get after invalidate is a miss")

	// Second invalidation of the same key is a no-op, not an error
	assert.NoError(t, q.Invalidate(session, "#el"))
}

func TestQueryCache_InvalidateSession(t *testing.T) {
	q := newTestQueryCache(t)
	a := uuid.NewString()
	b := uuid.NewString()

	require.NoError(t, q.Set(a, "#one", NodeID(1)))
	require.NoError(t, q.Set(a, "#two", NodeID(2)))
	require.NoError(t, q.Set(b, "#one", NodeID(3)))

	require.NoError(t, q.InvalidateSession(a))

	_, ok := q.Get(a, "#one")
	assert.False(t, ok)
	_, ok = q.Get(a, "#two")
	assert.False(t, ok)

	id, ok := q.Get(b, "#one")
	assert.True(t, ok, "other sessions' entries survive")
	assert.Equal(t, NodeID(3), id)
}

func TestQueryCache_InvalidateAll(t *testing.T) {
	q := newTestQueryCache(t)

	require.NoError(t, q.Set(uuid.NewString(), "#a", NodeID(1)))
	require.NoError(t, q.Set(uuid.NewString(), "#b", NodeID(2)))

	require.NoError(t, q.InvalidateAll())
	assert.Equal(t, 0, q.Size())
}

func TestQueryCache_Disabled(t *testing.T) {
	q, err := NewQueryCache(Config{Enabled: false})
	require.NoError(t, err)

	require.NoError(t, q.Set("s", "#a", NodeID(1)))
	_, ok := q.Get("s", "#a")
	assert.False(t, ok)
}
