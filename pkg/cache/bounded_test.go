package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source for deterministic TTL tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(t *testing.T, capacity int, ttl time.Duration, opts ...Option[string]) (Cache[string], *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	opts = append(opts, withClock[string](clock.Now))
	c, err := New[string](Config{Enabled: true, Capacity: capacity, TTL: ttl}, opts...)
	require.NoError(t, err)
	return c, clock
}

func TestBounded_SetAndGet(t *testing.T) {
	c, _ := newTestCache(t, 10, time.Minute)

	created, err := c.Set("a", "1")
	require.NoError(t, err)
	assert.True(t, created)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	// Updating an existing key reports no new entry
	created, err = c.Set("a", "2")
	require.NoError(t, err)
	assert.False(t, created)

	v, _ = c.Get("a")
	assert.Equal(t, "2", v)
	assert.Equal(t, 1, c.Size())
}

func TestBounded_EmptyKeyRejected(t *testing.T) {
	c, _ := newTestCache(t, 10, time.Minute)

	_, err := c.Set("", "v")
	assert.Error(t, err)
	_, err = c.Delete("")
	assert.Error(t, err)
}

func TestBounded_CapacityEvictsLRU(t *testing.T) {
	c, _ := newTestCache(t, 3, time.Minute)

	for i := 0; i < 3; i++ {
		_, err := c.Set(fmt.Sprintf("k%d", i), "v")
		require.NoError(t, err)
	}

	// Touch k0 so k1 becomes least recently used
	_, ok := c.Get("k0")
	require.True(t, ok)

	// Inserting a 4th key evicts exactly the LRU entry (k1)
	_, err := c.Set("k3", "v")
	require.NoError(t, err)

	assert.Equal(t, 3, c.Size())
	_, ok = c.Get("k1")
	assert.False(t, ok, "least recently used entry should have been evicted")
	for _, k := range []string{"k0", "k2", "k3"} {
		_, ok := c.Get(k)
		assert.True(t, ok, "%s should survive", k)
	}
}

func TestBounded_TTLExpiry(t *testing.T) {
	c, clock := newTestCache(t, 10, time.Minute)

	_, err := c.Set("a", "1")
	require.NoError(t, err)

	clock.Advance(59 * time.Second)
	_, ok := c.Get("a")
	assert.True(t, ok, "entry is fresh before TTL")

	clock.Advance(2 * time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok, "entry past TTL must not be served")
	assert.Equal(t, 0, c.Size(), "lazy expiry removes the entry")
	assert.Equal(t, int64(1), c.Stats().Evictions())
}

func TestBounded_SetRefreshesTTL(t *testing.T) {
	c, clock := newTestCache(t, 10, time.Minute)

	_, _ = c.Set("a", "1")
	clock.Advance(45 * time.Second)
	_, _ = c.Set("a", "2")
	clock.Advance(45 * time.Second)

	v, ok := c.Get("a")
	assert.True(t, ok, "rewrite resets the entry's TTL")
	assert.Equal(t, "2", v)
}

func TestBounded_SweepAboveThreshold(t *testing.T) {
	// Capacity 10: the sweep triggers when a write pushes occupancy past 8
	c, clock := newTestCache(t, 10, time.Minute)

	for i := 0; i < 8; i++ {
		_, err := c.Set(fmt.Sprintf("old%d", i), "v")
		require.NoError(t, err)
	}

	// Expire everything inserted so far
	clock.Advance(2 * time.Minute)

	_, err := c.Set("fresh", "v")
	require.NoError(t, err)

	// The 9th insert crossed 80% occupancy and swept the 8 expired entries
	assert.Equal(t, 1, c.Size())
	assert.Equal(t, []string{"fresh"}, c.Keys())
	assert.Equal(t, int64(8), c.Stats().Evictions())
}

func TestBounded_DeleteIdempotent(t *testing.T) {
	c, _ := newTestCache(t, 10, time.Minute)

	_, _ = c.Set("a", "1")

	existed, err := c.Delete("a")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = c.Delete("a")
	require.NoError(t, err)
	assert.False(t, existed, "deleting an absent key is not an error")

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestBounded_Clear(t *testing.T) {
	c, _ := newTestCache(t, 10, time.Minute)

	for i := 0; i < 5; i++ {
		_, _ = c.Set(fmt.Sprintf("k%d", i), "v")
	}
	require.NoError(t, c.Clear())
	assert.Equal(t, 0, c.Size())
	assert.Empty(t, c.Keys())
}

func TestBounded_EvictionCallback(t *testing.T) {
	var mu sync.Mutex
	evicted := map[string]string{}

	clock := newFakeClock()
	c, err := New[string](Config{Enabled: true, Capacity: 2, TTL: time.Minute},
		withClock[string](clock.Now),
		WithEvictionCallback[string](func(key, value string) {
			mu.Lock()
			evicted[key] = value
			mu.Unlock()
		}))
	require.NoError(t, err)

	_, _ = c.Set("a", "1")
	_, _ = c.Set("b", "2")
	_, _ = c.Set("c", "3") // evicts a

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]string{"a": "1"}, evicted)
}

func TestBounded_KeysMostRecentFirst(t *testing.T) {
	c, _ := newTestCache(t, 10, time.Minute)

	_, _ = c.Set("a", "1")
	_, _ = c.Set("b", "2")
	_, _ = c.Get("a") // a becomes most recently used

	assert.Equal(t, []string{"a", "b"}, c.Keys())
}

func TestBounded_Stats(t *testing.T) {
	c, _ := newTestCache(t, 10, time.Minute)

	_, _ = c.Set("a", "1")
	_, _ = c.Get("a")
	_, _ = c.Get("missing")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits())
	assert.Equal(t, int64(1), stats.Misses())
	assert.Equal(t, int64(1), stats.Sets())
	assert.InDelta(t, 0.5, stats.HitRatio(), 0.001)

	summary := stats.Summary()
	assert.Equal(t, int64(1), summary.CurrentSize)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.NoError(t, Config{Enabled: false}.Validate())
	assert.Error(t, Config{Enabled: true, Capacity: 0, TTL: time.Minute}.Validate())
	assert.Error(t, Config{Enabled: true, Capacity: 10, TTL: 0}.Validate())
}

func TestNew_DisabledIsNoop(t *testing.T) {
	c, err := New[string](Config{Enabled: false})
	require.NoError(t, err)

	created, err := c.Set("a", "1")
	require.NoError(t, err)
	assert.False(t, created)

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Nil(t, c.Stats())
}

func TestBounded_ConcurrentAccess(t *testing.T) {
	c, _ := newTestCache(t, 100, time.Minute)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", i%50)
				_, _ = c.Set(key, "v")
				_, _ = c.Get(key)
				if i%10 == 0 {
					_, _ = c.Delete(key)
				}
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Size(), 100)
}
