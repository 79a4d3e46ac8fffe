package breaker

import (
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/cdpsession/errors"
)

// fakeClock is a manually advanced time source for deterministic tests.
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

func newTestBreaker(t *testing.T, threshold int, recovery time.Duration) (*Breaker, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	b, err := New("test.op", Config{
		FailureThreshold: threshold,
		RecoveryTimeout:  recovery,
	}, withClock(clock.Now))
	require.NoError(t, err)
	return b, clock
}

func TestBreaker_ClosedAllowsCalls(t *testing.T) {
	b, _ := newTestBreaker(t, 3, time.Minute)

	calls := 0
	err := b.Execute(func() error {
		calls++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_TripsAtExactThreshold(t *testing.T) {
	b, _ := newTestBreaker(t, 3, time.Minute)
	boom := stderrors.New("boom")

	for i := 0; i < 3; i++ {
		err := b.Execute(func() error { return boom })
		assert.True(t, stderrors.Is(err, boom), "failure %d propagates fn's error", i+1)
	}
	assert.Equal(t, StateOpen, b.State())

	// The next call fails fast without invoking fn
	calls := 0
	err := b.Execute(func() error {
		calls++
		return nil
	})
	assert.True(t, stderrors.Is(err, errors.ErrCircuitOpen))
	assert.Contains(t, err.Error(), "test.op")
	assert.Equal(t, 0, calls)
}

func TestBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(t, 3, time.Minute)
	boom := stderrors.New("boom")

	// Two failures, one success, two more failures: never trips because
	// failures must be consecutive
	_ = b.Execute(func() error { return boom })
	_ = b.Execute(func() error { return boom })
	_ = b.Execute(func() error { return nil })
	_ = b.Execute(func() error { return boom })
	_ = b.Execute(func() error { return boom })

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 2, b.Failures())
}

func TestBreaker_HalfOpenAfterRecoveryTimeout(t *testing.T) {
	b, clock := newTestBreaker(t, 1, 30*time.Second)

	_ = b.Execute(func() error { return stderrors.New("boom") })
	assert.Equal(t, StateOpen, b.State())

	// Still open before the timeout
	clock.Advance(29 * time.Second)
	assert.Equal(t, StateOpen, b.State())

	clock.Advance(time.Second)
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	b, clock := newTestBreaker(t, 1, 30*time.Second)

	_ = b.Execute(func() error { return stderrors.New("boom") })
	clock.Advance(30 * time.Second)

	err := b.Execute(func() error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Failures())
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(t, 1, 30*time.Second)
	boom := stderrors.New("still broken")

	_ = b.Execute(func() error { return stderrors.New("boom") })
	clock.Advance(30 * time.Second)

	err := b.Execute(func() error { return boom })
	assert.True(t, stderrors.Is(err, boom))
	assert.Equal(t, StateOpen, b.State())

	// Recovery timer was reset by the failed probe
	clock.Advance(29 * time.Second)
	assert.Equal(t, StateOpen, b.State())
	clock.Advance(time.Second)
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreaker_SingleProbeWhileHalfOpen(t *testing.T) {
	b, clock := newTestBreaker(t, 1, 30*time.Second)

	_ = b.Execute(func() error { return stderrors.New("boom") })
	clock.Advance(30 * time.Second)

	probeStarted := make(chan struct{})
	probeRelease := make(chan struct{})
	probeDone := make(chan error, 1)

	go func() {
		probeDone <- b.Execute(func() error {
			close(probeStarted)
			<-probeRelease
			return nil
		})
	}()

	<-probeStarted

	// A second call while the probe is in flight is rejected
	calls := 0
	err := b.Execute(func() error {
		calls++
		return nil
	})
	assert.True(t, stderrors.Is(err, errors.ErrCircuitOpen))
	assert.Equal(t, 0, calls)

	close(probeRelease)
	assert.NoError(t, <-probeDone)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	clock := newFakeClock()

	var mu sync.Mutex
	var transitions []string
	done := make(chan struct{}, 4)

	b, err := New("test.op", Config{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Second,
	}, withClock(clock.Now), WithStateChangeCallback(func(name string, from, to State) {
		mu.Lock()
		transitions = append(transitions, from.String()+"->"+to.String())
		mu.Unlock()
		done <- struct{}{}
	}))
	require.NoError(t, err)

	_ = b.Execute(func() error { return stderrors.New("boom") })
	<-done
	clock.Advance(time.Second)
	assert.Equal(t, StateHalfOpen, b.State())
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"closed->open", "open->half-open"}, transitions)
}

func TestBreaker_ConfigValidation(t *testing.T) {
	_, err := New("x", Config{FailureThreshold: 0, RecoveryTimeout: time.Second})
	assert.Error(t, err)

	_, err = New("x", Config{FailureThreshold: 1, RecoveryTimeout: 0})
	assert.Error(t, err)
}

func TestRegistry_PerOperationIsolation(t *testing.T) {
	r, err := NewRegistry(Config{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	require.NoError(t, err)

	_ = r.Execute("dom.query", func() error { return stderrors.New("boom") })

	// dom.query is tripped, page.navigate is unaffected
	err = r.Execute("dom.query", func() error { return nil })
	assert.True(t, stderrors.Is(err, errors.ErrCircuitOpen))

	err = r.Execute("page.navigate", func() error { return nil })
	assert.NoError(t, err)

	states := r.States()
	assert.Equal(t, StateOpen, states["dom.query"])
	assert.Equal(t, StateClosed, states["page.navigate"])
}

func TestRegistry_ReturnsSameBreaker(t *testing.T) {
	r, err := NewRegistry(Config{FailureThreshold: 3, RecoveryTimeout: time.Minute})
	require.NoError(t, err)

	assert.Same(t, r.Get("op"), r.Get("op"))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
