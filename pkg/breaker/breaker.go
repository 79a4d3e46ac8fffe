// Package breaker provides a circuit breaker guarding repeatedly failing
// operation classes.
package breaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/c360/cdpsession/errors"
)

// State represents the circuit breaker state
type State int

// Circuit breaker states
const (
	// StateClosed allows calls through; failures are counted
	StateClosed State = iota
	// StateOpen blocks calls and fails fast until the recovery timeout elapses
	StateOpen
	// StateHalfOpen admits a single probe call to test recovery
	StateHalfOpen
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config provides circuit breaker configuration
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips the breaker
	FailureThreshold int
	// RecoveryTimeout is how long the breaker stays open before admitting a probe
	RecoveryTimeout time.Duration
}

// DefaultConfig returns sensible defaults for circuit breaker operations
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
	}
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.FailureThreshold <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "breaker", "Validate",
			fmt.Sprintf("failure threshold must be positive, got %d", c.FailureThreshold))
	}
	if c.RecoveryTimeout <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "breaker", "Validate",
			fmt.Sprintf("recovery timeout must be positive, got %v", c.RecoveryTimeout))
	}
	return nil
}

// StateChangeCallback is invoked after every state transition.
// It is called outside the breaker's lock.
type StateChangeCallback func(name string, from, to State)

// Option configures breaker behavior using the functional options pattern.
type Option func(*Breaker)

// WithStateChangeCallback sets a callback invoked on state transitions.
func WithStateChangeCallback(fn StateChangeCallback) Option {
	return func(b *Breaker) {
		b.onStateChange = fn
	}
}

// withClock overrides the time source (for deterministic tests).
func withClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// Breaker is a circuit breaker for a single named operation class.
//
// State machine: closed counts consecutive failures and trips to open at the
// threshold; open fails fast until the recovery timeout has elapsed since the
// transition, then moves to half-open; half-open admits exactly one probe
// whose outcome deterministically moves the breaker to closed (success) or
// back to open (failure, resetting the recovery timer).
type Breaker struct {
	name string
	cfg  Config
	now  func() time.Time

	mu             sync.Mutex
	state          State
	failures       int
	lastTransition time.Time
	probeInFlight  bool

	onStateChange StateChangeCallback
}

// New creates a circuit breaker for the named operation class.
func New(name string, cfg Config, opts ...Option) (*Breaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Breaker{
		name:  name,
		cfg:   cfg,
		now:   time.Now,
		state: StateClosed,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	b.lastTransition = b.now()
	return b, nil
}

// Name returns the operation class this breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current breaker state, promoting open to half-open when
// the recovery timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

// Failures returns the current consecutive-failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// stateLocked evaluates time-based promotion. Must be called with mu held.
func (b *Breaker) stateLocked() State {
	if b.state == StateOpen && b.now().Sub(b.lastTransition) >= b.cfg.RecoveryTimeout {
		b.transitionLocked(StateHalfOpen)
	}
	return b.state
}

// transitionLocked records a state change. Must be called with mu held.
func (b *Breaker) transitionLocked(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.lastTransition = b.now()
	if to != StateHalfOpen {
		b.probeInFlight = false
	}

	if b.onStateChange != nil {
		// Deliver outside the lock
		go b.onStateChange(b.name, from, to)
	}
}

// Execute runs fn under the breaker's policy: fast-fail while open, a single
// probe while half-open, counted execution while closed. fn's error is
// propagated unchanged so callers keep the original cause.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	switch b.stateLocked() {
	case StateOpen:
		b.mu.Unlock()
		return fmt.Errorf("%w: operation %q blocked", errors.ErrCircuitOpen, b.name)
	case StateHalfOpen:
		if b.probeInFlight {
			// Only one probe is admitted while half-open
			b.mu.Unlock()
			return fmt.Errorf("%w: operation %q probe in flight", errors.ErrCircuitOpen, b.name)
		}
		b.probeInFlight = true
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		// Success closes the breaker and resets the consecutive-failure count
		b.failures = 0
		b.transitionLocked(StateClosed)
		return nil
	}

	switch b.state {
	case StateHalfOpen:
		// Failed probe re-opens and resets the recovery timer
		b.probeInFlight = false
		b.transitionLocked(StateOpen)
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transitionLocked(StateOpen)
		}
	}

	return err
}

// Registry holds one breaker per named operation class.
type Registry struct {
	cfg  Config
	opts []Option

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates a breaker registry. Every breaker it creates shares the
// same configuration and options.
func NewRegistry(cfg Config, opts ...Option) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Registry{
		cfg:      cfg,
		opts:     opts,
		breakers: make(map[string]*Breaker),
	}, nil
}

// Get returns the breaker for the named operation class, creating it on
// first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	// Config was validated at registry construction
	b, _ := New(name, r.cfg, r.opts...)
	r.breakers[name] = b
	return b
}

// Execute runs fn under the breaker for the named operation class.
func (r *Registry) Execute(name string, fn func() error) error {
	return r.Get(name).Execute(fn)
}

// States returns a snapshot of all breaker states keyed by operation name.
func (r *Registry) States() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make(map[string]State, len(r.breakers))
	for name, b := range r.breakers {
		states[name] = b.State()
	}
	return states
}
