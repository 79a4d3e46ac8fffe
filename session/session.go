package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/cdpsession/connection"
	"github.com/c360/cdpsession/discovery"
	"github.com/c360/cdpsession/errors"
	"github.com/c360/cdpsession/health"
	"github.com/c360/cdpsession/metric"
	"github.com/c360/cdpsession/pkg/breaker"
	"github.com/c360/cdpsession/pkg/cache"
	"github.com/c360/cdpsession/pkg/retry"
)

// transport is the slice of the connection manager the session writes
// through. Narrowed for testability.
type transport interface {
	WriteCommand(data []byte) error
	Close() error
}

// outcome resolves one pending request
type outcome struct {
	result json.RawMessage
	err    error
}

// pendingRequest tracks one in-flight command until its reply, timeout, or
// the channel dropping resolves it
type pendingRequest struct {
	id       int64
	method   string
	timeout  time.Duration
	issuedAt time.Time
	timer    *time.Timer
	done     chan outcome
}

// Session is the protocol client: it correlates command replies by id and
// composes the retry and circuit-breaker policies over the managed channel.
type Session struct {
	id      string
	cfg     Config
	logger  *slog.Logger
	metrics *metric.Metrics

	transport transport
	mgr       *connection.Manager

	nextID atomic.Int64

	pendingMu sync.Mutex
	pending   map[int64]*pendingRequest

	breakers    *breaker.Registry
	queries     *cache.QueryCache
	sharedCache bool
	monitor     *health.Monitor
	events      chan Event

	closeOnce sync.Once
}

// Option configures a Session
type Option func(*Session)

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics wires session metrics into the core registry
func WithMetrics(metrics *metric.Metrics) Option {
	return func(s *Session) {
		s.metrics = metrics
	}
}

// WithQueryCache shares an existing query cache instead of the session
// owning a private one
func WithQueryCache(queries *cache.QueryCache) Option {
	return func(s *Session) {
		s.queries = queries
		s.sharedCache = true
	}
}

// WithHealthMonitor wires channel health reporting into a monitor
func WithHealthMonitor(monitor *health.Monitor) Option {
	return func(s *Session) {
		s.monitor = monitor
	}
}

// New creates a session and the connection manager underneath it. The
// channel is not dialed until Open.
func New(cfg Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		id:      uuid.NewString(),
		cfg:     cfg,
		logger:  slog.Default(),
		pending: make(map[int64]*pendingRequest),
		events:  make(chan Event, cfg.EventBuffer),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("session_id", s.id)

	breakers, err := breaker.NewRegistry(cfg.Breaker, s.breakerOptions()...)
	if err != nil {
		return nil, err
	}
	s.breakers = breakers

	if s.queries == nil {
		queries, err := cache.NewQueryCache(cfg.Cache)
		if err != nil {
			return nil, err
		}
		s.queries = queries
	}

	discOpts := []discovery.Option{discovery.WithLogger(s.logger)}
	if s.metrics != nil {
		discOpts = append(discOpts, discovery.WithMetrics(s.metrics))
	}
	disc, err := discovery.New(cfg.Discovery, discOpts...)
	if err != nil {
		return nil, err
	}

	connOpts := []connection.Option{
		connection.WithLogger(s.logger),
		connection.WithMessageHandler(s.handleMessage),
		connection.WithDropHandler(s.failAllPending),
	}
	if s.metrics != nil {
		connOpts = append(connOpts, connection.WithMetrics(s.metrics))
	}
	if s.monitor != nil {
		connOpts = append(connOpts, connection.WithHealthMonitor(s.monitor))
	}
	mgr, err := connection.NewManager(cfg.Connection, disc, connOpts...)
	if err != nil {
		return nil, err
	}
	s.mgr = mgr
	s.transport = mgr

	return s, nil
}

// newWithTransport builds a session over a caller-supplied transport.
// Inbound traffic is injected through handleMessage.
func newWithTransport(cfg Config, tr transport, opts ...Option) (*Session, error) {
	s := &Session{
		id:        uuid.NewString(),
		cfg:       cfg,
		logger:    slog.Default(),
		pending:   make(map[int64]*pendingRequest),
		events:    make(chan Event, cfg.EventBuffer),
		transport: tr,
	}
	for _, opt := range opts {
		opt(s)
	}

	breakers, err := breaker.NewRegistry(cfg.Breaker, s.breakerOptions()...)
	if err != nil {
		return nil, err
	}
	s.breakers = breakers

	if s.queries == nil {
		queries, err := cache.NewQueryCache(cfg.Cache)
		if err != nil {
			return nil, err
		}
		s.queries = queries
	}
	return s, nil
}

func (s *Session) breakerOptions() []breaker.Option {
	if s.metrics == nil {
		return nil
	}
	return []breaker.Option{breaker.WithStateChangeCallback(s.metrics.ObserveBreakerState)}
}

// ID returns the session identity used for cache keying and log correlation
func (s *Session) ID() string {
	return s.id
}

// Cache returns the session's query cache
func (s *Session) Cache() *cache.QueryCache {
	return s.queries
}

// Breakers returns the per-operation circuit breaker registry
func (s *Session) Breakers() *breaker.Registry {
	return s.breakers
}

// Events returns the passthrough channel for unsolicited protocol events
func (s *Session) Events() <-chan Event {
	return s.events
}

// ConnectionEvents returns the channel lifecycle notifications
func (s *Session) ConnectionEvents() <-chan connection.Event {
	return s.mgr.Events()
}

// Open discovers a target and establishes the channel
func (s *Session) Open(ctx context.Context) error {
	if s.mgr == nil {
		return nil
	}
	return s.mgr.Open(ctx)
}

// Close shuts the session down, failing anything still in flight
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.transport != nil {
			err = s.transport.Close()
		}
		s.failAllPending(errors.ErrConnectionClosed)
		if !s.sharedCache {
			_ = s.queries.Close()
		}
		close(s.events)
	})
	return err
}

// Send issues one command and blocks until its reply, its own timeout, or
// ctx resolves it. A zero timeout uses the configured default. The reply is
// matched purely by id, so out-of-order replies across concurrent senders
// resolve correctly.
func (s *Session) Send(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}

	id := s.nextID.Add(1)
	payload, err := json.Marshal(request{ID: id, Method: method, Params: params})
	if err != nil {
		return nil, errors.WrapInvalid(err, "session", "Send", "marshal command")
	}

	req := &pendingRequest{
		id:       id,
		method:   method,
		timeout:  timeout,
		issuedAt: time.Now(),
		done:     make(chan outcome, 1),
	}
	// Each request owns its timer; firing fails only this request. Armed
	// before registration so everyone who can see the entry sees the timer.
	req.timer = time.AfterFunc(timeout, func() {
		s.resolveTimeout(id)
	})

	// Register before writing so a reply racing the write still matches
	s.pendingMu.Lock()
	s.pending[id] = req
	s.pendingMu.Unlock()

	if err := s.transport.WriteCommand(payload); err != nil {
		s.discard(id)
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.CommandsSent.WithLabelValues(method).Inc()
	}

	select {
	case out := <-req.done:
		return out.result, out.err
	case <-ctx.Done():
		s.discard(id)
		return nil, errors.WrapTransient(ctx.Err(), "session", "Send", "await reply for "+method)
	}
}

// Call wraps Send in the full resilience policy for one operation class:
// the breaker fast-fails when open, otherwise the retry executor drives
// bounded attempts with backoff.
func (s *Session) Call(ctx context.Context, operation, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	var result json.RawMessage
	err := s.breakers.Execute(operation, func() error {
		var innerErr error
		result, innerErr = retry.DoWithResult(ctx, s.cfg.Retry, operation, func() (json.RawMessage, error) {
			return s.Send(ctx, method, params, timeout)
		})
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// handleMessage is the single inbound dispatch point: replies resolve their
// pending request by id, everything else passes through as an event.
func (s *Session) handleMessage(data []byte) {
	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		s.logger.Warn("dropping unparseable inbound message", "error", err)
		return
	}

	if resp.ID == 0 {
		s.dispatchEvent(resp)
		return
	}

	s.pendingMu.Lock()
	req, found := s.pending[resp.ID]
	if found {
		delete(s.pending, resp.ID)
	}
	s.pendingMu.Unlock()

	if !found {
		// A late reply after its timeout fired, or someone else's id
		s.logger.Debug("reply with no pending request", "id", resp.ID)
		return
	}

	req.timer.Stop()

	if resp.Error != nil {
		if s.metrics != nil {
			s.metrics.ProtocolErrors.WithLabelValues(req.method).Inc()
		}
		req.done <- outcome{err: errors.Protocol(req.method, req.id, resp.Error.Code, resp.Error.Message)}
		return
	}

	if s.metrics != nil {
		s.metrics.RepliesMatched.WithLabelValues(req.method).Inc()
	}
	req.done <- outcome{result: resp.Result}
}

func (s *Session) dispatchEvent(resp response) {
	if resp.Method == "" {
		s.logger.Debug("dropping message with neither id nor method")
		return
	}
	if s.metrics != nil {
		s.metrics.EventsReceived.Inc()
	}
	select {
	case s.events <- Event{Method: resp.Method, Params: resp.Params}:
	default:
		// Consumers that fall behind lose events rather than stalling
		// reply correlation
		s.logger.Warn("event buffer full, dropping event", "method", resp.Method)
	}
}

// resolveTimeout fails a single request whose timer fired, leaving every
// other pending request untouched.
func (s *Session) resolveTimeout(id int64) {
	s.pendingMu.Lock()
	req, found := s.pending[id]
	if found {
		delete(s.pending, id)
	}
	s.pendingMu.Unlock()

	if !found {
		return
	}

	if s.metrics != nil {
		s.metrics.RequestTimeouts.WithLabelValues(req.method).Inc()
	}
	req.done <- outcome{err: errors.RequestTimeout(req.method, req.id, req.timeout)}
}

// discard removes a pending request without delivering an outcome; used
// when the caller already has its error.
func (s *Session) discard(id int64) {
	s.pendingMu.Lock()
	req, found := s.pending[id]
	if found {
		delete(s.pending, id)
	}
	s.pendingMu.Unlock()

	if found && req.timer != nil {
		req.timer.Stop()
	}
}

// failAllPending resolves every in-flight request with the drop cause. The
// reconnected channel never replays them; retrying is the policy layer's
// decision.
func (s *Session) failAllPending(cause error) {
	s.pendingMu.Lock()
	dropped := make([]*pendingRequest, 0, len(s.pending))
	for id, req := range s.pending {
		dropped = append(dropped, req)
		delete(s.pending, id)
	}
	s.pendingMu.Unlock()

	if len(dropped) > 0 {
		s.logger.Warn("failing in-flight requests on channel drop",
			"count", len(dropped), "cause", cause)
	}

	for _, req := range dropped {
		if req.timer != nil {
			req.timer.Stop()
		}
		// Plain Wrap keeps the cause's own retryability classification:
		// a reconnecting drop stays transient, an explicit close stays fatal
		req.done <- outcome{err: errors.Wrap(cause, "session", "failAllPending",
			"deliver reply for "+req.method)}
	}

	// Cached node ids belong to the dropped page world
	_ = s.queries.InvalidateSession(s.id)
}

// PendingCount reports how many requests are currently awaiting replies
func (s *Session) PendingCount() int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return len(s.pending)
}
