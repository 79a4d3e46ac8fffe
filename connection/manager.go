package connection

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/cdpsession/discovery"
	"github.com/c360/cdpsession/errors"
	"github.com/c360/cdpsession/health"
	"github.com/c360/cdpsession/metric"
)

// MessageHandler receives every inbound text message from the channel.
// It is invoked from the read loop; implementations must not block.
type MessageHandler func(data []byte)

// DropHandler is invoked once per connection loss, before any reconnection
// attempt, so the session layer can fail its in-flight requests. Requests
// are never replayed after a reconnect.
type DropHandler func(cause error)

// Manager owns a single WebSocket channel to a discovered target and layers
// heartbeat monitoring, crash detection, and guarded auto-reconnection on
// top of it.
type Manager struct {
	cfg     Config
	disc    *discovery.Discoverer
	logger  *slog.Logger
	metrics *metric.Metrics
	monitor *health.Monitor

	onMessage MessageHandler
	onDrop    DropHandler

	events chan Event

	mu           sync.Mutex
	state        State
	conn         *websocket.Conn
	target       discovery.Target
	gen          uint64 // bumped on every install/teardown; stale read loops no-op
	reconnecting bool
	startedAt    time.Time

	// gorilla/websocket permits one concurrent writer; control frames from
	// the heartbeat share this lock with command writes
	writeMu sync.Mutex

	hbMu         sync.Mutex
	lastPingSent time.Time
	lastPongAck  time.Time
	missedPongs  int

	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics wires connection metrics into the core registry
func WithMetrics(metrics *metric.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithHealthMonitor wires channel and heartbeat status into a health monitor
func WithHealthMonitor(monitor *health.Monitor) Option {
	return func(m *Manager) {
		m.monitor = monitor
	}
}

// WithMessageHandler sets the inbound message callback
func WithMessageHandler(handler MessageHandler) Option {
	return func(m *Manager) {
		m.onMessage = handler
	}
}

// WithDropHandler sets the connection-loss callback
func WithDropHandler(handler DropHandler) Option {
	return func(m *Manager) {
		m.onDrop = handler
	}
}

// NewManager creates a connection manager that discovers targets through disc
func NewManager(cfg Config, disc *discovery.Discoverer, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if disc == nil {
		return nil, fmt.Errorf("%w: discoverer is required", errors.ErrMissingConfig)
	}

	m := &Manager{
		cfg:      cfg,
		disc:     disc,
		logger:   slog.Default(),
		state:    StateConnecting,
		events:   make(chan Event, 16),
		shutdown: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// State returns the current connection state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Target returns the currently connected target descriptor
func (m *Manager) Target() discovery.Target {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target
}

// Events returns the lifecycle notification channel. It is closed on
// explicit shutdown.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Open discovers a target and establishes the channel, then arms heartbeat
// and crash detection. It is not safe to call concurrently with itself.
func (m *Manager) Open(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return errors.ErrConnectionClosed
	}
	if m.conn != nil {
		m.mu.Unlock()
		return nil
	}
	m.startedAt = time.Now()
	m.mu.Unlock()
	m.setState(StateConnecting)

	target, err := m.disc.Discover(ctx)
	if err != nil {
		m.setState(StateClosed)
		return err
	}

	conn, err := m.dial(ctx, target.WebSocketDebuggerURL)
	if err != nil {
		m.setState(StateClosed)
		return err
	}

	if !m.install(conn, target) {
		return errors.ErrConnectionClosed
	}

	m.wg.Add(2)
	go m.heartbeatLoop()
	go m.crashLoop()

	return nil
}

// WriteCommand writes one outbound text frame. It fails immediately when
// the channel is not live; resilience is the policy layer's job, not hidden
// buffering here.
func (m *Manager) WriteCommand(data []byte) error {
	m.mu.Lock()
	conn := m.conn
	state := m.state
	m.mu.Unlock()

	if conn == nil || !state.writable() {
		return fmt.Errorf("%w: connection state is %s", errors.ErrChannelNotOpen, state)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.WrapTransient(err, "connection", "WriteCommand", "write frame")
	}
	return nil
}

// Close shuts the connection down permanently. The connection cannot be
// reopened; callers needing a fresh channel create a new Manager.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		conn := m.conn
		m.conn = nil
		m.gen++
		m.state = StateClosed
		m.mu.Unlock()

		close(m.shutdown)

		if conn != nil {
			m.writeMu.Lock()
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			m.writeMu.Unlock()
			_ = conn.Close()
		}

		if m.onDrop != nil {
			m.onDrop(errors.ErrConnectionClosed)
		}

		m.publishState(StateClosed)
		m.emit(Event{Type: EventClosed, Timestamp: time.Now()})
		m.wg.Wait()
		close(m.events)
	})
	return nil
}

// install hands a freshly dialed connection to the manager and starts its
// read loop. Heartbeat bookkeeping restarts from a clean slate. The closed
// check and the handover happen under one lock: a manager closed while the
// dial was in flight discards the connection instead of installing it, so
// no read loop can outlive Close.
func (m *Manager) install(conn *websocket.Conn, target discovery.Target) bool {
	conn.SetPongHandler(func(string) error {
		m.notePong()
		return nil
	})

	m.hbMu.Lock()
	m.lastPingSent = time.Time{}
	m.lastPongAck = time.Now()
	m.missedPongs = 0
	m.hbMu.Unlock()

	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		_ = conn.Close()
		return false
	}
	m.conn = conn
	m.target = target
	m.gen++
	gen := m.gen
	m.state = StateOpen
	m.mu.Unlock()

	m.publishState(StateOpen)
	m.logger.Info("channel established",
		"target_id", target.ID,
		"url", target.WebSocketDebuggerURL)

	m.wg.Add(1)
	go m.readLoop(conn, gen)
	return true
}

func (m *Manager) dial(ctx context.Context, wsURL string) (*websocket.Conn, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: m.cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, classifyHandshakeError(err, m.cfg.HandshakeTimeout)
	}
	return conn, nil
}

// readLoop reads frames until the connection drops. A drop on the current
// generation triggers reconnection; drops on superseded generations are the
// expected result of a teardown and exit quietly.
func (m *Manager) readLoop(conn *websocket.Conn, gen uint64) {
	defer m.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-m.shutdown:
				return
			default:
			}

			m.mu.Lock()
			stale := gen != m.gen
			m.mu.Unlock()
			if stale {
				return
			}

			cause := classifyReadError(err)
			m.logger.Warn("channel dropped", "error", cause)
			m.triggerReconnect(cause)
			return
		}

		if m.onMessage != nil {
			m.onMessage(data)
		}
	}
}

// heartbeatLoop probes channel liveness with WebSocket pings. Unanswered or
// stale probes past the configured thresholds mark the channel degraded and
// hand it to reconnection.
func (m *Manager) heartbeatLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.shutdown:
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		conn := m.conn
		state := m.state
		gen := m.gen
		m.mu.Unlock()
		if conn == nil || !state.writable() {
			continue
		}

		m.hbMu.Lock()
		// The previous probe going unanswered counts against the channel
		if !m.lastPingSent.IsZero() && m.lastPongAck.Before(m.lastPingSent) {
			m.missedPongs++
		}
		m.lastPingSent = time.Now()
		missed := m.missedPongs
		sincePong := time.Since(m.lastPongAck)
		m.hbMu.Unlock()

		m.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
		err := conn.WriteMessage(websocket.PingMessage, nil)
		m.writeMu.Unlock()
		if err != nil {
			m.logger.Warn("heartbeat write failed", "error", err)
			missed++
		}

		if missed >= m.cfg.HeartbeatMaxMissed || sincePong > m.cfg.HeartbeatStaleAfter {
			m.maybeDegrade(gen, missed, sincePong)
		}
	}
}

// maybeDegrade declares the probed channel degraded and hands it to
// reconnection. The verdict is discarded when the connection it measured
// was already torn down after the snapshot; the probe results belong to a
// channel that no longer exists.
func (m *Manager) maybeDegrade(gen uint64, missed int, sincePong time.Duration) bool {
	m.mu.Lock()
	if m.gen != gen || !m.state.writable() {
		m.mu.Unlock()
		return false
	}
	m.state = StateDegraded
	m.mu.Unlock()
	m.publishState(StateDegraded)

	cause := fmt.Errorf("heartbeat failing: %d consecutive probes unanswered, last reply %v ago",
		missed, sincePong.Round(time.Millisecond))
	m.logger.Warn("channel degraded", "missed", missed, "since_pong", sincePong)
	m.emit(Event{Type: EventUnhealthy, Err: cause, Timestamp: time.Now()})
	m.triggerReconnect(errors.WrapTransient(cause, "connection", "heartbeat", "probe channel"))
	return true
}

// notePong records a heartbeat reply and its round-trip time.
func (m *Manager) notePong() {
	now := time.Now()

	m.hbMu.Lock()
	sent := m.lastPingSent
	m.lastPongAck = now
	m.missedPongs = 0
	m.hbMu.Unlock()

	if m.metrics != nil && !sent.IsZero() {
		m.metrics.HeartbeatRTT.Observe(now.Sub(sent).Seconds())
	}
	if m.monitor != nil {
		m.monitor.Update("heartbeat", health.NewHealthy("heartbeat", "pong received").
			WithMetrics(&health.Metrics{
				LastHeartbeatSent: sent,
				LastHeartbeatAck:  now,
			}))
	}
}

// crashLoop polls the discovery endpoint for browser process liveness. The
// channel can look healthy while the process is wedged; an unreachable
// endpoint is treated as a crash.
func (m *Manager) crashLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.CrashPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.shutdown:
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		state := m.state
		m.mu.Unlock()
		if !state.writable() {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CrashPollInterval)
		err := m.disc.Liveness(ctx)
		cancel()
		if err == nil {
			continue
		}

		cause := errors.Wrap(err, "connection", "crashLoop", "poll browser liveness")
		m.logger.Error("browser presumed crashed", "error", err)
		m.emit(Event{Type: EventCrashed, Err: cause, Timestamp: time.Now()})
		if m.monitor != nil {
			m.monitor.UpdateUnhealthy("browser", "liveness endpoint unreachable")
		}
		m.triggerReconnect(errors.WrapTransient(cause, "connection", "crashLoop", "detect crash"))
	}
}

// triggerReconnect tears down the current channel and starts the single
// in-flight reconnection loop. Concurrent triggers (read-loop drop plus a
// crash poll, say) collapse into one attempt.
func (m *Manager) triggerReconnect(cause error) {
	m.mu.Lock()
	if m.state == StateClosed || m.reconnecting {
		m.mu.Unlock()
		return
	}
	m.reconnecting = true
	conn := m.conn
	m.conn = nil
	m.gen++
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	m.setState(StateReconnecting)

	// In-flight requests fail now; the policy layer retries them, the
	// reconnected channel never replays them.
	if m.onDrop != nil {
		m.onDrop(cause)
	}

	m.wg.Add(1)
	go m.reconnectLoop()
}

func (m *Manager) reconnectLoop() {
	defer m.wg.Done()

	delay := m.cfg.ReconnectInitialDelay
	var lastErr error

	for attempt := 1; attempt <= m.cfg.ReconnectMaxAttempts; attempt++ {
		select {
		case <-m.shutdown:
			return
		case <-time.After(delay):
		}

		m.logger.Info("reconnection attempt",
			"attempt", attempt,
			"max_attempts", m.cfg.ReconnectMaxAttempts)

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.HandshakeTimeout+m.cfg.ReconnectMaxDelay)
		target, err := m.disc.Discover(ctx)
		if err == nil {
			var conn *websocket.Conn
			conn, err = m.dial(ctx, target.WebSocketDebuggerURL)
			if err == nil {
				cancel()

				m.mu.Lock()
				m.reconnecting = false
				m.mu.Unlock()

				// install rejects the connection if Close won the race
				if !m.install(conn, target) {
					return
				}
				if m.metrics != nil {
					m.metrics.Reconnects.Inc()
				}
				m.emit(Event{Type: EventReconnected, Attempt: attempt, Timestamp: time.Now()})
				return
			}
		}
		cancel()
		lastErr = err
		m.logger.Warn("reconnection attempt failed", "attempt", attempt, "error", err)

		delay *= 2
		if delay > m.cfg.ReconnectMaxDelay {
			delay = m.cfg.ReconnectMaxDelay
		}
	}

	terminal := errors.ReconnectExhausted(m.cfg.ReconnectMaxAttempts, lastErr)
	m.logger.Error("reconnection budget exhausted", "error", terminal)

	m.mu.Lock()
	m.reconnecting = false
	m.state = StateClosed
	m.mu.Unlock()

	m.publishState(StateClosed)
	m.emit(Event{Type: EventReconnectExhausted, Err: terminal, Attempt: m.cfg.ReconnectMaxAttempts, Timestamp: time.Now()})
}

// setState records a state transition under the lock, then publishes it.
func (m *Manager) setState(state State) {
	m.mu.Lock()
	// Terminal is terminal; late transitions from lagging goroutines lose
	if m.state == StateClosed && state != StateClosed {
		m.mu.Unlock()
		return
	}
	m.state = state
	m.mu.Unlock()
	m.publishState(state)
}

// publishState pushes a state value to metrics and the health monitor.
func (m *Manager) publishState(state State) {
	if m.metrics != nil {
		m.metrics.ConnectionState.Set(float64(state))
	}
	if m.monitor == nil {
		return
	}

	m.mu.Lock()
	uptime := time.Duration(0)
	if !m.startedAt.IsZero() {
		uptime = time.Since(m.startedAt)
	}
	m.mu.Unlock()

	var status health.Status
	switch state {
	case StateOpen:
		status = health.NewHealthy("channel", "channel open")
	case StateDegraded:
		status = health.NewDegraded("channel", "heartbeats failing")
	case StateConnecting, StateReconnecting:
		status = health.NewDegraded("channel", state.String())
	default:
		status = health.NewUnhealthy("channel", "connection closed")
	}
	m.monitor.Update("channel", status.WithMetrics(&health.Metrics{Uptime: uptime}))
}

// emit delivers a lifecycle event without ever blocking a monitoring loop.
func (m *Manager) emit(event Event) {
	select {
	case m.events <- event:
	default:
		m.logger.Warn("event channel full, dropping notification", "event", event.Type.String())
	}
}

// classifyHandshakeError turns raw dial failures into actionable errors.
func classifyHandshakeError(err error, timeout time.Duration) error {
	var netErr net.Error
	msg := strings.ToLower(err.Error())

	switch {
	case stderrors.Is(err, context.DeadlineExceeded),
		stderrors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w after %v", errors.ErrHandshakeTimeout, timeout)
	case strings.Contains(msg, "connection refused"):
		return errors.WrapTransient(err, "connection", "dial", "target refused channel")
	case strings.Contains(msg, "connection reset"):
		return errors.WrapTransient(err, "connection", "dial", "handshake reset by peer")
	default:
		return errors.WrapTransient(err, "connection", "dial", "open channel")
	}
}

// classifyReadError distinguishes orderly closure from abnormal drops.
func classifyReadError(err error) error {
	var closeErr *websocket.CloseError
	if stderrors.As(err, &closeErr) {
		if closeErr.Code == websocket.CloseNormalClosure {
			return errors.ErrChannelClosed
		}
		return errors.ChannelClosedAbnormally(closeErr.Code, closeErr.Text)
	}
	return errors.WrapTransient(err, "connection", "readLoop", "read frame")
}
