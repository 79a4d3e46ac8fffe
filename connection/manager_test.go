package connection

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/cdpsession/discovery"
	"github.com/c360/cdpsession/errors"
)

// browserDouble stands in for a browser with remote debugging enabled: one
// HTTP server advertising targets at /json and one WebSocket server playing
// the control channel.
type browserDouble struct {
	t *testing.T

	ws    *httptest.Server
	disco *httptest.Server

	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	accepted atomic.Int64

	// closeFirstConn makes the double slam the first accepted channel with
	// an abnormal close frame
	closeFirstConn bool
	// silent makes the double accept the channel but never read, so pings
	// are never answered
	silent bool

	received chan []byte
}

func newBrowserDouble(t *testing.T) *browserDouble {
	t.Helper()

	d := &browserDouble{
		t:        t,
		received: make(chan []byte, 64),
	}

	d.ws = httptest.NewServer(http.HandlerFunc(d.handleWS))
	d.disco = httptest.NewServer(http.HandlerFunc(d.handleDiscovery))

	t.Cleanup(func() {
		d.disco.Close()
		d.ws.Close()
	})
	return d
}

func (d *browserDouble) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/json" && r.URL.Path != "/json/list" {
		http.NotFound(w, r)
		return
	}
	wsURL := "ws" + strings.TrimPrefix(d.ws.URL, "http") + "/devtools/page/1"
	_ = json.NewEncoder(w).Encode([]discovery.Target{{
		ID:                   "1",
		Type:                 "page",
		Title:                "double",
		WebSocketDebuggerURL: wsURL,
	}})
}

func (d *browserDouble) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	n := d.accepted.Add(1)
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()

	if d.closeFirstConn && n == 1 {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "renderer gone"), deadline)
		_ = conn.Close()
		return
	}

	if d.silent {
		// Hold the channel open without reading; pings rot unanswered
		return
	}

	// The default ping handler answers pongs as long as we keep reading
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		d.received <- data
	}
}

// push writes a message from the browser side on the most recent channel
func (d *browserDouble) push(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(d.t, d.conns)
	return d.conns[len(d.conns)-1].WriteMessage(websocket.TextMessage, data)
}

func (d *browserDouble) discoveryConfig() discovery.Config {
	u, err := url.Parse(d.disco.URL)
	require.NoError(d.t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(d.t, err)

	cfg := discovery.DefaultConfig()
	cfg.Host = u.Hostname()
	cfg.Port = port
	cfg.MaxAttempts = 3
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	return cfg
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.WriteTimeout = time.Second
	cfg.HeartbeatInterval = 15 * time.Millisecond
	cfg.HeartbeatMaxMissed = 3
	cfg.HeartbeatStaleAfter = 10 * time.Second
	cfg.CrashPollInterval = 25 * time.Millisecond
	cfg.ReconnectInitialDelay = 10 * time.Millisecond
	cfg.ReconnectMaxDelay = 40 * time.Millisecond
	cfg.ReconnectMaxAttempts = 4
	return cfg
}

func newTestManager(t *testing.T, d *browserDouble, opts ...Option) *Manager {
	t.Helper()

	disc, err := discovery.New(d.discoveryConfig())
	require.NoError(t, err)

	m, err := NewManager(testConfig(), disc, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// waitEvent consumes events until one of the wanted type arrives
func waitEvent(t *testing.T, events <-chan Event, want EventType, timeout time.Duration) Event {
	t.Helper()

	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "event channel closed while waiting for %s", want)
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event within %v", want, timeout)
		}
	}
}

func TestManager_OpenAndWrite(t *testing.T) {
	d := newBrowserDouble(t)
	m := newTestManager(t, d)

	require.NoError(t, m.Open(context.Background()))
	assert.Equal(t, StateOpen, m.State())
	assert.Equal(t, "1", m.Target().ID)

	require.NoError(t, m.WriteCommand([]byte(`{"id":1,"method":"Browser.getVersion"}`)))

	select {
	case got := <-d.received:
		assert.JSONEq(t, `{"id":1,"method":"Browser.getVersion"}`, string(got))
	case <-time.After(time.Second):
		t.Fatal("command never reached the browser")
	}
}

func TestManager_InboundMessagesReachHandler(t *testing.T) {
	d := newBrowserDouble(t)

	inbound := make(chan []byte, 1)
	m := newTestManager(t, d, WithMessageHandler(func(data []byte) {
		inbound <- data
	}))

	require.NoError(t, m.Open(context.Background()))
	require.NoError(t, d.push([]byte(`{"id":7,"result":{}}`)))

	select {
	case got := <-inbound:
		assert.JSONEq(t, `{"id":7,"result":{}}`, string(got))
	case <-time.After(time.Second):
		t.Fatal("inbound message never reached the handler")
	}
}

func TestManager_WriteBeforeOpenFails(t *testing.T) {
	d := newBrowserDouble(t)
	m := newTestManager(t, d)

	err := m.WriteCommand([]byte("{}"))
	assert.ErrorIs(t, err, errors.ErrChannelNotOpen)
}

func TestManager_AbnormalCloseTriggersReconnect(t *testing.T) {
	d := newBrowserDouble(t)
	d.closeFirstConn = true

	var dropCause error
	var dropOnce sync.Once
	dropped := make(chan struct{})

	m := newTestManager(t, d, WithDropHandler(func(cause error) {
		dropOnce.Do(func() {
			dropCause = cause
			close(dropped)
		})
	}))

	require.NoError(t, m.Open(context.Background()))

	select {
	case <-dropped:
	case <-time.After(2 * time.Second):
		t.Fatal("drop handler never fired")
	}
	assert.ErrorIs(t, dropCause, errors.ErrChannelClosed)
	assert.Contains(t, dropCause.Error(), strconv.Itoa(websocket.CloseInternalServerErr))

	ev := waitEvent(t, m.Events(), EventReconnected, 2*time.Second)
	assert.GreaterOrEqual(t, ev.Attempt, 1)
	assert.Equal(t, StateOpen, m.State())

	// The reconnected channel carries traffic again
	require.NoError(t, m.WriteCommand([]byte(`{"id":2,"method":"Target.getTargets"}`)))
	select {
	case <-d.received:
	case <-time.After(time.Second):
		t.Fatal("command never arrived after reconnection")
	}
}

func TestManager_ReconnectExhaustedIsTerminal(t *testing.T) {
	d := newBrowserDouble(t)
	m := newTestManager(t, d)

	require.NoError(t, m.Open(context.Background()))

	// Take the whole browser away: channel drops and discovery goes dark
	d.disco.Close()
	d.ws.CloseClientConnections()
	d.ws.Close()

	ev := waitEvent(t, m.Events(), EventReconnectExhausted, 10*time.Second)
	require.Error(t, ev.Err)
	assert.ErrorIs(t, ev.Err, errors.ErrReconnectExhausted)
	assert.Equal(t, testConfig().ReconnectMaxAttempts, ev.Attempt)
	assert.Equal(t, StateClosed, m.State())

	// Terminal means terminal
	assert.ErrorIs(t, m.WriteCommand([]byte("{}")), errors.ErrChannelNotOpen)
	assert.ErrorIs(t, m.Open(context.Background()), errors.ErrConnectionClosed)
}

func TestManager_UnansweredHeartbeatsDegrade(t *testing.T) {
	d := newBrowserDouble(t)
	d.silent = true

	m := newTestManager(t, d)
	require.NoError(t, m.Open(context.Background()))

	ev := waitEvent(t, m.Events(), EventUnhealthy, 5*time.Second)
	require.Error(t, ev.Err)
	assert.Contains(t, ev.Err.Error(), "unanswered")
}

func TestManager_StaleLastPongDegrades(t *testing.T) {
	d := newBrowserDouble(t)
	d.silent = true

	// Only staleness can trip: the consecutive-missed budget is effectively
	// unlimited, the last-pong age is not
	cfg := testConfig()
	cfg.HeartbeatMaxMissed = 1000
	cfg.HeartbeatStaleAfter = 50 * time.Millisecond

	disc, err := discovery.New(d.discoveryConfig())
	require.NoError(t, err)
	m, err := NewManager(cfg, disc)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	require.NoError(t, m.Open(context.Background()))

	ev := waitEvent(t, m.Events(), EventUnhealthy, 5*time.Second)
	require.Error(t, ev.Err)
	assert.Contains(t, ev.Err.Error(), "last reply")
}

func TestManager_InstallAfterCloseDiscardsConn(t *testing.T) {
	d := newBrowserDouble(t)
	m := newTestManager(t, d)
	require.NoError(t, m.Close())

	// A dial that was in flight when Close ran hands its connection to
	// install after the manager went terminal
	wsURL := "ws" + strings.TrimPrefix(d.ws.URL, "http") + "/devtools/page/1"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}

	assert.False(t, m.install(conn, discovery.Target{ID: "1"}), "closed manager must refuse the connection")
	assert.Equal(t, StateClosed, m.State())

	m.mu.Lock()
	assert.Nil(t, m.conn, "no connection may be installed after close")
	m.mu.Unlock()

	// The refused connection was closed, not leaked
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestManager_StaleHeartbeatVerdictIgnoredAfterTeardown(t *testing.T) {
	d := newBrowserDouble(t)
	m := newTestManager(t, d)
	require.NoError(t, m.Open(context.Background()))

	m.mu.Lock()
	gen := m.gen
	m.mu.Unlock()

	// The channel is torn down between the heartbeat's snapshot and its
	// verdict; the verdict measured a connection that no longer exists
	m.triggerReconnect(errors.ErrChannelClosed)

	assert.False(t, m.maybeDegrade(gen, 5, time.Minute))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-m.Events():
			require.True(t, ok, "event channel closed before reconnection")
			require.NotEqual(t, EventUnhealthy, ev.Type, "stale heartbeat verdict leaked an event")
			if ev.Type == EventReconnected {
				assert.Equal(t, StateOpen, m.State())
				return
			}
		case <-deadline:
			t.Fatal("no reconnection after teardown")
		}
	}
}

func TestManager_CrashDetection(t *testing.T) {
	d := newBrowserDouble(t)
	m := newTestManager(t, d)

	require.NoError(t, m.Open(context.Background()))

	// The socket stays up but the introspection endpoint disappears
	d.disco.Close()

	ev := waitEvent(t, m.Events(), EventCrashed, 5*time.Second)
	require.Error(t, ev.Err)
}

func TestManager_CloseEmitsEventAndClosesChannel(t *testing.T) {
	d := newBrowserDouble(t)

	dropped := make(chan error, 1)
	m := newTestManager(t, d, WithDropHandler(func(cause error) {
		dropped <- cause
	}))

	require.NoError(t, m.Open(context.Background()))
	require.NoError(t, m.Close())

	waitEvent(t, m.Events(), EventClosed, time.Second)
	assert.Equal(t, StateClosed, m.State())

	select {
	case cause := <-dropped:
		assert.ErrorIs(t, cause, errors.ErrConnectionClosed)
	default:
		t.Fatal("in-flight requests were not failed on close")
	}

	// The events channel drains and closes
	for range m.Events() {
	}

	assert.NoError(t, m.Close(), "close is idempotent")
}

func TestManager_OpenFailsWhenNoBrowser(t *testing.T) {
	d := newBrowserDouble(t)
	d.disco.Close()
	d.ws.Close()

	disc, err := discovery.New(d.discoveryConfig())
	require.NoError(t, err)

	m, err := NewManager(testConfig(), disc)
	require.NoError(t, err)
	defer func() { _ = m.Close() }()

	err = m.Open(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDiscoveryExhausted)
	assert.Equal(t, StateClosed, m.State())
}

func TestClassifyReadError(t *testing.T) {
	abnormal := classifyReadError(&websocket.CloseError{
		Code: websocket.CloseAbnormalClosure,
		Text: "peer vanished",
	})
	assert.ErrorIs(t, abnormal, errors.ErrChannelClosed)
	assert.Contains(t, abnormal.Error(), "1006")
	assert.Contains(t, abnormal.Error(), "peer vanished")

	normal := classifyReadError(&websocket.CloseError{Code: websocket.CloseNormalClosure})
	assert.ErrorIs(t, normal, errors.ErrChannelClosed)
	assert.NotContains(t, normal.Error(), "abnormally")
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.HeartbeatInterval = 0
	assert.ErrorIs(t, bad.Validate(), errors.ErrInvalidConfig)

	bad = DefaultConfig()
	bad.ReconnectMaxDelay = bad.ReconnectInitialDelay / 2
	assert.ErrorIs(t, bad.Validate(), errors.ErrInvalidConfig)

	bad = DefaultConfig()
	bad.ReconnectMaxAttempts = 0
	assert.ErrorIs(t, bad.Validate(), errors.ErrInvalidConfig)
}
