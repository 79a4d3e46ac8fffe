// Package connection manages the lifetime of one WebSocket channel to a
// debuggable browser target.
//
// The Manager composes four concerns on top of the raw channel:
//
//   - Handshake: dials the target's webSocketDebuggerUrl with a bounded
//     timeout and classifies failures (refused, reset, timed out, abnormal
//     close) into the session error taxonomy.
//   - Heartbeat: probes the channel with WebSocket ping/pong on a fixed
//     interval; consecutive unanswered probes or a stale last reply mark
//     the connection degraded.
//   - Crash detection: polls the discovery endpoint over HTTP on a slower
//     interval; an unreachable endpoint means the browser process is gone
//     even if the socket has not noticed yet.
//   - Reconnection: abnormal closure, a crash verdict, or degraded health
//     each hand the channel to a single guarded reconnection loop that
//     re-runs target discovery with exponential backoff. In-flight requests
//     are failed at the moment of the drop and never replayed.
//
// States run connecting → open → degraded → reconnecting → closed; closed
// is terminal whether reached by Close or by exhausting the reconnection
// budget, and a closed Manager is never reused. Lifecycle transitions are
// reported on the Events channel and, when wired, to the health monitor
// and Prometheus registry.
package connection
