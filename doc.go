// Package cdpsession provides a resilient client runtime for the JSON-over-
// WebSocket remote debugging protocol that Chromium-family browsers expose.
//
// # Architecture
//
// The runtime is built as a stack of layers, each owning one concern:
//
//	┌─────────────────────────────────────┐
//	│            Session                  │  Request ids, reply
//	│   (send, correlate, pass events)    │  correlation, timeouts
//	└─────────────────────────────────────┘
//	           ↓ policy via
//	┌─────────────────────────────────────┐
//	│    Circuit Breaker + Retry          │  Fast-fail when open,
//	│   (per-operation resilience)        │  bounded backoff otherwise
//	└─────────────────────────────────────┘
//	           ↓ writes through
//	┌─────────────────────────────────────┐
//	│       Connection Manager            │  Heartbeat, crash
//	│  (one WebSocket channel, guarded    │  detection, bounded
//	│   auto-reconnection)                │  reconnection
//	└─────────────────────────────────────┘
//	           ↓ targets from
//	┌─────────────────────────────────────┐
//	│        Target Discovery             │  Poll /json until a
//	│   (HTTP introspection endpoint)     │  usable target appears
//	└─────────────────────────────────────┘
//
// A Session issues commands with Send or, wrapped in the resilience policy,
// with Call. The connection manager runs heartbeat and crash detection in
// the background and reconnects autonomously; requests in flight at the
// moment of a drop fail immediately and are retried by the policy layer,
// never silently replayed. Node lookups can be memoized per session in a
// bounded LRU+TTL cache.
//
// Supporting packages: errors defines the shared failure taxonomy, health
// aggregates component status, metric exports Prometheus instrumentation,
// and config loads the YAML configuration. cmd/cdpsession is a small CLI
// over the whole stack.
package cdpsession
