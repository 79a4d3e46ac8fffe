// Package metric provides Prometheus instrumentation for the session layer.
//
// MetricsRegistry wraps a private prometheus.Registry so tests and multiple
// sessions in one process never collide on the global default registry. Core
// metrics (command round-trips, reply matching, timeouts, connection state,
// heartbeat RTT, breaker state, discovery attempts) are registered at
// construction; components add their own through the MetricsRegistrar
// interface under a component-scoped name.
package metric
