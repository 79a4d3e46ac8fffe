// Package breaker implements the circuit breaker policy protecting a
// degraded remote from repeated calls to a failing operation class.
//
// A Breaker guards one named operation class. While closed it counts
// consecutive failures; at the configured threshold it trips open and every
// call fails fast with ErrCircuitOpen without invoking the wrapped function.
// After the recovery timeout a single probe call is admitted (half-open);
// its outcome deterministically closes the breaker or re-opens it with a
// fresh recovery timer. Any success resets the consecutive-failure count.
//
// A Registry lazily creates one breaker per operation name so callers can
// write:
//
//	err := registry.Execute("session.send", func() error {
//		return send(method, params)
//	})
//
// Counters and state are mutex-guarded; the breaker is safe for concurrent
// use from multiple goroutines.
package breaker
