// Package retry provides bounded exponential backoff for failable operations.
//
// The executor re-invokes an operation while its failures are classified
// transient, waiting InitialDelay * Multiplier^(attempt-1) between attempts
// (capped at MaxDelay, with optional jitter). When the attempt budget is
// spent the returned error wraps the last underlying cause and names the
// operation and attempt count, so nothing about the failure is lost:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), "session.send", func() error {
//		return sendCommand()
//	})
//
// Non-transient errors (circuit breaker rejections, remote protocol errors,
// terminal connection failures) short-circuit the loop immediately.
package retry
