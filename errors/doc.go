// Package errors defines the error taxonomy for the cdpsession protocol
// client and the classification helpers the resilience layers depend on.
//
// # Taxonomy
//
// Every failure surfaced by the session layer wraps one of the package
// sentinels, so callers branch with errors.Is rather than string matching:
//
//   - ErrDiscoveryExhausted: no usable target after bounded discovery attempts
//   - ErrHandshakeTimeout: the channel handshake exceeded its deadline
//   - ErrChannelClosed: the channel closed (abnormal closures carry code/reason)
//   - ErrRequestTimeout: a command received no matching reply in time
//   - ErrProtocol: the remote reported a failure for a matched request id
//   - ErrCircuitOpen: fast-fail while a breaker is tripped
//   - ErrRetryExhausted: bounded retries spent, wraps the last cause
//   - ErrReconnectExhausted: terminal connection failure
//
// # Classification
//
// Errors are classified transient, invalid, or fatal. The retry executor
// consults IsTransient to decide whether another attempt is worthwhile;
// breaker rejections, remote protocol errors, and terminal connection
// failures are never retried.
//
// # Wrapping
//
// Wrap and its classified variants produce messages of the form
// "component.method: action failed: cause" so that context and the original
// cause survive every layer:
//
//	return errors.WrapTransient(err, "Manager", "Open", "dial channel")
package errors
