// Package errors provides standardized error handling for cdpsession components.
// It defines the protocol-session error taxonomy, error classification, and
// helper functions for consistent error wrapping across the system.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Session-layer error taxonomy. Every error surfaced by the session layer
// wraps one of these sentinels so callers can branch with errors.Is.
var (
	// Target discovery
	ErrDiscoveryExhausted = errors.New("target discovery exhausted")
	ErrNoMatchingTarget   = errors.New("no matching debug target advertised")

	// Channel lifecycle
	ErrHandshakeTimeout = errors.New("channel handshake timed out")
	ErrChannelClosed    = errors.New("channel closed")
	ErrChannelNotOpen   = errors.New("channel not open")
	ErrConnectionClosed = errors.New("connection is closed")

	// Request lifecycle
	ErrRequestTimeout = errors.New("request timed out")
	ErrProtocol       = errors.New("protocol error")

	// Resilience policy
	ErrCircuitOpen        = errors.New("circuit breaker open")
	ErrRetryExhausted     = errors.New("retry attempts exhausted")
	ErrReconnectExhausted = errors.New("reconnection attempts exhausted")

	// Configuration
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")

	// Cache
	ErrInvalidKey = errors.New("invalid cache key")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient checks if an error is transient and should be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	// Check for classified error
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	// Non-retryable by definition: the breaker already decided, the remote
	// rejected the command, or the connection is terminally gone.
	if errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, ErrProtocol) ||
		errors.Is(err, ErrReconnectExhausted) ||
		errors.Is(err, ErrConnectionClosed) {
		return false
	}

	// Known transient conditions in the session layer
	if errors.Is(err, ErrHandshakeTimeout) ||
		errors.Is(err, ErrChannelClosed) ||
		errors.Is(err, ErrChannelNotOpen) ||
		errors.Is(err, ErrRequestTimeout) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Fall back to common transport failure patterns
	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"broken pipe",
		"temporary",
		"unavailable",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig) ||
		errors.Is(err, ErrReconnectExhausted) ||
		errors.Is(err, ErrConnectionClosed)
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrInvalidKey) || errors.Is(err, ErrInvalidConfig)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}

	if IsTransient(err) {
		return ErrorTransient
	}
	if IsFatal(err) {
		return ErrorFatal
	}
	if IsInvalid(err) {
		return ErrorInvalid
	}

	// Default to transient for unknown errors to allow retry
	return ErrorTransient
}

// newClassified creates a new classified error
// This is an internal helper - use WrapTransient(), WrapFatal(), or WrapInvalid() instead.
func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}

// DiscoveryExhausted builds the terminal discovery failure. The port, attempt
// count and last underlying cause are all retained so operators are never left
// with a bare timeout.
func DiscoveryExhausted(port, attempts int, lastErr error) error {
	if lastErr == nil {
		lastErr = ErrNoMatchingTarget
	}
	return fmt.Errorf("%w: no usable target on port %d after %d attempts: %v",
		ErrDiscoveryExhausted, port, attempts, lastErr)
}

// RequestTimeout builds the per-command timeout failure, naming the method,
// request id and configured timeout.
func RequestTimeout(method string, id int64, timeout time.Duration) error {
	return fmt.Errorf("%w: %s (id %d) received no reply within %v",
		ErrRequestTimeout, method, id, timeout)
}

// Protocol builds a remote-reported command failure for a matched request id.
func Protocol(method string, id int64, code int, message string) error {
	return fmt.Errorf("%w: %s (id %d) failed with code %d: %s",
		ErrProtocol, method, id, code, message)
}

// RetryExhausted wraps the last underlying cause after bounded retries,
// stating the operation name and attempt count.
func RetryExhausted(operation string, attempts int, lastErr error) error {
	return fmt.Errorf("%w: %s failed after %d attempts: %w",
		ErrRetryExhausted, operation, attempts, lastErr)
}

// ReconnectExhausted builds the terminal connection failure after the
// reconnection budget is spent.
func ReconnectExhausted(attempts int, lastErr error) error {
	if lastErr == nil {
		return fmt.Errorf("%w: gave up after %d attempts", ErrReconnectExhausted, attempts)
	}
	return fmt.Errorf("%w: gave up after %d attempts: %v", ErrReconnectExhausted, attempts, lastErr)
}

// ChannelClosedAbnormally builds the abnormal-closure failure carrying the
// close code and reason from the transport.
func ChannelClosedAbnormally(code int, reason string) error {
	if reason == "" {
		reason = "no reason given"
	}
	return fmt.Errorf("%w abnormally: close code %d (%s)", ErrChannelClosed, code, reason)
}
