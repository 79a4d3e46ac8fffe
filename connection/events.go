package connection

import "time"

// EventType identifies a connection lifecycle notification
type EventType int

const (
	// EventUnhealthy is emitted when heartbeat monitoring marks the channel degraded
	EventUnhealthy EventType = iota
	// EventCrashed is emitted when the liveness poll finds the browser unreachable
	EventCrashed
	// EventReconnected is emitted after a successful automatic reconnection
	EventReconnected
	// EventReconnectExhausted is emitted when the reconnection budget is spent;
	// the connection is terminal afterwards
	EventReconnectExhausted
	// EventClosed is emitted on explicit shutdown
	EventClosed
)

// String returns the string representation of the event type
func (e EventType) String() string {
	switch e {
	case EventUnhealthy:
		return "connection-unhealthy"
	case EventCrashed:
		return "browser-crashed"
	case EventReconnected:
		return "reconnected"
	case EventReconnectExhausted:
		return "reconnect-exhausted"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event carries a lifecycle notification from the connection manager
type Event struct {
	Type      EventType
	Err       error
	Attempt   int
	Timestamp time.Time
}
