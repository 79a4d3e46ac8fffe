package connection

// State represents the lifecycle state of a managed connection
type State int

const (
	// StateConnecting means the initial handshake is in progress
	StateConnecting State = iota
	// StateOpen means the channel is live and healthy
	StateOpen
	// StateDegraded means the channel is live but heartbeats are failing
	StateDegraded
	// StateReconnecting means a reconnection attempt is in progress
	StateReconnecting
	// StateClosed means the connection is terminal and must be recreated
	StateClosed
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateDegraded:
		return "degraded"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// writable reports whether commands may be written to the channel in this
// state. A degraded channel still carries traffic; the heartbeat verdict is
// advisory until reconnection takes the socket away.
func (s State) writable() bool {
	return s == StateOpen || s == StateDegraded
}
