package connection

import (
	"fmt"
	"time"

	"github.com/c360/cdpsession/errors"
)

// Config provides connection manager configuration
type Config struct {
	// HandshakeTimeout bounds the WebSocket upgrade handshake
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" json:"handshake_timeout"`
	// WriteTimeout bounds a single frame write
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	// HeartbeatInterval is the period between liveness ping probes
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval"`
	// HeartbeatMaxMissed is the number of consecutive unanswered probes
	// before the channel is marked degraded
	HeartbeatMaxMissed int `yaml:"heartbeat_max_missed" json:"heartbeat_max_missed"`
	// HeartbeatStaleAfter marks the channel degraded when the last pong is
	// older than this, regardless of the missed-probe count
	HeartbeatStaleAfter time.Duration `yaml:"heartbeat_stale_after" json:"heartbeat_stale_after"`
	// CrashPollInterval is the period between HTTP liveness polls of the
	// discovery endpoint
	CrashPollInterval time.Duration `yaml:"crash_poll_interval" json:"crash_poll_interval"`
	// ReconnectInitialDelay is the backoff delay before the first
	// reconnection attempt
	ReconnectInitialDelay time.Duration `yaml:"reconnect_initial_delay" json:"reconnect_initial_delay"`
	// ReconnectMaxDelay caps the reconnection backoff delay
	ReconnectMaxDelay time.Duration `yaml:"reconnect_max_delay" json:"reconnect_max_delay"`
	// ReconnectMaxAttempts bounds the reconnection budget; exhausting it
	// makes the connection terminal
	ReconnectMaxAttempts int `yaml:"reconnect_max_attempts" json:"reconnect_max_attempts"`
}

// DefaultConfig returns sensible defaults for connection management
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:      10 * time.Second,
		WriteTimeout:          5 * time.Second,
		HeartbeatInterval:     5 * time.Second,
		HeartbeatMaxMissed:    3,
		HeartbeatStaleAfter:   20 * time.Second,
		CrashPollInterval:     10 * time.Second,
		ReconnectInitialDelay: 1 * time.Second,
		ReconnectMaxDelay:     16 * time.Second,
		ReconnectMaxAttempts:  5,
	}
}

// Validate checks the configuration for correctness
func (c Config) Validate() error {
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("%w: handshake timeout must be positive", errors.ErrInvalidConfig)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: write timeout must be positive", errors.ErrInvalidConfig)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: heartbeat interval must be positive", errors.ErrInvalidConfig)
	}
	if c.HeartbeatMaxMissed <= 0 {
		return fmt.Errorf("%w: heartbeat max missed must be positive", errors.ErrInvalidConfig)
	}
	if c.HeartbeatStaleAfter <= 0 {
		return fmt.Errorf("%w: heartbeat staleness threshold must be positive", errors.ErrInvalidConfig)
	}
	if c.CrashPollInterval <= 0 {
		return fmt.Errorf("%w: crash poll interval must be positive", errors.ErrInvalidConfig)
	}
	if c.ReconnectInitialDelay <= 0 {
		return fmt.Errorf("%w: reconnect initial delay must be positive", errors.ErrInvalidConfig)
	}
	if c.ReconnectMaxDelay < c.ReconnectInitialDelay {
		return fmt.Errorf("%w: reconnect max delay must be >= initial delay", errors.ErrInvalidConfig)
	}
	if c.ReconnectMaxAttempts <= 0 {
		return fmt.Errorf("%w: reconnect max attempts must be positive", errors.ErrInvalidConfig)
	}
	return nil
}
