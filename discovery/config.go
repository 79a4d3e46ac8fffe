package discovery

import (
	"fmt"
	"time"

	"github.com/c360/cdpsession/errors"
)

// Config provides target discovery configuration
type Config struct {
	// Host is the address the browser exposes its debugging endpoint on
	Host string `yaml:"host" json:"host"`
	// Port is the remote debugging port
	Port int `yaml:"port" json:"port"`
	// TargetType is the target type to accept (usually "page")
	TargetType string `yaml:"target_type" json:"target_type"`
	// MaxAttempts bounds the number of polls before giving up
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
	// AttemptTimeout is the HTTP timeout for a single poll, independent of
	// the overall retry budget
	AttemptTimeout time.Duration `yaml:"attempt_timeout" json:"attempt_timeout"`
	// InitialDelay is the backoff delay after the first failed poll
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`
	// MaxDelay caps the backoff delay between polls
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`
}

// DefaultConfig returns sensible defaults for discovery against a local browser
func DefaultConfig() Config {
	return Config{
		Host:           "127.0.0.1",
		Port:           9222,
		TargetType:     "page",
		MaxAttempts:    10,
		AttemptTimeout: 2 * time.Second,
		InitialDelay:   100 * time.Millisecond,
		MaxDelay:       2 * time.Second,
	}
}

// Validate checks the configuration for correctness
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: discovery host cannot be empty", errors.ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: discovery port %d out of range", errors.ErrInvalidConfig, c.Port)
	}
	if c.TargetType == "" {
		return fmt.Errorf("%w: discovery target type cannot be empty", errors.ErrInvalidConfig)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("%w: discovery max attempts must be positive", errors.ErrInvalidConfig)
	}
	if c.AttemptTimeout <= 0 {
		return fmt.Errorf("%w: discovery attempt timeout must be positive", errors.ErrInvalidConfig)
	}
	return nil
}
