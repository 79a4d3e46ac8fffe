package session

import (
	"fmt"
	"time"

	"github.com/c360/cdpsession/connection"
	"github.com/c360/cdpsession/discovery"
	"github.com/c360/cdpsession/errors"
	"github.com/c360/cdpsession/pkg/breaker"
	"github.com/c360/cdpsession/pkg/cache"
	"github.com/c360/cdpsession/pkg/retry"
)

// Config aggregates everything a session needs to reach and talk to a target
type Config struct {
	// Discovery configures target discovery
	Discovery discovery.Config `yaml:"discovery" json:"discovery"`
	// Connection configures the channel manager
	Connection connection.Config `yaml:"connection" json:"connection"`
	// Retry configures the per-call retry policy
	Retry retry.Config `yaml:"retry" json:"retry"`
	// Breaker configures the per-operation circuit breakers
	Breaker breaker.Config `yaml:"breaker" json:"breaker"`
	// Cache configures the node lookup cache
	Cache cache.Config `yaml:"cache" json:"cache"`
	// DefaultTimeout applies to Send calls that pass no explicit timeout
	DefaultTimeout time.Duration `yaml:"default_timeout" json:"default_timeout"`
	// EventBuffer sizes the unsolicited-event passthrough channel
	EventBuffer int `yaml:"event_buffer" json:"event_buffer"`
}

// DefaultConfig returns sensible defaults for a local browser session
func DefaultConfig() Config {
	return Config{
		Discovery:      discovery.DefaultConfig(),
		Connection:     connection.DefaultConfig(),
		Retry:          retry.DefaultConfig(),
		Breaker:        breaker.DefaultConfig(),
		Cache:          cache.DefaultConfig(),
		DefaultTimeout: 30 * time.Second,
		EventBuffer:    256,
	}
}

// Validate checks the configuration for correctness
func (c Config) Validate() error {
	if err := c.Discovery.Validate(); err != nil {
		return err
	}
	if err := c.Connection.Validate(); err != nil {
		return err
	}
	if err := c.Breaker.Validate(); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if c.DefaultTimeout <= 0 {
		return fmt.Errorf("%w: default timeout must be positive", errors.ErrInvalidConfig)
	}
	if c.EventBuffer <= 0 {
		return fmt.Errorf("%w: event buffer must be positive", errors.ErrInvalidConfig)
	}
	return nil
}
