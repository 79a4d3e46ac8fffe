package cache

import (
	"fmt"
	"time"

	"github.com/c360/cdpsession/errors"
)

// Config contains configuration for cache creation.
type Config struct {
	// Enabled determines if caching is enabled. Disabled caches always miss.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Capacity is the maximum number of entries before LRU eviction.
	Capacity int `json:"capacity" yaml:"capacity"`

	// TTL is the time-to-live for entries.
	TTL time.Duration `json:"ttl" yaml:"ttl"`
}

// DefaultConfig returns a default cache configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:  true,
		Capacity: 500,
		TTL:      5 * time.Minute,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Capacity <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
			fmt.Sprintf("capacity must be positive, got %d", c.Capacity))
	}
	if c.TTL <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
			fmt.Sprintf("ttl must be positive, got %v", c.TTL))
	}
	return nil
}

// New creates a bounded cache from the provided configuration. A disabled
// configuration yields a no-op cache that always misses.
func New[V any](config Config, options ...Option[V]) (Cache[V], error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if !config.Enabled {
		return NewNoop[V](), nil
	}
	opts := applyOptions(options...)
	return newBoundedCache[V](config.Capacity, config.TTL, opts)
}

// NewNoop creates a cache that does nothing (always returns cache misses).
// Useful when caching is disabled via configuration.
func NewNoop[V any]() Cache[V] {
	return &noopCache[V]{}
}

// noopCache is a cache implementation that does nothing.
type noopCache[V any] struct{}

func (c *noopCache[V]) Get(_ string) (V, bool) {
	var zero V
	return zero, false
}

func (c *noopCache[V]) Set(_ string, _ V) (bool, error) { return false, nil }
func (c *noopCache[V]) Delete(_ string) (bool, error)   { return false, nil }
func (c *noopCache[V]) Clear() error                    { return nil }
func (c *noopCache[V]) Size() int                       { return 0 }
func (c *noopCache[V]) Keys() []string                  { return nil }
func (c *noopCache[V]) Stats() *Statistics              { return nil }
func (c *noopCache[V]) Close() error                    { return nil }
