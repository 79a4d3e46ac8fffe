// Package config loads the application configuration from YAML.
//
// Every field is optional; absent fields keep the component defaults. All
// duration fields accept Go duration strings ("500ms", "5s", "1m30s").
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/cdpsession/errors"
	"github.com/c360/cdpsession/session"
)

// Config is the fully resolved application configuration
type Config struct {
	Logging Logging
	Metrics Metrics
	Session session.Config
}

// Logging configures the structured logger
type Logging struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Metrics configures the Prometheus exposition endpoint
type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Logging: Logging{Level: "info", Format: "text"},
		Metrics: Metrics{Enabled: false, Addr: ":9090"},
		Session: session.DefaultConfig(),
	}
}

// Load reads and resolves a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse resolves YAML configuration bytes against the defaults
func Parse(data []byte) (*Config, error) {
	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}

	cfg := Default()
	if err := file.apply(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Session.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Logging.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewLogger builds the application logger from the logging section
func (l Logging) NewLogger() *slog.Logger {
	var level slog.Level
	switch l.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if l.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func (l Logging) validate() error {
	switch l.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", errors.ErrInvalidConfig, l.Level)
	}
	switch l.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", errors.ErrInvalidConfig, l.Format)
	}
	return nil
}

// fileConfig is the on-disk shape. Pointer and string fields distinguish
// "absent" from zero values so absent fields keep the defaults.
type fileConfig struct {
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Metrics struct {
		Enabled *bool  `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"metrics"`

	Session struct {
		Discovery struct {
			Host           string `yaml:"host"`
			Port           *int   `yaml:"port"`
			TargetType     string `yaml:"target_type"`
			MaxAttempts    *int   `yaml:"max_attempts"`
			AttemptTimeout string `yaml:"attempt_timeout"`
			InitialDelay   string `yaml:"initial_delay"`
			MaxDelay       string `yaml:"max_delay"`
		} `yaml:"discovery"`

		Connection struct {
			HandshakeTimeout      string `yaml:"handshake_timeout"`
			WriteTimeout          string `yaml:"write_timeout"`
			HeartbeatInterval     string `yaml:"heartbeat_interval"`
			HeartbeatMaxMissed    *int   `yaml:"heartbeat_max_missed"`
			HeartbeatStaleAfter   string `yaml:"heartbeat_stale_after"`
			CrashPollInterval     string `yaml:"crash_poll_interval"`
			ReconnectInitialDelay string `yaml:"reconnect_initial_delay"`
			ReconnectMaxDelay     string `yaml:"reconnect_max_delay"`
			ReconnectMaxAttempts  *int   `yaml:"reconnect_max_attempts"`
		} `yaml:"connection"`

		Retry struct {
			MaxAttempts  *int     `yaml:"max_attempts"`
			InitialDelay string   `yaml:"initial_delay"`
			MaxDelay     string   `yaml:"max_delay"`
			Multiplier   *float64 `yaml:"multiplier"`
			AddJitter    *bool    `yaml:"add_jitter"`
		} `yaml:"retry"`

		Breaker struct {
			FailureThreshold *int   `yaml:"failure_threshold"`
			RecoveryTimeout  string `yaml:"recovery_timeout"`
		} `yaml:"breaker"`

		Cache struct {
			Enabled  *bool  `yaml:"enabled"`
			Capacity *int   `yaml:"capacity"`
			TTL      string `yaml:"ttl"`
		} `yaml:"cache"`

		DefaultTimeout string `yaml:"default_timeout"`
		EventBuffer    *int   `yaml:"event_buffer"`
	} `yaml:"session"`
}

func (f *fileConfig) apply(cfg *Config) error {
	if f.Logging.Level != "" {
		cfg.Logging.Level = f.Logging.Level
	}
	if f.Logging.Format != "" {
		cfg.Logging.Format = f.Logging.Format
	}
	if f.Metrics.Enabled != nil {
		cfg.Metrics.Enabled = *f.Metrics.Enabled
	}
	if f.Metrics.Addr != "" {
		cfg.Metrics.Addr = f.Metrics.Addr
	}

	d := &f.Session.Discovery
	if d.Host != "" {
		cfg.Session.Discovery.Host = d.Host
	}
	if d.Port != nil {
		cfg.Session.Discovery.Port = *d.Port
	}
	if d.TargetType != "" {
		cfg.Session.Discovery.TargetType = d.TargetType
	}
	if d.MaxAttempts != nil {
		cfg.Session.Discovery.MaxAttempts = *d.MaxAttempts
	}
	if err := setDuration(&cfg.Session.Discovery.AttemptTimeout, d.AttemptTimeout, "discovery.attempt_timeout"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Session.Discovery.InitialDelay, d.InitialDelay, "discovery.initial_delay"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Session.Discovery.MaxDelay, d.MaxDelay, "discovery.max_delay"); err != nil {
		return err
	}

	c := &f.Session.Connection
	if err := setDuration(&cfg.Session.Connection.HandshakeTimeout, c.HandshakeTimeout, "connection.handshake_timeout"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Session.Connection.WriteTimeout, c.WriteTimeout, "connection.write_timeout"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Session.Connection.HeartbeatInterval, c.HeartbeatInterval, "connection.heartbeat_interval"); err != nil {
		return err
	}
	if c.HeartbeatMaxMissed != nil {
		cfg.Session.Connection.HeartbeatMaxMissed = *c.HeartbeatMaxMissed
	}
	if err := setDuration(&cfg.Session.Connection.HeartbeatStaleAfter, c.HeartbeatStaleAfter, "connection.heartbeat_stale_after"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Session.Connection.CrashPollInterval, c.CrashPollInterval, "connection.crash_poll_interval"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Session.Connection.ReconnectInitialDelay, c.ReconnectInitialDelay, "connection.reconnect_initial_delay"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Session.Connection.ReconnectMaxDelay, c.ReconnectMaxDelay, "connection.reconnect_max_delay"); err != nil {
		return err
	}
	if c.ReconnectMaxAttempts != nil {
		cfg.Session.Connection.ReconnectMaxAttempts = *c.ReconnectMaxAttempts
	}

	r := &f.Session.Retry
	if r.MaxAttempts != nil {
		cfg.Session.Retry.MaxAttempts = *r.MaxAttempts
	}
	if err := setDuration(&cfg.Session.Retry.InitialDelay, r.InitialDelay, "retry.initial_delay"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Session.Retry.MaxDelay, r.MaxDelay, "retry.max_delay"); err != nil {
		return err
	}
	if r.Multiplier != nil {
		cfg.Session.Retry.Multiplier = *r.Multiplier
	}
	if r.AddJitter != nil {
		cfg.Session.Retry.AddJitter = *r.AddJitter
	}

	b := &f.Session.Breaker
	if b.FailureThreshold != nil {
		cfg.Session.Breaker.FailureThreshold = *b.FailureThreshold
	}
	if err := setDuration(&cfg.Session.Breaker.RecoveryTimeout, b.RecoveryTimeout, "breaker.recovery_timeout"); err != nil {
		return err
	}

	ca := &f.Session.Cache
	if ca.Enabled != nil {
		cfg.Session.Cache.Enabled = *ca.Enabled
	}
	if ca.Capacity != nil {
		cfg.Session.Cache.Capacity = *ca.Capacity
	}
	if err := setDuration(&cfg.Session.Cache.TTL, ca.TTL, "cache.ttl"); err != nil {
		return err
	}

	if err := setDuration(&cfg.Session.DefaultTimeout, f.Session.DefaultTimeout, "session.default_timeout"); err != nil {
		return err
	}
	if f.Session.EventBuffer != nil {
		cfg.Session.EventBuffer = *f.Session.EventBuffer
	}

	return nil
}

func setDuration(dst *time.Duration, raw, field string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", errors.ErrInvalidConfig, field, err)
	}
	*dst = d
	return nil
}
