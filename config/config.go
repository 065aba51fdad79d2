// Package config loads objtalkd's process configuration from environment
// variables, following the corpus's caarlos0/env tag convention.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is objtalkd's full process configuration: which transports to
// bind, which storage backend to open, and the ambient logging and
// queueing knobs.
type Config struct {
	TCPAddr  string `env:"OBJTALK_TCP_ADDR" envDefault:":7001"`
	WSAddr   string `env:"OBJTALK_WS_ADDR" envDefault:":7002"`
	HTTPAddr string `env:"OBJTALK_HTTP_ADDR" envDefault:":7003"`

	// StorageBackend selects the storage adapter: "memory" or "sqlite".
	StorageBackend string `env:"OBJTALK_STORAGE" envDefault:"memory"`
	SQLitePath     string `env:"OBJTALK_SQLITE_PATH" envDefault:"objtalk.db"`

	// OutboxSize bounds each client's outbound notification queue; a
	// client whose queue saturates is disconnected (spec.md §4.5).
	OutboxSize int `env:"OBJTALK_OUTBOX_SIZE" envDefault:"256"`

	// StatsInterval controls how often cmd/objtalkd publishes a
	// $sys/stats snapshot; zero disables periodic publication.
	StatsInterval string `env:"OBJTALK_STATS_INTERVAL" envDefault:"30s"`

	LogLevel string `env:"OBJTALK_LOG_LEVEL" envDefault:"info"`
}

// Load parses Config from the process environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Validate rejects a Config that would fail at startup anyway, so
// objtalkd can exit non-zero before opening any socket or store.
func (c *Config) Validate() error {
	if c.TCPAddr == "" && c.WSAddr == "" && c.HTTPAddr == "" {
		return fmt.Errorf("at least one of OBJTALK_TCP_ADDR, OBJTALK_WS_ADDR, OBJTALK_HTTP_ADDR must be set")
	}
	if c.OutboxSize < 1 {
		return fmt.Errorf("OBJTALK_OUTBOX_SIZE must be > 0, got %d", c.OutboxSize)
	}

	switch c.StorageBackend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("OBJTALK_STORAGE must be \"memory\" or \"sqlite\", got %q", c.StorageBackend)
	}
	if c.StorageBackend == "sqlite" && c.SQLitePath == "" {
		return fmt.Errorf("OBJTALK_SQLITE_PATH is required when OBJTALK_STORAGE=sqlite")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("OBJTALK_LOG_LEVEL must be one of: debug, info, warn, error (got %q)", c.LogLevel)
	}

	if _, err := time.ParseDuration(c.StatsInterval); err != nil {
		return fmt.Errorf("OBJTALK_STATS_INTERVAL: %w", err)
	}

	return nil
}

// StatsDuration parses StatsInterval. Validate guarantees this cannot
// fail on a Config it has already accepted.
func (c *Config) StatsDuration() time.Duration {
	d, _ := time.ParseDuration(c.StatsInterval)
	return d
}
