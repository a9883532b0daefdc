// Package config reads entitysync settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/roach88/entitysync/internal/itemstore"
)

// Config holds settings shared by every command. Command-line flags
// override these values.
type Config struct {
	DB        string        `env:"ENTITYSYNC_DB"         envDefault:"entitysync.db"`
	Backend   string        `env:"ENTITYSYNC_BACKEND"    envDefault:"sqlite"`
	Namespace string        `env:"ENTITYSYNC_NAMESPACE"`
	LogLevel  slog.Level    `env:"ENTITYSYNC_LOG_LEVEL"  envDefault:"info"`
	SlowTable time.Duration `env:"ENTITYSYNC_SLOW_TABLE" envDefault:"50ms"`
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values env tags cannot express.
func (c Config) Validate() error {
	switch c.Backend {
	case itemstore.BackendSQLite, itemstore.BackendBolt:
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.DB == "" {
		return fmt.Errorf("config: database path is empty")
	}
	if c.SlowTable < 0 {
		return fmt.Errorf("config: negative slow table threshold %s", c.SlowTable)
	}
	return nil
}
