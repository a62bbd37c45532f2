// Package config reads the process configuration from environment variables
package config

import (
	"errors"
	"fmt"
	"time"

	"dabubble/internal/gateway/postgres"
	"dabubble/internal/guards"
	"dabubble/internal/server"

	"github.com/caarlos0/env/v6"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

var ErrUnknownBackend = errors.New("unknown backend")

// Config is the whole process configuration
type Config struct {
	Server   server.EnvConfig
	Postgres postgres.Config

	Backend         string        `env:"BACKEND" envDefault:"memory"`
	ConnectTimeout  time.Duration `env:"PG_CONNECT_TIMEOUT" envDefault:"30s"`
	RedisURL        string        `env:"REDIS_URL"`
	ActionSecret    string        `env:"ACTION_SECRET"`
	ActionURL       string        `env:"ACTION_URL" envDefault:"http://localhost:9000/auth/action"`
	GuardPolicy     string        `env:"GUARD_POLICY" envDefault:"strict"`
	MessageLimit    int           `env:"MESSAGE_LIMIT" envDefault:"50"`
	DelayedRestore  bool          `env:"DELAYED_RESTORE" envDefault:"false"`
	GoogleEmail     string        `env:"GOOGLE_EMAIL"`
	GoogleName      string        `env:"GOOGLE_DISPLAY_NAME"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load parses the environment and validates the result
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendPostgres:
	default:
		return fmt.Errorf("%w %q", ErrUnknownBackend, c.Backend)
	}
	if _, err := c.Policy(); err != nil {
		return err
	}
	if c.MessageLimit < 1 {
		return fmt.Errorf("message limit must be positive, got %d", c.MessageLimit)
	}
	return nil
}

func (c Config) Policy() (guards.Policy, error) {
	return guards.ParsePolicy(c.GuardPolicy)
}
