package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env      string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port     string `env:"PORT" envDefault:"8080" validate:"required"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`

	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`

	// Secrets. Each collaborator gets its own key so rotating one does not
	// invalidate the others' derived values.
	JWTSecret      string `env:"JWT_SECRET,required"       validate:"required,min=32"`
	HasherSecret   string `env:"HASHER_SECRET,required"    validate:"required,min=32"`
	OrderSalt      string `env:"ORDER_SALT,required"       validate:"required,min=16"`
	VaultMasterKey string `env:"VAULT_MASTER_KEY,required" validate:"required,min=32"`

	ResendAPIKey  string `env:"RESEND_API_KEY"      validate:"required_if=Env production,required_if=Env staging"`
	ResendFrom    string `env:"RESEND_FROM"         validate:"required_if=Env production,required_if=Env staging"`
	MagicLinkBase string `env:"MAGIC_LINK_BASE_URL" envDefault:"http://localhost:8080"`

	CompletionWebhookURL string `env:"COMPLETION_WEBHOOK_URL" validate:"omitempty,url"`

	// Standard five-field cron expression for cmd/pruner.
	PruneSchedule string `env:"PRUNE_SCHEDULE" envDefault:"*/30 * * * *"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
