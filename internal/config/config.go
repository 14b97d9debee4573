// Package config loads server configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Port        string
	DatabaseURL string // empty means in-memory store
	RedisURL    string // empty means no cache layer
	LogLevel    slog.Level

	TickInterval     time.Duration   // price generation cadence
	MaxStepPct       decimal.Decimal // random walk bound, e.g. 0.02 for ±2%
	SchedulerEnabled bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnvDefault("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
	}

	switch lvl := getEnvDefault("LOG_LEVEL", "info"); lvl {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "info":
		cfg.LogLevel = slog.LevelInfo
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		return nil, fmt.Errorf("LOG_LEVEL must be debug, info, warn, or error, got %q", lvl)
	}

	interval, err := time.ParseDuration(getEnvDefault("TICK_INTERVAL", "5s"))
	if err != nil {
		return nil, fmt.Errorf("invalid TICK_INTERVAL: %w", err)
	}
	if interval < time.Second {
		return nil, fmt.Errorf("TICK_INTERVAL must be at least 1s, got %s", interval)
	}
	cfg.TickInterval = interval

	stepPct, err := decimal.NewFromString(getEnvDefault("MAX_STEP_PCT", "0.02"))
	if err != nil || stepPct.Sign() <= 0 {
		return nil, fmt.Errorf("MAX_STEP_PCT must be a positive decimal, got %q", getEnvDefault("MAX_STEP_PCT", "0.02"))
	}
	cfg.MaxStepPct = stepPct

	enabled, err := strconv.ParseBool(getEnvDefault("SCHEDULER_ENABLED", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_ENABLED: %w", err)
	}
	cfg.SchedulerEnabled = enabled

	return cfg, nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
