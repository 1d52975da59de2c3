// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port string
	Env  string // "development", "staging", "production"

	// Durable store
	DatabasePath string // SQLite database file

	// Ephemeral store
	RedisURL string // optional, uses in-memory store if not set

	// Stripe
	StripeSecret        string
	StripeWebhookSecret string

	// Device liveness
	HeartbeatStaleAfter time.Duration // no heartbeat within this window => offline
	StaleSweepInterval  time.Duration // how often the durable online flag is reconciled
}

const (
	DefaultPort                = "8080"
	DefaultEnv                 = "development"
	DefaultDatabasePath        = "roam.db"
	DefaultHeartbeatStaleAfter = 90 * time.Second
	DefaultStaleSweepInterval  = time.Minute
)

// Load reads configuration from environment variables.
// It loads a .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		DatabasePath:        getEnv("DATABASE_PATH", DefaultDatabasePath),
		RedisURL:            os.Getenv("REDIS_URL"),
		StripeSecret:        os.Getenv("STRIPE_SECRET"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		HeartbeatStaleAfter: getEnvDuration("HEARTBEAT_STALE_AFTER", DefaultHeartbeatStaleAfter),
		StaleSweepInterval:  getEnvDuration("STALE_SWEEP_INTERVAL", DefaultStaleSweepInterval),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required settings are present.
func (c *Config) Validate() error {
	if c.Env != "development" {
		if c.StripeSecret == "" {
			return fmt.Errorf("config: STRIPE_SECRET is required in %s", c.Env)
		}
		if c.StripeWebhookSecret == "" {
			return fmt.Errorf("config: STRIPE_WEBHOOK_SECRET is required in %s", c.Env)
		}
	}
	if c.HeartbeatStaleAfter <= 0 {
		return fmt.Errorf("config: HEARTBEAT_STALE_AFTER must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	// Bare numbers are treated as seconds.
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
