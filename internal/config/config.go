// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration. Reward policy knobs that the
// original design read ad hoc from a key-value store are explicit named
// fields here, loaded once at startup and injected.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	// Custom focus-session duration bounds, inclusive, in minutes.
	MinFocusMinutes int
	MaxFocusMinutes int

	// Concurrent pending/in-progress session limits per tier.
	FreeActiveSessionLimit    int
	PremiumActiveSessionLimit int

	// Expiry sweeper: how often to sweep, and how long past the target
	// duration an in-progress session may linger before being failed.
	SweepInterval      time.Duration
	SessionGracePeriod time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                      getEnv("PORT", "8080"),
		FrontendURL:               getEnv("FRONTEND_URL", ""),
		DBPath:                    getEnv("DB_PATH", "./data/unplug.db"),
		MinFocusMinutes:           getEnvInt("MIN_FOCUS_MINUTES", 1),
		MaxFocusMinutes:           getEnvInt("MAX_FOCUS_MINUTES", 23*60),
		FreeActiveSessionLimit:    getEnvInt("FREE_ACTIVE_SESSION_LIMIT", 1),
		PremiumActiveSessionLimit: getEnvInt("PREMIUM_ACTIVE_SESSION_LIMIT", 5),
		SweepInterval:             getEnvDuration("SWEEP_INTERVAL", time.Minute),
		SessionGracePeriod:        getEnvDuration("SESSION_GRACE_PERIOD", 5*time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.MinFocusMinutes < 1 {
		return fmt.Errorf("MIN_FOCUS_MINUTES must be >= 1")
	}
	if c.MaxFocusMinutes < c.MinFocusMinutes {
		return fmt.Errorf("MAX_FOCUS_MINUTES must be >= MIN_FOCUS_MINUTES")
	}
	if c.FreeActiveSessionLimit < 1 {
		return fmt.Errorf("FREE_ACTIVE_SESSION_LIMIT must be >= 1")
	}
	if c.PremiumActiveSessionLimit < c.FreeActiveSessionLimit {
		return fmt.Errorf("PREMIUM_ACTIVE_SESSION_LIMIT must be >= FREE_ACTIVE_SESSION_LIMIT")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0")
	}
	if c.SessionGracePeriod < 0 {
		return fmt.Errorf("SESSION_GRACE_PERIOD cannot be negative")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
