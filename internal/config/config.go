// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the client configuration, loaded from environment variables
// (optionally seeded from a .env file).
type Config struct {
	DBPath        string // path to the SQLite store (queue + cache)
	RemoteBaseURL string // base URL of the remote quality management API
	RemoteTimeout time.Duration
	RemoteToken   string // pre-issued bearer token (optional; login sets one too)

	ListenAddr string // diagnostic API listen address (default loopback)
	LogLevel   string // debug, info, warn, error (default "info")
	Env        string // "development" (default) or "production"

	// FlushSchedule is the cron spec for periodic queue flushes.
	FlushSchedule string
	// ProbeInterval is how often the remote health endpoint is polled to
	// drive reachability when no deliveries are happening.
	ProbeInterval time.Duration
	// DeliveriesPerSecond paces queue drains toward the remote.
	DeliveriesPerSecond float64

	// Diagnostic API rate limiting.
	RateLimitRPS   float64
	RateLimitBurst int

	// Warnings collects non-fatal notes from loading, logged by the caller
	// once the logger exists.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// LoadFromEnv loads configuration from environment variables, applying
// defaults suitable for a development workstation.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		DBPath:        os.Getenv("FIELDSYNC_DB_PATH"),
		RemoteBaseURL: os.Getenv("REMOTE_BASE_URL"),
		RemoteToken:   os.Getenv("REMOTE_TOKEN"),
		ListenAddr:    os.Getenv("LISTEN_ADDR"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
		Env:           os.Getenv("ENV"),
		FlushSchedule: os.Getenv("FLUSH_SCHEDULE"),
	}

	var err error
	if cfg.RemoteTimeout, err = parseDurationEnv("REMOTE_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.ProbeInterval, err = parseDurationEnv("PROBE_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}

	if v := os.Getenv("DELIVERIES_PER_SECOND"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("DELIVERIES_PER_SECOND must be a positive number, got %q", v)
		}
		cfg.DeliveriesPerSecond = f
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitBurst = n
		}
	}

	// Defaults
	if cfg.DBPath == "" {
		cfg.DBPath = "fieldsync.sqlite"
	}
	if cfg.RemoteBaseURL == "" {
		cfg.RemoteBaseURL = "http://localhost:3001"
		cfg.Warnings = append(cfg.Warnings, "REMOTE_BASE_URL not set — using http://localhost:3001")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:8787"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.FlushSchedule == "" {
		cfg.FlushSchedule = "@every 30s"
	}
	if cfg.DeliveriesPerSecond == 0 {
		cfg.DeliveriesPerSecond = 25
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 50
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 100
	}

	if cfg.IsProduction() {
		if strings.HasPrefix(cfg.RemoteBaseURL, "http://localhost") {
			return nil, fmt.Errorf("REMOTE_BASE_URL must be set in production (ENV=production)")
		}
		if !strings.HasPrefix(cfg.ListenAddr, "127.0.0.1") && !strings.HasPrefix(cfg.ListenAddr, "localhost") {
			cfg.Warnings = append(cfg.Warnings, "diagnostic API is listening beyond loopback — it carries no authentication")
		}
	}

	return cfg, nil
}

func parseDurationEnv(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}

// LoadDotEnv reads a .env file and sets any variables not already present in
// the environment. A missing file is not an error.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		// Real environment variables take precedence over the file.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
