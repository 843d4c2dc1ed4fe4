// Package common provides shared utilities for Portico
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for Portico
type Config struct {
	Environment string         `toml:"environment"`
	Server      ServerConfig   `toml:"server"`
	Upstream    UpstreamConfig `toml:"upstream"`
	Cache       CacheConfig    `toml:"cache"`
	Auth        AuthConfig     `toml:"auth"`
	Logging     LoggingConfig  `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// UpstreamConfig holds configuration for the aggregate portfolio backend.
type UpstreamConfig struct {
	BaseURL   string `toml:"base_url"`
	RateLimit int    `toml:"rate_limit"`
	Timeout   string `toml:"timeout"`
}

// GetTimeout parses and returns the request timeout duration
func (c *UpstreamConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

// CacheConfig holds cache window and retry configuration. All windows are
// explicit here so behavior never depends on library defaults.
type CacheConfig struct {
	StaleTime       string `toml:"stale_time"`       // served-but-refetchable window, default "30m"
	CacheTime       string `toml:"cache_time"`       // idle eviction window, default "1h"
	RetryMax        int    `toml:"retry_max"`        // transport retries per fetch, default 3
	RetryBaseDelay  string `toml:"retry_base_delay"` // first backoff delay, default "1s"
	RetryMaxDelay   string `toml:"retry_max_delay"`  // backoff cap, default "15s"
	JanitorInterval string `toml:"janitor_interval"` // eviction sweep interval, default "5m"
	RefreshSchedule string `toml:"refresh_schedule"` // cron spec for keepalive refresh, default "@every 10m"
}

// GetStaleTime parses and returns the staleness window
func (c *CacheConfig) GetStaleTime() time.Duration {
	d, err := time.ParseDuration(c.StaleTime)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}

// GetCacheTime parses and returns the idle eviction window
func (c *CacheConfig) GetCacheTime() time.Duration {
	d, err := time.ParseDuration(c.CacheTime)
	if err != nil {
		return time.Hour
	}
	return d
}

// GetRetryBaseDelay parses and returns the initial backoff delay
func (c *CacheConfig) GetRetryBaseDelay() time.Duration {
	d, err := time.ParseDuration(c.RetryBaseDelay)
	if err != nil {
		return time.Second
	}
	return d
}

// GetRetryMaxDelay parses and returns the backoff cap
func (c *CacheConfig) GetRetryMaxDelay() time.Duration {
	d, err := time.ParseDuration(c.RetryMaxDelay)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

// GetJanitorInterval parses and returns the eviction sweep interval
func (c *CacheConfig) GetJanitorInterval() time.Duration {
	d, err := time.ParseDuration(c.JanitorInterval)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// AuthConfig holds bearer token verification configuration.
type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "console" or "json"
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Upstream: UpstreamConfig{
			BaseURL:   "http://localhost:9000",
			RateLimit: 10,
			Timeout:   "15s",
		},
		Cache: CacheConfig{
			StaleTime:       "30m",
			CacheTime:       "1h",
			RetryMax:        3,
			RetryBaseDelay:  "1s",
			RetryMaxDelay:   "15s",
			JanitorInterval: "5m",
			RefreshSchedule: "@every 10m",
		},
		Auth: AuthConfig{
			JWTSecret: "dev-jwt-secret-change-in-production",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("PORTICO_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("PORTICO_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("PORTICO_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("PORTICO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if url := os.Getenv("PORTICO_UPSTREAM_URL"); url != "" {
		config.Upstream.BaseURL = url
	}

	if v := os.Getenv("PORTICO_AUTH_JWT_SECRET"); v != "" {
		config.Auth.JWTSecret = v
	}

	if v := os.Getenv("PORTICO_CACHE_STALE_TIME"); v != "" {
		config.Cache.StaleTime = v
	}

	if v := os.Getenv("PORTICO_CACHE_CACHE_TIME"); v != "" {
		config.Cache.CacheTime = v
	}
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// ValidateRequired returns the names of required settings that are missing
// or still set to an unsafe default. Empty result means the config is usable
// in production.
func (c *Config) ValidateRequired() []string {
	var missing []string

	if c.Upstream.BaseURL == "" {
		missing = append(missing, "upstream.base_url")
	}
	if c.Auth.JWTSecret == "" || c.Auth.JWTSecret == "dev-jwt-secret-change-in-production" {
		missing = append(missing, "auth.jwt_secret")
	}

	return missing
}
