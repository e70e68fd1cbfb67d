// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Host        string
	Port        string
	DBPath      string
	AgentsFile  string
	CORSOrigins []string
	LogLevel    string
	LogFormat   string

	Auth     AuthConfig
	Upstream UpstreamConfig
}

// AuthConfig controls token issuance and the bootstrap admin account.
type AuthConfig struct {
	JWTSecret     string
	TokenTTL      time.Duration
	AdminPhone    string
	AdminPassword string
}

// UpstreamConfig controls the streaming client that talks to agent endpoints.
type UpstreamConfig struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	MinInterval    time.Duration
	RetryBase      time.Duration
	MaxAttempts    int
	SessionTTL     time.Duration
	// LoopGuardLimit aborts a stream after this many identical records in
	// a row. Zero disables the check.
	LoopGuardLimit int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Host:        getEnv("HOST", "127.0.0.1"),
		Port:        getEnv("PORT", "8000"),
		DBPath:      getEnv("DB_PATH", "./data/gateway.db"),
		AgentsFile:  getEnv("AGENTS_FILE", ""),
		CORSOrigins: getEnvList("CORS_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "text"),
		Auth: AuthConfig{
			JWTSecret:     getEnv("JWT_SECRET", ""),
			TokenTTL:      getEnvDuration("TOKEN_TTL", 7*24*time.Hour),
			AdminPhone:    getEnv("ADMIN_PHONE", "admin"),
			AdminPassword: getEnv("ADMIN_PASSWORD", ""),
		},
		Upstream: UpstreamConfig{
			ConnectTimeout: getEnvDuration("UPSTREAM_CONNECT_TIMEOUT", 10*time.Second),
			ReadTimeout:    getEnvDuration("UPSTREAM_READ_TIMEOUT", 120*time.Second),
			MinInterval:    getEnvDuration("UPSTREAM_MIN_INTERVAL", 500*time.Millisecond),
			RetryBase:      getEnvDuration("UPSTREAM_RETRY_BASE", time.Second),
			MaxAttempts:    getEnvInt("UPSTREAM_MAX_ATTEMPTS", 3),
			SessionTTL:     getEnvDuration("SESSION_TTL", 0),
			LoopGuardLimit: getEnvInt("UPSTREAM_LOOP_GUARD_LIMIT", 64),
		},
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
	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("JWT_SECRET must be at least 16 characters")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be > 0")
	}
	if c.Upstream.ConnectTimeout <= 0 || c.Upstream.ReadTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_CONNECT_TIMEOUT and UPSTREAM_READ_TIMEOUT must be > 0")
	}
	if c.Upstream.MinInterval < 0 || c.Upstream.RetryBase < 0 || c.Upstream.SessionTTL < 0 {
		return fmt.Errorf("upstream intervals cannot be negative")
	}
	if c.Upstream.MaxAttempts <= 0 {
		return fmt.Errorf("UPSTREAM_MAX_ATTEMPTS must be > 0")
	}
	if c.Upstream.LoopGuardLimit < 0 {
		return fmt.Errorf("UPSTREAM_LOOP_GUARD_LIMIT cannot be negative")
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
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

// getEnvDuration accepts Go durations ("1.5s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
