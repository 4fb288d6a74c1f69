// Package config loads service configuration from YAML with environment
// overrides. Signing secrets are never read from the file; they come
// from the environment only.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses YAML scalars like "15m" or "24h" into a duration.
// Plain yaml.v3 only accepts integer nanoseconds for time.Duration,
// which no one wants to write in a config file.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Environment variables consulted after the file is parsed.
const (
	EnvPGDSN         = "ACCESSGATE_PG_DSN"
	EnvRedisAddr     = "ACCESSGATE_REDIS_ADDR"
	EnvAccessSecret  = "ACCESSGATE_ACCESS_SECRET"
	EnvRefreshSecret = "ACCESSGATE_REFRESH_SECRET"
)

// Config is the root configuration for the service.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Sessions SessionsConfig `yaml:"sessions"`
	Tokens   TokensConfig   `yaml:"tokens"`
	Guard    GuardConfig    `yaml:"guard"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	IdleTimeout     Duration `yaml:"idle_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	RateLimitPerSec int           `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
}

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// SessionsConfig selects the refresh session backend.
type SessionsConfig struct {
	// Backend is "postgres" or "redis".
	Backend   string `yaml:"backend"`
	RedisAddr string `yaml:"redis_addr"`
}

// TokensConfig holds token lifetimes. Secrets come from the environment.
type TokensConfig struct {
	Issuer     string        `yaml:"issuer"`
	AccessTTL  Duration `yaml:"access_ttl"`
	RefreshTTL Duration `yaml:"refresh_ttl"`
	Leeway     Duration `yaml:"leeway"`

	AccessSecret  string `yaml:"-"`
	RefreshSecret string `yaml:"-"`
}

// GuardConfig holds the authorization guard policy. RoleSource has no
// default: the deployment states its staleness trade-off explicitly.
type GuardConfig struct {
	// RoleSource is "snapshot" or "refetch".
	RoleSource string `yaml:"role_source"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the YAML file at path (optional, may be empty), applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     Duration(15 * time.Second),
			WriteTimeout:    Duration(15 * time.Second),
			IdleTimeout:     Duration(60 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
			RateLimitPerSec: 50,
			RateLimitBurst:  100,
		},
		Sessions: SessionsConfig{Backend: "postgres"},
		Tokens: TokensConfig{
			Issuer:     "accessgate",
			AccessTTL:  Duration(15 * time.Minute),
			RefreshTTL: Duration(14 * 24 * time.Hour),
			Leeway:     Duration(5 * time.Second),
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv(EnvPGDSN); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		cfg.Sessions.RedisAddr = v
	}
	cfg.Tokens.AccessSecret = os.Getenv(EnvAccessSecret)
	cfg.Tokens.RefreshSecret = os.Getenv(EnvRefreshSecret)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(c.Sessions.Backend) {
	case "postgres":
	case "redis":
		if c.Sessions.RedisAddr == "" {
			return fmt.Errorf("sessions backend redis requires redis_addr or %s", EnvRedisAddr)
		}
	default:
		return fmt.Errorf("unknown sessions backend %q", c.Sessions.Backend)
	}
	switch strings.ToLower(c.Guard.RoleSource) {
	case "snapshot", "refetch":
	default:
		return fmt.Errorf("guard role_source must be snapshot or refetch, got %q", c.Guard.RoleSource)
	}
	if c.Tokens.AccessSecret == "" || c.Tokens.RefreshSecret == "" {
		return fmt.Errorf("%s and %s must be set", EnvAccessSecret, EnvRefreshSecret)
	}
	if c.Tokens.AccessSecret == c.Tokens.RefreshSecret {
		return fmt.Errorf("%s and %s must differ", EnvAccessSecret, EnvRefreshSecret)
	}
	if c.Tokens.AccessTTL <= 0 || c.Tokens.RefreshTTL <= 0 {
		return fmt.Errorf("token TTLs must be positive")
	}
	return nil
}
