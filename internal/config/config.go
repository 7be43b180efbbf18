// Package config defines the predictions service configuration and its
// validation.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/atmx/predictions/internal/units"
)

// Config is the root configuration. Fields are populated from an optional
// TOML file and then overridden by environment variables.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Chain    ChainConfig    `toml:"chain"`
	Rounds   RoundsConfig   `toml:"rounds"`
	I18n     I18nConfig     `toml:"i18n"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port           int      `toml:"port"`
	RequestTimeout duration `toml:"request_timeout"`
}

// DatabaseConfig holds the PostgreSQL connection. An empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL           string `toml:"url"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds the read-through cache connection. It is only used
// together with a database.
type RedisConfig struct {
	URL      string   `toml:"url"`
	CacheTTL duration `toml:"cache_ttl"`
}

// ChainConfig describes the prediction contract's chain.
type ChainConfig struct {
	ChainID       int    `toml:"chain_id"`
	TokenDecimals int32  `toml:"token_decimals"`
	ExplorerURL   string `toml:"explorer_url"` // empty: chain default
}

// RoundsConfig holds round timing parameters.
type RoundsConfig struct {
	// Buffer is the grace period after close before an unsettled round
	// is considered failed.
	Buffer duration `toml:"buffer"`
}

// I18nConfig points at the translation catalogs.
type I18nConfig struct {
	CatalogPath     string `toml:"catalog_path"`
	DefaultLanguage string `toml:"default_language"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration: BSC mainnet, in-memory store.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:           8080,
			RequestTimeout: duration{30 * time.Second},
		},
		Database: DatabaseConfig{
			RunMigrations: true,
		},
		Redis: RedisConfig{
			CacheTTL: duration{30 * time.Second},
		},
		Chain: ChainConfig{
			ChainID:       56,
			TokenDecimals: units.TokenDecimals,
		},
		Rounds: RoundsConfig{
			Buffer: duration{30 * time.Second},
		},
		I18n: I18nConfig{
			DefaultLanguage: "en",
		},
		LogLevel: "info",
	}
}

// BufferSeconds returns the round buffer in whole seconds.
func (c *Config) BufferSeconds() int64 {
	return int64(c.Rounds.Buffer.Duration / time.Second)
}

// SlogLevel maps LogLevel to a slog level. Unknown values map to info.
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

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.RequestTimeout.Duration <= 0 {
		errs = append(errs, "server.request_timeout must be positive")
	}
	if c.Chain.TokenDecimals < 0 || c.Chain.TokenDecimals > 36 {
		errs = append(errs, fmt.Sprintf("chain.token_decimals %d out of range", c.Chain.TokenDecimals))
	}
	if c.Rounds.Buffer.Duration < 0 {
		errs = append(errs, "rounds.buffer must not be negative")
	}
	if c.Redis.URL != "" && c.Database.URL == "" {
		errs = append(errs, "redis.url requires database.url")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
