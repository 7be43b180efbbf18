package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path (if non-empty) over the defaults, loads
// a .env file when present and applies environment overrides. The returned
// Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads the deployment variables the service has always
// honoured (PORT, DATABASE_URL, REDIS_URL) and the PREDICTIONS_* variables.
func applyEnvOverrides(cfg *Config) {
	setInt(&cfg.Server.Port, "PORT")
	setStr(&cfg.Database.URL, "DATABASE_URL")
	setStr(&cfg.Redis.URL, "REDIS_URL")

	// ── Server ──
	setInt(&cfg.Server.Port, "PREDICTIONS_SERVER_PORT")
	setDuration(&cfg.Server.RequestTimeout, "PREDICTIONS_SERVER_REQUEST_TIMEOUT")

	// ── Storage ──
	setBool(&cfg.Database.RunMigrations, "PREDICTIONS_DATABASE_RUN_MIGRATIONS")
	setDuration(&cfg.Redis.CacheTTL, "PREDICTIONS_REDIS_CACHE_TTL")

	// ── Chain ──
	setInt(&cfg.Chain.ChainID, "PREDICTIONS_CHAIN_ID")
	setInt32(&cfg.Chain.TokenDecimals, "PREDICTIONS_TOKEN_DECIMALS")
	setStr(&cfg.Chain.ExplorerURL, "PREDICTIONS_EXPLORER_URL")

	// ── Rounds ──
	setDuration(&cfg.Rounds.Buffer, "PREDICTIONS_ROUND_BUFFER")

	// ── I18n ──
	setStr(&cfg.I18n.CatalogPath, "PREDICTIONS_I18N_CATALOG")
	setStr(&cfg.I18n.DefaultLanguage, "PREDICTIONS_I18N_DEFAULT_LANGUAGE")

	setStr(&cfg.LogLevel, "PREDICTIONS_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
