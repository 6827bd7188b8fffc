// Package config loads and validates environment-based configuration.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/ksharma-xyz/krail-nearby/internal/nearby"
)

// Store names accepted by STORE.
const (
	StoreMemory   = "memory"
	StoreSqlite   = "sqlite"
	StorePostgres = "postgres"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: field %q: %s", e.Field, e.Message)
}

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	Port int

	// Stop store selection and its connection settings.
	Store      string // memory | sqlite | postgres; defaults to memory.
	DBDSN      string // Required when Store is postgres.
	SqlitePath string // Defaults to "./data/stops.db".
	SeedPath   string // Optional JSON seed; required for the memory store.

	// Nearby-stops manager tunables.
	Nearby nearby.Settings

	// DefaultRadiusKm is used when a request omits radius_km.
	DefaultRadiusKm float64

	// MaxSessions bounds concurrent viewport sessions.
	MaxSessions int
	// SessionIdleTTL is how long a viewport session may go untouched before
	// it can be evicted.
	SessionIdleTTL time.Duration
}

// Load reads and validates environment variables.
// Returns a ConfigError for any missing or invalid value.
func Load() (*Config, error) {
	defaults := nearby.DefaultSettings()
	cfg := &Config{}
	var err error

	if cfg.Port, err = intEnv("PORT", 8080); err != nil {
		return nil, err
	}

	cfg.Store = os.Getenv("STORE")
	if cfg.Store == "" {
		cfg.Store = StoreMemory
	}
	cfg.DBDSN = os.Getenv("DB_DSN")
	cfg.SqlitePath = os.Getenv("SQLITE_PATH")
	if cfg.SqlitePath == "" {
		cfg.SqlitePath = "./data/stops.db"
	}
	cfg.SeedPath = os.Getenv("SEED_PATH")

	cfg.Nearby.DebounceDelay = parseDurationEnv("NEARBY_DEBOUNCE", defaults.DebounceDelay)
	cfg.Nearby.CacheTTL = parseDurationEnv("NEARBY_CACHE_TTL", defaults.CacheTTL)
	if cfg.Nearby.MinMoveKm, err = floatEnv("NEARBY_MIN_MOVE_KM", defaults.MinMoveKm); err != nil {
		return nil, err
	}
	if cfg.Nearby.MaxResults, err = intEnv("NEARBY_MAX_RESULTS", defaults.MaxResults); err != nil {
		return nil, err
	}
	if cfg.DefaultRadiusKm, err = floatEnv("DEFAULT_RADIUS_KM", 1.0); err != nil {
		return nil, err
	}
	if cfg.MaxSessions, err = intEnv("MAX_SESSIONS", 10_000); err != nil {
		return nil, err
	}
	cfg.SessionIdleTTL = parseDurationEnv("SESSION_IDLE_TTL", 10*time.Minute)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate re-checks required fields on an already-constructed Config.
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, &ConfigError{Field: "PORT", Message: "must be between 1 and 65535"})
	}
	switch c.Store {
	case StoreMemory:
		if c.SeedPath == "" {
			errs = append(errs, &ConfigError{Field: "SEED_PATH", Message: "required for the memory store"})
		}
	case StoreSqlite:
		if c.SqlitePath == "" {
			errs = append(errs, &ConfigError{Field: "SQLITE_PATH", Message: "cannot be empty"})
		}
	case StorePostgres:
		if c.DBDSN == "" {
			errs = append(errs, &ConfigError{Field: "DB_DSN", Message: "required for the postgres store"})
		}
	default:
		errs = append(errs, &ConfigError{Field: "STORE", Message: fmt.Sprintf("unknown store %q", c.Store)})
	}
	if c.Nearby.DebounceDelay < 0 {
		errs = append(errs, &ConfigError{Field: "NEARBY_DEBOUNCE", Message: "must not be negative"})
	}
	if c.Nearby.CacheTTL < 0 {
		errs = append(errs, &ConfigError{Field: "NEARBY_CACHE_TTL", Message: "must not be negative"})
	}
	if c.Nearby.MinMoveKm < 0 {
		errs = append(errs, &ConfigError{Field: "NEARBY_MIN_MOVE_KM", Message: "must not be negative"})
	}
	if c.Nearby.MaxResults < 1 {
		errs = append(errs, &ConfigError{Field: "NEARBY_MAX_RESULTS", Message: "must be at least 1"})
	}
	if c.DefaultRadiusKm <= 0 {
		errs = append(errs, &ConfigError{Field: "DEFAULT_RADIUS_KM", Message: "must be positive"})
	}
	if c.MaxSessions < 1 {
		errs = append(errs, &ConfigError{Field: "MAX_SESSIONS", Message: "must be at least 1"})
	}
	if c.SessionIdleTTL <= 0 {
		errs = append(errs, &ConfigError{Field: "SESSION_IDLE_TTL", Message: "must be positive"})
	}
	return errors.Join(errs...)
}

// parseDurationEnv reads a duration from an environment variable.
// Falls back to defaultVal if the variable is unset or unparseable.
// Accepts Go duration strings like "300ms", "1m".
func parseDurationEnv(key string, defaultVal time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return defaultVal
	}
	return d
}

// intEnv reads an integer; unset means defaultVal, garbage is an error.
func intEnv(key string, defaultVal int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ConfigError{Field: key, Message: "must be a valid integer"}
	}
	return v, nil
}

// floatEnv reads a finite float; unset means defaultVal, garbage is an error.
func floatEnv(key string, defaultVal float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &ConfigError{Field: key, Message: "must be a valid number"}
	}
	return v, nil
}
