package config

import (
	"errors"
	"testing"
	"time"

	"github.com/ksharma-xyz/krail-nearby/internal/nearby"
)

// clearEnv blanks every variable Load reads so the host environment cannot
// leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "STORE", "DB_DSN", "SQLITE_PATH", "SEED_PATH",
		"NEARBY_DEBOUNCE", "NEARBY_CACHE_TTL", "NEARBY_MIN_MOVE_KM", "NEARBY_MAX_RESULTS",
		"DEFAULT_RADIUS_KM", "MAX_SESSIONS", "SESSION_IDLE_TTL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("SEED_PATH", "testdata/stops.json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.Store != StoreMemory {
		t.Errorf("Store = %q, want %q", cfg.Store, StoreMemory)
	}
	if cfg.Nearby != nearby.DefaultSettings() {
		t.Errorf("Nearby = %+v, want defaults", cfg.Nearby)
	}
	if cfg.DefaultRadiusKm != 1 {
		t.Errorf("DefaultRadiusKm = %v, want 1", cfg.DefaultRadiusKm)
	}
	if cfg.SessionIdleTTL != 10*time.Minute {
		t.Errorf("SessionIdleTTL = %v, want 10m", cfg.SessionIdleTTL)
	}
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("STORE", "postgres")
	t.Setenv("DB_DSN", "postgres://localhost/krail")
	t.Setenv("NEARBY_DEBOUNCE", "150ms")
	t.Setenv("NEARBY_CACHE_TTL", "2m")
	t.Setenv("NEARBY_MIN_MOVE_KM", "0.1")
	t.Setenv("NEARBY_MAX_RESULTS", "25")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := nearby.Settings{DebounceDelay: 150 * time.Millisecond, CacheTTL: 2 * time.Minute, MinMoveKm: 0.1, MaxResults: 25}
	if cfg.Nearby != want {
		t.Errorf("Nearby = %+v, want %+v", cfg.Nearby, want)
	}
	if cfg.Port != 9090 || cfg.Store != StorePostgres {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoad_BadDurationFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("SEED_PATH", "x.json")
	t.Setenv("NEARBY_DEBOUNCE", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Nearby.DebounceDelay != nearby.DefaultSettings().DebounceDelay {
		t.Errorf("DebounceDelay = %v, want default", cfg.Nearby.DebounceDelay)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		field string
	}{
		{"bad port", map[string]string{"PORT": "http", "SEED_PATH": "x"}, "PORT"},
		{"port out of range", map[string]string{"PORT": "70000", "SEED_PATH": "x"}, "PORT"},
		{"unknown store", map[string]string{"STORE": "redis"}, "STORE"},
		{"postgres without dsn", map[string]string{"STORE": "postgres"}, "DB_DSN"},
		{"memory without seed", map[string]string{"STORE": "memory"}, "SEED_PATH"},
		{"nan min move", map[string]string{"SEED_PATH": "x", "NEARBY_MIN_MOVE_KM": "NaN"}, "NEARBY_MIN_MOVE_KM"},
		{"zero max results", map[string]string{"SEED_PATH": "x", "NEARBY_MAX_RESULTS": "0"}, "NEARBY_MAX_RESULTS"},
		{"negative ttl", map[string]string{"SEED_PATH": "x", "NEARBY_CACHE_TTL": "-1s"}, "NEARBY_CACHE_TTL"},
		{"zero radius", map[string]string{"SEED_PATH": "x", "DEFAULT_RADIUS_KM": "0"}, "DEFAULT_RADIUS_KM"},
		{"zero session idle ttl", map[string]string{"SEED_PATH": "x", "SESSION_IDLE_TTL": "0s"}, "SESSION_IDLE_TTL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("err = %v, want *ConfigError", err)
			}
			if ce.Field != tt.field {
				t.Errorf("Field = %q, want %q", ce.Field, tt.field)
			}
		})
	}
}
