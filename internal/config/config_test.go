package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress {
		t.Fatalf("unexpected http address %q", cfg.HTTPAddress)
	}
	if cfg.DatabaseDriver != DatabaseDriverSQLite || cfg.DatabasePath != defaultDatabasePath {
		t.Fatalf("unexpected database settings: %s %s", cfg.DatabaseDriver, cfg.DatabasePath)
	}
	if cfg.Notify.Timeout != 8*time.Second {
		t.Fatalf("expected 8s notify timeout, got %s", cfg.Notify.Timeout)
	}
	if cfg.Notify.MaxAttempts != 1 {
		t.Fatalf("expected a single delivery attempt by default, got %d", cfg.Notify.MaxAttempts)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Fatalf("unexpected allowed origins %v", cfg.AllowedOrigins)
	}
	if len(cfg.UserHeaders) != 3 || cfg.UserHeaders[0] != "X-User-Id" {
		t.Fatalf("unexpected user headers %v", cfg.UserHeaders)
	}
}

func TestLoadRejectsInvalidConfiguration(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]any
		contains string
	}{
		{
			name:     "missing-secret",
			settings: map[string]any{},
			contains: "auth.signing_secret",
		},
		{
			name:     "postgres-without-dsn",
			settings: map[string]any{"auth.signing_secret": "s", "database.driver": "postgres"},
			contains: "database.dsn",
		},
		{
			name:     "unknown-driver",
			settings: map[string]any{"auth.signing_secret": "s", "database.driver": "oracle"},
			contains: "not supported",
		},
		{
			name:     "too-many-attempts",
			settings: map[string]any{"auth.signing_secret": "s", "notify.max_attempts": 9},
			contains: "notify.max_attempts",
		},
		{
			name:     "zero-workers",
			settings: map[string]any{"auth.signing_secret": "s", "notify.workers": 0},
			contains: "notify.workers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configViper := NewViper()
			for key, value := range tt.settings {
				configViper.Set(key, value)
			}
			_, err := Load(configViper)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.contains) {
				t.Fatalf("expected error mentioning %q, got %v", tt.contains, err)
			}
		})
	}
}

func TestLoadSplitsAllowedOrigins(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")
	configViper.Set("cors.allowed_origins", " https://a.example.com, ,https://b.example.com ")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example.com" {
		t.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
}
