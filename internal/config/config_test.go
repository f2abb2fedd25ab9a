package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SPLAT_API_URL", "https://api.example.com")
	t.Setenv("PORT", "")
	t.Setenv("SPLAT_STORE_PATH", "")
	t.Setenv("SPLAT_CACHE_CAPACITY", "")
	t.Setenv("SPLAT_MUTATION_TIMEOUT", "")
	t.Setenv("LOG_LEVEL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 3000 || cfg.StorePath != "splatshare.db" || cfg.CacheCapacity != 2048 ||
		cfg.MutationTimeout != 15*time.Second || cfg.LogLevel != slog.LevelInfo {
		t.Errorf("Load() = %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SPLAT_API_URL", "https://api.example.com")
	t.Setenv("PORT", "8081")
	t.Setenv("SPLAT_STORE_PATH", "/data/state.db")
	t.Setenv("SPLAT_CACHE_CAPACITY", "64")
	t.Setenv("SPLAT_MUTATION_TIMEOUT", "3s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 8081 || cfg.StorePath != "/data/state.db" || cfg.CacheCapacity != 64 ||
		cfg.MutationTimeout != 3*time.Second || cfg.LogLevel != slog.LevelDebug {
		t.Errorf("Load() = %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing api url", env: map[string]string{"SPLAT_API_URL": ""}},
		{name: "bad port", env: map[string]string{"PORT": "http"}},
		{name: "zero capacity", env: map[string]string{"SPLAT_CACHE_CAPACITY": "0"}},
		{name: "bad timeout", env: map[string]string{"SPLAT_MUTATION_TIMEOUT": "soon"}},
		{name: "bad log level", env: map[string]string{"LOG_LEVEL": "loud"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SPLAT_API_URL", "https://api.example.com")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("Load() error = nil")
			}
		})
	}
}
