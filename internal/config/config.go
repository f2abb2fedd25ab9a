package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Port is the HTTP port screens connect to.
	Port int

	// APIURL is the base URL of the hosted data service.
	APIURL string

	// StorePath is the SQLite file backing the on-device store.
	StorePath string

	// CacheCapacity bounds the number of posts held in memory.
	CacheCapacity int

	// MutationTimeout bounds each background like/comment confirmation.
	MutationTimeout time.Duration

	// LogLevel is the minimum level written to the log.
	LogLevel slog.Level
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	port, err := intEnv("PORT", 3000)
	if err != nil {
		return nil, err
	}

	apiURL := os.Getenv("SPLAT_API_URL")
	if apiURL == "" {
		return nil, fmt.Errorf("SPLAT_API_URL is required")
	}

	storePath := os.Getenv("SPLAT_STORE_PATH")
	if storePath == "" {
		storePath = "splatshare.db"
	}

	capacity, err := intEnv("SPLAT_CACHE_CAPACITY", 2048)
	if err != nil {
		return nil, err
	}
	if capacity < 1 {
		return nil, fmt.Errorf("invalid SPLAT_CACHE_CAPACITY: must be positive")
	}

	timeout := 15 * time.Second
	if v := os.Getenv("SPLAT_MUTATION_TIMEOUT"); v != "" {
		timeout, err = time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SPLAT_MUTATION_TIMEOUT: %w", err)
		}
	}

	var level slog.Level
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if err := level.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
	}

	return &Config{
		Port:            port,
		APIURL:          apiURL,
		StorePath:       storePath,
		CacheCapacity:   capacity,
		MutationTimeout: timeout,
		LogLevel:        level,
	}, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
