package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	ServiceName    = "pharmacy-service"
	ServiceVersion = "0.1.0"
)

const (
	BackendMemory   = "memory"
	BackendPebble   = "pebble"
	BackendPostgres = "postgres"
)

type Config struct {
	HTTPAddr        string
	StoreBackend    string
	PebbleDir       string
	DatabaseURL     string
	KafkaBrokers    string
	KafkaTopic      string
	OtelEndpoint    string
	OtelAuthHeader  string
	LogLevel        string
	MaxRetries      int
	ShutdownTimeout time.Duration
}

// Load reads the environment; only the settings of the selected backend are required.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:       getenv("HTTP_ADDR", ":9091"),
		StoreBackend:   getenv("STORE_BACKEND", BackendMemory),
		PebbleDir:      getenv("PEBBLE_DIR", "./data/pebble"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		KafkaBrokers:   os.Getenv("KAFKA_BROKERS"),
		KafkaTopic:     getenv("KAFKA_TOPIC", "pharmacy.prescriptions"),
		OtelEndpoint:   os.Getenv("OTEL_ENDPOINT"),
		OtelAuthHeader: os.Getenv("OTEL_AUTH_HEADER"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
	}

	retries, err := strconv.Atoi(getenv("COMPLETE_MAX_RETRIES", "3"))
	if err != nil || retries < 0 {
		return nil, fmt.Errorf("COMPLETE_MAX_RETRIES must be a non-negative integer")
	}
	cfg.MaxRetries = retries

	cfg.ShutdownTimeout, err = time.ParseDuration(getenv("SHUTDOWN_TIMEOUT", "5s"))
	if err != nil {
		return nil, fmt.Errorf("SHUTDOWN_TIMEOUT: %w", err)
	}

	switch cfg.StoreBackend {
	case BackendMemory:
	case BackendPebble:
		if cfg.PebbleDir == "" {
			return nil, fmt.Errorf("PEBBLE_DIR is required for the pebble backend")
		}
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
