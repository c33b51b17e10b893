package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

type Config struct {
	ServerPort string
	LogLevel   slog.Level

	QueueBackend string
	SQLitePath   string
	DatabaseURL  string
	RedisURL     string

	RemoteBaseURL    string
	RemoteHealthPath string
	RequestTimeout   time.Duration

	SyncTag       string
	ProbeInterval time.Duration
	SyncLockTTL   time.Duration
}

func LoadConfig() (*Config, error) {
	requestTimeout, err := getDuration("REQUEST_TIMEOUT", "15s")
	if err != nil {
		return nil, err
	}
	probeInterval, err := getDuration("PROBE_INTERVAL", "30s")
	if err != nil {
		return nil, err
	}
	lockTTL, err := getDuration("SYNC_LOCK_TTL", "5m")
	if err != nil {
		return nil, err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return nil, errors.New("invalid LOG_LEVEL")
	}

	cfg := &Config{
		ServerPort:       getEnv("SERVER_PORT", "8080"),
		LogLevel:         level,
		QueueBackend:     strings.ToLower(getEnv("QUEUE_BACKEND", BackendSQLite)),
		SQLitePath:       getEnv("SQLITE_PATH", "./data/PharmaERP.db"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		RemoteBaseURL:    getEnv("REMOTE_BASE_URL", "http://127.0.0.1:8000"),
		RemoteHealthPath: getEnv("REMOTE_HEALTH_PATH", "/"),
		RequestTimeout:   requestTimeout,
		SyncTag:          getEnv("SYNC_TAG", "sync-forms"),
		ProbeInterval:    probeInterval,
		SyncLockTTL:      lockTTL,
	}

	// Validate required fields
	switch cfg.QueueBackend {
	case BackendSQLite:
		if cfg.SQLitePath == "" {
			return nil, errors.New("SQLITE_PATH is required")
		}
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required when QUEUE_BACKEND=postgres")
		}
	default:
		return nil, fmt.Errorf("unsupported QUEUE_BACKEND %q", cfg.QueueBackend)
	}
	if cfg.RemoteBaseURL == "" {
		return nil, errors.New("REMOTE_BASE_URL is required")
	}
	if cfg.RequestTimeout <= 0 {
		return nil, errors.New("REQUEST_TIMEOUT must be positive")
	}
	if cfg.ProbeInterval <= 0 {
		return nil, errors.New("PROBE_INTERVAL must be positive")
	}

	return cfg, nil
}

// Helper: get env with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key, defaultValue string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, defaultValue))
	if err != nil {
		return 0, fmt.Errorf("invalid %s format", key)
	}
	return d, nil
}
