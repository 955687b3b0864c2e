// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends for scored transactions.
const (
	BackendCSV      = "csv"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Model bundle
	ModelDir          string
	ModelWatch        bool
	ThresholdOverride *float64 // replaces the bundle threshold when set

	// Storage
	StorageBackend string
	DataPath       string // scored-transaction CSV log
	RawDataPath    string // historical labelled CSV
	DatabaseURL    string // PostgreSQL connection string
	SQLitePath     string

	// Dashboard
	RedisURL          string // optional, in-memory cache when empty
	DashboardCacheTTL time.Duration

	// Security
	RateLimitRPS   int
	RateLimitBurst int
	CORSOrigins    []string // empty allows any origin

	// Observability
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "json"
	DefaultModelDir          = "models"
	DefaultDataPath          = "data/transactions.csv"
	DefaultRawDataPath       = "data/raw/transactions.csv"
	DefaultSQLitePath        = "data/fraudscope.db"
	DefaultDashboardCacheTTL = 30 * time.Second
	DefaultRateLimit         = 20
	DefaultRateLimitBurst    = 40
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:         getEnv("LOG_FORMAT", DefaultLogFormat),
		ModelDir:          getEnv("MODEL_DIR", DefaultModelDir),
		ModelWatch:        getEnvBool("MODEL_WATCH", true),
		StorageBackend:    strings.ToLower(getEnv("STORAGE_BACKEND", BackendCSV)),
		DataPath:          getEnv("DATA_PATH", DefaultDataPath),
		RawDataPath:       getEnv("RAW_DATA_PATH", DefaultRawDataPath),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		SQLitePath:        getEnv("SQLITE_PATH", DefaultSQLitePath),
		RedisURL:          os.Getenv("REDIS_URL"),
		DashboardCacheTTL: getEnvDuration("DASHBOARD_CACHE_TTL", DefaultDashboardCacheTTL),
		RateLimitRPS:      int(getEnvInt64("RATE_LIMIT_RPS", DefaultRateLimit)),
		RateLimitBurst:    int(getEnvInt64("RATE_LIMIT_BURST", DefaultRateLimitBurst)),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		CORSOrigins:       getEnvList("CORS_ALLOWED_ORIGINS"),
	}

	if v := os.Getenv("THRESHOLD_OVERRIDE"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("THRESHOLD_OVERRIDE must be a number: %w", err)
		}
		cfg.ThresholdOverride = &t
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is coherent
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case BackendCSV:
		if c.DataPath == "" {
			return fmt.Errorf("DATA_PATH is required for the csv backend")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("STORAGE_BACKEND must be one of csv, postgres, sqlite, memory (got %q)", c.StorageBackend)
	}

	if c.ThresholdOverride != nil {
		if t := *c.ThresholdOverride; t < 0 || t > 1 {
			return fmt.Errorf("THRESHOLD_OVERRIDE must be within [0, 1]")
		}
	}

	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}

	if c.ModelDir == "" {
		return fmt.Errorf("MODEL_DIR is required")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
