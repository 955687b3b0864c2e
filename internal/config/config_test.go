package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "")
	t.Setenv("PORT", "9090")
	t.Setenv("THRESHOLD_OVERRIDE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, BackendCSV, cfg.StorageBackend)
	assert.Equal(t, DefaultDataPath, cfg.DataPath)
	assert.Equal(t, DefaultRawDataPath, cfg.RawDataPath)
	assert.Equal(t, DefaultDashboardCacheTTL, cfg.DashboardCacheTTL)
	assert.True(t, cfg.ModelWatch)
	assert.Nil(t, cfg.ThresholdOverride)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "SQLite")
	t.Setenv("SQLITE_PATH", "/tmp/x.db")
	t.Setenv("MODEL_WATCH", "false")
	t.Setenv("DASHBOARD_CACHE_TTL", "2m")
	t.Setenv("THRESHOLD_OVERRIDE", "0.35")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendSQLite, cfg.StorageBackend)
	assert.Equal(t, "/tmp/x.db", cfg.SQLitePath)
	assert.False(t, cfg.ModelWatch)
	assert.Equal(t, 2*time.Minute, cfg.DashboardCacheTTL)
	require.NotNil(t, cfg.ThresholdOverride)
	assert.InDelta(t, 0.35, *cfg.ThresholdOverride, 1e-9)
}

func TestLoad_BadThreshold(t *testing.T) {
	t.Setenv("THRESHOLD_OVERRIDE", "high")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "THRESHOLD_OVERRIDE")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			StorageBackend: BackendCSV,
			DataPath:       "data/transactions.csv",
			ModelDir:       "models",
			RateLimitRPS:   10,
			RateLimitBurst: 10,
		}
	}
	outOfRange := 1.5

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid csv", mutate: func(c *Config) {}},
		{name: "memory backend", mutate: func(c *Config) { c.StorageBackend = BackendMemory }},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.StorageBackend = "mongo" },
			wantErr: "STORAGE_BACKEND",
		},
		{
			name:    "postgres without url",
			mutate:  func(c *Config) { c.StorageBackend = BackendPostgres },
			wantErr: "DATABASE_URL is required",
		},
		{
			name: "postgres with url",
			mutate: func(c *Config) {
				c.StorageBackend = BackendPostgres
				c.DatabaseURL = "postgres://localhost/fraud"
			},
		},
		{
			name:    "threshold out of range",
			mutate:  func(c *Config) { c.ThresholdOverride = &outOfRange },
			wantErr: "within [0, 1]",
		},
		{
			name:    "zero rate limit",
			mutate:  func(c *Config) { c.RateLimitRPS = 0 },
			wantErr: "must be positive",
		},
		{
			name:    "missing model dir",
			mutate:  func(c *Config) { c.ModelDir = "" },
			wantErr: "MODEL_DIR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_EnvHelpers(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.True(t, cfg.IsProduction())
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, getEnvList("CORS_ALLOWED_ORIGINS"))

	t.Setenv("CORS_ALLOWED_ORIGINS", "")
	assert.Nil(t, getEnvList("CORS_ALLOWED_ORIGINS"))
}
