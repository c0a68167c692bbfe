package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "inspection.db", cfg.Store.DatabaseURL)
	assert.Equal(t, int32(5), cfg.Store.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Batch.MaxWorkers)
	assert.True(t, cfg.Classifier.Enabled)
	assert.Equal(t, 30, cfg.Classifier.TimeoutSecs)
	assert.Equal(t, 30*time.Second, cfg.Classifier.Timeout())
	assert.Equal(t, 3, cfg.Classifier.RetryCount)
	assert.True(t, cfg.Classifier.FallbackEnabled)
	assert.Equal(t, 300, cfg.Cache.TTLSecs)
	assert.Equal(t, 1000, cfg.Cache.MaxEntries)
	assert.True(t, cfg.Features.SummaryGeneration)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/inspections
log:
  level: debug
  format: console
classifier:
  timeout_secs: 10
  retry_count: 1
batch:
  max_workers: 8
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/inspections", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 10, cfg.Classifier.TimeoutSecs)
	assert.Equal(t, 1, cfg.Classifier.RetryCount)
	assert.Equal(t, 8, cfg.Batch.MaxWorkers)
	// Defaults still apply for unset values
	assert.Equal(t, 300, cfg.Cache.TTLSecs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("INSPECT_STORE_DRIVER", "postgres")
	t.Setenv("INSPECT_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("INSPECT_SERVER_PORT", "3000")
	t.Setenv("INSPECT_BATCH_MAX_WORKERS", "2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Batch.MaxWorkers)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "inspection.db"
	cfg.Classifier.Enabled = true
	cfg.Classifier.TimeoutSecs = 30
	cfg.Classifier.RetryCount = 3
	cfg.Classifier.FallbackEnabled = true
	cfg.Batch.MaxWorkers = 4
	cfg.Cache.TTLSecs = 300
	cfg.Server.Port = 8080
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		mode    string
		wantErr string
	}{
		{name: "defaults ok", mutate: func(*Config) {}, mode: "classify"},
		{name: "unknown driver", mutate: func(c *Config) { c.Store.Driver = "mysql" }, wantErr: "store.driver"},
		{name: "missing url", mutate: func(c *Config) { c.Store.DatabaseURL = "" }, wantErr: "store.database_url is required"},
		{name: "zero timeout", mutate: func(c *Config) { c.Classifier.TimeoutSecs = 0 }, wantErr: "classifier.timeout_secs"},
		{name: "negative retries", mutate: func(c *Config) { c.Classifier.RetryCount = -1 }, wantErr: "classifier.retry_count"},
		{name: "zero workers", mutate: func(c *Config) { c.Batch.MaxWorkers = 0 }, wantErr: "batch.max_workers"},
		{name: "negative cache ttl", mutate: func(c *Config) { c.Cache.TTLSecs = -1 }, wantErr: "cache.ttl_secs"},
		{
			name:    "no key without fallback",
			mutate:  func(c *Config) { c.Classifier.FallbackEnabled = false },
			mode:    "classify",
			wantErr: "anthropic.key is required",
		},
		{
			name: "key present without fallback",
			mutate: func(c *Config) {
				c.Classifier.FallbackEnabled = false
				c.Anthropic.Key = "sk-ant-key"
			},
			mode: "classify",
		},
		{name: "serve invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, mode: "serve", wantErr: "server.port"},
		{name: "serve valid port", mutate: func(c *Config) { c.Server.Port = 9090 }, mode: "serve"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate(tt.mode)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "batch.max_workers")
}
