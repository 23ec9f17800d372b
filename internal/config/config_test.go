package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rss2.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func clearEnv(t *testing.T) {
	for _, k := range []string{"DB_LOC", "DATABASE_DSN", "RSS2_BASE_URL", "RSS2_ADDRESS",
		"RSS2_ML_ENDPOINT", "RSS2_ML_API_KEY", "RSS2_LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, 15*time.Minute, cfg.Cache.TTL)
	assert.Zero(t, cfg.Indexer.Workers, "chosen by the store backend")
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_ML_KEY", " secret\n")
	path := writeConfig(t, `
server:
  address: 127.0.0.1:9000
  base_url: https://rss.example.com
cache:
  ttl: 5m
fetch:
  timeout: 3s
  host_delay: 500ms
indexer:
  workers: 4
ml:
  endpoint: http://ml:8000
  api_key: ${TEST_ML_KEY}
log:
  level: debug
  file: /tmp/rss2.log
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Address)
	assert.Equal(t, "https://rss.example.com", cfg.Server.BaseURL)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 3*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Fetch.HostDelay)
	assert.Equal(t, 4, cfg.Indexer.Workers)
	assert.Equal(t, 64, cfg.Indexer.QueueSize)
	assert.Equal(t, "secret", cfg.ML.APIKey)
	assert.Equal(t, "/tmp/rss2.log", cfg.Log.File)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_DSN", "postgres://localhost/rss2")
	t.Setenv("RSS2_BASE_URL", "https://feeds.example.org")
	t.Setenv("RSS2_LOG_LEVEL", "warn")
	path := writeConfig(t, "server:\n  base_url: https://ignored.example.com\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "postgres://localhost/rss2", cfg.Database.DSN)
	assert.Equal(t, "https://feeds.example.org", cfg.Server.BaseURL)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"postgres dsn", func(c *Config) { c.Database.Driver = DriverPostgres }},
		{"ttl", func(c *Config) { c.Cache.TTL = -time.Second }},
		{"workers", func(c *Config) { c.Indexer.Workers = -1 }},
		{"log level", func(c *Config) { c.Log.Level = "verbose" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "cache: [not, a, map]"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "database:\n  driver: oracle\n"))
	assert.Error(t, err)
}
