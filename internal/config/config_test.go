package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "0.0.0.0"

postgres:
  url: "postgres://sendfabric:pw@localhost:5432/sendfabric?sslmode=disable"
  max_open_conns: 25

redis:
  url: "redis://localhost:6379/1"

broker:
  url: "nats://localhost:4222"
  dedup_window_seconds: 90

rate_limit:
  acquire_timeout_seconds: 3

recovery:
  interval_seconds: 30
  threshold_seconds: 300
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 25, cfg.Postgres.MaxOpenConns)
	assert.Equal(t, "redis://localhost:6379/1", cfg.Redis.URL)
	assert.Equal(t, 90*1000000000, int(cfg.Broker.DedupWindow().Nanoseconds()))
	assert.Equal(t, 3*1000000000, int(cfg.RateLimit.AcquireTimeout().Nanoseconds()))
	assert.Equal(t, 30*1000000000, int(cfg.Recovery.Interval().Nanoseconds()))
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	err := os.WriteFile(configPath, []byte("server:\n  port: 0\n"), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, "nats://localhost:4222", cfg.Broker.URL)
	assert.Equal(t, 5*1000000000, int(cfg.RateLimit.AcquireTimeout().Nanoseconds()))
	assert.Equal(t, 50, cfg.Recovery.MaxPerScan)
	assert.Equal(t, "us-west-2", cfg.SES.Region)
}

func TestLoadFromEnv(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	err := os.WriteFile(configPath, []byte("redis:\n  url: \"redis://file-host:6379/0\"\n"), 0644)
	require.NoError(t, err)

	os.Setenv("REDIS_URL", "redis://env-host:6379/0")
	defer os.Unsetenv("REDIS_URL")

	cfg, err := LoadFromEnv(configPath)
	require.NoError(t, err)

	assert.Equal(t, "redis://env-host:6379/0", cfg.Redis.URL)
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestSESTimeout(t *testing.T) {
	cfg := SESConfig{TimeoutSeconds: 45}
	assert.Equal(t, 45*1000000000, int(cfg.Timeout().Nanoseconds()))
}

func TestRecoveryInterval(t *testing.T) {
	cfg := RecoveryConfig{IntervalSeconds: 120}
	assert.Equal(t, 120*1000000000, int(cfg.Interval().Nanoseconds()))
}
