package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Empty(t, cfg.Database.URL)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.False(t, cfg.Kafka.PublishEvents)
	assert.Empty(t, cfg.FDA.Endpoint)
	assert.Equal(t, 5*time.Second, cfg.FDA.Timeout)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "medtrack", cfg.Telemetry.ServiceName)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.APIKeys)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9090
database:
  url: postgres://localhost/medtrack
log_level: debug
api_keys:
  key-1: alice
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres://localhost/medtrack", cfg.Database.URL)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "alice", cfg.APIKeys["key-1"])

	// Untouched keys keep their defaults
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
}

func TestLoadMissingFileIsSkipped(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8081, cfg.Server.Port)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [broken"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MEDTRACK_SERVER__PORT", "7070")
	t.Setenv("MEDTRACK_SERVER__SHUTDOWN_TIMEOUT", "10s")
	t.Setenv("MEDTRACK_LOG_LEVEL", "warn")
	t.Setenv("MEDTRACK_TELEMETRY__ENABLED", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestEnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o600))
	t.Setenv("MEDTRACK_SERVER__PORT", "6060")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 6060, cfg.Server.Port)
}
