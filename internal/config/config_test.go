package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("IC_AUTH__SECRET_KEY", "test-secret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.MetricsPort)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 60*time.Second, cfg.Escalation.SweepInterval)
	assert.Equal(t, 24*time.Hour, cfg.Postmortem.Delay)
	assert.True(t, cfg.Notifications.Enabled)
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9999"
log:
  level: debug
auth:
  secret_key: from-file
escalation:
  sweep_interval: 30s
`), 0o600))

	t.Setenv("IC_SERVER__PORT", "7777")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7777", cfg.Server.Port, "environment wins over file")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "from-file", cfg.Auth.SecretKey)
	assert.Equal(t, 30*time.Second, cfg.Escalation.SweepInterval)
}

func TestLoad_PostgresRequiresURL(t *testing.T) {
	t.Setenv("IC_AUTH__SECRET_KEY", "test-secret")
	t.Setenv("IC_STORAGE__BACKEND", "postgres")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_UnknownBackend(t *testing.T) {
	t.Setenv("IC_AUTH__SECRET_KEY", "test-secret")
	t.Setenv("IC_STORAGE__BACKEND", "etcd")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_RequiresCredentials(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)
}
