package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 15*time.Minute, cfg.Auth.JWT.TTL)
	assert.Equal(t, 90, cfg.Notify.ReadRetentionDays)
	assert.Equal(t, "@daily", cfg.Notify.SweepSchedule)
	assert.True(t, cfg.Monitoring.Prometheus.Enabled)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	contents := []byte(`
server:
  port: 9100
  log_level: debug
database:
  driver: postgres
  postgres:
    host: db.internal
    port: 5433
    database: pulsenote
    username: notify
    password: secret
auth:
  jwt:
    secret: file-secret
    access_token_ttl: 1h
notify:
  read_retention_days: 7
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), contents, 0o600))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, "file-secret", cfg.Auth.JWT.Secret)
	assert.Equal(t, time.Hour, cfg.Auth.JWT.TTL)
	assert.Equal(t, 7, cfg.Notify.ReadRetentionDays)

	dbCfg := cfg.DatabaseConfig()
	assert.Equal(t, "postgres", dbCfg.Driver)
	assert.Equal(t, "db.internal", dbCfg.Host)
	assert.Equal(t, 5433, dbCfg.Port)
	assert.Equal(t, "pulsenote", dbCfg.Name)
	assert.Equal(t, "notify", dbCfg.User)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("PULSENOTE_SERVER_PORT", "9200")
	t.Setenv("PULSENOTE_AUTH_JWT_SECRET", "env-secret")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, "env-secret", cfg.Auth.JWT.Secret)
	require.NoError(t, cfg.Validate())
}

func TestValidateRequiresJWTSecret(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Error(t, cfg.Validate())

	cfg.Auth.JWT.Secret = "s"
	require.NoError(t, cfg.Validate())
}

func TestConfigureLoggingDefaults(t *testing.T) {
	require.NoError(t, ConfigureLogging("", ""))
	require.NoError(t, ConfigureLogging("debug", "console"))
	// unknown levels fall back to info rather than failing startup
	require.NoError(t, ConfigureLogging("not-a-level", "json"))
}
