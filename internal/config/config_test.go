package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("FullConfig", func(t *testing.T) {
		path := writeConfig(t, `
app:
  name: tolka
  environment: test
database:
  path: /tmp/tolka.db
redis:
  address: localhost:6379
  db: 1
smtp:
  host: smtp.example.com
  from: noreply@example.com
api:
  enabled: true
  auth:
    api_keys:
      - key: secret-key
        name: dashboard
        permissions: ["read:bookings", "write:bookings"]
notifications:
  poll_seconds: 10
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "tolka", cfg.App.Name)
		assert.Equal(t, "/tmp/tolka.db", cfg.Database.Path)
		assert.Equal(t, "localhost:6379", cfg.Redis.Address)
		assert.Equal(t, 10, cfg.Notifications.PollSeconds)
		require.Len(t, cfg.API.Auth.APIKeys, 1)
		assert.Equal(t, "dashboard", cfg.API.Auth.APIKeys[0].Name)
	})

	t.Run("Defaults", func(t *testing.T) {
		path := writeConfig(t, `
database:
  path: /tmp/tolka.db
api:
  enabled: true
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.API.HTTP.Port)
		assert.True(t, cfg.API.HTTP.Enabled)
		assert.True(t, cfg.API.Auth.Enabled)
		assert.Equal(t, "x-api-key", cfg.API.Auth.HeaderAPIKey)
		assert.Equal(t, float64(10), cfg.API.RateLimit.RPS)
		assert.Equal(t, 20, cfg.API.RateLimit.Burst)
		assert.Equal(t, 587, cfg.SMTP.Port)
		assert.Equal(t, 90, cfg.Notifications.ReminderMinutes)
		assert.Equal(t, 30, cfg.Notifications.PollSeconds)
		assert.Equal(t, 5, cfg.Notifications.MaxRetries)
		assert.Equal(t, 50, cfg.Notifications.BatchSize)
	})

	t.Run("EnvExpansion", func(t *testing.T) {
		t.Setenv("TOLKA_DB_PATH", "/tmp/env.db")
		t.Setenv("TOLKA_REDIS_PASSWORD", "s3cret")

		path := writeConfig(t, `
database:
  path: ${TOLKA_DB_PATH}
redis:
  address: localhost:6379
  password: ${TOLKA_REDIS_PASSWORD}
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "/tmp/env.db", cfg.Database.Path)
		assert.Equal(t, "s3cret", cfg.Redis.Password)
	})

	t.Run("MissingDatabasePath", func(t *testing.T) {
		path := writeConfig(t, `
app:
  name: tolka
`)
		_, err := Load(path)
		assert.ErrorContains(t, err, "database path is required")
	})

	t.Run("SMTPHostWithoutFrom", func(t *testing.T) {
		path := writeConfig(t, `
database:
  path: /tmp/tolka.db
smtp:
  host: smtp.example.com
`)
		_, err := Load(path)
		assert.ErrorContains(t, err, "smtp from address is required")
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}
