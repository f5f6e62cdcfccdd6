// ABOUTME: Tests for configuration loading, defaults, and validation.
// ABOUTME: Covers env var expansion and duration string parsing.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes a temp config file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("full config", func(t *testing.T) {
		path := writeConfig(t, `
server:
  http_addr: "127.0.0.1:9090"
auth:
  jwt_secret: "s3cret"
session:
  queue_limit: 50
  idle_timeout: "2m"
  sweep_interval: "10s"
  call_timeout: "5s"
logging:
  level: "debug"
  format: "json"
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "127.0.0.1:9090", cfg.Server.HTTPAddr)
		assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
		assert.Equal(t, 50, cfg.Session.QueueLimit)
		assert.Equal(t, 2*time.Minute, cfg.Session.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Session.SweepInterval)
		assert.Equal(t, 5*time.Second, cfg.Session.CallTimeout)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "json", cfg.Logging.Format)
	})

	t.Run("defaults applied for missing sections", func(t *testing.T) {
		path := writeConfig(t, `
server:
  http_addr: "localhost:8081"
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, DefaultQueueLimit, cfg.Session.QueueLimit)
		assert.Equal(t, DefaultIdleTimeout, cfg.Session.IdleTimeout)
		assert.Equal(t, DefaultSweepInterval, cfg.Session.SweepInterval)
		assert.Equal(t, DefaultCallTimeout, cfg.Session.CallTimeout)
		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "text", cfg.Logging.Format)
	})

	t.Run("expands environment variables", func(t *testing.T) {
		t.Setenv("BRIDGE_TEST_SECRET", "from-env")
		path := writeConfig(t, `
auth:
  jwt_secret: "${BRIDGE_TEST_SECRET}"
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	})

	t.Run("unset variables expand to empty", func(t *testing.T) {
		path := writeConfig(t, `
auth:
  jwt_secret: "${BRIDGE_DEFINITELY_UNSET_VAR}"
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "", cfg.Auth.JWTSecret)
	})

	t.Run("invalid duration string", func(t *testing.T) {
		path := writeConfig(t, `
session:
  idle_timeout: "five minutes"
`)
		_, err := Load(path)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "idle_timeout")
	})

	t.Run("negative queue limit rejected", func(t *testing.T) {
		path := writeConfig(t, `
session:
  queue_limit: -1
`)
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "localhost:8080", cfg.Server.HTTPAddr)
	assert.Equal(t, DefaultCallTimeout, cfg.Session.CallTimeout)
}
