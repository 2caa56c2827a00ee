package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8899, cfg.Server.Port)
	assert.Equal(t, 50, cfg.Server.PollAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Server.PollInterval)
	assert.Equal(t, []string{"ipykernel", "jupyter_server"}, cfg.Interpreter.RequiredModules)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9100
  shutdown_grace: 2s
execution:
  store_history: false
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 2*time.Second, cfg.Server.ShutdownGrace)
	assert.False(t, cfg.Execution.StoreHistory)
	// Untouched sections keep defaults.
	assert.Equal(t, "localhost", cfg.Server.Host)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NBDECK_SERVER_PORT", "9999")
	t.Setenv("NBDECK_SERVER_TOKEN", "secret-token")
	t.Setenv("NBDECK_DEBUG", "true")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "secret-token", cfg.Server.Token)
	assert.True(t, cfg.Logging.DebugMode)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Server.Token = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Interpreter.RequiredModules = nil
	assert.Error(t, cfg.Validate())
}

func TestBaseURL(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "http://localhost:8899", cfg.Server.BaseURL())
}
