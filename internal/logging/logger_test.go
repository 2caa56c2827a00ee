package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetState() {
	loggersMu.Lock()
	loggers = make(map[Category]*Logger)
	loggersMu.Unlock()
	configMu.Lock()
	cfg = loggingConfig{}
	configMu.Unlock()
	logsDir = ""
	workspace = ""
}

func writeConfig(t *testing.T, ws, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(ws, ".nbdeck"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(ws, ".nbdeck", "config.yaml"), []byte(content), 0644))
}

func TestInitialize_NoConfig_IsSilent(t *testing.T) {
	resetState()
	ws := t.TempDir()

	require.NoError(t, Initialize(ws))

	assert.False(t, IsDebugMode())
	assert.False(t, IsCategoryEnabled(CategoryServer))

	// No logs directory should have been created.
	_, err := os.Stat(filepath.Join(ws, ".nbdeck", "logs"))
	assert.True(t, os.IsNotExist(err))

	// Logging into a no-op logger must not panic.
	Server("server started on port %d", 8899)
}

func TestInitialize_DebugMode_WritesCategoryFile(t *testing.T) {
	resetState()
	ws := t.TempDir()
	writeConfig(t, ws, "logging:\n  debug_mode: true\n  level: debug\n")

	require.NoError(t, Initialize(ws))
	require.True(t, IsDebugMode())

	ServerDebug("polling attempt %d", 3)
	Flush()

	entries, err := os.ReadDir(filepath.Join(ws, ".nbdeck", "logs"))
	require.NoError(t, err)

	var found bool
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(ws, ".nbdeck", "logs", e.Name()))
		require.NoError(t, err)
		if strings.Contains(string(data), "polling attempt 3") {
			found = true
		}
	}
	assert.True(t, found, "expected a log file containing the server message")
}

func TestCategoryFilter(t *testing.T) {
	resetState()
	ws := t.TempDir()
	writeConfig(t, ws, `logging:
  debug_mode: true
  level: info
  categories:
    server: true
    protocol: false
`)

	require.NoError(t, Initialize(ws))

	assert.True(t, IsCategoryEnabled(CategoryServer))
	assert.False(t, IsCategoryEnabled(CategoryProtocol))
	// Unlisted categories default to enabled.
	assert.True(t, IsCategoryEnabled(CategoryExecute))
}

func TestEmptyWorkspaceRejected(t *testing.T) {
	resetState()
	assert.Error(t, Initialize(""))
}
