package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hay-kot/criterio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_MissingFileRequiresServerURL(t *testing.T) {
	dataDir := t.TempDir()

	cfg, err := Load(filepath.Join(dataDir, "nope.yaml"), dataDir)
	require.Error(t, err, "defaults have no server url")
	assert.Nil(t, cfg)
}

func TestLoad_ValidFile(t *testing.T) {
	path := writeConfig(t, `
server:
  url: https://chat.example.com
  api_key: sk-test
sync:
  poll_interval: 2m
`)

	cfg, err := Load(path, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "https://chat.example.com", cfg.Server.URL)
	assert.Equal(t, "sk-test", cfg.Server.APIKey)
	assert.Equal(t, 2*time.Minute, cfg.Sync.PollInterval)
	// Unset knobs keep defaults.
	assert.Equal(t, 50*time.Millisecond, cfg.Sync.BatchWindow)
	assert.Equal(t, 100*time.Millisecond, cfg.Sync.BatchQuiet)
	assert.Equal(t, 200, cfg.Sync.CacheMessages)
	assert.True(t, cfg.Notifications.Desktop)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a map")

	_, err := Load(path, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config file")
}

func TestValidate_CollectsFieldErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.URL = "no-scheme.example.com"
	cfg.Sync.PollInterval = 10 * time.Millisecond
	cfg.DataDir = ""

	err := cfg.Validate()
	require.Error(t, err)

	var fieldErrs criterio.FieldErrors
	require.ErrorAs(t, err, &fieldErrs)

	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, fe.Field)
	}
	assert.Contains(t, fields, "server.url")
	assert.Contains(t, fields, "data_dir")
	assert.Contains(t, fields, "sync.poll_interval")
}

func TestValidate_QuietShorterThanWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.URL = "https://chat.example.com"
	cfg.DataDir = t.TempDir()
	cfg.Sync.BatchWindow = 200 * time.Millisecond
	cfg.Sync.BatchQuiet = 100 * time.Millisecond

	err := cfg.Validate()
	require.Error(t, err)

	var fieldErrs criterio.FieldErrors
	require.ErrorAs(t, err, &fieldErrs)
	assert.Equal(t, "sync.batch_quiet", fieldErrs[0].Field)
}

func TestCacheDir(t *testing.T) {
	cfg := Config{DataDir: "/data/stitch"}
	assert.Equal(t, filepath.Join("/data/stitch", "cache", "chats"), cfg.CacheDir())
}
