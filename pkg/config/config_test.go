package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pagedb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
storage:
  path: /var/lib/pagedb/main.db
  replacer: clock
backup:
  rate_bytes_per_sec: 1048576
logger:
  level: debug
telemetry:
  enabled: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/pagedb/main.db", cfg.Storage.Path)
	assert.Equal(t, "clock", cfg.Storage.Replacer)
	assert.Equal(t, 64, cfg.Storage.PoolSize, "missing key keeps its default")
	assert.Equal(t, int64(1<<20), cfg.Backup.RateBytesPerSec)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "console", cfg.Logger.Format)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "pagedb", cfg.Telemetry.ServiceName)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := writeConfig(t, `
storage:
  pool_size: 0
  replacer: arc
logger:
  level: chatty
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.pool_size")
	assert.Contains(t, err.Error(), "storage.replacer")
	assert.Contains(t, err.Error(), "logger.level")
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(writeConfig(t, "storage: [not, a, map]"))
	assert.Error(t, err)
}
