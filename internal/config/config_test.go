package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromFileWithEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  host: db.internal
  port: 6543
  name: archive
storage:
  processed_root: /srv/processed
  organized_root: /srv/organized
worker:
  concurrency: 4
  poll_timeout: 2s
matching:
  cache_ttl: 30s
`), 0o644))

	t.Setenv("DICOM_INGEST_DB_PASSWORD", "s3cret")
	t.Setenv("DICOM_INGEST_REDIS_URL", "redis://cache:6379/1")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, "s3cret", cfg.Database.Password)
	assert.Equal(t, "redis://cache:6379/1", cfg.Redis.URL)
	assert.Equal(t, "dicom-ingest:jobs", cfg.Redis.QueueKey)
	assert.Equal(t, "/srv/processed", cfg.Storage.ProcessedRoot)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, 2*time.Second, cfg.Worker.PollTimeout)
	assert.Equal(t, 30*time.Second, cfg.Matching.CacheTTL)
	assert.Contains(t, cfg.Database.DSN(), "password=s3cret")
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("worker:\n  concurrency: 0\n"), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "concurrency")
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}
