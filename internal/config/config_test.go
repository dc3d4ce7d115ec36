package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, []string{".jsonl", ".json", ".md"}, cfg.Watch.Extensions)
	assert.Equal(t, 1500*time.Millisecond, cfg.Watch.DebounceWindow.D())
	assert.Equal(t, 2*time.Second, cfg.Watch.DuplicateWindow.D())
	assert.Equal(t, 5*time.Minute, cfg.Watch.ScanInterval.D())
	assert.Equal(t, 60*time.Second, cfg.Reconcile.Interval.D())
	assert.Equal(t, 5, cfg.Reconcile.OrphanBatchLimit)
	assert.Equal(t, 3, cfg.Store.BackupRetain)
	assert.Equal(t, "hybrid", cfg.Query.Mode)

	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Query.MaxResults)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "convindex.yaml")
	yaml := `
watch:
  roots:
    - /var/log/sessions
  extensions:
    - .jsonl
  debounce_window: 500ms
reconcile:
  interval: 30s
  orphan_batch_limit: 10
server:
  port: 9900
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"/var/log/sessions"}, cfg.Watch.Roots)
	assert.Equal(t, []string{".jsonl"}, cfg.Watch.Extensions)
	assert.Equal(t, 500*time.Millisecond, cfg.Watch.DebounceWindow.D())
	assert.Equal(t, 30*time.Second, cfg.Reconcile.Interval.D())
	assert.Equal(t, 10, cfg.Reconcile.OrphanBatchLimit)
	assert.Equal(t, 9900, cfg.Server.Port)
	// Untouched fields keep defaults
	assert.Equal(t, "hybrid", cfg.Query.Mode)
}

func TestLoad_MalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("watch: [not a map"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CONVINDEX_ROOTS", "/a, /b")
	t.Setenv("CONVINDEX_RECONCILE_INTERVAL", "90s")
	t.Setenv("CONVINDEX_ORPHAN_BATCH_LIMIT", "7")
	t.Setenv("CONVINDEX_LOG_LEVEL", "debug")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)

	assert.Equal(t, []string{"/a", "/b"}, cfg.Watch.Roots)
	assert.Equal(t, 90*time.Second, cfg.Reconcile.Interval.D())
	assert.Equal(t, 7, cfg.Reconcile.OrphanBatchLimit)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no roots", func(c *Config) { c.Watch.Roots = nil }, "watch.roots"},
		{"no extensions", func(c *Config) { c.Watch.Extensions = nil }, "watch.extensions"},
		{"extension without dot", func(c *Config) { c.Watch.Extensions = []string{"jsonl"} }, "start with '.'"},
		{"empty data dir", func(c *Config) { c.Store.DataDir = "" }, "store.data_dir"},
		{"zero backup retain", func(c *Config) { c.Store.BackupRetain = 0 }, "backup_retain"},
		{"zero interval", func(c *Config) { c.Reconcile.Interval = 0 }, "reconcile.interval"},
		{"zero batch limit", func(c *Config) { c.Reconcile.OrphanBatchLimit = 0 }, "orphan_batch_limit"},
		{"bad mode", func(c *Config) { c.Query.Mode = "vector" }, "query.mode"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"bad log level", func(c *Config) { c.Server.LogLevel = "verbose" }, "log_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestWriteYAML_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.yaml")

	cfg := NewConfig()
	cfg.Server.Port = 7777
	require.NoError(t, cfg.WriteYAML(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7777, loaded.Server.Port)
}

func TestStorePaths(t *testing.T) {
	cfg := NewConfig()
	cfg.Store.DataDir = "/data/convindex"

	assert.Equal(t, filepath.Join("/data/convindex", "documents.json"), cfg.StorePath())
	assert.Equal(t, filepath.Join("/data/convindex", "watch_state.json"), cfg.WatchStatePath())
	assert.Equal(t, filepath.Join("/data/convindex", "convindex.lock"), cfg.LockPath())
}
