// Package config loads and validates convindex configuration.
//
// Configuration is applied in order of increasing precedence:
//  1. Hardcoded defaults
//  2. Config file (.convindex.yaml in the working directory, or --config)
//  3. Environment variables (CONVINDEX_*)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete convindex configuration.
type Config struct {
	Version   int             `yaml:"version" json:"version"`
	Watch     WatchConfig     `yaml:"watch" json:"watch"`
	Store     StoreConfig     `yaml:"store" json:"store"`
	Reconcile ReconcileConfig `yaml:"reconcile" json:"reconcile"`
	Query     QueryConfig     `yaml:"query" json:"query"`
	Server    ServerConfig    `yaml:"server" json:"server"`
}

// WatchConfig configures the filesystem watcher and sync scheduler.
type WatchConfig struct {
	// Roots are the directories scanned and watched for log files.
	Roots []string `yaml:"roots" json:"roots"`

	// Extensions are the file extensions considered for indexing.
	Extensions []string `yaml:"extensions" json:"extensions"`

	// DebounceWindow is how long repeat events for a path are coalesced
	// before a single normalized event is emitted.
	DebounceWindow Duration `yaml:"debounce_window" json:"debounce_window"`

	// DuplicateWindow is the window in which identical (op, path) events
	// are dropped outright.
	DuplicateWindow Duration `yaml:"duplicate_window" json:"duplicate_window"`

	// PollInterval is the fallback polling interval when OS notifications
	// are unavailable.
	PollInterval Duration `yaml:"poll_interval" json:"poll_interval"`

	// ScanInterval is how often the scheduler re-walks the roots to
	// catch changes whose notifications were missed.
	ScanInterval Duration `yaml:"scan_interval" json:"scan_interval"`

	// MaxFileSize is the largest file the scheduler will read, in bytes.
	MaxFileSize int64 `yaml:"max_file_size" json:"max_file_size"`
}

// StoreConfig configures document persistence.
type StoreConfig struct {
	// DataDir is the directory holding the store file, watch state,
	// backups and the process lock.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// BackupRetain is how many timestamped backups to keep.
	BackupRetain int `yaml:"backup_retain" json:"backup_retain"`
}

// ReconcileConfig configures the periodic reconciliation loop.
type ReconcileConfig struct {
	// Interval between reconciliation passes.
	Interval Duration `yaml:"interval" json:"interval"`

	// OrphanBatchLimit caps orphan removals per pass.
	OrphanBatchLimit int `yaml:"orphan_batch_limit" json:"orphan_batch_limit"`

	// ServedIndexURL optionally points at a downstream serving index
	// whose document count is cross-checked for drift. Empty disables
	// the check.
	ServedIndexURL string `yaml:"served_index_url" json:"served_index_url"`
}

// QueryConfig configures default query behavior.
type QueryConfig struct {
	// MaxResults is the default result limit.
	MaxResults int `yaml:"max_results" json:"max_results"`

	// Mode is the default ranking mode: hybrid, semantic, or keyword.
	Mode string `yaml:"mode" json:"mode"`
}

// ServerConfig configures the HTTP boundary.
type ServerConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Watch: WatchConfig{
			Roots:           []string{"."},
			Extensions:      []string{".jsonl", ".json", ".md"},
			DebounceWindow:  Duration(1500 * time.Millisecond),
			DuplicateWindow: Duration(2 * time.Second),
			PollInterval:    Duration(5 * time.Second),
			ScanInterval:    Duration(5 * time.Minute),
			MaxFileSize:     100 * 1024 * 1024,
		},
		Store: StoreConfig{
			DataDir:      defaultDataDir(),
			BackupRetain: 3,
		},
		Reconcile: ReconcileConfig{
			Interval:         Duration(60 * time.Second),
			OrphanBatchLimit: 5,
		},
		Query: QueryConfig{
			MaxResults: 5,
			Mode:       "hybrid",
		},
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     8642,
			LogLevel: "info",
		},
	}
}

// defaultDataDir returns the default data directory (~/.convindex).
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".convindex")
	}
	return filepath.Join(home, ".convindex")
}

// StorePath returns the path of the persisted document collection.
func (c *Config) StorePath() string {
	return filepath.Join(c.Store.DataDir, "documents.json")
}

// WatchStatePath returns the path of the persisted watch state sidecar.
func (c *Config) WatchStatePath() string {
	return filepath.Join(c.Store.DataDir, "watch_state.json")
}

// LockPath returns the path of the data directory process lock.
func (c *Config) LockPath() string {
	return filepath.Join(c.Store.DataDir, "convindex.lock")
}

// Load loads configuration from the given file path (empty means
// .convindex.yaml in the working directory, missing file is fine),
// applies CONVINDEX_* environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		path = ".convindex.yaml"
		if _, err := os.Stat(path); err != nil {
			path = ".convindex.yml"
		}
	}

	if _, err := os.Stat(path); err == nil {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if len(other.Watch.Roots) > 0 {
		c.Watch.Roots = other.Watch.Roots
	}
	if len(other.Watch.Extensions) > 0 {
		c.Watch.Extensions = other.Watch.Extensions
	}
	if other.Watch.DebounceWindow != 0 {
		c.Watch.DebounceWindow = other.Watch.DebounceWindow
	}
	if other.Watch.DuplicateWindow != 0 {
		c.Watch.DuplicateWindow = other.Watch.DuplicateWindow
	}
	if other.Watch.PollInterval != 0 {
		c.Watch.PollInterval = other.Watch.PollInterval
	}
	if other.Watch.ScanInterval != 0 {
		c.Watch.ScanInterval = other.Watch.ScanInterval
	}
	if other.Watch.MaxFileSize != 0 {
		c.Watch.MaxFileSize = other.Watch.MaxFileSize
	}

	if other.Store.DataDir != "" {
		c.Store.DataDir = other.Store.DataDir
	}
	if other.Store.BackupRetain != 0 {
		c.Store.BackupRetain = other.Store.BackupRetain
	}

	if other.Reconcile.Interval != 0 {
		c.Reconcile.Interval = other.Reconcile.Interval
	}
	if other.Reconcile.OrphanBatchLimit != 0 {
		c.Reconcile.OrphanBatchLimit = other.Reconcile.OrphanBatchLimit
	}
	if other.Reconcile.ServedIndexURL != "" {
		c.Reconcile.ServedIndexURL = other.Reconcile.ServedIndexURL
	}

	if other.Query.MaxResults != 0 {
		c.Query.MaxResults = other.Query.MaxResults
	}
	if other.Query.Mode != "" {
		c.Query.Mode = other.Query.Mode
	}

	if other.Server.Host != "" {
		c.Server.Host = other.Server.Host
	}
	if other.Server.Port != 0 {
		c.Server.Port = other.Server.Port
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
}

// applyEnvOverrides applies CONVINDEX_* environment variables.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CONVINDEX_ROOTS"); v != "" {
		c.Watch.Roots = splitList(v)
	}
	if v := os.Getenv("CONVINDEX_EXTENSIONS"); v != "" {
		c.Watch.Extensions = splitList(v)
	}
	if v := os.Getenv("CONVINDEX_DEBOUNCE_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Watch.DebounceWindow = Duration(d)
		}
	}
	if v := os.Getenv("CONVINDEX_DATA_DIR"); v != "" {
		c.Store.DataDir = v
	}
	if v := os.Getenv("CONVINDEX_SCAN_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Watch.ScanInterval = Duration(d)
		}
	}
	if v := os.Getenv("CONVINDEX_RECONCILE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Reconcile.Interval = Duration(d)
		}
	}
	if v := os.Getenv("CONVINDEX_ORPHAN_BATCH_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Reconcile.OrphanBatchLimit = n
		}
	}
	if v := os.Getenv("CONVINDEX_SERVED_INDEX_URL"); v != "" {
		c.Reconcile.ServedIndexURL = v
	}
	if v := os.Getenv("CONVINDEX_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("CONVINDEX_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
}

// splitList splits a comma-separated env value into trimmed entries.
func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if len(c.Watch.Roots) == 0 {
		return fmt.Errorf("watch.roots must contain at least one directory")
	}
	if len(c.Watch.Extensions) == 0 {
		return fmt.Errorf("watch.extensions must contain at least one extension")
	}
	for _, ext := range c.Watch.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("watch.extensions entries must start with '.', got %q", ext)
		}
	}
	if c.Watch.DebounceWindow < 0 {
		return fmt.Errorf("watch.debounce_window must be non-negative, got %s", c.Watch.DebounceWindow)
	}
	if c.Watch.MaxFileSize < 0 {
		return fmt.Errorf("watch.max_file_size must be non-negative, got %d", c.Watch.MaxFileSize)
	}
	if c.Watch.ScanInterval <= 0 {
		return fmt.Errorf("watch.scan_interval must be positive, got %s", c.Watch.ScanInterval)
	}

	if c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir must not be empty")
	}
	if c.Store.BackupRetain < 1 {
		return fmt.Errorf("store.backup_retain must be at least 1, got %d", c.Store.BackupRetain)
	}

	if c.Reconcile.Interval <= 0 {
		return fmt.Errorf("reconcile.interval must be positive, got %s", c.Reconcile.Interval)
	}
	if c.Reconcile.OrphanBatchLimit < 1 {
		return fmt.Errorf("reconcile.orphan_batch_limit must be at least 1, got %d", c.Reconcile.OrphanBatchLimit)
	}

	if c.Query.MaxResults < 1 {
		return fmt.Errorf("query.max_results must be at least 1, got %d", c.Query.MaxResults)
	}
	validModes := map[string]bool{"hybrid": true, "semantic": true, "keyword": true}
	if !validModes[strings.ToLower(c.Query.Mode)] {
		return fmt.Errorf("query.mode must be 'hybrid', 'semantic', or 'keyword', got %s", c.Query.Mode)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
