// Package config provides configuration management for featuregraph.
// Settings come from defaults, an optional YAML config file and environment
// variables with the FEATUREGRAPH_ prefix, in increasing order of precedence.
// Nested keys map to environment variables by replacing "." with "_", so
// sync.search_dir is read from FEATUREGRAPH_SYNC_SEARCH_DIR.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix shared by every configuration environment variable.
const EnvPrefix = "FEATUREGRAPH"

// Config holds all configuration settings for featuregraph.
type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Index   IndexConfig   `mapstructure:"index"`
	Log     LogConfig     `mapstructure:"log"`
	Backup  BackupConfig  `mapstructure:"backup"`
}

// StorageConfig contains graph store configuration.
type StorageConfig struct {
	MemoryDir string `mapstructure:"memory_dir"` // Directory holding <slug>.jsonl files (default: .claude/memory/graph)
}

// SyncConfig controls requirements discovery and auto-sync.
type SyncConfig struct {
	SearchDir string        `mapstructure:"search_dir"` // Directory scanned for requirements documents (default: .claude/memory)
	Recursive bool          `mapstructure:"recursive"`  // Descend into subdirectories (default: false)
	Workers   int           `mapstructure:"workers"`    // Concurrent parses during sync (default: 4)
	Debounce  time.Duration `mapstructure:"debounce"`   // Watcher quiet period (default: 500ms)
	RateLimit float64       `mapstructure:"rate_limit"` // Watcher rebuilds per second; 0 is unlimited (default: 2)
}

// IndexConfig controls the optional cross-feature SQLite index.
type IndexConfig struct {
	Enabled     bool          `mapstructure:"enabled"`      // Mirror saved graphs into SQLite (default: false)
	DSN         string        `mapstructure:"dsn"`          // SQLite database path (default: <memory_dir>/index.db)
	MaxFailures uint32        `mapstructure:"max_failures"` // Consecutive failures before index writes pause (default: 3)
	Cooldown    time.Duration `mapstructure:"cooldown"`     // How long index writes stay paused (default: 30s)
}

// BackupConfig controls graph snapshots.
type BackupConfig struct {
	Dir        string          `mapstructure:"dir"`         // Snapshot directory (default: <memory_dir>/../backups)
	Interval   time.Duration   `mapstructure:"interval"`    // Scheduled snapshots while watching; 0 disables (default: 0)
	BeforeSync bool            `mapstructure:"before_sync"` // Snapshot before every sync (default: false)
	Verify     bool            `mapstructure:"verify"`      // Re-read every graph after writing a snapshot (default: true)
	Retention  RetentionConfig `mapstructure:"retention"`
}

// RetentionConfig is the number of snapshots kept per age tier.
type RetentionConfig struct {
	Hourly  int `mapstructure:"hourly"`  // default: 24
	Daily   int `mapstructure:"daily"`   // default: 7
	Weekly  int `mapstructure:"weekly"`  // default: 4
	Monthly int `mapstructure:"monthly"` // default: 12
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error (default: info)
	Format string `mapstructure:"format"` // text or json (default: text)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.memory_dir", filepath.Join(".claude", "memory", "graph"))
	v.SetDefault("sync.search_dir", filepath.Join(".claude", "memory"))
	v.SetDefault("sync.recursive", false)
	v.SetDefault("sync.workers", 4)
	v.SetDefault("sync.debounce", "500ms")
	v.SetDefault("sync.rate_limit", 2.0)
	v.SetDefault("index.enabled", false)
	v.SetDefault("index.dsn", "")
	v.SetDefault("index.max_failures", 3)
	v.SetDefault("index.cooldown", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("backup.dir", "")
	v.SetDefault("backup.interval", "0s")
	v.SetDefault("backup.before_sync", false)
	v.SetDefault("backup.verify", true)
	v.SetDefault("backup.retention.hourly", 24)
	v.SetDefault("backup.retention.daily", 7)
	v.SetDefault("backup.retention.weekly", 4)
	v.SetDefault("backup.retention.monthly", 12)
}

// Load reads configuration from the given YAML file and the environment.
// An empty path looks for featuregraph.yaml in the working directory and
// carries on with defaults when none exists; an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	} else {
		v.SetConfigName("featuregraph")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("config: reading featuregraph.yaml: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshalling: %w", err)
	}
	if cfg.Index.DSN == "" {
		cfg.Index.DSN = filepath.Join(cfg.Storage.MemoryDir, "index.db")
	}
	if cfg.Backup.Dir == "" {
		cfg.Backup.Dir = filepath.Join(filepath.Dir(cfg.Storage.MemoryDir), "backups")
	}
	return &cfg, nil
}

// Validate checks configuration for issues and returns warnings.
// None of the warnings prevent the tool from running.
func (c *Config) Validate() []string {
	var warnings []string

	if c.Storage.MemoryDir == "" {
		warnings = append(warnings, "storage.memory_dir is empty; graphs will be written to the working directory")
	}
	if c.Sync.Workers < 1 {
		warnings = append(warnings, fmt.Sprintf("sync.workers %d is below 1; using 1", c.Sync.Workers))
	}
	if c.Sync.Debounce <= 0 {
		warnings = append(warnings, fmt.Sprintf("sync.debounce %s is not positive; watcher will use the default", c.Sync.Debounce))
	}
	if c.Sync.RateLimit < 0 {
		warnings = append(warnings, fmt.Sprintf("sync.rate_limit %g is negative; rebuilds are not rate limited", c.Sync.RateLimit))
	}
	if c.Backup.Interval < 0 {
		warnings = append(warnings, fmt.Sprintf("backup.interval %s is negative; scheduled backups are disabled", c.Backup.Interval))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		warnings = append(warnings, fmt.Sprintf("log.level %q is not recognised; using info", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		warnings = append(warnings, fmt.Sprintf("log.format %q is not recognised; using text", c.Log.Format))
	}

	return warnings
}

// NewLogger builds a slog logger writing to w according to the log section.
// Unrecognised levels and formats fall back to info and text.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}
