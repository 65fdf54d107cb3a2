// Package backup snapshots the feature graph directory into compressed
// archives with tiered retention, and restores a directory from one.
//
// A snapshot holds every <slug>.jsonl file of the memory directory. The
// SQLite index is not archived: it is derived data and callers re-index the
// restored slugs.
package backup

import (
	"time"
)

// Config holds backup service configuration.
type Config struct {
	// MemoryDir is the directory holding the <slug>.jsonl graph files
	MemoryDir string

	// BackupDir is the directory where snapshots will be stored
	BackupDir string

	// Interval is the duration between scheduled snapshots (default: 1 hour)
	Interval time.Duration

	// Retention defines how many snapshots to keep at different ages
	Retention RetentionPolicy

	// Verify re-reads every graph in a snapshot after writing it
	Verify bool
}

// RetentionPolicy defines how many backups to keep at each tier.
// Backups are categorized by age:
// - Hourly: backups less than 24 hours old
// - Daily: backups between 1-7 days old
// - Weekly: backups between 7-30 days old
// - Monthly: backups between 30-365 days old
type RetentionPolicy struct {
	// Hourly is the number of hourly backups to keep (default: 24)
	Hourly int

	// Daily is the number of daily backups to keep (default: 7)
	Daily int

	// Weekly is the number of weekly backups to keep (default: 4)
	Weekly int

	// Monthly is the number of monthly backups to keep (default: 12)
	Monthly int
}

// DefaultRetention is the policy applied when a Config leaves Retention zero.
var DefaultRetention = RetentionPolicy{Hourly: 24, Daily: 7, Weekly: 4, Monthly: 12}

// BackupInfo contains metadata about a snapshot archive.
type BackupInfo struct {
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
}

// BackupResult describes one snapshot written by BackupNow.
type BackupResult struct {
	Path     string        `json:"path"`
	Duration time.Duration `json:"duration"`
	Size     int64         `json:"size"`
	Slugs    []string      `json:"slugs"`
	Verified bool          `json:"verified"`
}

// RestoreResult lists what a restore changed in the memory directory.
type RestoreResult struct {
	// Restored slugs were written from the snapshot.
	Restored []string `json:"restored"`

	// Removed slugs existed before the restore but not in the snapshot.
	Removed []string `json:"removed"`
}

// HealthStatus represents the health of the backup service.
type HealthStatus struct {
	// Status is the overall health status: "healthy" or "warning"
	Status        string    `json:"status"`
	Message       string    `json:"message"`
	LastBackup    time.Time `json:"last_backup"`
	TotalBackups  int       `json:"total_backups"`
	BackupDir     string    `json:"backup_dir"`
	DiskSpaceUsed int64     `json:"disk_space_used"`
}
