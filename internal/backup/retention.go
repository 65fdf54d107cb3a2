package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	archivePrefix = "featuregraph-backup-"
	archiveExt    = ".tar.zst"

	day = 24 * time.Hour
)

// isArchiveName reports whether name looks like a snapshot written by BackupNow.
func isArchiveName(name string) bool {
	return strings.HasPrefix(name, archivePrefix) && strings.HasSuffix(name, archiveExt)
}

// listBackups lists the snapshot archives in backupDir, newest first.
func listBackups(backupDir string) ([]BackupInfo, error) {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	backups := []BackupInfo{}
	for _, entry := range entries {
		if entry.IsDir() || !isArchiveName(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue // removed between ReadDir and Info
		}
		backups = append(backups, BackupInfo{
			Path:      filepath.Join(backupDir, entry.Name()),
			Timestamp: info.ModTime(),
			Size:      info.Size(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// retentionTier keeps the newest keep snapshots younger than maxAge that
// no earlier tier claimed.
type retentionTier struct {
	maxAge time.Duration
	keep   int
}

func (p RetentionPolicy) tiers() []retentionTier {
	return []retentionTier{
		{maxAge: day, keep: p.Hourly},
		{maxAge: 7 * day, keep: p.Daily},
		{maxAge: 30 * day, keep: p.Weekly},
		{maxAge: 365 * day, keep: p.Monthly},
	}
}

// expired returns the snapshots the policy no longer keeps. backups must be
// sorted newest first. Anything older than the last tier always expires.
func (p RetentionPolicy) expired(backups []BackupInfo, now time.Time) []string {
	tiers := p.tiers()
	kept := make([]int, len(tiers))

	var out []string
	for _, b := range backups {
		age := now.Sub(b.Timestamp)
		t := sort.Search(len(tiers), func(i int) bool { return age < tiers[i].maxAge })
		if t == len(tiers) || kept[t] >= tiers[t].keep {
			out = append(out, b.Path)
			continue
		}
		kept[t]++
	}
	return out
}

// applyRetention removes the snapshots in backupDir that policy does not keep.
// Every expired snapshot is attempted; failures are joined.
func applyRetention(backupDir string, policy RetentionPolicy) error {
	backups, err := listBackups(backupDir)
	if err != nil {
		return err
	}

	var errs []error
	for _, path := range policy.expired(backups, time.Now()) {
		if err := os.Remove(path); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to delete some backups: %w", errors.Join(errs...))
	}
	return nil
}

// calculateDiskUsage sums the sizes of the snapshots in backupDir.
func calculateDiskUsage(backupDir string) (int64, error) {
	backups, err := listBackups(backupDir)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, b := range backups {
		total += b.Size
	}
	return total, nil
}
