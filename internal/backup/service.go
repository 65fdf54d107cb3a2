package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Service snapshots a memory directory on demand or on a schedule.
type Service struct {
	memoryDir string
	backupDir string
	interval  time.Duration
	retention RetentionPolicy
	verify    bool
	logger    *slog.Logger

	mu             sync.Mutex
	running        bool
	stopCh         chan struct{}
	lastBackupTime time.Time
}

// NewService creates a backup service for cfg. A zero Retention means
// DefaultRetention and a nil logger means slog.Default().
func NewService(cfg Config, logger *slog.Logger) (*Service, error) {
	if cfg.MemoryDir == "" {
		return nil, fmt.Errorf("backup: memory directory is required")
	}
	if cfg.BackupDir == "" {
		return nil, fmt.Errorf("backup: backup directory is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Retention == (RetentionPolicy{}) {
		cfg.Retention = DefaultRetention
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.BackupDir, 0o755); err != nil {
		return nil, fmt.Errorf("backup: failed to create backup directory: %w", err)
	}

	return &Service{
		memoryDir: cfg.MemoryDir,
		backupDir: cfg.BackupDir,
		interval:  cfg.Interval,
		retention: cfg.Retention,
		verify:    cfg.Verify,
		logger:    logger.With("component", "backup"),
		stopCh:    make(chan struct{}),
	}, nil
}

// Start takes a snapshot every interval until ctx is cancelled or Stop is
// called. It blocks; run it in its own goroutine.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("backup: service is already running")
	}
	s.running = true
	stop := s.stopCh
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("backup service started", "interval", s.interval, "backup_dir", s.backupDir)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("backup service stopping", "reason", "context cancelled")
			return ctx.Err()

		case <-stop:
			s.logger.Info("backup service stopping", "reason", "stop requested")
			return nil

		case <-ticker.C:
			result, err := s.BackupNow(ctx)
			if err != nil {
				s.logger.Error("scheduled backup failed", "error", err)
				continue
			}
			s.logger.Info("scheduled backup completed",
				"path", result.Path,
				"size", result.Size,
				"graphs", len(result.Slugs),
				"duration", result.Duration,
				"verified", result.Verified)
		}
	}
}

// Stop ends a running Start loop.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return fmt.Errorf("backup: service is not running")
	}
	close(s.stopCh)
	s.stopCh = make(chan struct{})
	return nil
}

// BackupNow archives every graph in the memory directory, verifies the
// archive when configured, and applies the retention policy.
func (s *Service) BackupNow(ctx context.Context) (*BackupResult, error) {
	start := time.Now()

	if _, err := os.Stat(s.memoryDir); err != nil {
		return nil, fmt.Errorf("backup: memory directory not found: %w", err)
	}

	name := archivePrefix + start.Format("20060102-150405.000000") + archiveExt
	path := filepath.Join(s.backupDir, name)

	slugs, err := writeArchive(s.memoryDir, path)
	if err != nil {
		return nil, fmt.Errorf("backup: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to stat archive: %w", err)
	}

	result := &BackupResult{
		Path:  path,
		Size:  info.Size(),
		Slugs: slugs,
	}
	if result.Slugs == nil {
		result.Slugs = []string{}
	}

	if s.verify {
		if err := verifyArchive(ctx, path); err != nil {
			return nil, fmt.Errorf("backup: verification failed for %s: %w", path, err)
		}
		result.Verified = true
	}
	result.Duration = time.Since(start)

	s.mu.Lock()
	s.lastBackupTime = time.Now()
	s.mu.Unlock()

	if err := applyRetention(s.backupDir, s.retention); err != nil {
		// A snapshot that was written stays valid even if pruning fails.
		s.logger.Warn("failed to apply retention policy", "error", err)
	}

	return result, nil
}

// ListBackups lists the available snapshots, newest first.
func (s *Service) ListBackups() ([]BackupInfo, error) {
	return listBackups(s.backupDir)
}

// RestoreBackup replaces the graph files of the memory directory with the
// contents of the snapshot at archivePath. Every graph is extracted and
// loaded before any live file changes; each file is then moved into place
// with a rename. Graphs missing from the snapshot are deleted.
// The scheduled loop must not be running.
func (s *Service) RestoreBackup(ctx context.Context, archivePath string) (*RestoreResult, error) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running {
		return nil, fmt.Errorf("backup: cannot restore while the backup service is running")
	}

	staging, err := os.MkdirTemp(s.memoryDir, ".restore-*")
	if err != nil {
		return nil, fmt.Errorf("backup: failed to create staging directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(staging) }()

	slugs, err := extractArchive(archivePath, staging)
	if err != nil {
		return nil, fmt.Errorf("backup: restore %s: %w", archivePath, err)
	}
	if err := verifyGraphs(ctx, staging, slugs); err != nil {
		return nil, fmt.Errorf("backup: restore %s: %w", archivePath, err)
	}

	previous, err := graphFiles(s.memoryDir)
	if err != nil {
		return nil, fmt.Errorf("backup: restore: %w", err)
	}

	result := &RestoreResult{Restored: []string{}, Removed: []string{}}
	inSnapshot := make(map[string]bool, len(slugs))
	for _, slug := range slugs {
		inSnapshot[slug] = true
		src := filepath.Join(staging, slug+graphExt)
		dst := filepath.Join(s.memoryDir, slug+graphExt)
		if err := os.Rename(src, dst); err != nil {
			return result, fmt.Errorf("backup: restore %s: %w", slug, err)
		}
		result.Restored = append(result.Restored, slug)
	}

	var errs []error
	for _, slug := range previous {
		if inSnapshot[slug] {
			continue
		}
		if err := os.Remove(filepath.Join(s.memoryDir, slug+graphExt)); err != nil {
			errs = append(errs, err)
			continue
		}
		result.Removed = append(result.Removed, slug)
	}
	if len(errs) > 0 {
		return result, fmt.Errorf("backup: restore: %w", errors.Join(errs...))
	}

	s.logger.Info("graphs restored from backup",
		"path", archivePath,
		"restored", len(result.Restored),
		"removed", len(result.Removed))
	return result, nil
}

// HealthCheck reports how many snapshots exist and whether the schedule is behind.
func (s *Service) HealthCheck() (*HealthStatus, error) {
	s.mu.Lock()
	lastBackup := s.lastBackupTime
	s.mu.Unlock()

	backups, err := s.ListBackups()
	if err != nil {
		return nil, fmt.Errorf("backup: failed to list backups: %w", err)
	}
	diskUsage, err := calculateDiskUsage(s.backupDir)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to calculate disk usage: %w", err)
	}

	if lastBackup.IsZero() && len(backups) > 0 {
		lastBackup = backups[0].Timestamp
	}

	status := &HealthStatus{
		Status:        "healthy",
		LastBackup:    lastBackup,
		TotalBackups:  len(backups),
		BackupDir:     s.backupDir,
		DiskSpaceUsed: diskUsage,
	}

	switch {
	case lastBackup.IsZero():
		status.Message = "No backups yet"
	case time.Since(lastBackup) > s.interval*2:
		status.Status = "warning"
		status.Message = fmt.Sprintf("Backup overdue by %v", (time.Since(lastBackup) - s.interval).Round(time.Minute))
	default:
		status.Message = fmt.Sprintf("Last backup: %v ago", time.Since(lastBackup).Round(time.Minute))
	}

	return status, nil
}
