package sqlite

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"os/exec"
	"strings"
)

// indexPath returns the database file named by dsn, or "" for in-memory indexes.
func indexPath(dsn string) string {
	if !strings.HasPrefix(dsn, "file:") {
		if dsn == ":memory:" {
			return ""
		}
		return dsn
	}

	u, err := url.Parse(dsn)
	if err != nil {
		return ""
	}
	path := u.Path
	if path == "" {
		path = u.Opaque
	}
	if path == ":memory:" {
		return ""
	}
	return path
}

// walLeftover reports whether an open failure matches what a crashed writer's
// -shm/-wal files produce.
func walLeftover(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "disk I/O error") || strings.Contains(msg, "database is locked")
}

// staleSidecars returns the -shm/-wal files of dbPath that exist while no
// process holds the database open. It returns nil when lsof is unavailable,
// since an open handle cannot be ruled out.
func staleSidecars(dbPath string) []string {
	var present []string
	for _, suffix := range []string{"-shm", "-wal"} {
		if _, err := os.Stat(dbPath + suffix); err == nil {
			present = append(present, dbPath+suffix)
		}
	}
	if len(present) == 0 {
		return nil
	}

	lsof, err := exec.LookPath("lsof")
	if err != nil {
		return nil
	}
	out, err := exec.Command(lsof, append([]string{"-t", dbPath}, present...)...).Output()
	if err == nil && strings.TrimSpace(string(out)) != "" {
		return nil
	}
	// lsof exits 1 when nothing has the files open.
	return present
}

// removeSidecars deletes the given sidecar files. Missing files are ignored.
func removeSidecars(paths []string) error {
	var errs []error
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("sqlite: remove %s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}
