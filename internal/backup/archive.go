package backup

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/scrypster/featuregraph/internal/storage"
	"github.com/scrypster/featuregraph/internal/storage/jsonl"
)

const graphExt = ".jsonl"

// graphFiles returns the sorted slugs of the graph files in dir.
func graphFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var slugs []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), graphExt) {
			continue
		}
		slug := strings.TrimSuffix(entry.Name(), graphExt)
		if storage.ValidateSlug(slug) != nil {
			continue
		}
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs, nil
}

// writeArchive packs every graph file of memoryDir into a zstd-compressed
// tar at destPath and returns the archived slugs.
func writeArchive(memoryDir, destPath string) (slugs []string, err error) {
	slugs, err = graphFiles(memoryDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list graphs: %w", err)
	}

	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close archive: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(destPath)
		}
	}()

	zw, err := zstd.NewWriter(out)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	tw := tar.NewWriter(zw)

	for _, slug := range slugs {
		if err := addFile(tw, filepath.Join(memoryDir, slug+graphExt)); err != nil {
			zw.Close()
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		zw.Close()
		return nil, fmt.Errorf("failed to finish archive: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compressing: %w", err)
	}
	if err := out.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync archive: %w", err)
	}
	return slugs, nil
}

func addFile(tw *tar.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	hdr := &tar.Header{
		Name:    filepath.Base(path),
		Mode:    0o644,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write header for %s: %w", path, err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("failed to archive %s: %w", path, err)
	}
	return nil
}

// extractArchive unpacks the graph files of archivePath into destDir and
// returns their slugs. Entries that are not <slug>.jsonl files are rejected.
func extractArchive(archivePath, destDir string) ([]string, error) {
	in, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("backup not found: %w", err)
	}
	defer func() { _ = in.Close() }()

	zr, err := zstd.NewReader(in)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer zr.Close()

	var slugs []string
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reading archive: %v", storage.ErrMalformed, err)
		}

		slug := strings.TrimSuffix(hdr.Name, graphExt)
		if hdr.Typeflag != tar.TypeReg || !strings.HasSuffix(hdr.Name, graphExt) || storage.ValidateSlug(slug) != nil {
			return nil, fmt.Errorf("%w: unexpected archive entry %q", storage.ErrMalformed, hdr.Name)
		}

		if err := writeEntry(filepath.Join(destDir, hdr.Name), tr); err != nil {
			return nil, err
		}
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs, nil
}

func writeEntry(path string, r io.Reader) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to extract %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	return f.Close()
}

// verifyGraphs loads every extracted graph in dir through the JSONL store,
// so a snapshot only passes if each file would load after a restore.
func verifyGraphs(ctx context.Context, dir string, slugs []string) error {
	store, err := jsonl.NewStore(dir)
	if err != nil {
		return err
	}
	for _, slug := range slugs {
		if _, err := store.LoadGraph(ctx, slug); err != nil {
			return fmt.Errorf("graph %s: %w", slug, err)
		}
	}
	return nil
}

// verifyArchive extracts archivePath into a scratch directory and loads
// every graph it contains.
func verifyArchive(ctx context.Context, archivePath string) error {
	scratch, err := os.MkdirTemp("", "featuregraph-verify-*")
	if err != nil {
		return fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(scratch) }()

	slugs, err := extractArchive(archivePath, scratch)
	if err != nil {
		return err
	}
	return verifyGraphs(ctx, scratch, slugs)
}
