package logger

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const archiveDir = "archive"

// Rotate packs the current per-level log files into
// archive/logs_YYYY-MM-DD.tar.gz, truncates the originals and prunes
// archives older than retentionDays. Missing files are skipped.
func Rotate(dir string, retentionDays int, now time.Time) error {
	if dir == "" {
		return nil
	}
	target := filepath.Join(dir, archiveDir)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}

	name := fmt.Sprintf("logs_%s.tar.gz", now.UTC().Format("2006-01-02"))
	if err := writeArchive(filepath.Join(target, name), dir); err != nil {
		return err
	}

	for _, file := range FileNames {
		if err := os.Truncate(filepath.Join(dir, file), 0); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("truncate %s: %w", file, err)
		}
	}

	return prune(target, retentionDays, now)
}

func writeArchive(path, dir string) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	for _, file := range FileNames {
		if err := addFile(tw, filepath.Join(dir, file), file); err != nil {
			return err
		}
	}
	return nil
}

func addFile(tw *tar.Writer, path, name string) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	header := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

func prune(target string, retentionDays int, now time.Time) error {
	if retentionDays <= 0 {
		return nil
	}
	entries, err := os.ReadDir(target)
	if err != nil {
		return err
	}
	cutoff := now.Add(-time.Duration(retentionDays) * 24 * time.Hour)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "logs_") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(target, entry.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}
