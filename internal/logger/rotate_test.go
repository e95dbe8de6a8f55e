package logger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotate(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 2, 0, 5, 0, 0, time.UTC)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "info.log"), []byte("info line\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "error.log"), []byte("error line\n"), 0o644))

	// An archive past retention gets pruned.
	stale := filepath.Join(dir, "archive")
	require.NoError(t, os.MkdirAll(stale, 0o755))
	staleFile := filepath.Join(stale, "logs_2026-02-01.tar.gz")
	require.NoError(t, os.WriteFile(staleFile, []byte("old"), 0o644))
	old := now.Add(-20 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(staleFile, old, old))

	require.NoError(t, Rotate(dir, 14, now))

	archive := filepath.Join(dir, "archive", "logs_2026-03-02.tar.gz")
	info, err := os.Stat(archive)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	// Originals truncated, missing files tolerated.
	logInfo, err := os.Stat(filepath.Join(dir, "info.log"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), logInfo.Size())

	_, err = os.Stat(staleFile)
	assert.True(t, os.IsNotExist(err))
}

func TestRotate_EmptyDirIsNoop(t *testing.T) {
	require.NoError(t, Rotate("", 14, time.Now()))

	dir := t.TempDir()
	require.NoError(t, Rotate(dir, 14, time.Now().UTC()))
	_, err := os.Stat(filepath.Join(dir, "archive"))
	assert.NoError(t, err)
}
