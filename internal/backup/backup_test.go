package backup

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDisabledWithoutDir(t *testing.T) {
	assert.Nil(t, New("db.sqlite", "", time.Hour, 5))
}

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "perkbridge.db")
	content := []byte("pretend this is a sqlite file")
	require.NoError(t, os.WriteFile(dbPath, content, 0o644))

	backupDir := filepath.Join(dir, "backups")
	svc := New(dbPath, backupDir, time.Hour, 5)
	require.NotNil(t, svc)
	require.NoError(t, svc.Snapshot())

	matches, err := filepath.Glob(filepath.Join(backupDir, "perkbridge-*.db.zst"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	f, err := os.Open(matches[0])
	require.NoError(t, err)
	defer f.Close()
	dec, err := zstd.NewReader(f)
	require.NoError(t, err)
	defer dec.Close()
	restored, err := io.ReadAll(dec)
	require.NoError(t, err)
	assert.Equal(t, content, restored)
}

func TestSnapshotPrunesOldFiles(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "perkbridge.db")
	require.NoError(t, os.WriteFile(dbPath, []byte("data"), 0o644))

	backupDir := filepath.Join(dir, "backups")
	require.NoError(t, os.MkdirAll(backupDir, 0o755))
	// Pre-existing snapshots with timestamps that sort before any new one
	stale := []string{
		"perkbridge-20240101-000001.db.zst",
		"perkbridge-20240101-000002.db.zst",
		"perkbridge-20240101-000003.db.zst",
	}
	for _, name := range stale {
		require.NoError(t, os.WriteFile(filepath.Join(backupDir, name), []byte("old"), 0o644))
	}

	svc := New(dbPath, backupDir, time.Hour, 2)
	require.NoError(t, svc.Snapshot())

	matches, err := filepath.Glob(filepath.Join(backupDir, "perkbridge-*.db.zst"))
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.NotContains(t, matches, filepath.Join(backupDir, stale[0]))
	assert.NotContains(t, matches, filepath.Join(backupDir, stale[1]))
}

func TestSnapshotMissingDatabase(t *testing.T) {
	svc := New(filepath.Join(t.TempDir(), "missing.db"), t.TempDir(), time.Hour, 2)
	assert.Error(t, svc.Snapshot())
}
