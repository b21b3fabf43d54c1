package diskimage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupRestoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "disk.img")
	backupPath := filepath.Join(dir, "disk.img.zst")
	restoredPath := filepath.Join(dir, "restored.img")

	payload := make([]byte, 128*1024)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(srcPath, payload, 0o644))

	require.NoError(t, Backup(srcPath, backupPath, nil))

	info, err := os.Stat(backupPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	require.NoError(t, Restore(backupPath, restoredPath, nil))

	got, err := os.ReadFile(restoredPath)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestBackupMissingSourceFails(t *testing.T) {
	dir := t.TempDir()
	err := Backup(filepath.Join(dir, "nope.img"), filepath.Join(dir, "out.zst"), nil)
	assert.Error(t, err)
}
