package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPidLockIsExclusive(t *testing.T) {
	dir := t.TempDir()
	sock := filepath.Join(dir, "test.sock")

	l1 := NewPidLock(sock)
	require.NoError(t, l1.TryLock())

	l2 := NewPidLock(sock)
	require.Error(t, l2.TryLock())

	require.NoError(t, l1.Unlock())
	require.NoError(t, l2.TryLock())
}

func TestPidLockReclaimsStalePid(t *testing.T) {
	dir := t.TempDir()
	sock := filepath.Join(dir, "test.sock")
	require.NoError(t, os.WriteFile(sock+".pid", []byte("99999999"), 0o644))

	l := NewPidLock(sock)
	require.NoError(t, l.TryLock())

	data, err := os.ReadFile(sock + ".pid")
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(os.Getpid()), string(data))
}

func TestPidLockUnlockNoopWhenNotLocked(t *testing.T) {
	l := NewPidLock(filepath.Join(t.TempDir(), "test.sock"))
	require.NoError(t, l.Unlock())
}
