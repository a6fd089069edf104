package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/lspdaemon/lspd/internal/lspderrors"
)

// PidLock ensures only one daemon instance runs against a given socket
// path at a time, backed by a ".pid" sidecar file next to the socket.
type PidLock struct {
	path   string
	locked bool
}

// NewPidLock builds a PidLock for the given socket path. The lock file
// itself lives at socketPath + ".pid".
func NewPidLock(socketPath string) *PidLock {
	return &PidLock{path: socketPath + ".pid"}
}

// TryLock attempts to acquire the lock, reclaiming it automatically if the
// existing lock file names a process that is no longer running.
func (l *PidLock) TryLock() error {
	if data, err := os.ReadFile(l.path); err == nil {
		pid, parseErr := strconv.Atoi(strings.TrimSpace(string(data)))
		if parseErr == nil && isProcessRunning(pid) {
			return fmt.Errorf("daemon: another instance is already running (pid %d): %w", pid, lspderrors.ErrLockConflict)
		}
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("daemon: remove stale pid file: %w", err)
		}
	}

	pid := os.Getpid()
	if err := os.WriteFile(l.path, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return fmt.Errorf("daemon: write pid file: %w", err)
	}
	l.locked = true
	return nil
}

// Unlock releases the lock, but only if the pid file still names this
// process. A concurrent instance that won a race should not have its
// lock file clobbered by the loser.
func (l *PidLock) Unlock() error {
	if !l.locked {
		return nil
	}

	if data, err := os.ReadFile(l.path); err == nil {
		pid, parseErr := strconv.Atoi(strings.TrimSpace(string(data)))
		if parseErr == nil && pid == os.Getpid() {
			if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("daemon: remove pid file: %w", err)
			}
		}
	}

	l.locked = false
	return nil
}

func isProcessRunning(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
