//go:build !windows

package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// LockFile holds an exclusive flock(2) so only one daemon serves a
// database at a time.
type LockFile struct {
	file *os.File
	path string
}

// NewLockFile creates a LockFile at path. Nothing is locked until Acquire.
func NewLockFile(path string) *LockFile {
	return &LockFile{path: path}
}

// LockFilePath returns the lock guarding the database at dbPath.
func LockFilePath(dbPath string) string {
	return filepath.Join(filepath.Dir(dbPath), "focusd.lock")
}

func tryLock(f *os.File) (held bool, err error) {
	err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB) //nolint:gosec // G115: fd fits in int
	if err == nil {
		return false, nil
	}
	if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
		return true, nil
	}
	return false, err
}

// ReadHeldPID returns the PID in lockPath when another process holds the
// lock. held is false when the file is missing or unlocked.
func ReadHeldPID(lockPath string) (pid int, held bool, err error) {
	f, err := os.OpenFile(lockPath, os.O_RDWR, 0) //nolint:gosec // G304: path derives from config
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to open lock file: %w", err)
	}
	defer f.Close()

	held, err = tryLock(f)
	if err != nil {
		return 0, false, fmt.Errorf("flock: %w", err)
	}
	if !held {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN) //nolint:gosec // G115: fd fits in int
		return 0, false, nil
	}
	return readPID(f), true, nil
}

// Acquire takes the lock and records our PID. A lock left by a dead
// process is cleared once.
func (l *LockFile) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	for attempt := 0; ; attempt++ {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600) //nolint:gosec // G304: path derives from config
		if err != nil {
			return fmt.Errorf("failed to open lock file: %w", err)
		}

		held, err := tryLock(f)
		if err != nil {
			f.Close()
			return fmt.Errorf("failed to acquire lock on %s: %w", l.path, err)
		}
		if !held {
			if err := writePID(f); err != nil {
				f.Close()
				return err
			}
			l.file = f
			return nil
		}

		pid := readPID(f)
		f.Close()
		if attempt == 0 && pid > 0 && !isProcessAlive(pid) {
			_ = os.Remove(l.path)
			continue
		}
		if pid > 0 {
			return fmt.Errorf("focusd already running (PID %d), lock file: %s", pid, l.path)
		}
		return fmt.Errorf("lock %s is held by another process", l.path)
	}
}

// Release unlocks and removes the lock file.
func (l *LockFile) Release() error {
	if l.file == nil {
		return nil
	}
	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN) //nolint:gosec // G115: fd fits in int
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close lock file: %w", err)
	}
	l.file = nil
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *LockFile) Path() string {
	return l.path
}

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate lock file: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return fmt.Errorf("failed to seek lock file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fmt.Errorf("failed to write PID to lock file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync lock file: %w", err)
	}
	return nil
}

func readPID(f *os.File) int {
	if _, err := f.Seek(0, 0); err != nil {
		return 0
	}
	buf := make([]byte, 32)
	n, err := f.Read(buf)
	if err != nil || n == 0 {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(buf[:n])))
	if err != nil {
		return 0
	}
	return pid
}

// isProcessAlive sends signal 0 to pid.
func isProcessAlive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}
