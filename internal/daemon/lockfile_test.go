//go:build !windows

package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestLockFile_AcquireRelease(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "nested", "focusd.lock")
	lf := NewLockFile(lockPath)

	if err := lf.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	data, err := os.ReadFile(lockPath)
	if err != nil {
		t.Fatalf("failed to read lock file: %v", err)
	}
	if want := fmt.Sprintf("%d\n", os.Getpid()); string(data) != want {
		t.Errorf("lock file = %q, want %q", data, want)
	}

	info, err := os.Stat(lockPath)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("lock file mode = %o, want 600", perm)
	}

	if err := lf.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Error("lock file should be removed after Release")
	}
	if err := lf.Release(); err != nil {
		t.Errorf("second Release should not error: %v", err)
	}
}

func TestLockFile_SecondDaemonRefused(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "focusd.lock")
	first := NewLockFile(lockPath)
	if err := first.Acquire(); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	defer first.Release()

	pid, held, err := ReadHeldPID(lockPath)
	if err != nil {
		t.Fatalf("ReadHeldPID: %v", err)
	}

	second := NewLockFile(lockPath)
	if err := second.Acquire(); err == nil {
		second.Release()
		// flock is per open file description on Linux but some systems
		// let the same process lock twice.
		t.Skip("flock allows same-process re-lock on this OS")
	}
	if !held || pid != os.Getpid() {
		t.Errorf("ReadHeldPID = (%d, %v), want (%d, true)", pid, held, os.Getpid())
	}
}

func TestLockFile_StaleFileIsReused(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "focusd.lock")
	if err := os.WriteFile(lockPath, []byte("999999999\n"), 0o600); err != nil {
		t.Fatalf("failed to write stale PID: %v", err)
	}

	lf := NewLockFile(lockPath)
	if err := lf.Acquire(); err != nil {
		t.Fatalf("Acquire failed with stale PID: %v", err)
	}
	defer lf.Release()

	data, err := os.ReadFile(lockPath)
	if err != nil {
		t.Fatalf("failed to read lock file: %v", err)
	}
	if want := fmt.Sprintf("%d\n", os.Getpid()); string(data) != want {
		t.Errorf("lock file = %q, want %q", data, want)
	}
}

func TestReadHeldPID_Unheld(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if _, held, err := ReadHeldPID(filepath.Join(dir, "missing.lock")); err != nil || held {
		t.Errorf("missing lock: held=%v err=%v", held, err)
	}

	path := filepath.Join(dir, "focusd.lock")
	if err := os.WriteFile(path, []byte("42\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, held, err := ReadHeldPID(path); err != nil || held {
		t.Errorf("unlocked file: held=%v err=%v", held, err)
	}
}

func TestLockFilePath(t *testing.T) {
	t.Parallel()

	if got := LockFilePath("/var/lib/focus/focus.db"); got != "/var/lib/focus/focusd.lock" {
		t.Errorf("LockFilePath = %s", got)
	}
}
