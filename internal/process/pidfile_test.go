package process

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestGuardAcquireWritesOwnPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pid")
	g := NewGuard(path)

	if err := g.Acquire(); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer g.Release()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading pid file: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("pid file content %q not a number", data)
	}
	if pid != os.Getpid() {
		t.Errorf("pid file contains %d, want %d", pid, os.Getpid())
	}
}

func TestGuardRejectsLiveProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pid")

	// Our own PID is certainly alive.
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	g := NewGuard(path)
	if err := g.Acquire(); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Acquire() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestGuardTakesOverStalePIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pid")

	// PIDs near the maximum are vanishingly unlikely to be in use.
	if err := os.WriteFile(path, []byte("4194303\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	g := NewGuard(path)
	if err := g.Acquire(); err != nil {
		t.Fatalf("Acquire() over stale file error = %v", err)
	}
	defer g.Release()

	data, _ := os.ReadFile(path)
	if got := strings.TrimSpace(string(data)); got != strconv.Itoa(os.Getpid()) {
		t.Errorf("pid file contains %q after takeover, want own pid", got)
	}
}

func TestGuardTakesOverGarbageFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pid")
	if err := os.WriteFile(path, []byte("not-a-pid\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	g := NewGuard(path)
	if err := g.Acquire(); err != nil {
		t.Fatalf("Acquire() over garbage file error = %v", err)
	}
	g.Release()
}

func TestGuardReleaseRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pid")
	g := NewGuard(path)

	if err := g.Acquire(); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := g.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("pid file still exists after Release")
	}

	// Release without a held lock is a no-op.
	if err := g.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
}

func TestGuardReleaseWithoutAcquire(t *testing.T) {
	g := NewGuard(filepath.Join(t.TempDir(), "never.pid"))
	if err := g.Release(); err != nil {
		t.Errorf("Release() without Acquire error = %v", err)
	}
}
