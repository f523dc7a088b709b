// Package process provides the single-instance guard for the bridge.
//
// A PID file prevents two bridge processes from fighting over the same
// gateway session; the KLF200 only supports one API connection at a time.
package process

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrAlreadyRunning indicates another live instance holds the PID file.
var ErrAlreadyRunning = errors.New("another instance is already running")

// DefaultPIDPath returns the conventional PID file location: /var/run when
// writable, otherwise the system temp directory.
func DefaultPIDPath(name string) string {
	dir := "/var/run"
	if f, err := os.CreateTemp(dir, name+".probe-*"); err == nil {
		f.Close()
		os.Remove(f.Name())
	} else {
		dir = os.TempDir()
	}
	return filepath.Join(dir, name+".pid")
}

// Guard is a PID-file based single-instance lock.
type Guard struct {
	path     string
	acquired bool
}

// NewGuard creates a guard for the given PID file path.
func NewGuard(path string) *Guard {
	return &Guard{path: path}
}

// Path returns the PID file location.
func (g *Guard) Path() string { return g.path }

// Acquire writes the current PID, failing with ErrAlreadyRunning when a
// live process already holds the file. A PID file left behind by a dead
// process is treated as stale and taken over.
func (g *Guard) Acquire() error {
	if data, err := os.ReadFile(g.path); err == nil {
		pid, convErr := strconv.Atoi(strings.TrimSpace(string(data)))
		if convErr == nil && pid > 0 && processAlive(pid) {
			return fmt.Errorf("%w: pid %d (%s)", ErrAlreadyRunning, pid, g.path)
		}
		// Stale or unreadable file from a crashed instance.
		os.Remove(g.path)
	}

	f, err := os.OpenFile(g.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", ErrAlreadyRunning, g.path)
		}
		return fmt.Errorf("create pid file: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		os.Remove(g.path)
		return fmt.Errorf("write pid file: %w", err)
	}
	g.acquired = true
	return nil
}

// Release removes the PID file. Safe to call when Acquire failed or was
// never called.
func (g *Guard) Release() error {
	if !g.acquired {
		return nil
	}
	g.acquired = false
	if err := os.Remove(g.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}

// processAlive checks whether a PID refers to a running process using the
// null signal.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
