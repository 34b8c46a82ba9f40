// Package pidfile guards against two sync instances racing on the same
// status socket.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/grovetools/cosync/pkg/process"
)

// Acquire writes the current pid to path. It fails when another live
// instance already holds it; a stale file from a dead process is cleaned up.
func Acquire(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create pid directory: %w", err)
	}

	if content, err := os.ReadFile(path); err == nil {
		pidStr := strings.TrimSpace(string(content))
		if pid, err := strconv.Atoi(pidStr); err == nil {
			if process.IsProcessAlive(pid) {
				return fmt.Errorf("cosync already running with PID %d", pid)
			}
			_ = os.Remove(path)
		}
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	return nil
}

// Release removes the pidfile if this process owns it.
func Release(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if pid, err := strconv.Atoi(strings.TrimSpace(string(content))); err == nil && pid != os.Getpid() {
		// Not ours; leave it alone.
		return nil
	}
	return os.Remove(path)
}

// IsRunning reports whether a live instance holds the pidfile, and its pid.
func IsRunning(path string) (bool, int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(content)))
	if err != nil {
		return false, 0, nil
	}
	return process.IsProcessAlive(pid), pid, nil
}
