// Package paths resolves the on-disk locations cosync uses.
//
// Resolution order:
// 1. COSYNC_HOME (portable root) → $COSYNC_HOME/{state,logs}
// 2. XDG env vars → $XDG_STATE_HOME/cosync
// 3. Platform defaults → ~/.cosync
package paths

import (
	"os"
	"path/filepath"
)

// stateHome returns the base directory for runtime state (socket, pidfile).
func stateHome() string {
	if home := os.Getenv("COSYNC_HOME"); home != "" {
		return filepath.Join(home, "state")
	}
	if xdgStateHome := os.Getenv("XDG_STATE_HOME"); xdgStateHome != "" {
		return filepath.Join(xdgStateHome, "cosync")
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".cosync")
	}
	return filepath.Join(os.TempDir(), "cosync")
}

// SocketPath returns the status server's unix socket path.
func SocketPath() string {
	return filepath.Join(stateHome(), "cosync.sock")
}

// PidFilePath returns the pidfile guarding one instance per workspace host.
func PidFilePath() string {
	return filepath.Join(stateHome(), "cosync.pid")
}

// LogsDir returns the directory component logs are written to.
func LogsDir() string {
	if home := os.Getenv("COSYNC_HOME"); home != "" {
		return filepath.Join(home, "logs")
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".cosync", "logs")
	}
	return filepath.Join(os.TempDir(), "cosync", "logs")
}
