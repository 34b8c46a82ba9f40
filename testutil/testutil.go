// Package testutil holds small helpers shared by cosync tests.
package testutil

import (
	"net"
	"testing"
	"time"

	"github.com/grovetools/cosync/internal/protocol"
)

// WaitFor polls cond until it returns true or the timeout elapses.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// FreeUDPPort returns a UDP port that was free at the time of the call.
func FreeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find a free UDP port: %v", err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

// NavigateState builds a minimal outbound state for tests.
func NavigateState(path string, line, column int) protocol.EditorState {
	return protocol.EditorState{
		Action:    protocol.ActionNavigate,
		FilePath:  path,
		Line:      line,
		Column:    column,
		IsActive:  true,
		Timestamp: time.Now().UnixMilli(),
	}
}
