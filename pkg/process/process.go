package process

import (
	"os"
	"syscall"
)

// IsProcessAlive checks whether a process with the given pid is running. It
// sends signal 0, which probes existence without delivering anything. EPERM
// still means the process exists; ESRCH means it does not.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || os.IsPermission(err)
}
