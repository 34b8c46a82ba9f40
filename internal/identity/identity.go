// Package identity derives the per-process peer identifier.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sync"

	"github.com/grovetools/cosync/util/pathutil"
)

var (
	localOnce sync.Once
	localID   string
)

// Compute builds a peer identifier from the host name, a stable fingerprint
// of the workspace root, and the process id. The workspace fingerprint keeps
// two IDE processes on different projects distinct even when launched the
// same way; the pid keeps two processes on the same project distinct. The id
// is never persisted and is regenerated on every process start.
func Compute(workspaceRoot string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown-host"
	}
	return fmt.Sprintf("%s-%s-%d", host, workspaceFingerprint(workspaceRoot), os.Getpid())
}

// Local returns the memoized identifier for this process. The workspace root
// passed on the first call wins; later calls ignore their argument.
func Local(workspaceRoot string) string {
	localOnce.Do(func() {
		localID = Compute(workspaceRoot)
	})
	return localID
}

// workspaceFingerprint hashes the normalized workspace root to a short stable
// token. Normalization first, so symlinked checkouts of one project agree.
func workspaceFingerprint(root string) string {
	norm, err := pathutil.NormalizeForLookup(root)
	if err != nil {
		norm = root
	}
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])[:8]
}
