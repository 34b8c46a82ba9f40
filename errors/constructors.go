package errors

import (
	"fmt"
)

// ConfigNotFound creates a configuration not found error
func ConfigNotFound(path string) *SyncError {
	return New(ErrCodeConfigNotFound, fmt.Sprintf("configuration file not found: %s", path)).
		WithDetail("path", path)
}

// ConfigInvalid creates an invalid configuration error
func ConfigInvalid(reason string) *SyncError {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", reason))
}

// MulticastJoin creates a multicast group join failure error
func MulticastJoin(port int, err error) *SyncError {
	return Wrap(err, ErrCodeMulticastJoin,
		fmt.Sprintf("failed to join multicast group on port %d", port)).
		WithDetail("port", port)
}

// EnvelopeTooLarge creates an oversized envelope error
func EnvelopeTooLarge(size, limit int) *SyncError {
	return New(ErrCodeEnvelopeTooLarge,
		fmt.Sprintf("envelope is %d bytes, exceeds the %d byte wire budget", size, limit)).
		WithDetail("size", size).
		WithDetail("limit", limit)
}

// EnvelopeMalformed creates a malformed envelope error
func EnvelopeMalformed(err error) *SyncError {
	return Wrap(err, ErrCodeEnvelopeMalformed, "failed to parse message envelope")
}

// AdapterUnavailable creates an editor adapter failure error
func AdapterUnavailable(editor string, err error) *SyncError {
	return Wrap(err, ErrCodeAdapterUnavailable,
		fmt.Sprintf("editor adapter '%s' is not reachable", editor)).
		WithDetail("editor", editor)
}

// FileNotFound creates an error for an adapter target that vanished
func FileNotFound(path string) *SyncError {
	return New(ErrCodeFileNotFound, fmt.Sprintf("file not found: %s", path)).
		WithDetail("path", path)
}
