// Package adapter defines the editor capability the sync engine consumes.
// The engine never depends on a concrete editor; it speaks to this interface
// and to the event stream an implementation feeds it.
package adapter

import "github.com/grovetools/cosync/internal/protocol"

// EventKind classifies events flowing from the editor into the engine.
type EventKind int

const (
	EventFileOpened EventKind = iota
	EventFileClosed
	EventSelectionChanged
	EventFocusChanged
)

func (k EventKind) String() string {
	switch k {
	case EventFileOpened:
		return "file-opened"
	case EventFileClosed:
		return "file-closed"
	case EventSelectionChanged:
		return "selection-changed"
	case EventFocusChanged:
		return "focus-changed"
	}
	return "unknown"
}

// Event is one editor notification. FilePath is empty for focus changes;
// Focused is meaningful only for EventFocusChanged.
type Event struct {
	Kind      EventKind
	FilePath  string
	Line      int
	Column    int
	Selection *protocol.Range
	Focused   bool
}

// Handle identifies an editor buffer/view returned by OpenFile. Opaque to the
// engine; it only hands it back to SetSelectionAndCursor.
type Handle interface{}

// Editor is the capability surface of one editor instance. Implementations
// must be safe for calls from the engine's goroutines.
type Editor interface {
	// OpenFiles returns the absolute paths of all open regular files.
	OpenFiles() ([]string, error)

	// ActiveState returns the focused file and cursor, or nil when no
	// regular file is active.
	ActiveState() (*protocol.EditorState, error)

	// OpenFile opens path, optionally taking focus, and returns a handle to
	// the opened view (nil when the editor cannot provide one).
	OpenFile(path string, focus bool) (Handle, error)

	// CloseFile closes the buffer for path if it is open.
	CloseFile(path string) error

	// SetSelectionAndCursor positions the cursor and, when sel is non-nil,
	// the selection in the view behind handle.
	SetSelectionAndCursor(handle Handle, line, column int, sel *protocol.Range) error

	// IsWindowFocused reports window focus. With forceRealtime the
	// implementation must bypass any cached value and ask the editor.
	IsWindowFocused(forceRealtime bool) bool

	// Events returns the stream of editor notifications. Closed when the
	// editor goes away.
	Events() <-chan Event

	// Close releases the connection to the editor.
	Close() error
}
