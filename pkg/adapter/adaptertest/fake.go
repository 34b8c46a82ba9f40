// Package adaptertest provides an in-memory Editor implementation for tests.
package adaptertest

import (
	"sync"

	"github.com/grovetools/cosync/internal/protocol"
	"github.com/grovetools/cosync/pkg/adapter"
)

// Fake is an in-memory editor. Tests mutate it directly and observe the calls
// the engine makes against it.
type Fake struct {
	mu      sync.Mutex
	open    []string
	active  *protocol.EditorState
	focused bool
	events  chan adapter.Event
	closed  bool

	// Call records, oldest first.
	Opened     []string
	Closed     []string
	Positioned []Position
}

// Position records one SetSelectionAndCursor call.
type Position struct {
	Path      string
	Line      int
	Column    int
	Selection *protocol.Range
}

// fakeHandle carries the path back so Positioned entries can name the file.
type fakeHandle struct{ path string }

// New creates an empty, focused fake editor.
func New() *Fake {
	return &Fake{
		focused: true,
		events:  make(chan adapter.Event, 64),
	}
}

func (f *Fake) OpenFiles() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.open))
	copy(out, f.open)
	return out, nil
}

func (f *Fake) ActiveState() (*protocol.EditorState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		return nil, nil
	}
	state := *f.active
	return &state, nil
}

func (f *Fake) OpenFile(path string, focus bool) (adapter.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Opened = append(f.Opened, path)
	if !f.hasLocked(path) {
		f.open = append(f.open, path)
	}
	if focus {
		f.active = &protocol.EditorState{Action: protocol.ActionNavigate, FilePath: path, IsActive: f.focused}
	}
	return fakeHandle{path: path}, nil
}

func (f *Fake) CloseFile(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = append(f.Closed, path)
	for i, p := range f.open {
		if p == path {
			f.open = append(f.open[:i], f.open[i+1:]...)
			break
		}
	}
	if f.active != nil && f.active.FilePath == path {
		f.active = nil
	}
	return nil
}

func (f *Fake) SetSelectionAndCursor(handle adapter.Handle, line, column int, sel *protocol.Range) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	pos := Position{Line: line, Column: column, Selection: sel}
	if h, ok := handle.(fakeHandle); ok {
		pos.Path = h.path
	}
	f.Positioned = append(f.Positioned, pos)
	if f.active != nil && f.active.FilePath == pos.Path {
		f.active.Line = line
		f.active.Column = column
	}
	return nil
}

func (f *Fake) IsWindowFocused(bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.focused
}

func (f *Fake) Events() <-chan adapter.Event {
	return f.events
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

// SetOpen replaces the open-file set.
func (f *Fake) SetOpen(paths ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = append([]string(nil), paths...)
}

// SetActive sets the active editor state returned by ActiveState.
func (f *Fake) SetActive(state *protocol.EditorState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = state
}

// SetFocused flips window focus without emitting an event.
func (f *Fake) SetFocused(focused bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.focused = focused
}

// Emit pushes an event into the adapter stream.
func (f *Fake) Emit(ev adapter.Event) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if !closed {
		f.events <- ev
	}
}

// OpenedCalls returns a copy of the OpenFile call record.
func (f *Fake) OpenedCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Opened...)
}

// ClosedCalls returns a copy of the CloseFile call record.
func (f *Fake) ClosedCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Closed...)
}

// PositionedCalls returns a copy of the SetSelectionAndCursor call record.
func (f *Fake) PositionedCalls() []Position {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Position(nil), f.Positioned...)
}

// EmitFocus flips focus and emits the matching focus-changed event.
func (f *Fake) EmitFocus(focused bool) {
	f.SetFocused(focused)
	f.Emit(adapter.Event{Kind: adapter.EventFocusChanged, Focused: focused})
}

func (f *Fake) hasLocked(path string) bool {
	for _, p := range f.open {
		if p == path {
			return true
		}
	}
	return false
}
