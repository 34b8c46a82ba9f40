// Package debounce coalesces bursts of per-file editor events before they
// reach the outbound queue.
package debounce

import (
	"sync"
	"time"

	"github.com/grovetools/cosync/internal/protocol"
	"github.com/sirupsen/logrus"
)

// DefaultDelay is the settle window for a file's event burst.
const DefaultDelay = 300 * time.Millisecond

// ForwardFunc receives a state that survived debouncing.
type ForwardFunc func(state protocol.EditorState)

// FocusFunc reports whether the local window currently holds focus.
type FocusFunc func() bool

// slot is the single pending timer for one file path. The generation stamp
// invalidates a superseded timer that has already fired but not yet run.
type slot struct {
	timer *time.Timer
	gen   uint64
}

// Aggregator holds at most one pending timer per file path. A newer event for
// the same path fully replaces the pending one; there is no merging.
type Aggregator struct {
	mu       sync.Mutex
	slots    map[string]*slot
	nextGen  uint64
	disposed bool

	delay   time.Duration
	forward ForwardFunc
	focused FocusFunc
	log     *logrus.Entry
}

// New creates an aggregator forwarding settled states via forward. Debounced
// states are forwarded only while focused reports true.
func New(delay time.Duration, forward ForwardFunc, focused FocusFunc, log *logrus.Entry) *Aggregator {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Aggregator{
		slots:   make(map[string]*slot),
		delay:   delay,
		forward: forward,
		focused: focused,
		log:     log,
	}
}

// DebouncedUpdate schedules state for forwarding after the settle window,
// cancelling any pending event for the same file path.
func (a *Aggregator) DebouncedUpdate(state protocol.EditorState) {
	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		return
	}
	a.cancelLocked(state.FilePath)

	a.nextGen++
	gen := a.nextGen
	path := state.FilePath
	s := &slot{gen: gen}
	s.timer = time.AfterFunc(a.delay, func() {
		a.fire(path, gen, state)
	})
	a.slots[path] = s
	a.mu.Unlock()
}

// ImmediateUpdate forwards state right away, cancelling any pending debounced
// event for the same path so a stale NAVIGATE cannot fire after a close. The
// focus gate does not apply here; closes and restored state propagate even
// from a backgrounded instance.
func (a *Aggregator) ImmediateUpdate(state protocol.EditorState) {
	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		return
	}
	a.cancelLocked(state.FilePath)
	a.mu.Unlock()

	a.forward(state)
}

// Pending returns the number of paths with an undelivered debounced event.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.slots)
}

// Dispose cancels every pending timer. Nothing is flushed.
func (a *Aggregator) Dispose() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.disposed = true
	for path, s := range a.slots {
		s.timer.Stop()
		delete(a.slots, path)
	}
}

// fire delivers a settled debounced event unless it was superseded.
func (a *Aggregator) fire(path string, gen uint64, state protocol.EditorState) {
	a.mu.Lock()
	s, ok := a.slots[path]
	if !ok || s.gen != gen || a.disposed {
		a.mu.Unlock()
		return
	}
	delete(a.slots, path)
	a.mu.Unlock()

	if !a.focused() {
		a.log.WithField("filePath", path).Debug("Suppressing update while unfocused")
		return
	}
	a.forward(state)
}

func (a *Aggregator) cancelLocked(path string) {
	if s, ok := a.slots[path]; ok {
		s.timer.Stop()
		delete(a.slots, path)
	}
}
