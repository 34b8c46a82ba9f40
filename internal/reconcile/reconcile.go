// Package reconcile repairs open-file drift between peers. Incremental
// messages can be lost while a peer is briefly disconnected, so a focus-loss
// broadcast of the full open-file set lets both sides converge again.
package reconcile

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/grovetools/cosync/internal/protocol"
	"github.com/grovetools/cosync/util/pathutil"
	"github.com/moby/patternmatcher"
	"github.com/sirupsen/logrus"

	"github.com/grovetools/cosync/pkg/adapter"
)

// BroadcastFunc sends a state outward without debouncing.
type BroadcastFunc func(state protocol.EditorState)

// Reconciler owns the blur-triggered sync handshake. It remembers the last
// active editor position so the side that regains focus can restore its own
// view instead of jumping to the blurred peer's.
type Reconciler struct {
	mu         sync.Mutex
	lastActive *protocol.EditorState

	editor    adapter.Editor
	matcher   *patternmatcher.PatternMatcher
	root      string
	broadcast BroadcastFunc
	log       *logrus.Entry
}

// New creates a reconciler. Ignore patterns use .gitignore-style syntax and
// are matched against paths relative to the workspace root.
func New(editor adapter.Editor, root string, ignore []string, broadcast BroadcastFunc, log *logrus.Entry) (*Reconciler, error) {
	var matcher *patternmatcher.PatternMatcher
	if len(ignore) > 0 {
		m, err := patternmatcher.New(ignore)
		if err != nil {
			return nil, err
		}
		matcher = m
	}
	return &Reconciler{
		editor:    editor,
		matcher:   matcher,
		root:      root,
		broadcast: broadcast,
		log:       log,
	}, nil
}

// OnLocalBlur snapshots the active editor and broadcasts a WORKSPACE_SYNC
// carrying the full open-file set. Called when the window transitions from
// focused to unfocused.
func (r *Reconciler) OnLocalBlur() {
	active, err := r.editor.ActiveState()
	if err != nil {
		r.log.WithError(err).Warn("Could not read active editor state on blur")
	}
	if active != nil {
		snapshot := *active
		r.mu.Lock()
		r.lastActive = &snapshot
		r.mu.Unlock()
	}

	open, err := r.editor.OpenFiles()
	if err != nil {
		r.log.WithError(err).Warn("Could not list open files on blur")
		return
	}
	open = r.filterIgnored(open)
	if len(open) == 0 {
		return
	}

	state := protocol.EditorState{
		Action:      protocol.ActionWorkspaceSync,
		IsActive:    true,
		Timestamp:   time.Now().UnixMilli(),
		OpenedFiles: open,
	}
	if active != nil {
		state.FilePath = active.FilePath
		state.Line = active.Line
		state.Column = active.Column
	}

	r.log.WithField("openFiles", len(open)).Debug("Broadcasting workspace sync on blur")
	r.broadcast(state)
}

// ApplyWorkspaceSync diffs the local open-file set against the incoming one,
// closes what the sender closed, opens what it opened, then applies the
// focus rule: the side that now holds focus restores its own captured
// position and re-broadcasts, while a still-unfocused receiver mirrors the
// sender's position. Exactly one side wins visible focus.
func (r *Reconciler) ApplyWorkspaceSync(state protocol.EditorState) {
	if len(state.OpenedFiles) == 0 {
		return
	}

	current, err := r.editor.OpenFiles()
	if err != nil {
		r.log.WithError(err).Warn("Could not list open files for reconciliation")
		return
	}
	current = r.filterIgnored(current)
	target := r.filterIgnored(state.OpenedFiles)

	toClose, toOpen := DiffSets(current, target)
	for _, path := range toClose {
		if err := r.editor.CloseFile(path); err != nil {
			r.log.WithError(err).WithField("filePath", path).Warn("Close failed during reconciliation")
		}
	}
	opened := 0
	for _, path := range toOpen {
		if _, err := r.editor.OpenFile(path, false); err != nil {
			r.log.WithError(err).WithField("filePath", path).Warn("Open failed during reconciliation")
			continue
		}
		opened++
	}
	if len(toClose) > 0 || opened > 0 {
		r.log.WithFields(logrus.Fields{"closed": len(toClose), "opened": opened}).Info("Reconciled workspace")
	}

	// Focus may have changed while the diff ran; ask the editor directly.
	if r.editor.IsWindowFocused(true) {
		if opened > 0 {
			r.restoreOwnPosition()
		}
	} else {
		r.mirrorSender(state)
	}
}

// LastActive returns the most recently captured active editor state.
func (r *Reconciler) LastActive() *protocol.EditorState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastActive == nil {
		return nil
	}
	snapshot := *r.lastActive
	return &snapshot
}

// restoreOwnPosition re-opens the captured active file and re-broadcasts the
// resulting state so the focused side propagates outward.
func (r *Reconciler) restoreOwnPosition() {
	r.mu.Lock()
	last := r.lastActive
	r.mu.Unlock()

	if last != nil {
		handle, err := r.editor.OpenFile(last.FilePath, true)
		if err != nil {
			r.log.WithError(err).WithField("filePath", last.FilePath).Warn("Could not restore active editor")
		} else {
			var sel *protocol.Range
			if rng, ok := last.Selection(); ok {
				sel = &rng
			}
			if err := r.editor.SetSelectionAndCursor(handle, last.Line, last.Column, sel); err != nil {
				r.log.WithError(err).Warn("Could not restore cursor")
			}
		}
	}

	active, err := r.editor.ActiveState()
	if err != nil || active == nil {
		return
	}
	out := *active
	out.Action = protocol.ActionNavigate
	out.IsActive = true
	out.Timestamp = time.Now().UnixMilli()
	r.broadcast(out)
}

// mirrorSender navigates to the position carried in the incoming message.
func (r *Reconciler) mirrorSender(state protocol.EditorState) {
	if state.FilePath == "" || r.ignored(state.FilePath) {
		return
	}
	handle, err := r.editor.OpenFile(state.FilePath, true)
	if err != nil {
		r.log.WithError(err).WithField("filePath", state.FilePath).Warn("Could not mirror sender position")
		return
	}
	var sel *protocol.Range
	if rng, ok := state.Selection(); ok {
		sel = &rng
	}
	if err := r.editor.SetSelectionAndCursor(handle, state.Line, state.Column, sel); err != nil {
		r.log.WithError(err).Warn("Could not position cursor")
	}
}

// DiffSets computes the close/open sets between the local and incoming file
// lists. Paths are compared in normalized form but returned as given.
func DiffSets(current, target []string) (toClose, toOpen []string) {
	currentSet := pathutil.NormalizeSet(current)
	targetSet := pathutil.NormalizeSet(target)

	for norm, orig := range currentSet {
		if _, ok := targetSet[norm]; !ok {
			toClose = append(toClose, orig)
		}
	}
	for norm, orig := range targetSet {
		if _, ok := currentSet[norm]; !ok {
			toOpen = append(toOpen, orig)
		}
	}
	return toClose, toOpen
}

func (r *Reconciler) filterIgnored(paths []string) []string {
	if r.matcher == nil {
		return paths
	}
	out := make([]string, 0, len(paths))
	for _, path := range paths {
		if !r.ignored(path) {
			out = append(out, path)
		}
	}
	return out
}

func (r *Reconciler) ignored(path string) bool {
	if r.matcher == nil {
		return false
	}
	rel := path
	if r.root != "" {
		if relPath, err := filepath.Rel(r.root, path); err == nil && !strings.HasPrefix(relPath, "..") {
			rel = relPath
		}
	}
	matched, err := r.matcher.MatchesOrParentMatches(rel)
	if err != nil {
		return false
	}
	return matched
}
