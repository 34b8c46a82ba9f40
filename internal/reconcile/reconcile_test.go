package reconcile

import (
	"sync"
	"testing"

	"github.com/grovetools/cosync/internal/protocol"
	"github.com/grovetools/cosync/pkg/adapter/adaptertest"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger.WithField("component", "test")
}

type broadcastRecorder struct {
	mu  sync.Mutex
	got []protocol.EditorState
}

func (r *broadcastRecorder) broadcast(state protocol.EditorState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, state)
}

func (r *broadcastRecorder) states() []protocol.EditorState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.EditorState, len(r.got))
	copy(out, r.got)
	return out
}

func newTestReconciler(t *testing.T, fake *adaptertest.Fake, ignore []string) (*Reconciler, *broadcastRecorder) {
	t.Helper()
	rec := &broadcastRecorder{}
	r, err := New(fake, "/ws", ignore, rec.broadcast, testLogger())
	require.NoError(t, err)
	return r, rec
}

func TestDiffSets(t *testing.T) {
	toClose, toOpen := DiffSets(
		[]string{"/ws/a.go", "/ws/b.go"},
		[]string{"/ws/b.go", "/ws/c.go"},
	)
	assert.Equal(t, []string{"/ws/a.go"}, toClose)
	assert.Equal(t, []string{"/ws/c.go"}, toOpen)
}

func TestDiffSetsIdentical(t *testing.T) {
	toClose, toOpen := DiffSets([]string{"/ws/a.go"}, []string{"/ws/a.go"})
	assert.Empty(t, toClose)
	assert.Empty(t, toOpen)
}

func TestBlurBroadcastsWorkspaceSync(t *testing.T) {
	fake := adaptertest.New()
	fake.SetOpen("/ws/a.go", "/ws/b.go")
	fake.SetActive(&protocol.EditorState{Action: protocol.ActionNavigate, FilePath: "/ws/a.go", Line: 7, Column: 3, IsActive: true})

	r, rec := newTestReconciler(t, fake, nil)
	r.OnLocalBlur()

	states := rec.states()
	require.Len(t, states, 1)
	assert.Equal(t, protocol.ActionWorkspaceSync, states[0].Action)
	assert.True(t, states[0].IsActive)
	assert.ElementsMatch(t, []string{"/ws/a.go", "/ws/b.go"}, states[0].OpenedFiles)
	assert.Equal(t, "/ws/a.go", states[0].FilePath)
	assert.Equal(t, 7, states[0].Line)

	last := r.LastActive()
	require.NotNil(t, last)
	assert.Equal(t, "/ws/a.go", last.FilePath)
}

func TestBlurWithNoOpenFilesStaysQuiet(t *testing.T) {
	fake := adaptertest.New()
	r, rec := newTestReconciler(t, fake, nil)

	r.OnLocalBlur()
	assert.Empty(t, rec.states())
}

func TestBlurFiltersIgnoredPaths(t *testing.T) {
	fake := adaptertest.New()
	fake.SetOpen("/ws/a.go", "/ws/vendor/lib.go", "/ws/debug.log")

	r, rec := newTestReconciler(t, fake, []string{"vendor", "*.log"})
	r.OnLocalBlur()

	states := rec.states()
	require.Len(t, states, 1)
	assert.Equal(t, []string{"/ws/a.go"}, states[0].OpenedFiles)
}

func TestApplySyncDiffsOpenFiles(t *testing.T) {
	fake := adaptertest.New()
	fake.SetOpen("/ws/a.go", "/ws/b.go")
	fake.SetFocused(false)

	r, _ := newTestReconciler(t, fake, nil)
	r.ApplyWorkspaceSync(protocol.EditorState{
		Action:      protocol.ActionWorkspaceSync,
		IsActive:    true,
		OpenedFiles: []string{"/ws/b.go", "/ws/c.go"},
	})

	assert.Equal(t, []string{"/ws/a.go"}, fake.ClosedCalls())
	assert.Contains(t, fake.OpenedCalls(), "/ws/c.go")
}

func TestApplySyncEmptyFileListIsNoop(t *testing.T) {
	fake := adaptertest.New()
	fake.SetOpen("/ws/a.go")

	r, _ := newTestReconciler(t, fake, nil)
	r.ApplyWorkspaceSync(protocol.EditorState{Action: protocol.ActionWorkspaceSync, IsActive: true})

	assert.Empty(t, fake.ClosedCalls())
	assert.Empty(t, fake.OpenedCalls())
}

func TestUnfocusedReceiverMirrorsSender(t *testing.T) {
	fake := adaptertest.New()
	fake.SetOpen("/ws/a.go")
	fake.SetFocused(false)

	r, rec := newTestReconciler(t, fake, nil)
	r.ApplyWorkspaceSync(protocol.EditorState{
		Action:      protocol.ActionWorkspaceSync,
		IsActive:    true,
		FilePath:    "/ws/b.go",
		Line:        12,
		Column:      4,
		OpenedFiles: []string{"/ws/a.go", "/ws/b.go"},
	})

	require.NotEmpty(t, fake.PositionedCalls())
	pos := fake.PositionedCalls()[len(fake.PositionedCalls())-1]
	assert.Equal(t, "/ws/b.go", pos.Path)
	assert.Equal(t, 12, pos.Line)
	assert.Equal(t, 4, pos.Column)
	assert.Empty(t, rec.states(), "a mirroring receiver does not re-broadcast")
}

func TestFocusedReceiverRestoresOwnPosition(t *testing.T) {
	fake := adaptertest.New()
	fake.SetOpen("/ws/a.go")
	fake.SetActive(&protocol.EditorState{Action: protocol.ActionNavigate, FilePath: "/ws/a.go", Line: 3, Column: 1, IsActive: true})

	r, rec := newTestReconciler(t, fake, nil)
	r.OnLocalBlur() // captures /ws/a.go:3

	// The peer's sync arrives while this side holds focus again.
	r.ApplyWorkspaceSync(protocol.EditorState{
		Action:      protocol.ActionWorkspaceSync,
		IsActive:    true,
		FilePath:    "/ws/b.go",
		Line:        99,
		OpenedFiles: []string{"/ws/a.go", "/ws/b.go"},
	})

	// Own position restored, not the sender's.
	require.NotEmpty(t, fake.PositionedCalls())
	pos := fake.PositionedCalls()[len(fake.PositionedCalls())-1]
	assert.Equal(t, "/ws/a.go", pos.Path)
	assert.Equal(t, 3, pos.Line)

	// And the focused side propagates outward.
	states := rec.states()
	require.Len(t, states, 2, "blur sync plus post-reconcile re-broadcast")
	assert.Equal(t, protocol.ActionNavigate, states[1].Action)
	assert.Equal(t, "/ws/a.go", states[1].FilePath)
}

func TestFocusedReceiverWithNothingOpenedDoesNotRestore(t *testing.T) {
	fake := adaptertest.New()
	fake.SetOpen("/ws/a.go", "/ws/b.go")

	r, rec := newTestReconciler(t, fake, nil)
	r.ApplyWorkspaceSync(protocol.EditorState{
		Action:      protocol.ActionWorkspaceSync,
		IsActive:    true,
		OpenedFiles: []string{"/ws/a.go"},
	})

	// Only a close happened; a focused receiver with no newly opened files
	// leaves its view alone.
	assert.Equal(t, []string{"/ws/b.go"}, fake.ClosedCalls())
	assert.Empty(t, fake.PositionedCalls())
	assert.Empty(t, rec.states())
}
