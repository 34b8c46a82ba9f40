package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/grovetools/cosync/config"
	"github.com/grovetools/cosync/internal/protocol"
	"github.com/grovetools/cosync/internal/transport"
	"github.com/grovetools/cosync/pkg/adapter"
	"github.com/grovetools/cosync/pkg/adapter/adaptertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
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

// fakeTransport links two engines in memory. Like real multicast, a send is
// looped back to the sender as well as delivered to the peer.
type fakeTransport struct {
	mu        sync.Mutex
	state     transport.State
	onMessage func([]byte)
	stateCbs  []func(transport.State)
	peer      *fakeTransport
}

func pairTransports() (*fakeTransport, *fakeTransport) {
	a := &fakeTransport{state: transport.StateDisconnected}
	b := &fakeTransport{state: transport.StateDisconnected}
	a.peer, b.peer = b, a
	return a, b
}

func (f *fakeTransport) Enable() {
	f.mu.Lock()
	f.state = transport.StateConnected
	cbs := append(([]func(transport.State))(nil), f.stateCbs...)
	f.mu.Unlock()
	for _, cb := range cbs {
		cb(transport.StateConnected)
	}
}

func (f *fakeTransport) Disable() {
	f.mu.Lock()
	f.state = transport.StateDisconnected
	f.mu.Unlock()
}

func (f *fakeTransport) Send(data []byte) bool {
	f.mu.Lock()
	connected := f.state == transport.StateConnected
	f.mu.Unlock()
	if !connected {
		return false
	}
	f.deliver(data)
	f.peer.deliver(data)
	return true
}

func (f *fakeTransport) deliver(data []byte) {
	f.mu.Lock()
	handler := f.onMessage
	connected := f.state == transport.StateConnected
	f.mu.Unlock()
	if handler != nil && connected {
		handler(data)
	}
}

func (f *fakeTransport) SetPort(int) {}

func (f *fakeTransport) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) OnMessage(fn func([]byte)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onMessage = fn
}

func (f *fakeTransport) OnStateChange(fn func(transport.State)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateCbs = append(f.stateCbs, fn)
}

func fastConfig() *config.Config {
	cfg := config.Default()
	cfg.Sync.DebounceMs = 1
	return cfg
}

type peerHarness struct {
	editor *adaptertest.Fake
	engine *Engine
}

func newPeerPair(t *testing.T) (*peerHarness, *peerHarness) {
	t.Helper()
	trA, trB := pairTransports()

	editorA := adaptertest.New()
	editorB := adaptertest.New()
	editorB.SetFocused(false)

	engA, err := New(editorA, trA, Options{LocalID: "peer-a", WorkspaceRoot: "/ws", Config: fastConfig()})
	require.NoError(t, err)
	engB, err := New(editorB, trB, Options{LocalID: "peer-b", WorkspaceRoot: "/ws", Config: fastConfig()})
	require.NoError(t, err)

	engA.Start()
	engB.Start()
	t.Cleanup(func() {
		engA.Close()
		engB.Close()
		editorA.Close()
		editorB.Close()
	})
	return &peerHarness{editorA, engA}, &peerHarness{editorB, engB}
}

func TestNavigatePropagatesToPeer(t *testing.T) {
	a, b := newPeerPair(t)

	sel := &protocol.Range{StartLine: 10, StartColumn: 2, EndLine: 10, EndColumn: 8}
	a.editor.Emit(adapter.Event{
		Kind:      adapter.EventSelectionChanged,
		FilePath:  "/ws/main.go",
		Line:      10,
		Column:    2,
		Selection: sel,
	})

	waitFor(t, 2*time.Second, func() bool { return len(b.editor.PositionedCalls()) > 0 }, "peer cursor update")

	pos := b.editor.PositionedCalls()[len(b.editor.PositionedCalls())-1]
	assert.Equal(t, "/ws/main.go", pos.Path)
	assert.Equal(t, 10, pos.Line)
	assert.Equal(t, 2, pos.Column)
	require.NotNil(t, pos.Selection)
	assert.Equal(t, *sel, *pos.Selection)
}

func TestSelfEchoIsIgnored(t *testing.T) {
	a, b := newPeerPair(t)

	a.editor.Emit(adapter.Event{Kind: adapter.EventSelectionChanged, FilePath: "/ws/main.go", Line: 1})
	waitFor(t, 2*time.Second, func() bool { return len(b.editor.OpenedCalls()) > 0 }, "peer receives the update")

	// The sender saw its own datagram via loopback but must not act on it.
	assert.Empty(t, a.editor.OpenedCalls())
	assert.Empty(t, a.editor.PositionedCalls())
}

func TestCloseBypassesDebounce(t *testing.T) {
	a, b := newPeerPair(t)
	b.editor.SetOpen("/ws/main.go")

	a.editor.Emit(adapter.Event{Kind: adapter.EventFileClosed, FilePath: "/ws/main.go"})

	waitFor(t, 2*time.Second, func() bool { return len(b.editor.ClosedCalls()) > 0 }, "peer close")
	assert.Equal(t, "/ws/main.go", b.editor.ClosedCalls()[0])
}

func TestBlurTriggersWorkspaceReconciliation(t *testing.T) {
	a, b := newPeerPair(t)

	a.editor.SetOpen("/ws/a.go", "/ws/b.go")
	a.editor.SetActive(&protocol.EditorState{Action: protocol.ActionNavigate, FilePath: "/ws/a.go", Line: 5, IsActive: true})
	b.editor.SetOpen("/ws/a.go", "/ws/stale.go")

	a.editor.EmitFocus(false)

	waitFor(t, 2*time.Second, func() bool {
		return len(b.editor.ClosedCalls()) > 0 && len(b.editor.OpenedCalls()) > 0
	}, "peer reconciliation")

	assert.Contains(t, b.editor.ClosedCalls(), "/ws/stale.go")
	assert.Contains(t, b.editor.OpenedCalls(), "/ws/b.go")
}

func TestUnfocusedPeerDoesNotEmitNavigation(t *testing.T) {
	a, b := newPeerPair(t)

	// B is backgrounded; its selection changes must stay local.
	b.editor.Emit(adapter.Event{Kind: adapter.EventSelectionChanged, FilePath: "/ws/quiet.go", Line: 2})

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, a.editor.OpenedCalls())
	assert.Empty(t, a.editor.PositionedCalls())
}

func TestSnapshotReflectsEngineState(t *testing.T) {
	a, _ := newPeerPair(t)

	snap := a.engine.Snapshot()
	assert.Equal(t, "peer-a", snap.LocalID)
	assert.Equal(t, "connected", snap.State)
	assert.Equal(t, config.DefaultPort, snap.Port)
	assert.True(t, snap.Focused)
}
