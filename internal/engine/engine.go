// Package engine wires the editor adapter, aggregator, queue, codec,
// deduplicator, and transport into one running synchronization instance.
package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/grovetools/cosync/config"
	"github.com/grovetools/cosync/internal/debounce"
	"github.com/grovetools/cosync/internal/identity"
	"github.com/grovetools/cosync/internal/protocol"
	"github.com/grovetools/cosync/internal/queue"
	"github.com/grovetools/cosync/internal/reconcile"
	"github.com/grovetools/cosync/internal/transport"
	"github.com/grovetools/cosync/logging"
	"github.com/sirupsen/logrus"

	"github.com/grovetools/cosync/pkg/adapter"
)

// Transport is the wire surface the engine consumes. *transport.Multicast is
// the production implementation.
type Transport interface {
	Enable()
	Disable()
	Send(data []byte) bool
	SetPort(port int)
	State() transport.State
	OnMessage(fn func([]byte))
	OnStateChange(fn func(transport.State))
}

// Options configure an engine instance.
type Options struct {
	WorkspaceRoot string
	Config        *config.Config

	// LocalID overrides the derived peer identity. Empty means the
	// process-wide identity for WorkspaceRoot.
	LocalID string
}

// Snapshot is a point-in-time view of the engine for status surfaces.
type Snapshot struct {
	LocalID      string `json:"localId"`
	State        string `json:"state"`
	Focused      bool   `json:"focused"`
	Port         int    `json:"port"`
	QueueDepth   int    `json:"queueDepth"`
	QueueDropped int64  `json:"queueDropped"`
	DedupSize    int    `json:"dedupSize"`
}

// Engine is one running synchronization instance. Inbound datagrams flow
// transport -> codec -> dedup -> editor; outbound editor events flow
// aggregator -> queue -> codec -> transport.
type Engine struct {
	localID string
	cfg     *config.Config
	editor  adapter.Editor
	tr      Transport

	codec *protocol.Codec
	dedup *protocol.Deduplicator
	out   *queue.Outbound
	agg   *debounce.Aggregator
	rec   *reconcile.Reconciler

	focused atomic.Bool
	portMu  sync.Mutex
	port    int

	stop   chan struct{}
	closed sync.Once
	log    *logrus.Entry
}

// New assembles an engine around an editor and a transport. Call Start to
// begin synchronizing.
func New(editor adapter.Editor, tr Transport, opts Options) (*Engine, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	localID := opts.LocalID
	if localID == "" {
		localID = identity.Local(opts.WorkspaceRoot)
	}

	e := &Engine{
		localID: localID,
		cfg:     cfg,
		editor:  editor,
		tr:      tr,
		port:    cfg.Sync.Port,
		stop:    make(chan struct{}),
		log:     logging.NewLogger("engine"),
	}

	e.codec = protocol.NewCodec(localID, logging.NewLogger("protocol"))
	e.dedup = protocol.NewDeduplicator(localID, protocol.DeduplicatorOptions{
		MessageTimeout: cfg.MessageTimeout(),
	}, logging.NewLogger("dedup"))
	e.out = queue.New(queue.Options{Capacity: cfg.Sync.QueueCapacity}, e.sendState, logging.NewLogger("queue"))
	e.agg = debounce.New(cfg.Debounce(), e.out.Enqueue, e.focused.Load, logging.NewLogger("debounce"))

	rec, err := reconcile.New(editor, opts.WorkspaceRoot, cfg.Ignore, e.agg.ImmediateUpdate, logging.NewLogger("reconcile"))
	if err != nil {
		return nil, err
	}
	e.rec = rec
	return e, nil
}

// Start enables the transport and begins consuming editor events.
func (e *Engine) Start() {
	e.focused.Store(e.editor.IsWindowFocused(true))

	e.tr.OnMessage(e.handleDatagram)
	e.tr.OnStateChange(func(s transport.State) {
		e.log.WithField("state", s.String()).Info("Transport state changed")
		if s == transport.StateConnected {
			e.broadcastCurrentState()
		}
	})

	e.dedup.Start()
	e.out.Start()
	e.tr.Enable()
	go e.eventLoop()

	e.log.WithField("localId", e.localID).Info("Sync engine started")
}

// Close tears the engine down: producers first, then the transport, then the
// dedup sweep. The editor adapter stays open; its owner closes it.
func (e *Engine) Close() {
	e.closed.Do(func() {
		close(e.stop)
		e.agg.Dispose()
		e.out.Dispose()
		e.tr.Disable()
		e.dedup.Close()
		e.log.Info("Sync engine stopped")
	})
}

// LocalID returns this instance's peer identifier.
func (e *Engine) LocalID() string { return e.localID }

// SetPort applies a hot-reloaded port, forcing a reconnect when it changed.
func (e *Engine) SetPort(port int) {
	e.portMu.Lock()
	e.port = port
	e.portMu.Unlock()
	e.tr.SetPort(port)
}

// Snapshot returns the current engine state for status surfaces.
func (e *Engine) Snapshot() Snapshot {
	e.portMu.Lock()
	port := e.port
	e.portMu.Unlock()
	return Snapshot{
		LocalID:      e.localID,
		State:        e.tr.State().String(),
		Focused:      e.focused.Load(),
		Port:         port,
		QueueDepth:   e.out.Len(),
		QueueDropped: e.out.Dropped(),
		DedupSize:    e.dedup.Size(),
	}
}

// eventLoop turns editor notifications into outbound updates.
func (e *Engine) eventLoop() {
	events := e.editor.Events()
	for {
		select {
		case <-e.stop:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			e.handleEvent(ev)
		}
	}
}

func (e *Engine) handleEvent(ev adapter.Event) {
	switch ev.Kind {
	case adapter.EventFocusChanged:
		was := e.focused.Swap(ev.Focused)
		if was && !ev.Focused {
			e.rec.OnLocalBlur()
		}
	case adapter.EventFileOpened:
		e.agg.DebouncedUpdate(e.newState(protocol.ActionOpen, ev))
	case adapter.EventFileClosed:
		// Closes propagate without delay and cancel any pending event for
		// the same path.
		e.agg.ImmediateUpdate(e.newState(protocol.ActionClose, ev))
	case adapter.EventSelectionChanged:
		e.agg.DebouncedUpdate(e.newState(protocol.ActionNavigate, ev))
	}
}

func (e *Engine) newState(action protocol.Action, ev adapter.Event) protocol.EditorState {
	state := protocol.EditorState{
		Action:   action,
		FilePath: ev.FilePath,
		Line:     ev.Line,
		Column:   ev.Column,
		Source:   e.cfg.Sync.Source,
		IsActive: e.focused.Load(),
	}
	if ev.Selection != nil {
		state = state.WithSelection(*ev.Selection)
	}
	return state
}

// sendState is the queue's consumer: wrap, encode, send. The timestamp is
// stamped here so queue latency never counts against the receiver's
// staleness window.
func (e *Engine) sendState(state protocol.EditorState) bool {
	state.Timestamp = time.Now().UnixMilli()
	env := e.codec.Wrap(state)
	data, err := e.codec.Encode(env)
	if err != nil {
		e.log.WithError(err).Warn("Dropping unsendable state")
		return false
	}
	return e.tr.Send(data)
}

// handleDatagram is the inbound path: parse defensively, dedup, apply.
func (e *Engine) handleDatagram(data []byte) {
	env := e.codec.Unwrap(data)
	if env == nil {
		return
	}
	if !e.dedup.Accept(env) {
		return
	}
	e.apply(env.Payload)
}

func (e *Engine) apply(state protocol.EditorState) {
	switch state.Action {
	case protocol.ActionWorkspaceSync:
		e.rec.ApplyWorkspaceSync(state)
	case protocol.ActionClose:
		if err := e.editor.CloseFile(state.FilePath); err != nil {
			e.log.WithError(err).WithField("filePath", state.FilePath).Warn("Remote close failed")
		}
	case protocol.ActionOpen, protocol.ActionNavigate:
		handle, err := e.editor.OpenFile(state.FilePath, true)
		if err != nil {
			e.log.WithError(err).WithField("filePath", state.FilePath).Warn("Remote open failed")
			return
		}
		var sel *protocol.Range
		if rng, ok := state.Selection(); ok {
			sel = &rng
		}
		if err := e.editor.SetSelectionAndCursor(handle, state.Line, state.Column, sel); err != nil {
			e.log.WithError(err).Warn("Remote cursor update failed")
		}
	}
}

// broadcastCurrentState announces the active editor right after (re)connect
// so a rejoining peer catches up without waiting for the next local event.
func (e *Engine) broadcastCurrentState() {
	active, err := e.editor.ActiveState()
	if err != nil || active == nil {
		return
	}
	state := *active
	state.Action = protocol.ActionNavigate
	state.Source = e.cfg.Sync.Source
	state.IsActive = e.focused.Load()
	e.agg.ImmediateUpdate(state)
}
