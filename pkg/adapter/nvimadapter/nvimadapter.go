// Package nvimadapter implements the editor adapter against a running Neovim
// instance over its msgpack-rpc socket.
package nvimadapter

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/grovetools/cosync/errors"
	"github.com/grovetools/cosync/internal/protocol"
	"github.com/neovim/go-client/nvim"
	"github.com/sirupsen/logrus"

	"github.com/grovetools/cosync/pkg/adapter"
)

const sourceName = "nvim"

// rpcnotify event names installed by the autocmd group.
const (
	eventOpen   = "cosync_open"
	eventClose  = "cosync_close"
	eventCursor = "cosync_cursor"
	eventFocus  = "cosync_focus"
)

// Adapter speaks to one Neovim instance. Events arrive via an autocmd group
// that rpcnotifies this channel.
type Adapter struct {
	v       *nvim.Nvim
	events  chan adapter.Event
	focused atomic.Bool
	log     *logrus.Entry
	closed  sync.Once
}

// Connect attaches to the Neovim server at socket. An empty socket falls back
// to $NVIM, the address Neovim exports to its child processes.
func Connect(socket string, log *logrus.Entry) (*Adapter, error) {
	if socket == "" {
		socket = os.Getenv("NVIM")
	}
	if socket == "" {
		return nil, errors.New(errors.ErrCodeAdapterUnavailable, "no nvim server socket; set $NVIM or pass --server")
	}

	v, err := nvim.Dial(socket)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeAdapterUnavailable, fmt.Sprintf("failed to dial nvim at %s", socket))
	}

	a := &Adapter{
		v:      v,
		events: make(chan adapter.Event, 64),
		log:    log,
	}
	a.focused.Store(true)

	if err := a.installHooks(); err != nil {
		v.Close()
		return nil, errors.Wrap(err, errors.ErrCodeAdapterUnavailable, "failed to install nvim autocmds")
	}
	log.WithField("socket", socket).Info("Attached to nvim")
	return a, nil
}

// installHooks registers rpc handlers and the autocmd group feeding them.
func (a *Adapter) installHooks() error {
	if err := a.v.RegisterHandler(eventOpen, a.onOpen); err != nil {
		return err
	}
	if err := a.v.RegisterHandler(eventClose, a.onClose); err != nil {
		return err
	}
	if err := a.v.RegisterHandler(eventCursor, a.onCursor); err != nil {
		return err
	}
	if err := a.v.RegisterHandler(eventFocus, a.onFocus); err != nil {
		return err
	}
	for _, ev := range []string{eventOpen, eventClose, eventCursor, eventFocus} {
		if err := a.v.Subscribe(ev); err != nil {
			return err
		}
	}

	cmds := []string{
		"augroup cosync",
		"autocmd!",
		fmt.Sprintf(`autocmd BufReadPost,BufNewFile * call rpcnotify(0, "%s", expand("<afile>:p"))`, eventOpen),
		fmt.Sprintf(`autocmd BufDelete * call rpcnotify(0, "%s", expand("<afile>:p"))`, eventClose),
		fmt.Sprintf(`autocmd CursorMoved,CursorMovedI * call rpcnotify(0, "%s", expand("%%:p"), line("."), col("."))`, eventCursor),
		fmt.Sprintf(`autocmd FocusGained * call rpcnotify(0, "%s", 1)`, eventFocus),
		fmt.Sprintf(`autocmd FocusLost * call rpcnotify(0, "%s", 0)`, eventFocus),
		"augroup END",
	}
	for _, cmd := range cmds {
		if err := a.v.Command(cmd); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) onOpen(path string) {
	if path == "" {
		return
	}
	a.emit(adapter.Event{Kind: adapter.EventFileOpened, FilePath: path})
}

func (a *Adapter) onClose(path string) {
	if path == "" {
		return
	}
	a.emit(adapter.Event{Kind: adapter.EventFileClosed, FilePath: path})
}

func (a *Adapter) onCursor(path string, line, col int64) {
	if path == "" {
		return
	}
	// Neovim reports 1-based line and column.
	a.emit(adapter.Event{
		Kind:     adapter.EventSelectionChanged,
		FilePath: path,
		Line:     int(line) - 1,
		Column:   int(col) - 1,
	})
}

func (a *Adapter) onFocus(focused int64) {
	a.focused.Store(focused != 0)
	a.emit(adapter.Event{Kind: adapter.EventFocusChanged, Focused: focused != 0})
}

// emit never blocks the rpc dispatch goroutine; a full channel drops the
// event and the next reconciliation repairs any drift.
func (a *Adapter) emit(ev adapter.Event) {
	select {
	case a.events <- ev:
	default:
		a.log.WithField("kind", ev.Kind.String()).Warn("Event channel full, dropping editor event")
	}
}

func (a *Adapter) OpenFiles() ([]string, error) {
	bufs, err := a.v.Buffers()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeAdapterUnavailable, "failed to list buffers")
	}
	var paths []string
	for _, buf := range bufs {
		loaded, err := a.v.IsBufferLoaded(buf)
		if err != nil || !loaded {
			continue
		}
		var buftype string
		if err := a.v.BufferOption(buf, "buftype", &buftype); err != nil || buftype != "" {
			// Non-empty buftype marks terminals, quickfix and other
			// non-file buffers.
			continue
		}
		name, err := a.v.BufferName(buf)
		if err != nil || name == "" {
			continue
		}
		paths = append(paths, name)
	}
	return paths, nil
}

func (a *Adapter) ActiveState() (*protocol.EditorState, error) {
	buf, err := a.v.CurrentBuffer()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeAdapterUnavailable, "failed to read current buffer")
	}
	var buftype string
	if err := a.v.BufferOption(buf, "buftype", &buftype); err != nil || buftype != "" {
		return nil, nil
	}
	name, err := a.v.BufferName(buf)
	if err != nil || name == "" {
		return nil, nil
	}

	win, err := a.v.CurrentWindow()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeAdapterUnavailable, "failed to read current window")
	}
	pos, err := a.v.WindowCursor(win)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeAdapterUnavailable, "failed to read cursor")
	}

	return &protocol.EditorState{
		Action:   protocol.ActionNavigate,
		FilePath: name,
		Line:     pos[0] - 1, // WindowCursor rows are 1-based, columns 0-based
		Column:   pos[1],
		Source:   sourceName,
		IsActive: a.focused.Load(),
	}, nil
}

func (a *Adapter) OpenFile(path string, focus bool) (adapter.Handle, error) {
	if focus {
		if err := a.v.Command(fmt.Sprintf("edit %s", path)); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeAdapterUnavailable, fmt.Sprintf("failed to open %s", path))
		}
		win, err := a.v.CurrentWindow()
		if err != nil {
			return nil, nil
		}
		return win, nil
	}
	// badd loads the file into the buffer list without touching the view.
	if err := a.v.Command(fmt.Sprintf("badd %s", path)); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeAdapterUnavailable, fmt.Sprintf("failed to add %s", path))
	}
	return nil, nil
}

func (a *Adapter) CloseFile(path string) error {
	if err := a.v.Command(fmt.Sprintf("bdelete %s", path)); err != nil {
		return errors.Wrap(err, errors.ErrCodeAdapterUnavailable, fmt.Sprintf("failed to close %s", path))
	}
	return nil
}

func (a *Adapter) SetSelectionAndCursor(handle adapter.Handle, line, column int, sel *protocol.Range) error {
	win, ok := handle.(nvim.Window)
	if !ok {
		var err error
		win, err = a.v.CurrentWindow()
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeAdapterUnavailable, "failed to resolve window")
		}
	}
	if err := a.v.SetWindowCursor(win, [2]int{line + 1, column}); err != nil {
		return errors.Wrap(err, errors.ErrCodeAdapterUnavailable, "failed to set cursor")
	}
	if sel != nil {
		cmds := []string{
			fmt.Sprintf(`call setpos("'<", [0, %d, %d, 0])`, sel.StartLine+1, sel.StartColumn+1),
			fmt.Sprintf(`call setpos("'>", [0, %d, %d, 0])`, sel.EndLine+1, sel.EndColumn+1),
			"normal! gv",
		}
		for _, cmd := range cmds {
			if err := a.v.Command(cmd); err != nil {
				return errors.Wrap(err, errors.ErrCodeAdapterUnavailable, "failed to set selection")
			}
		}
	}
	return nil
}

// IsWindowFocused returns the focus state tracked via FocusGained/FocusLost.
// Neovim exposes no synchronous focus query, so forceRealtime only verifies
// the instance is still responding before trusting the cached value.
func (a *Adapter) IsWindowFocused(forceRealtime bool) bool {
	if forceRealtime {
		var pong int
		if err := a.v.Eval("1", &pong); err != nil {
			return false
		}
	}
	return a.focused.Load()
}

func (a *Adapter) Events() <-chan adapter.Event {
	return a.events
}

func (a *Adapter) Close() error {
	var err error
	a.closed.Do(func() {
		// Best effort: remove our autocmds so a surviving nvim stops
		// notifying a dead channel.
		_ = a.v.Command("augroup cosync | autocmd! | augroup END")
		err = a.v.Close()
		close(a.events)
	})
	return err
}
