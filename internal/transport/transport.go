// Package transport joins the local multicast group and drives the
// DISCONNECTED/CONNECTING/CONNECTED state machine with backoff reconnection.
package transport

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
)

// State is the connection state of the transport. One authoritative value per
// process: it gates sends and drives the UI indicator.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "unknown"
}

// DefaultGroup is the fixed multicast group every peer joins. Only the port
// is configurable.
const DefaultGroup = "239.255.70.77"

// DefaultReconnectDelay is the pause before a reconnect attempt.
const DefaultReconnectDelay = 5 * time.Second

// readBufferBytes comfortably holds the 8 KiB envelope ceiling.
const readBufferBytes = 16 * 1024

// joinFunc opens a multicast listener for group:port. Swapped in tests.
type joinFunc func(group string, port int) (net.PacketConn, *net.UDPAddr, error)

// Options configures a Multicast transport. Zero values pick up defaults.
type Options struct {
	Group          string
	Port           int
	ReconnectDelay time.Duration
}

// Multicast is the UDP multicast transport. Send fails fast when not
// connected and never queues internally; queuing is the operation queue's
// responsibility.
type Multicast struct {
	mu             sync.Mutex
	group          string
	port           int
	state          State
	enabled        bool
	conn           net.PacketConn
	dest           *net.UDPAddr
	reconnectTimer *time.Timer
	backoff        backoff.BackOff
	join           joinFunc
	readGen        int

	cbMu           sync.Mutex
	onMessage      func([]byte)
	stateCallbacks []func(State)

	log *logrus.Entry
}

// New creates a disabled transport. Call Enable to join the group.
func New(opts Options, log *logrus.Entry) *Multicast {
	if opts.Group == "" {
		opts.Group = DefaultGroup
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	return &Multicast{
		group:   opts.Group,
		port:    opts.Port,
		state:   StateDisconnected,
		backoff: backoff.NewConstantBackOff(opts.ReconnectDelay),
		join:    joinMulticast,
		log:     log,
	}
}

// OnMessage registers the single inbound handler. Must be set before Enable.
func (t *Multicast) OnMessage(fn func([]byte)) {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	t.onMessage = fn
}

// OnStateChange registers a callback fired on every state transition.
func (t *Multicast) OnStateChange(fn func(State)) {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	t.stateCallbacks = append(t.stateCallbacks, fn)
}

// State returns the current connection state.
func (t *Multicast) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Enable starts participation: the transport joins the group and keeps
// retrying while enabled.
func (t *Multicast) Enable() {
	t.mu.Lock()
	if t.enabled {
		t.mu.Unlock()
		return
	}
	t.enabled = true
	t.mu.Unlock()
	t.attempt()
}

// Disable cancels any pending reconnect, leaves the group, and transitions to
// DISCONNECTED.
func (t *Multicast) Disable() {
	t.mu.Lock()
	t.enabled = false
	t.cancelReconnectLocked()
	t.closeConnLocked()
	changed := t.transitionLocked(StateDisconnected)
	t.mu.Unlock()
	if changed {
		t.notify(StateDisconnected)
	}
}

// Send transmits one datagram to the group. It returns false without queuing
// when the transport is not CONNECTED; the caller decides whether the data
// was worth keeping.
func (t *Multicast) Send(data []byte) bool {
	t.mu.Lock()
	if t.state != StateConnected || t.conn == nil {
		t.mu.Unlock()
		return false
	}
	conn, dest := t.conn, t.dest
	t.mu.Unlock()

	if _, err := conn.WriteTo(data, dest); err != nil {
		t.log.WithError(err).Warn("Multicast send failed")
		t.handleSocketError(conn)
		return false
	}
	return true
}

// SetPort changes the multicast port. A change while connected forces a full
// reconnect on the new port.
func (t *Multicast) SetPort(port int) {
	t.mu.Lock()
	if port == t.port {
		t.mu.Unlock()
		return
	}
	t.log.WithFields(logrus.Fields{"old": t.port, "new": port}).Info("Multicast port changed")
	t.port = port
	enabled := t.enabled
	t.cancelReconnectLocked()
	t.closeConnLocked()
	changed := t.transitionLocked(StateDisconnected)
	t.mu.Unlock()
	if changed {
		t.notify(StateDisconnected)
	}
	if enabled {
		t.attempt()
	}
}

// attempt makes one join attempt and schedules a reconnect on failure. At
// most one reconnect timer is ever pending.
func (t *Multicast) attempt() {
	t.mu.Lock()
	if !t.enabled {
		t.mu.Unlock()
		return
	}
	if t.transitionLocked(StateConnecting) {
		t.mu.Unlock()
		t.notify(StateConnecting)
		t.mu.Lock()
		if !t.enabled {
			t.mu.Unlock()
			return
		}
	}

	conn, dest, err := t.join(t.group, t.port)
	if err != nil {
		t.log.WithError(err).WithField("port", t.port).Warn("Multicast join failed")
		t.transitionLocked(StateDisconnected)
		t.scheduleReconnectLocked()
		t.mu.Unlock()
		t.notify(StateDisconnected)
		return
	}

	t.conn = conn
	t.dest = dest
	t.readGen++
	gen := t.readGen
	t.transitionLocked(StateConnected)
	t.mu.Unlock()

	t.log.WithField("port", t.port).Info("Joined multicast group")
	t.notify(StateConnected)
	go t.readLoop(conn, gen)
}

// readLoop receives datagrams until the socket errors or is superseded.
func (t *Multicast) readLoop(conn net.PacketConn, gen int) {
	buf := make([]byte, readBufferBytes)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			t.mu.Lock()
			stale := gen != t.readGen
			t.mu.Unlock()
			if !stale {
				t.handleSocketError(conn)
			}
			return
		}

		t.cbMu.Lock()
		handler := t.onMessage
		t.cbMu.Unlock()
		if handler != nil {
			data := make([]byte, n)
			copy(data, buf[:n])
			handler(data)
		}
	}
}

// handleSocketError transitions to DISCONNECTED and schedules one reconnect
// while still enabled.
func (t *Multicast) handleSocketError(failed net.PacketConn) {
	t.mu.Lock()
	if t.conn != failed {
		// A newer connection already replaced the failed one.
		t.mu.Unlock()
		return
	}
	t.closeConnLocked()
	changed := t.transitionLocked(StateDisconnected)
	if t.enabled {
		t.scheduleReconnectLocked()
	}
	t.mu.Unlock()
	if changed {
		t.notify(StateDisconnected)
	}
}

func (t *Multicast) scheduleReconnectLocked() {
	if t.reconnectTimer != nil {
		// Already one in flight; never stack reconnects.
		return
	}
	delay := t.backoff.NextBackOff()
	t.reconnectTimer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		t.reconnectTimer = nil
		enabled := t.enabled
		t.mu.Unlock()
		if enabled {
			t.attempt()
		}
	})
}

func (t *Multicast) cancelReconnectLocked() {
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
}

func (t *Multicast) closeConnLocked() {
	if t.conn != nil {
		t.readGen++ // invalidate the running read loop
		t.conn.Close()
		t.conn = nil
		t.dest = nil
	}
}

// transitionLocked updates the state and reports whether it changed.
func (t *Multicast) transitionLocked(s State) bool {
	if t.state == s {
		return false
	}
	t.state = s
	return true
}

// notify fires the registered state callbacks outside the state lock.
func (t *Multicast) notify(s State) {
	t.cbMu.Lock()
	callbacks := make([]func(State), len(t.stateCallbacks))
	copy(callbacks, t.stateCallbacks)
	t.cbMu.Unlock()
	for _, cb := range callbacks {
		cb(s)
	}
}

// joinMulticast opens the real multicast listener, preferring the loopback
// interface. Peer traffic never needs to leave the machine, but some loopback
// interfaces refuse multicast joins, so the default interface is the
// fallback.
func joinMulticast(group string, port int) (net.PacketConn, *net.UDPAddr, error) {
	addr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", group, port))
	if err != nil {
		return nil, nil, err
	}

	if lo := loopbackInterface(); lo != nil {
		if conn, err := net.ListenMulticastUDP("udp4", lo, addr); err == nil {
			return conn, addr, nil
		}
	}

	conn, err := net.ListenMulticastUDP("udp4", nil, addr)
	if err != nil {
		return nil, nil, err
	}
	return conn, addr, nil
}

func loopbackInterface() *net.Interface {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	for i := range ifaces {
		if ifaces[i].Flags&net.FlagLoopback != 0 && ifaces[i].Flags&net.FlagUp != 0 {
			return &ifaces[i]
		}
	}
	return nil
}
