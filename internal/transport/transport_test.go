package transport

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger.WithField("component", "test")
}

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

// fakeConn is an in-memory net.PacketConn. Reads block on the inbound channel
// until it is fed or the conn is closed.
type fakeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu   sync.Mutex
	sent [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadFrom(b []byte) (int, net.Addr, error) {
	select {
	case data := <-c.in:
		n := copy(b, data)
		return n, &net.UDPAddr{}, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteTo(b []byte, _ net.Addr) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	data := make([]byte, len(b))
	copy(data, b)
	c.sent = append(c.sent, data)
	return len(b), nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *fakeConn) LocalAddr() net.Addr              { return &net.UDPAddr{} }
func (c *fakeConn) SetDeadline(time.Time) error      { return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

// fakeJoiner swaps the real multicast join for scripted outcomes.
type fakeJoiner struct {
	mu       sync.Mutex
	failures int
	attempts int
	ports    []int
	conns    []*fakeConn
}

func (j *fakeJoiner) join(_ string, port int) (net.PacketConn, *net.UDPAddr, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.attempts++
	j.ports = append(j.ports, port)
	if j.failures > 0 {
		j.failures--
		return nil, nil, errors.New("join refused")
	}
	conn := newFakeConn()
	j.conns = append(j.conns, conn)
	return conn, &net.UDPAddr{IP: net.IPv4(239, 255, 70, 77), Port: port}, nil
}

func (j *fakeJoiner) attemptCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.attempts
}

func (j *fakeJoiner) latestConn() *fakeConn {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.conns) == 0 {
		return nil
	}
	return j.conns[len(j.conns)-1]
}

func newTestTransport(joiner *fakeJoiner) *Multicast {
	tr := New(Options{Port: 3000, ReconnectDelay: 10 * time.Millisecond}, testLogger())
	tr.join = joiner.join
	return tr
}

func TestSendFailsFastWhenDisconnected(t *testing.T) {
	tr := newTestTransport(&fakeJoiner{})
	assert.Equal(t, StateDisconnected, tr.State())
	assert.False(t, tr.Send([]byte("hello")))
}

func TestEnableConnectsAndSends(t *testing.T) {
	joiner := &fakeJoiner{}
	tr := newTestTransport(joiner)
	defer tr.Disable()

	tr.Enable()
	waitFor(t, time.Second, func() bool { return tr.State() == StateConnected }, "connect")

	require.True(t, tr.Send([]byte("hello")))
	conn := joiner.latestConn()
	require.NotNil(t, conn)
	assert.Equal(t, 1, conn.sentCount())
}

func TestJoinFailureSchedulesReconnect(t *testing.T) {
	joiner := &fakeJoiner{failures: 2}
	tr := newTestTransport(joiner)
	defer tr.Disable()

	tr.Enable()

	// Two refused joins, then the third succeeds via the reconnect timer.
	waitFor(t, time.Second, func() bool { return tr.State() == StateConnected }, "reconnect")
	assert.Equal(t, 3, joiner.attemptCount())
}

func TestReadErrorTriggersReconnect(t *testing.T) {
	joiner := &fakeJoiner{}
	tr := newTestTransport(joiner)
	defer tr.Disable()

	var mu sync.Mutex
	var transitions []State
	tr.OnStateChange(func(s State) {
		mu.Lock()
		transitions = append(transitions, s)
		mu.Unlock()
	})

	tr.Enable()
	waitFor(t, time.Second, func() bool { return tr.State() == StateConnected }, "initial connect")

	joiner.latestConn().Close()
	waitFor(t, time.Second, func() bool { return joiner.attemptCount() >= 2 && tr.State() == StateConnected }, "reconnect after socket error")

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, transitions, StateDisconnected)
}

func TestDisableCancelsReconnect(t *testing.T) {
	joiner := &fakeJoiner{failures: 100}
	tr := newTestTransport(joiner)

	tr.Enable()
	waitFor(t, time.Second, func() bool { return joiner.attemptCount() >= 1 }, "first attempt")
	tr.Disable()

	attempts := joiner.attemptCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, attempts, joiner.attemptCount(), "no attempts after Disable")
	assert.Equal(t, StateDisconnected, tr.State())
}

func TestOnMessageDeliversDatagrams(t *testing.T) {
	joiner := &fakeJoiner{}
	tr := newTestTransport(joiner)
	defer tr.Disable()

	var mu sync.Mutex
	var got [][]byte
	tr.OnMessage(func(data []byte) {
		mu.Lock()
		got = append(got, data)
		mu.Unlock()
	})

	tr.Enable()
	waitFor(t, time.Second, func() bool { return tr.State() == StateConnected }, "connect")

	joiner.latestConn().in <- []byte(`{"messageId":"m"}`)
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, "datagram delivery")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []byte(`{"messageId":"m"}`), got[0])
}

func TestSetPortForcesReconnect(t *testing.T) {
	joiner := &fakeJoiner{}
	tr := newTestTransport(joiner)
	defer tr.Disable()

	tr.Enable()
	waitFor(t, time.Second, func() bool { return tr.State() == StateConnected }, "connect")

	tr.SetPort(4000)
	waitFor(t, time.Second, func() bool { return tr.State() == StateConnected }, "reconnect on new port")

	joiner.mu.Lock()
	defer joiner.mu.Unlock()
	require.Len(t, joiner.ports, 2)
	assert.Equal(t, 3000, joiner.ports[0])
	assert.Equal(t, 4000, joiner.ports[1])
}

func TestSetPortNoopWhenUnchanged(t *testing.T) {
	joiner := &fakeJoiner{}
	tr := newTestTransport(joiner)
	defer tr.Disable()

	tr.Enable()
	waitFor(t, time.Second, func() bool { return tr.State() == StateConnected }, "connect")

	tr.SetPort(3000)
	assert.Equal(t, StateConnected, tr.State())
	assert.Equal(t, 1, joiner.attemptCount())
}
