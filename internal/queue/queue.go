// Package queue buffers outbound editor states between the aggregator and the
// transport so editor callbacks never block on the network.
package queue

import (
	"sync"
	"time"

	"github.com/grovetools/cosync/internal/protocol"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultCapacity bounds the queue. Superseded cursor positions have no
	// value, so overflow evicts the oldest entry.
	DefaultCapacity = 100

	// DefaultSendInterval paces consecutive sends.
	DefaultSendInterval = 50 * time.Millisecond

	// DefaultIdlePoll is how often the consumer re-checks an empty queue.
	DefaultIdlePoll = 100 * time.Millisecond
)

// SendFunc delivers one state to the wire. A false return means the state was
// not sent; queued state is ephemeral, so the item is dropped either way.
type SendFunc func(state protocol.EditorState) bool

// Options tune the outbound queue. Zero values pick up the defaults.
type Options struct {
	Capacity     int
	SendInterval time.Duration
	IdlePoll     time.Duration
}

// Outbound is a bounded drop-oldest FIFO drained by a single consumer
// goroutine on its own schedule, never on the producer's call stack.
type Outbound struct {
	mu      sync.Mutex
	items   []protocol.EditorState
	dropped int64

	opts Options
	send SendFunc
	log  *logrus.Entry

	stop     chan struct{}
	done     chan struct{}
	disposed sync.Once
}

// New creates a queue draining into send. Call Start to begin dispatch.
func New(opts Options, send SendFunc, log *logrus.Entry) *Outbound {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.SendInterval <= 0 {
		opts.SendInterval = DefaultSendInterval
	}
	if opts.IdlePoll <= 0 {
		opts.IdlePoll = DefaultIdlePoll
	}
	return &Outbound{
		opts: opts,
		send: send,
		log:  log,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Enqueue appends a state. On overflow the oldest entry is evicted: newest
// wins. O(1) amortized and safe from any goroutine.
func (q *Outbound) Enqueue(state protocol.EditorState) {
	q.mu.Lock()
	if len(q.items) >= q.opts.Capacity {
		q.items = q.items[1:]
		q.dropped++
		if q.dropped%10 == 1 {
			q.log.WithField("dropped", q.dropped).Warn("Outbound queue overflow, evicting oldest")
		}
	}
	q.items = append(q.items, state)
	q.mu.Unlock()
}

// Start launches the consumer loop.
func (q *Outbound) Start() {
	go q.drain()
}

// Dispose halts the consumer and discards all pending entries without
// flushing.
func (q *Outbound) Dispose() {
	q.disposed.Do(func() {
		close(q.stop)
		<-q.done
		q.mu.Lock()
		q.items = nil
		q.mu.Unlock()
	})
}

// Len returns the number of pending entries.
func (q *Outbound) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns the total number of evicted entries.
func (q *Outbound) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *Outbound) drain() {
	defer close(q.done)
	for {
		select {
		case <-q.stop:
			return
		default:
		}

		state, ok := q.dequeue()
		if !ok {
			if !q.sleep(q.opts.IdlePoll) {
				return
			}
			continue
		}

		q.send(state)
		if !q.sleep(q.opts.SendInterval) {
			return
		}
	}
}

func (q *Outbound) dequeue() (protocol.EditorState, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return protocol.EditorState{}, false
	}
	state := q.items[0]
	q.items = q.items[1:]
	return state, true
}

// sleep waits for d unless disposed first; false means stop.
func (q *Outbound) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-q.stop:
		return false
	case <-timer.C:
		return true
	}
}
