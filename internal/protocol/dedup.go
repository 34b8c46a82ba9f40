package protocol

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Dedup defaults. Purely time/identity-based rejection is the only safe
// scheme here: UDP multicast gives neither ordering nor delivery guarantees,
// so per-sender sequence counters could reject live messages after a single
// reorder.
const (
	DefaultDedupCapacity  = 1000
	DefaultDedupTTL       = 5 * time.Minute
	DefaultSweepInterval  = time.Minute
	DefaultMessageTimeout = 5 * time.Second
)

// DeduplicatorOptions tune the receive-side validator. Zero values pick up
// the defaults above.
type DeduplicatorOptions struct {
	Capacity       int
	TTL            time.Duration
	SweepInterval  time.Duration
	MessageTimeout time.Duration
	Now            func() time.Time
}

// Deduplicator rejects self-echoes, re-delivered message ids, payloads from
// backgrounded senders, and stale messages. Accepted ids are recorded with
// their arrival time and pruned by age and by capacity.
type Deduplicator struct {
	mu      sync.Mutex
	localID string
	seen    map[string]time.Time
	opts    DeduplicatorOptions
	log     *logrus.Entry

	stop    chan struct{}
	stopped sync.Once
}

// NewDeduplicator creates a deduplicator for the given local peer id.
func NewDeduplicator(localID string, opts DeduplicatorOptions, log *logrus.Entry) *Deduplicator {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultDedupCapacity
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultDedupTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.MessageTimeout <= 0 {
		opts.MessageTimeout = DefaultMessageTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Deduplicator{
		localID: localID,
		seen:    make(map[string]time.Time),
		opts:    opts,
		log:     log,
		stop:    make(chan struct{}),
	}
}

// Start launches the periodic sweep. The sweep checks the stop channel before
// acting because Close is not instantaneous for an in-flight tick.
func (d *Deduplicator) Start() {
	go func() {
		ticker := time.NewTicker(d.opts.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-d.stop:
				return
			case <-ticker.C:
				select {
				case <-d.stop:
					return
				default:
				}
				d.mu.Lock()
				removed := d.purgeExpiredLocked(d.opts.Now())
				d.mu.Unlock()
				if removed > 0 {
					d.log.WithField("removed", removed).Debug("Dedup cache sweep")
				}
			}
		}
	}()
}

// Close halts the sweep. The cache itself needs no teardown.
func (d *Deduplicator) Close() {
	d.stopped.Do(func() { close(d.stop) })
}

// Accept reports whether env should be applied locally. A rejected envelope
// is dropped by design, not an error.
func (d *Deduplicator) Accept(env *Envelope) bool {
	if env.SenderID == d.localID {
		// Self-echo: multicast loops our own sends back to us.
		return false
	}
	if !env.Payload.IsActive {
		// Only a focused peer's state is authoritative; a backgrounded peer
		// must not overwrite fresher state.
		return false
	}

	now := d.opts.Now()
	if env.Payload.Age(now) > d.opts.MessageTimeout {
		d.log.WithField("messageId", env.MessageID).Debug("Dropping stale message")
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, dup := d.seen[env.MessageID]; dup {
		return false
	}

	if len(d.seen) >= d.opts.Capacity {
		// Capacity hit before the next sweep: purge immediately, and if the
		// cache is still full evict the oldest entries outright.
		d.purgeExpiredLocked(now)
		for len(d.seen) >= d.opts.Capacity {
			d.evictOldestLocked()
		}
	}

	d.seen[env.MessageID] = now
	return true
}

// Size returns the current number of recorded ids.
func (d *Deduplicator) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func (d *Deduplicator) purgeExpiredLocked(now time.Time) int {
	removed := 0
	for id, firstSeen := range d.seen {
		if now.Sub(firstSeen) > d.opts.TTL {
			delete(d.seen, id)
			removed++
		}
	}
	return removed
}

func (d *Deduplicator) evictOldestLocked() {
	var oldestID string
	var oldestAt time.Time
	for id, at := range d.seen {
		if oldestID == "" || at.Before(oldestAt) {
			oldestID = id
			oldestAt = at
		}
	}
	if oldestID != "" {
		delete(d.seen, oldestID)
	}
}
