package protocol

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets dedup tests advance time without sleeping.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1700000000000)}
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestDedup(clock *fakeClock, opts DeduplicatorOptions) *Deduplicator {
	opts.Now = clock.Now
	return NewDeduplicator("local-peer", opts, testLogger())
}

func envFrom(sender, id string, clock *fakeClock) *Envelope {
	return &Envelope{
		MessageID: id,
		SenderID:  sender,
		Timestamp: clock.Now().UnixMilli(),
		Payload: EditorState{
			Action:    ActionNavigate,
			FilePath:  "/src/main.go",
			IsActive:  true,
			Timestamp: clock.Now().UnixMilli(),
		},
	}
}

func TestRejectsSelfEcho(t *testing.T) {
	clock := newFakeClock()
	d := newTestDedup(clock, DeduplicatorOptions{})

	env := envFrom("local-peer", "local-peer-1-1", clock)
	assert.False(t, d.Accept(env))
}

func TestRejectsDuplicateID(t *testing.T) {
	clock := newFakeClock()
	d := newTestDedup(clock, DeduplicatorOptions{})

	first := envFrom("peer-b", "peer-b-1-1", clock)
	require.True(t, d.Accept(first))

	// Same id, different payload: still a duplicate.
	second := envFrom("peer-b", "peer-b-1-1", clock)
	second.Payload.FilePath = "/src/other.go"
	assert.False(t, d.Accept(second))
}

func TestRejectsInactiveSender(t *testing.T) {
	clock := newFakeClock()
	d := newTestDedup(clock, DeduplicatorOptions{})

	env := envFrom("peer-b", "peer-b-1-2", clock)
	env.Payload.IsActive = false
	assert.False(t, d.Accept(env))
}

func TestRejectsStaleMessage(t *testing.T) {
	clock := newFakeClock()
	d := newTestDedup(clock, DeduplicatorOptions{})

	env := envFrom("peer-b", "peer-b-1-3", clock)
	clock.Advance(6 * time.Second)
	assert.False(t, d.Accept(env), "a message timestamped 6s before receipt must be rejected")
}

func TestAcceptsFreshMessage(t *testing.T) {
	clock := newFakeClock()
	d := newTestDedup(clock, DeduplicatorOptions{})

	env := envFrom("peer-b", "peer-b-1-4", clock)
	clock.Advance(2 * time.Second)
	assert.True(t, d.Accept(env))
}

func TestCapacityPurgesExpiredEntries(t *testing.T) {
	clock := newFakeClock()
	d := newTestDedup(clock, DeduplicatorOptions{Capacity: 10, TTL: time.Minute})

	for i := 0; i < 10; i++ {
		env := envFrom("peer-b", fmt.Sprintf("peer-b-old-%d", i), clock)
		require.True(t, d.Accept(env))
	}
	require.Equal(t, 10, d.Size())

	// Entries age past the TTL; the next insert at capacity purges them.
	clock.Advance(2 * time.Minute)
	env := envFrom("peer-b", "peer-b-new-1", clock)
	require.True(t, d.Accept(env))

	assert.Equal(t, 1, d.Size(), "expired entries must be purged when capacity is hit")
}

func TestCapacityEvictsOldestWhenNothingExpired(t *testing.T) {
	clock := newFakeClock()
	d := newTestDedup(clock, DeduplicatorOptions{Capacity: 5, TTL: time.Hour})

	for i := 0; i < 5; i++ {
		env := envFrom("peer-b", fmt.Sprintf("peer-b-m-%d", i), clock)
		require.True(t, d.Accept(env))
		clock.Advance(time.Millisecond)
	}

	env := envFrom("peer-b", "peer-b-m-5", clock)
	require.True(t, d.Accept(env))

	// The cache never grows past capacity.
	assert.LessOrEqual(t, d.Size(), 5)
}
