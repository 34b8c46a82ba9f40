package protocol

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/grovetools/cosync/errors"
	"github.com/sirupsen/logrus"
)

// MaxEnvelopeBytes is the wire ceiling for one serialized envelope. UDP
// payloads above this risk fragmentation, so oversized envelopes are rejected
// before send rather than trusted to the network.
const MaxEnvelopeBytes = 8 * 1024

// Envelope wraps an EditorState payload with the identity and dedup metadata
// peers need to reject echoes and re-deliveries. An envelope is never retried;
// it is logically destroyed once its id ages out of every receiver's dedup
// cache.
type Envelope struct {
	MessageID string      `json:"messageId"`
	SenderID  string      `json:"senderId"`
	Timestamp int64       `json:"timestamp"` // milliseconds since epoch
	Payload   EditorState `json:"payload"`
}

// Codec stamps outgoing envelopes and defensively parses incoming ones.
type Codec struct {
	localID string
	seq     atomic.Int64
	now     func() time.Time
	log     *logrus.Entry
}

// NewCodec creates a codec stamping envelopes for localID.
func NewCodec(localID string, log *logrus.Entry) *Codec {
	return &Codec{
		localID: localID,
		now:     time.Now,
		log:     log,
	}
}

// Wrap builds an envelope around state. The message id combines the local
// peer id, a monotonic per-process sequence, and the send time in millis,
// which makes it unique for the sender's lifetime without any coordination.
func (c *Codec) Wrap(state EditorState) *Envelope {
	now := c.now()
	return &Envelope{
		MessageID: fmt.Sprintf("%s-%d-%d", c.localID, c.seq.Add(1), now.UnixMilli()),
		SenderID:  c.localID,
		Timestamp: now.UnixMilli(),
		Payload:   state,
	}
}

// Encode serializes an envelope for the wire, rejecting it when the result
// exceeds MaxEnvelopeBytes.
func (c *Codec) Encode(env *Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal envelope")
	}
	if len(data) > MaxEnvelopeBytes {
		return nil, errors.EnvelopeTooLarge(len(data), MaxEnvelopeBytes)
	}
	return data, nil
}

// Unwrap parses bytes received from the wire. Malformed input yields nil
// (logged, dropped); nothing a peer sends can make this panic or surface an
// error past this boundary.
func (c *Codec) Unwrap(data []byte) *Envelope {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.WithError(err).Debug("Dropping malformed envelope")
		return nil
	}
	if env.MessageID == "" || env.SenderID == "" {
		c.log.Debug("Dropping envelope without identity fields")
		return nil
	}
	if !env.Payload.Action.Valid() {
		c.log.WithField("action", env.Payload.Action).Debug("Dropping envelope with unknown action")
		return nil
	}
	return &env
}
