package network

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/liqi/internal/events"
	"github.com/energizer-project/liqi/internal/protocol"
	"github.com/energizer-project/liqi/internal/schema"
	"github.com/energizer-project/liqi/internal/util"
)

// Decoder runs one liqi stream through its own Parser and reports the
// results on the event bus. The bus may be nil.
type Decoder struct {
	name string
	bus  *events.EventBus

	mu     sync.Mutex
	parser *protocol.Parser

	decoded atomic.Uint64
	failed  atomic.Uint64
	logger  zerolog.Logger
}

// NewDecoder creates a Decoder named after the stream it reads.
func NewDecoder(name string, resolver *schema.Resolver, bus *events.EventBus) *Decoder {
	return &Decoder{
		name:   name,
		bus:    bus,
		parser: protocol.NewParser(resolver),
		logger: util.ComponentLogger("decoder").With().Str("session", name).Logger(),
	}
}

// Name returns the stream name used in events.
func (d *Decoder) Name() string {
	return d.name
}

// Decode parses one frame and emits message_decoded or decode_failed.
func (d *Decoder) Decode(ctx context.Context, frame []byte) (*protocol.Message, error) {
	at := time.Now()

	d.mu.Lock()
	msg, err := d.parser.Parse(frame)
	d.mu.Unlock()

	if err != nil {
		d.failed.Add(1)
		d.logger.Warn().Err(err).Int("frame_len", len(frame)).Msg("frame rejected")
		d.emit(ctx, events.EventDecodeFailed, events.DecodeFailedPayload{
			Session:    d.name,
			Frame:      frame,
			Err:        err,
			ReceivedAt: at,
		})
		return nil, err
	}

	d.decoded.Add(1)
	d.emit(ctx, events.EventMessageDecoded, events.MessageDecodedPayload{
		Session:    d.name,
		Message:    *msg,
		FrameSize:  len(frame),
		ReceivedAt: at,
	})
	return msg, nil
}

// EvictPending drops requests older than maxAge.
func (d *Decoder) EvictPending(maxAge time.Duration) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.parser.EvictPending(maxAge)
	if n > 0 {
		d.logger.Debug().Int("evicted", n).Msg("dropped unanswered requests")
	}
	return n
}

// Decoded returns the number of frames decoded.
func (d *Decoder) Decoded() uint64 {
	return d.decoded.Load()
}

// Failed returns the number of frames rejected.
func (d *Decoder) Failed() uint64 {
	return d.failed.Load()
}

// Pending returns the number of requests awaiting a response.
func (d *Decoder) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.parser.Pending()
}

func (d *Decoder) emit(ctx context.Context, t events.EventType, payload interface{}) {
	if d.bus == nil {
		return
	}
	d.bus.Emit(ctx, events.Event{Type: t, Source: d.name, Payload: payload})
}
