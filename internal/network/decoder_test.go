package network

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/energizer-project/liqi/internal/events"
	"github.com/energizer-project/liqi/internal/protocol"
	"github.com/energizer-project/liqi/internal/schema/schematest"
)

// recorder collects bus events for assertions.
type recorder struct {
	mu       sync.Mutex
	decoded  []events.MessageDecodedPayload
	failed   []events.DecodeFailedPayload
	sessions []events.EventType
}

func newRecorder(bus *events.EventBus) *recorder {
	r := &recorder{}
	bus.Subscribe(events.EventMessageDecoded, "test", func(_ context.Context, e events.Event) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.decoded = append(r.decoded, e.Payload.(events.MessageDecodedPayload))
		return nil
	})
	bus.Subscribe(events.EventDecodeFailed, "test", func(_ context.Context, e events.Event) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.failed = append(r.failed, e.Payload.(events.DecodeFailedPayload))
		return nil
	})
	lifecycle := func(_ context.Context, e events.Event) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.sessions = append(r.sessions, e.Type)
		return nil
	}
	bus.Subscribe(events.EventSessionOpened, "test", lifecycle)
	bus.Subscribe(events.EventSessionClosed, "test", lifecycle)
	return r
}

func TestDecoderEmitsEvents(t *testing.T) {
	resolver := schematest.NewResolver(t)
	bus := events.NewEventBus()
	rec := newRecorder(bus)
	dec := NewDecoder("replay", resolver, bus)
	ctx := context.Background()

	req := schematest.Marshal(t, resolver, "ReqHeatBeat", map[string]any{"no_operation_counter": uint32(3)})
	if _, err := dec.Decode(ctx, protocol.RequestFrame(9, ".lq.Lobby.heatbeat", req)); err != nil {
		t.Fatalf("Decode request failed: %v", err)
	}
	if dec.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", dec.Pending())
	}
	if _, err := dec.Decode(ctx, []byte{0x07}); err == nil {
		t.Fatal("expected error for invalid message type")
	}
	msg, err := dec.Decode(ctx, protocol.ResponseFrame(9, nil))
	if err != nil {
		t.Fatalf("Decode response failed: %v", err)
	}
	if msg.Method != ".lq.Lobby.heatbeat" {
		t.Errorf("response method = %s", msg.Method)
	}
	bus.Stop()

	if dec.Decoded() != 2 || dec.Failed() != 1 {
		t.Errorf("counters = %d decoded / %d failed, want 2 / 1", dec.Decoded(), dec.Failed())
	}
	if len(rec.decoded) != 2 || len(rec.failed) != 1 {
		t.Fatalf("events = %d decoded / %d failed, want 2 / 1", len(rec.decoded), len(rec.failed))
	}
	if rec.decoded[0].Session != "replay" || rec.decoded[1].Message.Type != protocol.MsgResponse {
		t.Errorf("unexpected decoded events: %+v", rec.decoded)
	}
	var fe *protocol.FormatError
	if !errors.As(rec.failed[0].Err, &fe) {
		t.Errorf("failure should carry a FormatError, got %v", rec.failed[0].Err)
	}
}

func TestDecoderWithoutBus(t *testing.T) {
	dec := NewDecoder("quiet", schematest.NewResolver(t), nil)
	if _, err := dec.Decode(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty frame")
	}
	if dec.Failed() != 1 {
		t.Errorf("Failed = %d, want 1", dec.Failed())
	}
}

func TestZeroLengthRelayFrameIsDecodeFailure(t *testing.T) {
	var buf bytes.Buffer
	WriteFrame(&buf, nil)
	WriteFrame(&buf, []byte{0x09})

	frame, err := ReadFrame(&buf, 1024)
	if err != nil {
		t.Fatalf("zero-length frame should keep the stream readable, got %v", err)
	}
	if len(frame) != 0 {
		t.Fatalf("frame = %x, want empty", frame)
	}

	dec := NewDecoder("relay", schematest.NewResolver(t), nil)
	if _, err := dec.Decode(context.Background(), frame); !errors.Is(err, protocol.ErrEmptyFrame) {
		t.Errorf("Decode(empty) = %v, want ErrEmptyFrame", err)
	}

	next, err := ReadFrame(&buf, 1024)
	if err != nil || !bytes.Equal(next, []byte{0x09}) {
		t.Errorf("next frame = %x, %v", next, err)
	}
}
