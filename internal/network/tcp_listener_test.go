package network

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/energizer-project/liqi/internal/events"
	"github.com/energizer-project/liqi/internal/protocol"
	"github.com/energizer-project/liqi/internal/schema/schematest"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestListenerDecodesPerConnection(t *testing.T) {
	resolver := schematest.NewResolver(t)
	bus := events.NewEventBus()
	rec := newRecorder(bus)

	ln := NewListener("127.0.0.1:0", resolver, bus, SessionOptions{
		ReadTimeout:  5 * time.Second,
		MaxFrameSize: 1 << 16,
	})
	ctx, cancel := context.WithCancel(context.Background())
	if err := ln.Listen(ctx); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- ln.Serve(ctx) }()

	req := schematest.Marshal(t, resolver, "ReqLogin", map[string]any{"account": "alice"})

	// The request goes over one connection and the response over another:
	// the second connection has its own pending table and must reject it.
	first, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer first.Close()
	second, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer second.Close()

	WriteFrame(first, protocol.RequestFrame(5, ".lq.Lobby.login", req))
	waitFor(t, "request decode", func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.decoded) == 1
	})

	WriteFrame(second, protocol.ResponseFrame(5, nil))
	waitFor(t, "response rejection", func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.failed) == 1
	})

	WriteFrame(first, protocol.ResponseFrame(5, nil))
	waitFor(t, "response decode", func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.decoded) == 2
	})

	if n := ln.Registry().Count(); n != 2 {
		t.Errorf("registry has %d sessions, want 2", n)
	}
	infos := ln.Registry().Snapshot()
	var decoded uint64
	for _, info := range infos {
		decoded += info.Decoded
	}
	if decoded != 2 {
		t.Errorf("sessions decoded %d frames in total, want 2", decoded)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop after cancel")
	}
	bus.Stop()

	if ln.Registry().Count() != 0 {
		t.Errorf("registry should be empty after shutdown")
	}
	opened, closed := 0, 0
	for _, e := range rec.sessions {
		switch e {
		case events.EventSessionOpened:
			opened++
		case events.EventSessionClosed:
			closed++
		}
	}
	if opened != 2 || closed != 2 {
		t.Errorf("lifecycle events: %d opened / %d closed, want 2 / 2", opened, closed)
	}
}

func TestListenerSessionEndsOnPeerClose(t *testing.T) {
	resolver := schematest.NewResolver(t)
	ln := NewListener("127.0.0.1:0", resolver, nil, SessionOptions{MaxFrameSize: 1024})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := ln.Listen(ctx); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	go ln.Serve(ctx)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	waitFor(t, "session registration", func() bool { return ln.Registry().Count() == 1 })

	conn.Close()
	waitFor(t, "session cleanup", func() bool { return ln.Registry().Count() == 0 })
}
