package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// DefaultQueueSize is the per-subscriber buffer used by NewEventBus.
const DefaultQueueSize = 1024

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// EventBus is an asynchronous publish-subscribe hub. Every subscriber owns a
// queue drained by a single goroutine, so a subscriber sees events in the
// order they were emitted. When a queue is full the event is dropped for
// that subscriber only.
type EventBus struct {
	mu        sync.RWMutex
	handlers  map[EventType][]*subscriber
	queueSize int
	stopCh    chan struct{}
	stopped   bool
	wg        sync.WaitGroup
	dropped   atomic.Uint64
}

type subscriber struct {
	name    string
	handler HandlerFunc
	queue   chan queued
}

type queued struct {
	ctx   context.Context
	event Event
}

// NewEventBus creates a new EventBus instance.
func NewEventBus() *EventBus {
	return NewEventBusSize(DefaultQueueSize)
}

// NewEventBusSize creates an EventBus whose subscribers buffer up to size
// events each.
func NewEventBusSize(size int) *EventBus {
	if size < 1 {
		size = 1
	}
	return &EventBus{
		handlers:  make(map[EventType][]*subscriber),
		queueSize: size,
		stopCh:    make(chan struct{}),
	}
}

// Subscribe registers a handler for an event type. The name shows up in
// logs and is the key for Unsubscribe.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.stopped {
		return
	}

	sub := &subscriber{
		name:    name,
		handler: handler,
		queue:   make(chan queued, eb.queueSize),
	}
	eb.handlers[eventType] = append(eb.handlers[eventType], sub)

	eb.wg.Add(1)
	go eb.drain(sub)

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// Unsubscribe removes a named handler from an event type. Events already
// queued for it are still delivered.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.handlers[eventType]
	kept := subs[:0]
	for _, s := range subs {
		if s.name == name {
			close(s.queue)
			continue
		}
		kept = append(kept, s)
	}
	eb.handlers[eventType] = kept
}

// Emit queues an event for every subscriber of its type without blocking.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.stopped {
		return
	}

	for _, s := range eb.handlers[event.Type] {
		select {
		case s.queue <- queued{ctx: ctx, event: event}:
		default:
			eb.dropped.Add(1)
			log.Warn().
				Str("event", string(event.Type)).
				Str("handler", s.name).
				Msg("subscriber queue full, event dropped")
		}
	}
}

// EmitSync runs every handler of the event's type on the calling goroutine
// and returns the first error. It bypasses the queues.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	eb.mu.RLock()
	if eb.stopped {
		eb.mu.RUnlock()
		return nil
	}
	subs := append([]*subscriber(nil), eb.handlers[event.Type]...)
	eb.mu.RUnlock()

	var firstErr error
	for _, s := range subs {
		if err := eb.invoke(ctx, event, s); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stop stops accepting events, lets every subscriber drain its queue and
// waits for them.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.stopped = true
	close(eb.stopCh)
	for _, subs := range eb.handlers {
		for _, s := range subs {
			close(s.queue)
		}
	}
	eb.handlers = make(map[EventType][]*subscriber)
	eb.mu.Unlock()

	eb.wg.Wait()
	log.Debug().Uint64("dropped", eb.dropped.Load()).Msg("event bus stopped")
}

// StopCh returns a channel that is closed when the EventBus is stopped.
func (eb *EventBus) StopCh() <-chan struct{} {
	return eb.stopCh
}

// HandlerCount returns the number of handlers registered for an event type.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType])
}

// Dropped returns how many deliveries were skipped because a queue was full.
func (eb *EventBus) Dropped() uint64 {
	return eb.dropped.Load()
}

// drain delivers queued events. Handlers keep the emitter's context values
// but not its cancellation, so Stop can flush queues after the emitters are
// gone.
func (eb *EventBus) drain(s *subscriber) {
	defer eb.wg.Done()
	for q := range s.queue {
		ctx := q.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		eb.invoke(context.WithoutCancel(ctx), q.event, s)
	}
}

func (eb *EventBus) invoke(ctx context.Context, event Event, s *subscriber) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(event.Type)).
				Str("handler", s.name).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()

	if err = s.handler(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("event", string(event.Type)).
			Str("handler", s.name).
			Msg("handler returned error")
	}
	return err
}
