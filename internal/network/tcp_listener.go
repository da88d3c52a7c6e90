package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/liqi/internal/events"
	"github.com/energizer-project/liqi/internal/schema"
)

// Listener accepts relay connections. Each connection gets its own Session
// and therefore its own Parser; the resolver is shared.
type Listener struct {
	addr     string
	opts     SessionOptions
	resolver *schema.Resolver
	eventBus *events.EventBus
	registry *SessionRegistry

	listener net.Listener
	nextID   atomic.Uint64
	wg       sync.WaitGroup
}

// NewListener creates a listener for addr. Nothing is bound until Listen.
func NewListener(addr string, resolver *schema.Resolver, bus *events.EventBus, opts SessionOptions) *Listener {
	return &Listener{
		addr:     addr,
		opts:     opts,
		resolver: resolver,
		eventBus: bus,
		registry: NewSessionRegistry(),
	}
}

// Registry returns the live session registry.
func (l *Listener) Registry() *SessionRegistry {
	return l.registry
}

// Addr returns the bound address, or nil before Listen.
func (l *Listener) Addr() net.Addr {
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// Listen binds the socket.
func (l *Listener) Listen(ctx context.Context) error {
	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", l.addr)
	if err != nil {
		return fmt.Errorf("failed to start relay listener on %s: %w", l.addr, err)
	}
	l.listener = ln
	log.Info().Str("addr", ln.Addr().String()).Msg("relay listener started")
	return nil
}

// Serve accepts connections until ctx is cancelled, then closes every
// session and waits for them.
func (l *Listener) Serve(ctx context.Context) error {
	if l.listener == nil {
		return errors.New("relay listener is not bound")
	}

	go func() {
		<-ctx.Done()
		l.listener.Close()
	}()

	defer func() {
		l.registry.CloseAll()
		l.wg.Wait()
	}()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				log.Info().Msg("relay listener stopping")
				return nil
			}
			log.Error().Err(err).Msg("failed to accept relay connection")
			continue
		}

		id := "relay-" + strconv.FormatUint(l.nextID.Add(1), 10)
		session := NewSession(id, conn, l.resolver, l.eventBus, l.opts)
		l.registry.Register(session)

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer l.registry.Unregister(id)
			if err := session.Run(ctx); err != nil {
				log.Debug().Err(err).Str("session", id).Msg("session ended with error")
			}
		}()
	}
}

// Start binds and serves. It blocks until ctx is cancelled.
func (l *Listener) Start(ctx context.Context) error {
	if err := l.Listen(ctx); err != nil {
		return err
	}
	return l.Serve(ctx)
}
