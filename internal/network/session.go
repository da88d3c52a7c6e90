package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/liqi/internal/events"
	"github.com/energizer-project/liqi/internal/schema"
)

// SessionOptions tune a relay session.
type SessionOptions struct {
	ReadTimeout   time.Duration // zero disables the idle timeout
	MaxFrameSize  int
	PendingMaxAge time.Duration // zero keeps unanswered requests forever
}

// Session is one relay connection and the decoder for its stream.
type Session struct {
	*Decoder

	conn    net.Conn
	opts    SessionOptions
	bus     *events.EventBus
	logger  zerolog.Logger
	started time.Time

	mu           sync.Mutex
	lastActivity time.Time
	lastSweep    time.Time
	closed       bool
}

// SessionInfo is a point-in-time view of a session.
type SessionInfo struct {
	ID           string    `json:"id"`
	RemoteAddr   string    `json:"remote_addr"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	Decoded      uint64    `json:"decoded"`
	Failed       uint64    `json:"failed"`
	Pending      int       `json:"pending"`
}

// NewSession wraps conn. The session is named after id.
func NewSession(id string, conn net.Conn, resolver *schema.Resolver, bus *events.EventBus, opts SessionOptions) *Session {
	now := time.Now()
	return &Session{
		Decoder:      NewDecoder(id, resolver, bus),
		conn:         conn,
		opts:         opts,
		bus:          bus,
		started:      now,
		lastActivity: now,
		lastSweep:    now,
		logger: log.With().
			Str("component", "session").
			Str("session", id).
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
	}
}

// Run reads frames until the peer disconnects, the idle timeout fires or
// ctx is cancelled. Undecodable frames are reported and skipped; framing
// errors end the session.
func (s *Session) Run(ctx context.Context) error {
	defer s.Close()

	s.logger.Info().Msg("session opened")
	s.emitLifecycle(ctx, events.EventSessionOpened)
	defer s.emitLifecycle(context.WithoutCancel(ctx), events.EventSessionClosed)

	for {
		if s.opts.ReadTimeout > 0 {
			s.conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
		}

		frame, err := ReadFrame(s.conn, s.opts.MaxFrameSize)
		if err != nil {
			return s.readError(ctx, err)
		}

		s.touch()
		s.Decode(ctx, frame)
		s.sweep()
	}
}

func (s *Session) readError(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil, s.IsClosed():
		return nil
	case errors.Is(err, io.EOF):
		s.logger.Info().Msg("peer closed the relay")
		return nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		s.logger.Warn().Dur("timeout", s.opts.ReadTimeout).Msg("session idle, closing")
		return nil
	}

	s.logger.Error().Err(err).Msg("read error, closing session")
	return fmt.Errorf("session %s: %w", s.Name(), err)
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// sweep evicts stale requests at most twice per PendingMaxAge.
func (s *Session) sweep() {
	if s.opts.PendingMaxAge <= 0 {
		return
	}
	s.mu.Lock()
	due := time.Since(s.lastSweep) >= s.opts.PendingMaxAge/2
	if due {
		s.lastSweep = time.Now()
	}
	s.mu.Unlock()

	if due {
		s.EvictPending(s.opts.PendingMaxAge)
	}
}

func (s *Session) emitLifecycle(ctx context.Context, t events.EventType) {
	if s.bus == nil {
		return
	}
	info := s.Info()
	s.bus.Emit(ctx, events.Event{
		Type:   t,
		Source: s.Name(),
		Payload: events.SessionPayload{
			Session:    info.ID,
			RemoteAddr: info.RemoteAddr,
			Decoded:    info.Decoded,
			Failed:     info.Failed,
			Pending:    info.Pending,
			At:         time.Now(),
		},
	})
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	last := s.lastActivity
	s.mu.Unlock()

	return SessionInfo{
		ID:           s.Name(),
		RemoteAddr:   s.conn.RemoteAddr().String(),
		ConnectedAt:  s.started,
		LastActivity: last,
		Decoded:      s.Decoded(),
		Failed:       s.Failed(),
		Pending:      s.Pending(),
	}
}

// Close closes the connection. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info().Uint64("decoded", s.Decoded()).Uint64("failed", s.Failed()).Msg("session closed")
	return s.conn.Close()
}

// IsClosed reports whether Close has been called.
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SessionRegistry tracks live sessions.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*Session)}
}

// Register adds a session.
func (r *SessionRegistry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.Name()] = s
}

// Unregister removes a session without closing it.
func (r *SessionRegistry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Get returns the session with the given id.
func (r *SessionRegistry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Count returns the number of live sessions.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns the info of every live session, oldest first.
func (r *SessionRegistry) Snapshot() []SessionInfo {
	r.mu.RLock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Info())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// CloseAll closes every session.
func (r *SessionRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		s.Close()
		delete(r.sessions, id)
	}
}

// EvictPending drops unanswered requests older than maxAge in every session
// and returns the total removed.
func (r *SessionRegistry) EvictPending(maxAge time.Duration) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, s := range r.sessions {
		total += s.EvictPending(maxAge)
	}
	return total
}
