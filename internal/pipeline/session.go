package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zombor/receipt-scanner/internal/document"
)

// Session serializes re-invocations from one client. Starting a new invocation cancels the
// one in flight, which still releases its resources and then returns ErrSuperseded.
type Session struct {
	pipeline *Pipeline

	mu       sync.Mutex
	cancel   context.CancelCauseFunc
	seq      uint64
	inFlight int
	lastUsed time.Time
	now      func() time.Time
}

// NewSession creates a new Session
func NewSession(p *Pipeline) *Session {
	return &Session{pipeline: p, now: time.Now, lastUsed: time.Now()}
}

// Process runs the pipeline, superseding any invocation still running on this session
func (s *Session) Process(ctx context.Context, in document.Input, page int, language string) (*Result, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel(ErrSuperseded)
	}
	s.seq++
	seq := s.seq
	s.cancel = cancel
	s.inFlight++
	s.lastUsed = s.now()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.seq == seq {
			s.cancel = nil
		}
		s.inFlight--
		s.lastUsed = s.now()
		s.mu.Unlock()
	}()

	result, err := s.pipeline.Process(ctx, in, page, language)
	if errors.Is(context.Cause(ctx), ErrSuperseded) {
		slog.Info("Discarding superseded scan result")
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSuperseded, err)
		}
		return nil, ErrSuperseded
	}
	return result, err
}

// Cancel stops the invocation in flight, if any
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel(context.Canceled)
		s.cancel = nil
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = s.now()
}

// idleSince reports when the session was last used, and false while an invocation runs
func (s *Session) idleSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed, s.inFlight == 0
}

// Sessions keys sessions by client id and forgets those idle for longer than ttl
type Sessions struct {
	pipeline *Pipeline
	ttl      time.Duration
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessions creates a new Sessions registry
func NewSessions(p *Pipeline, ttl time.Duration) *Sessions {
	return &Sessions{
		pipeline: p,
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Get returns the session for id, creating it if needed. An empty id always gets a new,
// unregistered session.
func (s *Sessions) Get(id string) *Session {
	if id == "" {
		return s.newSession()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()

	session, ok := s.sessions[id]
	if !ok {
		session = s.newSession()
		s.sessions[id] = session
	}
	session.touch()
	return session
}

// Process runs the pipeline on the session for id
func (s *Sessions) Process(ctx context.Context, id string, in document.Input, page int, language string) (*Result, error) {
	return s.Get(id).Process(ctx, in, page, language)
}

// Len returns the number of registered sessions
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Sessions) newSession() *Session {
	session := NewSession(s.pipeline)
	session.now = s.now
	session.lastUsed = s.now()
	return session
}

// prune drops idle sessions. Callers hold s.mu.
func (s *Sessions) prune() {
	if s.ttl <= 0 {
		return
	}
	cutoff := s.now().Add(-s.ttl)
	for id, session := range s.sessions {
		if last, idle := session.idleSince(); idle && last.Before(cutoff) {
			delete(s.sessions, id)
		}
	}
}
