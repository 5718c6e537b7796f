package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrRegistryClosed is returned by Get after Close.
var ErrRegistryClosed = errors.New("session: registry closed")

// Factory builds the Session for a visitor the registry has not seen.
type Factory func(visitorID string) (*Session, error)

type entry struct {
	s        *Session
	lastSeen time.Time
}

// Registry owns one Session per visitor. Sessions idle longer than the TTL are
// closed and dropped by Sweep.
type Registry struct {
	newSession Factory
	ttl        time.Duration
	logger     *zap.Logger
	nowF       func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
	closed   bool
}

// NewRegistry returns a Registry. ttl <= 0 never evicts.
func NewRegistry(factory Factory, ttl time.Duration, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		newSession: factory,
		ttl:        ttl,
		logger:     logger,
		nowF:       time.Now,
		sessions:   make(map[string]*entry),
	}
}

// Get returns the visitor's Session, creating it on first use, and waits for its
// silent restore to finish.
func (r *Registry) Get(ctx context.Context, visitorID string) (*Session, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	e, ok := r.sessions[visitorID]
	if !ok {
		s, err := r.newSession(visitorID)
		if err != nil {
			r.mu.Unlock()
			r.logger.Error("create session", zap.String("visitor_id", visitorID), zap.Error(err))
			return nil, err
		}
		e = &entry{s: s}
		r.sessions[visitorID] = e
	}
	e.lastSeen = r.nowF()
	s := e.s
	r.mu.Unlock()

	s.Restore(ctx)
	return s, nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep closes and drops sessions idle for longer than the TTL and returns how many it removed.
func (r *Registry) Sweep() int {
	if r.ttl <= 0 {
		return 0
	}
	cutoff := r.nowF().Add(-r.ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, e := range r.sessions {
		if e.lastSeen.Before(cutoff) {
			e.s.Close()
			delete(r.sessions, id)
			n++
		}
	}
	if n > 0 {
		r.logger.Debug("evicted idle sessions", zap.Int("count", n), zap.Int("remaining", len(r.sessions)))
	}
	return n
}

// Close closes every session. Later Gets fail with ErrRegistryClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for id, e := range r.sessions {
		e.s.Close()
		delete(r.sessions, id)
	}
}
