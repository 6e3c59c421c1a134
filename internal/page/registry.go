package page

import (
	"errors"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"

	"github.com/joeblew999/plat-defects/internal/metrics"
)

var (
	// ErrUnknownSession is returned by Attach for ids the registry does not hold.
	ErrUnknownSession = errors.New("unknown page session")
	// ErrAttached is returned by Attach when a stream already serves the session.
	ErrAttached = errors.New("page session already attached")
)

// Registry tracks the live page sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session

	// attachTimeout closes sessions whose stream never connected.
	attachTimeout time.Duration
	log           log.Interface
}

type session struct {
	c        *Controller
	attached bool
}

// NewRegistry creates an empty registry. A zero attachTimeout keeps
// unattached sessions until Close.
func NewRegistry(attachTimeout time.Duration, l log.Interface) *Registry {
	if l == nil {
		l = log.Log
	}
	return &Registry{
		sessions:      make(map[string]*session),
		attachTimeout: attachTimeout,
		log:           l,
	}
}

// Create starts a session. cfg.ID is assigned here and cfg.Base is expanded
// by base, which receives the new id.
func (r *Registry) Create(cfg Config, base func(id string) string) *Controller {
	id := uuid.NewString()
	cfg.ID = id
	cfg.Base = base(id)
	if cfg.Log == nil {
		cfg.Log = r.log
	}
	c := New(cfg)

	r.mu.Lock()
	r.sessions[id] = &session{c: c}
	r.mu.Unlock()
	metrics.PageSessions.Inc()

	if r.attachTimeout > 0 {
		time.AfterFunc(r.attachTimeout, func() {
			r.mu.Lock()
			s, ok := r.sessions[id]
			stale := ok && !s.attached
			if stale {
				delete(r.sessions, id)
			}
			r.mu.Unlock()
			if stale {
				r.log.WithField("session", id).Debug("session never attached")
				metrics.PageSessions.Dec()
				s.c.Close()
			}
		})
	}
	return c
}

// Get returns a live session.
func (r *Registry) Get(id string) (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return s.c, true
}

// Attach marks the session's stream as connected. A session serves one
// stream at a time.
func (r *Registry) Attach(id string) (*Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrUnknownSession
	}
	if s.attached {
		return nil, ErrAttached
	}
	s.attached = true
	return s.c, nil
}

// Remove closes and forgets a session.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		metrics.PageSessions.Dec()
		s.c.Close()
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close closes every session.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*session)
	r.mu.Unlock()
	metrics.PageSessions.Sub(float64(len(sessions)))
	for _, s := range sessions {
		s.c.Close()
	}
}
