// Package session keeps the authoritative map from live connections to the
// role and identity behind them.
package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"service-dispatch/internal/apperr"
	"service-dispatch/internal/domain"
	"service-dispatch/internal/logx"
	"service-dispatch/internal/outbox"
)

// ReasonSuperseded is sent to a courier session evicted by a newer connection.
const ReasonSuperseded = "session superseded by a newer connection"

type entry struct {
	mu    sync.Mutex
	sess  domain.Session
	queue *outbox.Queue
}

func (e *entry) snapshot() domain.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess
}

// Registry tracks every live session. Map membership is guarded by one RWMutex
// held only for O(1) map operations; per-session fields have their own lock.
type Registry struct {
	mu       sync.RWMutex
	byID     map[string]*entry
	couriers map[string]string // courier identity -> session id
	logger   logx.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger logx.Logger) *Registry {
	if logger == nil {
		logger = logx.Nop()
	}
	return &Registry{
		byID:     make(map[string]*entry),
		couriers: make(map[string]string),
		logger:   logger.With(logx.String("component", "session_registry")),
	}
}

// Register adds a session with its outbound queue. A courier identity holds at
// most one session: registering a second one evicts the first, whose queue is
// closed, and returns it.
func (r *Registry) Register(s domain.Session, q *outbox.Queue) (*domain.Session, error) {
	if err := validate(s, q); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if _, ok := r.byID[s.ID]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("register %s: %w", s.ID, apperr.ErrDuplicateSession)
	}
	var old *entry
	if s.IsCourier() {
		if oldID, ok := r.couriers[s.Identity]; ok {
			old = r.byID[oldID]
			delete(r.byID, oldID)
		}
		r.couriers[s.Identity] = s.ID
	}
	r.byID[s.ID] = &entry{sess: s, queue: q}
	r.mu.Unlock()

	r.logger.Debug("session registered",
		logx.String("session_id", s.ID),
		logx.String("role", string(s.Role)),
		logx.String("identity", s.Identity),
	)

	if old == nil {
		return nil, nil
	}
	evicted := old.snapshot()
	old.queue.Push(domain.Message{Type: domain.MsgError, Code: "session_superseded", Error: ReasonSuperseded})
	old.queue.Close()
	r.logger.Info("courier session evicted",
		logx.String("courier_id", s.Identity),
		logx.String("evicted_session_id", evicted.ID),
		logx.String("session_id", s.ID),
	)
	return &evicted, nil
}

func validate(s domain.Session, q *outbox.Queue) error {
	switch {
	case strings.TrimSpace(s.ID) == "":
		return fmt.Errorf("empty session id: %w", apperr.ErrInvalid)
	case !s.Role.Valid():
		return fmt.Errorf("unknown role %q: %w", s.Role, apperr.ErrInvalid)
	case strings.TrimSpace(s.Identity) == "":
		return fmt.Errorf("empty identity: %w", apperr.ErrInvalid)
	case q == nil:
		return fmt.Errorf("nil outbox: %w", apperr.ErrInvalid)
	}
	return nil
}

// Deregister removes a session and closes its queue. Unknown ids are a no-op.
func (r *Registry) Deregister(sessionID string) (domain.Session, bool) {
	r.mu.Lock()
	e, ok := r.byID[sessionID]
	if !ok {
		r.mu.Unlock()
		return domain.Session{}, false
	}
	delete(r.byID, sessionID)
	s := e.snapshot()
	if s.IsCourier() && r.couriers[s.Identity] == sessionID {
		delete(r.couriers, s.Identity)
	}
	r.mu.Unlock()

	e.queue.Close()
	r.logger.Debug("session deregistered", logx.String("session_id", sessionID))
	return s, true
}

// Touch records inbound activity on a session.
func (r *Registry) Touch(sessionID string, now time.Time) bool {
	e := r.get(sessionID)
	if e == nil {
		return false
	}
	e.mu.Lock()
	if now.After(e.sess.LastSeenAt) {
		e.sess.LastSeenAt = now
	}
	e.mu.Unlock()
	return true
}

func (r *Registry) get(sessionID string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[sessionID]
}

// Get returns a copy of the session.
func (r *Registry) Get(sessionID string) (domain.Session, bool) {
	e := r.get(sessionID)
	if e == nil {
		return domain.Session{}, false
	}
	return e.snapshot(), true
}

// Lookup returns the live session of a courier identity.
func (r *Registry) Lookup(identity string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.couriers[identity]
	return id, ok
}

// Outbox returns the outbound queue of a session.
func (r *Registry) Outbox(sessionID string) (*outbox.Queue, bool) {
	e := r.get(sessionID)
	if e == nil {
		return nil, false
	}
	return e.queue, true
}

// List returns the sessions of a role; an empty role lists every session.
func (r *Registry) List(role domain.Role) []domain.Session {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.byID))
	for _, e := range r.byID {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]domain.Session, 0, len(entries))
	for _, e := range entries {
		s := e.snapshot()
		if role == "" || s.Role == role {
			out = append(out, s)
		}
	}
	return out
}

// Count returns the number of sessions of a role; an empty role counts all.
func (r *Registry) Count(role domain.Role) int {
	if role == "" {
		r.mu.RLock()
		defer r.mu.RUnlock()
		return len(r.byID)
	}
	return len(r.List(role))
}

// Expired returns the sessions without inbound activity for longer than timeout.
func (r *Registry) Expired(now time.Time, timeout time.Duration) []domain.Session {
	if timeout <= 0 {
		return nil
	}
	var out []domain.Session
	for _, s := range r.List("") {
		if now.Sub(s.LastSeenAt) > timeout {
			out = append(out, s)
		}
	}
	return out
}
