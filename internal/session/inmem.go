package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemRepository is a mutex-guarded in-memory session store for tests and
// single-node dev runs.
type InMemRepository struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewInMemRepository creates an empty store.
func NewInMemRepository() *InMemRepository {
	return &InMemRepository{sessions: make(map[string]Session)}
}

// Create inserts a session.
func (r *InMemRepository) Create(_ context.Context, s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	return nil
}

// Get returns a single session by id.
func (r *InMemRepository) Get(_ context.Context, sessionID string) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

// ListActive returns sessions neither ended nor expired at now.
func (r *InMemRepository) ListActive(_ context.Context, now time.Time) ([]Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []Session
	for _, s := range r.sessions {
		if s.StateAt(now) == StateActive {
			res = append(res, s)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

// End marks the session ended.
func (r *InMemRepository) End(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.Ended = true
	r.sessions[sessionID] = s
	return nil
}
