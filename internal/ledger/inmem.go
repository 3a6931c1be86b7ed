package ledger

import (
	"context"
	"fmt"
	"sync"
)

type dedupKey struct {
	identityID string
	subject    string
	day        string
}

// InMemRepository is a mutex-guarded in-memory ledger for tests and
// single-node dev runs. One lock covers the dedup map, the event list, and
// the summaries, so check-and-insert is atomic by construction.
type InMemRepository struct {
	mu        sync.Mutex
	byKey     map[dedupKey]*Event
	events    []Event
	summaries map[string]Summary
}

// NewInMemRepository creates an empty ledger.
func NewInMemRepository() *InMemRepository {
	return &InMemRepository{
		byKey:     make(map[dedupKey]*Event),
		summaries: make(map[string]Summary),
	}
}

// Record inserts evt unless the dedup key is taken.
func (r *InMemRepository) Record(_ context.Context, evt Event) (Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recordLocked(evt, 0)
}

// RecordInSession additionally enforces session capacity under the same lock.
func (r *InMemRepository) RecordInSession(_ context.Context, evt Event, capacity int) (Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recordLocked(evt, capacity)
}

func (r *InMemRepository) recordLocked(evt Event, capacity int) (Event, error) {
	prepareEvent(&evt)

	key := dedupKey{evt.IdentityID, evt.Subject, evt.Day}
	if existing, ok := r.byKey[key]; ok {
		return *existing, ErrAlreadyMarked
	}

	if capacity > 0 && evt.SessionID != nil {
		if r.countBySessionLocked(*evt.SessionID) >= capacity {
			return Event{}, ErrCapacityExceeded
		}
	}

	r.events = append(r.events, evt)
	r.byKey[key] = &r.events[len(r.events)-1]

	s := r.summaries[evt.IdentityID]
	s.IdentityID = evt.IdentityID
	s.Total++
	seen := evt.RecordedAt
	s.LastSeen = &seen
	r.summaries[evt.IdentityID] = s

	return evt, nil
}

func (r *InMemRepository) countBySessionLocked(sessionID string) int {
	count := 0
	for i := range r.events {
		if r.events[i].SessionID != nil && *r.events[i].SessionID == sessionID {
			count++
		}
	}
	return count
}

// Query returns events matching the filter, newest first.
func (r *InMemRepository) Query(_ context.Context, f Filter) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []Event
	for i := len(r.events) - 1; i >= 0; i-- {
		if matches(r.events[i], f) {
			res = append(res, r.events[i])
		}
	}
	return res, nil
}

// CountBySession returns how many events a session has generated.
func (r *InMemRepository) CountBySession(_ context.Context, sessionID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countBySessionLocked(sessionID), nil
}

// Summary returns the per-identity attendance projection.
func (r *InMemRepository) Summary(_ context.Context, identityID string) (Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.summaries[identityID]; ok {
		return s, nil
	}
	return Summary{IdentityID: identityID}, nil
}

// Purge deletes events matching the filter.
func (r *InMemRepository) Purge(_ context.Context, f Filter) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f == (Filter{}) {
		return 0, fmt.Errorf("purge requires at least one filter")
	}
	var (
		kept    []Event
		removed int64
	)
	for _, evt := range r.events {
		if matches(evt, f) {
			removed++
			delete(r.byKey, dedupKey{evt.IdentityID, evt.Subject, evt.Day})
			continue
		}
		kept = append(kept, evt)
	}
	r.events = kept
	r.byKey = make(map[dedupKey]*Event, len(kept))
	for i := range r.events {
		e := &r.events[i]
		r.byKey[dedupKey{e.IdentityID, e.Subject, e.Day}] = e
	}
	return removed, nil
}

func matches(evt Event, f Filter) bool {
	if f.Subject != "" && evt.Subject != f.Subject {
		return false
	}
	if f.Day != "" && evt.Day != f.Day {
		return false
	}
	if f.IdentityID != "" && evt.IdentityID != f.IdentityID {
		return false
	}
	if f.SessionID != "" && (evt.SessionID == nil || *evt.SessionID != f.SessionID) {
		return false
	}
	return true
}
