package identity

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemRepository is a mutex-guarded in-memory implementation used by tests
// and single-node dev runs.
type InMemRepository struct {
	mu          sync.RWMutex
	identities  map[string]Identity
	descriptors map[string][]Descriptor
}

// NewInMemRepository creates an empty repository.
func NewInMemRepository() *InMemRepository {
	return &InMemRepository{
		identities:  make(map[string]Identity),
		descriptors: make(map[string][]Descriptor),
	}
}

// Create inserts a new identity.
func (r *InMemRepository) Create(_ context.Context, id Identity) (Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id.ID == "" {
		id.ID = uuid.NewString()
	}
	id.CreatedAt = time.Now().UTC()
	r.identities[id.ID] = id
	return id, nil
}

// Get returns a single identity by id.
func (r *InMemRepository) Get(_ context.Context, identityID string) (Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.identities[identityID]
	if !ok {
		return Identity{}, ErrNotFound
	}
	return id, nil
}

// GetByRollCode returns a single identity by roll code.
func (r *InMemRepository) GetByRollCode(_ context.Context, rollCode string) (Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.identities {
		if id.RollCode == rollCode {
			return id, nil
		}
	}
	return Identity{}, ErrNotFound
}

// List returns all identities ordered by roll code.
func (r *InMemRepository) List(_ context.Context) ([]Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]Identity, 0, len(r.identities))
	for _, id := range r.identities {
		res = append(res, id)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].RollCode < res[j].RollCode })
	return res, nil
}

// Descriptors returns the enrolled descriptors for an identity.
func (r *InMemRepository) Descriptors(_ context.Context, identityID string) ([]Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ds := r.descriptors[identityID]
	out := make([]Descriptor, len(ds))
	copy(out, ds)
	return out, nil
}

// SaveDescriptors appends (or replaces) an identity's descriptor set.
func (r *InMemRepository) SaveDescriptors(_ context.Context, identityID string, ds []Descriptor, replace bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.identities[identityID]
	if !ok {
		return ErrNotFound
	}
	if replace {
		r.descriptors[identityID] = nil
	}
	r.descriptors[identityID] = append(r.descriptors[identityID], ds...)
	now := time.Now().UTC()
	id.EnrolledAt = &now
	r.identities[identityID] = id
	return nil
}

// Candidates returns every identity with its descriptors.
func (r *InMemRepository) Candidates(_ context.Context) ([]Candidate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]Candidate, 0, len(r.descriptors))
	for identityID, ds := range r.descriptors {
		if len(ds) == 0 {
			continue
		}
		out := make([]Descriptor, len(ds))
		copy(out, ds)
		res = append(res, Candidate{IdentityID: identityID, Descriptors: out})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].IdentityID < res[j].IdentityID })
	return res, nil
}
