package identity

import (
	"context"
	"errors"
	"time"
)

// Expected domain outcomes. Callers branch on these with errors.Is.
var (
	// ErrInsufficientSamples is returned when an enrollment submits fewer
	// samples than required, or when none survive the quality filter.
	ErrInsufficientSamples = errors.New("insufficient enrollment samples")
	// ErrNotFound is returned when the referenced identity does not exist.
	ErrNotFound = errors.New("identity not found")
)

// Descriptor is one biometric feature vector captured at enrollment or probe
// time, with the extractor's quality estimate in [0,1].
type Descriptor struct {
	Vector  []float64 `json:"vector"`
	Quality float64   `json:"quality"`
}

// Identity is a person eligible for attendance verification.
type Identity struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	RollCode   string     `json:"roll_code"`
	EnrolledAt *time.Time `json:"enrolled_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Candidate pairs an identity with its enrolled descriptors for matching.
type Candidate struct {
	IdentityID  string
	Descriptors []Descriptor
}

// Repository persists identities and their enrolled descriptors.
type Repository interface {
	Create(ctx context.Context, id Identity) (Identity, error)
	Get(ctx context.Context, identityID string) (Identity, error)
	GetByRollCode(ctx context.Context, rollCode string) (Identity, error)
	List(ctx context.Context) ([]Identity, error)

	// Descriptors returns the enrolled set; empty means not yet enrolled,
	// not an error.
	Descriptors(ctx context.Context, identityID string) ([]Descriptor, error)
	// SaveDescriptors appends to the enrolled set, or replaces it when
	// replace is true, and stamps the identity's enrollment time.
	SaveDescriptors(ctx context.Context, identityID string, ds []Descriptor, replace bool) error

	// Candidates returns every identity alongside its enrolled descriptors.
	Candidates(ctx context.Context) ([]Candidate, error)
}
