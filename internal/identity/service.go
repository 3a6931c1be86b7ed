package identity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// EnrollmentSummary reports the outcome of an enrollment call.
type EnrollmentSummary struct {
	IdentityID string `json:"identity_id"`
	Submitted  int    `json:"submitted"`
	Enrolled   int    `json:"enrolled"`
	Rejected   int    `json:"rejected"`
}

// Service validates and persists identities and enrollments.
type Service struct {
	repo       Repository
	minSamples int
	minQuality float64
	dim        int
}

// NewService creates an enrollment service. minSamples is the floor on
// submitted samples per enrollment, minQuality the per-descriptor quality
// floor, and dim the required vector dimensionality (0 disables the check).
func NewService(repo Repository, minSamples int, minQuality float64, dim int) *Service {
	if minSamples < 2 {
		minSamples = 2
	}
	return &Service{repo: repo, minSamples: minSamples, minQuality: minQuality, dim: dim}
}

// Register creates a new identity record.
func (s *Service) Register(ctx context.Context, name, rollCode string) (Identity, error) {
	if name == "" || rollCode == "" {
		return Identity{}, fmt.Errorf("name and roll code required")
	}
	return s.repo.Create(ctx, Identity{ID: uuid.NewString(), Name: name, RollCode: rollCode})
}

// Get returns one identity.
func (s *Service) Get(ctx context.Context, identityID string) (Identity, error) {
	return s.repo.Get(ctx, identityID)
}

// List returns all identities.
func (s *Service) List(ctx context.Context) ([]Identity, error) {
	return s.repo.List(ctx)
}

// Enroll stores the accepted subset of the submitted descriptors for an
// identity. Fewer than the minimum submitted samples, or an accepted subset
// that comes out empty, is ErrInsufficientSamples. By default new samples
// append to the enrolled set; replace swaps the whole set out.
func (s *Service) Enroll(ctx context.Context, identityID string, samples []Descriptor, replace bool) (EnrollmentSummary, error) {
	summary := EnrollmentSummary{IdentityID: identityID, Submitted: len(samples)}

	if len(samples) < s.minSamples {
		return summary, fmt.Errorf("%w: got %d samples, need %d", ErrInsufficientSamples, len(samples), s.minSamples)
	}
	if _, err := s.repo.Get(ctx, identityID); err != nil {
		return summary, err
	}

	accepted := make([]Descriptor, 0, len(samples))
	for _, d := range samples {
		if d.Quality < s.minQuality {
			continue
		}
		if s.dim > 0 && len(d.Vector) != s.dim {
			continue
		}
		accepted = append(accepted, d)
	}
	summary.Enrolled = len(accepted)
	summary.Rejected = len(samples) - len(accepted)

	if len(accepted) == 0 {
		return summary, fmt.Errorf("%w: no samples met quality %.2f", ErrInsufficientSamples, s.minQuality)
	}

	if err := s.repo.SaveDescriptors(ctx, identityID, accepted, replace); err != nil {
		return summary, fmt.Errorf("save descriptors: %w", err)
	}
	return summary, nil
}

// Descriptors returns the enrolled descriptor set; empty is a valid result
// for a not-yet-enrolled identity.
func (s *Service) Descriptors(ctx context.Context, identityID string) ([]Descriptor, error) {
	return s.repo.Descriptors(ctx, identityID)
}

// EligibleCandidates returns identities carrying enough enrolled descriptors
// to be matched against. Single-sample identities are skipped.
func (s *Service) EligibleCandidates(ctx context.Context) ([]Candidate, error) {
	all, err := s.repo.Candidates(ctx)
	if err != nil {
		return nil, err
	}
	eligible := all[:0]
	for _, c := range all {
		if len(c.Descriptors) >= s.minSamples {
			eligible = append(eligible, c)
		}
	}
	return eligible, nil
}
