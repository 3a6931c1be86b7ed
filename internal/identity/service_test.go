package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, Identity) {
	t.Helper()
	svc := NewService(NewInMemRepository(), 2, 0.6, 3)
	id, err := svc.Register(context.Background(), "Jane Smith", "CS002")
	require.NoError(t, err)
	return svc, id
}

func TestRegisterRequiresNameAndRollCode(t *testing.T) {
	svc := NewService(NewInMemRepository(), 2, 0.6, 0)
	_, err := svc.Register(context.Background(), "", "CS001")
	assert.Error(t, err)
	_, err = svc.Register(context.Background(), "John Doe", "")
	assert.Error(t, err)
}

func TestEnrollRejectsSingleSample(t *testing.T) {
	svc, id := newTestService(t)

	_, err := svc.Enroll(context.Background(), id.ID, []Descriptor{
		{Vector: []float64{1, 0, 0}, Quality: 0.9},
	}, false)
	assert.ErrorIs(t, err, ErrInsufficientSamples)
}

func TestEnrollKeepsOnlyQualitySamples(t *testing.T) {
	svc, id := newTestService(t)
	ctx := context.Background()

	summary, err := svc.Enroll(ctx, id.ID, []Descriptor{
		{Vector: []float64{1, 0, 0}, Quality: 0.65},
		{Vector: []float64{0, 1, 0}, Quality: 0.5},
	}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Submitted)
	assert.Equal(t, 1, summary.Enrolled)
	assert.Equal(t, 1, summary.Rejected)

	ds, err := svc.Descriptors(ctx, id.ID)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, []float64{1, 0, 0}, ds[0].Vector)
}

func TestEnrollRejectsWhenNothingSurvivesQualityFilter(t *testing.T) {
	svc, id := newTestService(t)

	_, err := svc.Enroll(context.Background(), id.ID, []Descriptor{
		{Vector: []float64{1, 0, 0}, Quality: 0.1},
		{Vector: []float64{0, 1, 0}, Quality: 0.2},
	}, false)
	assert.ErrorIs(t, err, ErrInsufficientSamples)
}

func TestEnrollFiltersWrongDimensionality(t *testing.T) {
	svc, id := newTestService(t)

	summary, err := svc.Enroll(context.Background(), id.ID, []Descriptor{
		{Vector: []float64{1, 0, 0}, Quality: 0.9},
		{Vector: []float64{1, 0}, Quality: 0.9}, // wrong dims
	}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Enrolled)
}

func TestEnrollUnknownIdentity(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Enroll(context.Background(), "missing", []Descriptor{
		{Vector: []float64{1, 0, 0}, Quality: 0.9},
		{Vector: []float64{0, 1, 0}, Quality: 0.9},
	}, false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReEnrollAppendsByDefault(t *testing.T) {
	svc, id := newTestService(t)
	ctx := context.Background()

	samples := []Descriptor{
		{Vector: []float64{1, 0, 0}, Quality: 0.9},
		{Vector: []float64{0, 1, 0}, Quality: 0.9},
	}
	_, err := svc.Enroll(ctx, id.ID, samples, false)
	require.NoError(t, err)
	_, err = svc.Enroll(ctx, id.ID, samples, false)
	require.NoError(t, err)

	ds, err := svc.Descriptors(ctx, id.ID)
	require.NoError(t, err)
	assert.Len(t, ds, 4)
}

func TestReEnrollWithReplace(t *testing.T) {
	svc, id := newTestService(t)
	ctx := context.Background()

	_, err := svc.Enroll(ctx, id.ID, []Descriptor{
		{Vector: []float64{1, 0, 0}, Quality: 0.9},
		{Vector: []float64{0, 1, 0}, Quality: 0.9},
	}, false)
	require.NoError(t, err)

	_, err = svc.Enroll(ctx, id.ID, []Descriptor{
		{Vector: []float64{0, 0, 1}, Quality: 0.8},
		{Vector: []float64{0, 1, 1}, Quality: 0.8},
	}, true)
	require.NoError(t, err)

	ds, err := svc.Descriptors(ctx, id.ID)
	require.NoError(t, err)
	require.Len(t, ds, 2)
	assert.Equal(t, []float64{0, 0, 1}, ds[0].Vector)
}

func TestDescriptorsEmptyForUnenrolledIdentity(t *testing.T) {
	svc, id := newTestService(t)
	ds, err := svc.Descriptors(context.Background(), id.ID)
	require.NoError(t, err)
	assert.Empty(t, ds)
}

func TestEligibleCandidatesSkipSingleSampleIdentities(t *testing.T) {
	repo := NewInMemRepository()
	svc := NewService(repo, 2, 0.6, 3)
	ctx := context.Background()

	full, err := svc.Register(ctx, "Jane Smith", "CS002")
	require.NoError(t, err)
	_, err = svc.Enroll(ctx, full.ID, []Descriptor{
		{Vector: []float64{1, 0, 0}, Quality: 0.9},
		{Vector: []float64{0, 1, 0}, Quality: 0.9},
	}, false)
	require.NoError(t, err)

	// A lone quality sample can be stored, but one sample is not enough to
	// be matched against.
	partial, err := svc.Register(ctx, "John Doe", "CS001")
	require.NoError(t, err)
	_, err = svc.Enroll(ctx, partial.ID, []Descriptor{
		{Vector: []float64{0, 0, 1}, Quality: 0.9},
		{Vector: []float64{0, 0, 1}, Quality: 0.3},
	}, false)
	require.NoError(t, err)

	cands, err := svc.EligibleCandidates(ctx)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, full.ID, cands[0].IdentityID)
}
