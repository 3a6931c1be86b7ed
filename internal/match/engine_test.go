package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/identity"
)

func TestCosineSimilarityIdenticalVectors(t *testing.T) {
	v := []float64{0.3, -0.2, 0.9, 0.05}
	assert.InDelta(t, 1.0, CosineSimilarity(v, v), 1e-9)
}

func TestCosineSimilarityOrthogonal(t *testing.T) {
	assert.InDelta(t, 0.0, CosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
}

func TestCosineSimilarityOpposite(t *testing.T) {
	assert.InDelta(t, -1.0, CosineSimilarity([]float64{1, 2}, []float64{-1, -2}), 1e-9)
}

func TestCosineSimilarityDimensionMismatch(t *testing.T) {
	assert.Equal(t, 0.0, CosineSimilarity([]float64{1, 2, 3}, []float64{1, 2}))
}

func TestCosineSimilarityZeroVector(t *testing.T) {
	assert.Equal(t, 0.0, CosineSimilarity([]float64{0, 0}, []float64{1, 2}))
}

func TestMatchPicksBestSampleNotAverage(t *testing.T) {
	// One strong sample among weak ones must carry the candidate.
	engine := NewEngine(0.75)
	probe := []float64{1, 0, 0}
	cands := []identity.Candidate{
		{IdentityID: "strong-sample", Descriptors: []identity.Descriptor{
			{Vector: []float64{0, 1, 0}},
			{Vector: []float64{1, 0.05, 0}},
		}},
		{IdentityID: "uniformly-mediocre", Descriptors: []identity.Descriptor{
			{Vector: []float64{1, 1, 0}},
			{Vector: []float64{1, 1, 0.1}},
		}},
	}

	res, ok := engine.Match(probe, cands)
	require.True(t, ok)
	assert.Equal(t, "strong-sample", res.IdentityID)
	assert.Greater(t, res.Score, 0.99)
}

func TestMatchNeverReturnsScoreAtOrBelowThreshold(t *testing.T) {
	engine := NewEngine(0.75)
	probe := []float64{1, 0}
	cands := []identity.Candidate{
		{IdentityID: "weak", Descriptors: []identity.Descriptor{
			{Vector: []float64{1, 1}}, // similarity ~0.707
		}},
	}

	_, ok := engine.Match(probe, cands)
	assert.False(t, ok)
}

func TestMatchExactThresholdRejected(t *testing.T) {
	// Acceptance is an open interval: a score equal to the threshold loses.
	engine := NewEngine(1.0)
	probe := []float64{1, 0}
	cands := []identity.Candidate{
		{IdentityID: "exact", Descriptors: []identity.Descriptor{{Vector: []float64{1, 0}}}},
	}

	_, ok := engine.Match(probe, cands)
	assert.False(t, ok)
}

func TestMatchSkipsMismatchedDimensions(t *testing.T) {
	engine := NewEngine(0.75)
	probe := []float64{1, 0, 0}
	cands := []identity.Candidate{
		{IdentityID: "wrong-dims", Descriptors: []identity.Descriptor{
			{Vector: []float64{1, 0}},
		}},
		{IdentityID: "right-dims", Descriptors: []identity.Descriptor{
			{Vector: []float64{1, 0.01, 0}},
		}},
	}

	res, ok := engine.Match(probe, cands)
	require.True(t, ok)
	assert.Equal(t, "right-dims", res.IdentityID)
}

func TestMatchNoCandidates(t *testing.T) {
	engine := NewEngine(0.75)
	_, ok := engine.Match([]float64{1, 0}, nil)
	assert.False(t, ok)
}
