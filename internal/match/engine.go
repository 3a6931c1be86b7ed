// Package match scores probe descriptors against enrolled identities. All
// functions are pure so concurrent verification requests need no locking.
package match

import (
	"math"

	"rollcall/internal/identity"
)

// Result is a successful match above the acceptance threshold.
type Result struct {
	IdentityID string
	Score      float64
}

// Engine ranks candidates by best-sample cosine similarity.
type Engine struct {
	// Threshold is the open-interval acceptance bar: a candidate wins only
	// when its score strictly exceeds it.
	Threshold float64
}

// NewEngine creates an engine with the given acceptance threshold.
func NewEngine(threshold float64) Engine {
	return Engine{Threshold: threshold}
}

// Match scores the probe against every candidate and returns the single best
// identity, if any beats the threshold. Per candidate the score is the
// maximum similarity across its enrolled samples; one strong sample must not
// be diluted by weaker ones, so samples are never averaged.
func (e Engine) Match(probe []float64, candidates []identity.Candidate) (Result, bool) {
	best := Result{}
	found := false
	for _, c := range candidates {
		score := bestSampleScore(probe, c.Descriptors)
		if score <= e.Threshold {
			continue
		}
		if !found || score > best.Score {
			best = Result{IdentityID: c.IdentityID, Score: score}
			found = true
		}
	}
	return best, found
}

func bestSampleScore(probe []float64, samples []identity.Descriptor) float64 {
	max := 0.0
	for _, s := range samples {
		if sim := CosineSimilarity(probe, s.Vector); sim > max {
			max = sim
		}
	}
	return max
}

// CosineSimilarity returns dot(a,b)/(|a|*|b|) in [-1,1]. Mismatched
// dimensionality and zero-magnitude vectors score 0 rather than erroring so
// a single bad enrollment sample cannot fail a whole match pass.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
