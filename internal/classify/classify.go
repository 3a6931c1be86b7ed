// Package classify maps match scores and scan times to attendance statuses.
package classify

import (
	"time"

	"rollcall/internal/ledger"
)

// Classifier turns a biometric match score into a status. Scores above the
// late band are confident enough for present; scores between the acceptance
// threshold and the band are flagged late to prompt manual review.
type Classifier struct {
	AcceptThreshold float64
	LateBand        float64
}

// NewClassifier creates a classifier with the given cutoffs.
func NewClassifier(acceptThreshold, lateBand float64) Classifier {
	return Classifier{AcceptThreshold: acceptThreshold, LateBand: lateBand}
}

// ByScore classifies a match score. The second return is false when the
// score does not clear the acceptance threshold; the caller must treat that
// as no match, not as absent.
func (c Classifier) ByScore(score float64) (ledger.Status, bool) {
	if score <= c.AcceptThreshold {
		return "", false
	}
	if score > c.LateBand {
		return ledger.StatusPresent, true
	}
	return ledger.StatusLate, true
}

// ByElapsed classifies a scan by time since session start; the QR path has
// no similarity score to go on.
func ByElapsed(sessionStart, scanTime time.Time, lateThreshold time.Duration) ledger.Status {
	if scanTime.Sub(sessionStart) <= lateThreshold {
		return ledger.StatusPresent
	}
	return ledger.StatusLate
}
