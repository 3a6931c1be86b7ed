// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Verifications counts verification attempts by channel and outcome.
	Verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_verifications_total",
		Help: "Verification attempts by method and outcome.",
	}, []string{"method", "outcome"})

	// MatchScores observes accepted biometric match scores.
	MatchScores = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rollcall_match_score",
		Help:    "Cosine similarity of accepted biometric matches.",
		Buckets: prometheus.LinearBuckets(0.5, 0.05, 10),
	})

	// SessionsCreated counts QR attendance sessions opened.
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_sessions_created_total",
		Help: "QR attendance sessions created.",
	})
)
