// Package verify orchestrates the two verification channels over the shared
// attendance ledger.
package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rollcall/internal/classify"
	"rollcall/internal/identity"
	"rollcall/internal/ledger"
	"rollcall/internal/match"
	"rollcall/internal/metrics"
	"rollcall/internal/session"
	"rollcall/internal/token"
)

// Outcome is the caller-facing verdict of a verification request.
type Outcome string

const (
	OutcomeRecorded      Outcome = "recorded"
	OutcomeAlreadyMarked Outcome = "already_marked"
	OutcomeNoMatch       Outcome = "no_match"
)

// Result is the response envelope shared by the face and QR paths.
type Result struct {
	Outcome    Outcome       `json:"outcome"`
	IdentityID string        `json:"identity_id,omitempty"`
	Score      *float64      `json:"score,omitempty"`
	Status     ledger.Status `json:"status,omitempty"`
	Event      *ledger.Event `json:"event,omitempty"`
}

// Service is the verification facade.
type Service struct {
	identities *identity.Service
	engine     match.Engine
	classifier classify.Classifier
	ledger     ledger.Repository
	sessions   *session.Manager
	codec      *token.Codec
	loc        *time.Location
	now        func() time.Time
}

// NewService wires the facade.
func NewService(ids *identity.Service, engine match.Engine, cls classify.Classifier,
	led ledger.Repository, sessions *session.Manager, codec *token.Codec, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		identities: ids,
		engine:     engine,
		classifier: cls,
		ledger:     led,
		sessions:   sessions,
		codec:      codec,
		loc:        loc,
		now:        time.Now,
	}
}

// WithClock overrides the clock for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// VerifyFace runs the biometric path: match the probe against enrolled
// identities, classify the score, and record. A score below threshold is a
// normal no-match result, not an error.
func (s *Service) VerifyFace(ctx context.Context, probe []float64, subject string, sessionID *string) (Result, error) {
	if len(probe) == 0 || subject == "" {
		return Result{}, fmt.Errorf("probe descriptor and subject required")
	}

	candidates, err := s.identities.EligibleCandidates(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load candidates: %w", err)
	}

	best, ok := s.engine.Match(probe, candidates)
	if !ok {
		metrics.Verifications.WithLabelValues(string(ledger.MethodBiometric), string(OutcomeNoMatch)).Inc()
		return Result{Outcome: OutcomeNoMatch}, nil
	}
	status, ok := s.classifier.ByScore(best.Score)
	if !ok {
		metrics.Verifications.WithLabelValues(string(ledger.MethodBiometric), string(OutcomeNoMatch)).Inc()
		return Result{Outcome: OutcomeNoMatch}, nil
	}
	metrics.MatchScores.Observe(best.Score)

	now := s.now()
	score := best.Score
	evt := ledger.Event{
		IdentityID: best.IdentityID,
		Subject:    subject,
		Day:        ledger.DayOf(now, s.loc),
		SessionID:  sessionID,
		RecordedAt: now,
		Method:     ledger.MethodBiometric,
		Score:      &score,
		Status:     status,
	}
	recorded, err := s.ledger.Record(ctx, evt)
	return s.wrap(ledger.MethodBiometric, best.IdentityID, &score, status, recorded, err)
}

// ScanSession runs phase one of the QR path.
func (s *Service) ScanSession(ctx context.Context, payload string) (session.Session, error) {
	return s.sessions.ScanSession(ctx, payload)
}

// ScanIdentity runs phase two of the QR path with an already-resolved
// identity id.
func (s *Service) ScanIdentity(ctx context.Context, sessionID, identityID string) (Result, error) {
	if _, err := s.identities.Get(ctx, identityID); err != nil {
		return Result{}, err
	}
	recorded, err := s.sessions.ScanIdentity(ctx, sessionID, identityID)
	return s.wrap(ledger.MethodToken, identityID, nil, recorded.Status, recorded, err)
}

// ScanIdentityPayload runs phase two from a decoded personal token payload.
func (s *Service) ScanIdentityPayload(ctx context.Context, sessionID, payload string) (Result, error) {
	tok, err := s.codec.Decode(payload)
	if err != nil {
		return Result{}, err
	}
	if tok.Kind != token.KindIdentity {
		return Result{}, fmt.Errorf("%w: expected identity payload", token.ErrInvalidPayload)
	}
	return s.ScanIdentity(ctx, sessionID, tok.IdentityID)
}

func (s *Service) wrap(method ledger.Method, identityID string, score *float64, status ledger.Status, evt ledger.Event, err error) (Result, error) {
	if err != nil {
		if errors.Is(err, ledger.ErrAlreadyMarked) {
			metrics.Verifications.WithLabelValues(string(method), string(OutcomeAlreadyMarked)).Inc()
			return Result{
				Outcome:    OutcomeAlreadyMarked,
				IdentityID: identityID,
				Score:      score,
				Status:     evt.Status,
				Event:      &evt,
			}, nil
		}
		return Result{}, err
	}
	metrics.Verifications.WithLabelValues(string(method), string(OutcomeRecorded)).Inc()
	return Result{
		Outcome:    OutcomeRecorded,
		IdentityID: identityID,
		Score:      score,
		Status:     status,
		Event:      &evt,
	}, nil
}
