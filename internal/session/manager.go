package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/classify"
	"rollcall/internal/ledger"
	"rollcall/internal/token"
)

// Defaults applied when a creation request leaves fields unset.
type Defaults struct {
	Duration      time.Duration
	LateThreshold time.Duration
}

// Manager drives the session lifecycle and the two-phase scan protocol.
type Manager struct {
	repo     Repository
	ledger   ledger.Repository
	codec    *token.Codec
	defaults Defaults
	loc      *time.Location
	now      func() time.Time
}

// NewManager wires the session manager. loc determines the calendar day used
// for the ledger dedup key.
func NewManager(repo Repository, led ledger.Repository, codec *token.Codec, defaults Defaults, loc *time.Location) *Manager {
	if loc == nil {
		loc = time.UTC
	}
	return &Manager{
		repo:     repo,
		ledger:   led,
		codec:    codec,
		defaults: defaults,
		loc:      loc,
		now:      time.Now,
	}
}

// WithClock overrides the clock; tests use this to drive expiry and lateness.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// CreateParams describes a new session.
type CreateParams struct {
	Subject        string
	CreatorID      string
	Duration       time.Duration
	LateThreshold  time.Duration
	AllowLateEntry bool
	Capacity       int
}

// Create opens a session, immediately active and accepting scans, and
// returns it along with its signed scan payload.
func (m *Manager) Create(ctx context.Context, p CreateParams) (Session, string, error) {
	if p.Subject == "" {
		return Session{}, "", fmt.Errorf("subject required")
	}
	if p.Duration <= 0 {
		p.Duration = m.defaults.Duration
	}
	if p.LateThreshold <= 0 {
		p.LateThreshold = m.defaults.LateThreshold
	}

	now := m.now()
	s := Session{
		ID:             uuid.NewString(),
		Subject:        p.Subject,
		CreatorID:      p.CreatorID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(p.Duration),
		LateThreshold:  p.LateThreshold,
		AllowLateEntry: p.AllowLateEntry,
		Capacity:       p.Capacity,
	}
	if err := m.repo.Create(ctx, s); err != nil {
		return Session{}, "", fmt.Errorf("create session: %w", err)
	}
	payload, err := m.codec.SessionPayload(s.ID, s.Subject)
	if err != nil {
		return Session{}, "", err
	}
	return s, payload, nil
}

// ScanSession is phase one: validate a decoded session payload and return
// the session so the caller can prompt for the identity scan. Nothing is
// written to the ledger here.
func (m *Manager) ScanSession(ctx context.Context, payload string) (Session, error) {
	tok, err := m.codec.Decode(payload)
	if err != nil {
		return Session{}, err
	}
	if tok.Kind != token.KindSession {
		return Session{}, fmt.Errorf("%w: expected session payload", token.ErrInvalidPayload)
	}
	return m.liveSession(ctx, tok.SessionID)
}

// ScanIdentity is phase two: re-validate liveness and capacity, classify
// lateness by elapsed time, and record through the ledger. A dedup hit comes
// back as the existing event with ledger.ErrAlreadyMarked.
func (m *Manager) ScanIdentity(ctx context.Context, sessionID, identityID string) (ledger.Event, error) {
	s, err := m.liveSession(ctx, sessionID)
	if err != nil {
		return ledger.Event{}, err
	}

	now := m.now()
	status := classify.ByElapsed(s.CreatedAt, now, s.LateThreshold)
	if status == ledger.StatusLate && !s.AllowLateEntry {
		return ledger.Event{}, ErrLateEntryDisallowed
	}

	sid := s.ID
	evt := ledger.Event{
		IdentityID: identityID,
		Subject:    s.Subject,
		Day:        ledger.DayOf(now, m.loc),
		SessionID:  &sid,
		RecordedAt: now,
		Method:     ledger.MethodToken,
		Status:     status,
	}
	return m.ledger.RecordInSession(ctx, evt, s.Capacity)
}

func (m *Manager) liveSession(ctx context.Context, sessionID string) (Session, error) {
	s, err := m.repo.Get(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	switch s.StateAt(m.now()) {
	case StateEnded:
		return Session{}, ErrEnded
	case StateExpired:
		return Session{}, ErrExpired
	}
	return s, nil
}

// End closes a session; the transition is one-way.
func (m *Manager) End(ctx context.Context, sessionID string) error {
	if _, err := m.repo.Get(ctx, sessionID); err != nil {
		return err
	}
	return m.repo.End(ctx, sessionID)
}

// Active lists sessions currently accepting scans.
func (m *Manager) Active(ctx context.Context) ([]Session, error) {
	return m.repo.ListActive(ctx, m.now())
}

// Stats summarizes a session's attendance.
type Stats struct {
	Session        Session `json:"session"`
	TotalAttendees int     `json:"total_attendees"`
	PresentCount   int     `json:"present_count"`
	LateCount      int     `json:"late_count"`
	// AttendanceRate is attendees over capacity as a percentage; 100 when
	// the session is uncapped.
	AttendanceRate float64 `json:"attendance_rate"`
	// AverageArrivalMinutes is the mean scan delay from session start.
	AverageArrivalMinutes float64 `json:"average_arrival_minutes"`
}

// Stats computes attendance statistics for one session.
func (m *Manager) Stats(ctx context.Context, sessionID string) (Stats, error) {
	s, err := m.repo.Get(ctx, sessionID)
	if err != nil {
		return Stats{}, err
	}
	events, err := m.ledger.Query(ctx, ledger.Filter{SessionID: s.ID})
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Session: s, TotalAttendees: len(events), AttendanceRate: 100}
	var arrivalSum float64
	for _, evt := range events {
		switch evt.Status {
		case ledger.StatusPresent:
			stats.PresentCount++
		case ledger.StatusLate:
			stats.LateCount++
		}
		arrivalSum += evt.RecordedAt.Sub(s.CreatedAt).Minutes()
	}
	if len(events) > 0 {
		stats.AverageArrivalMinutes = arrivalSum / float64(len(events))
	}
	if s.Capacity > 0 {
		stats.AttendanceRate = float64(len(events)) / float64(s.Capacity) * 100
	}
	return stats, nil
}
