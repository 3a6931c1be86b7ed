// Package session owns the QR attendance session state machine and the
// two-phase scan protocol.
package session

import (
	"context"
	"errors"
	"time"
)

// State of a session. Expiry is computed on read against the clock, never
// stored, so a session that was never explicitly ended still expires.
type State string

const (
	StateActive  State = "active"
	StateExpired State = "expired"
	StateEnded   State = "ended"
)

// Expected domain outcomes, matched with errors.Is.
var (
	ErrNotFound            = errors.New("session not found")
	ErrExpired             = errors.New("session expired")
	ErrEnded               = errors.New("session ended")
	ErrLateEntryDisallowed = errors.New("late entry not allowed for this session")
)

// Session is one QR attendance window. Sessions accept scans from creation
// until they expire or are explicitly ended; both terminal states are final.
type Session struct {
	ID             string        `json:"id"`
	Subject        string        `json:"subject"`
	CreatorID      string        `json:"creator_id"`
	CreatedAt      time.Time     `json:"created_at"`
	ExpiresAt      time.Time     `json:"expires_at"`
	LateThreshold  time.Duration `json:"late_threshold"`
	AllowLateEntry bool          `json:"allow_late_entry"`
	// Capacity caps attendees; 0 means unlimited.
	Capacity int  `json:"capacity,omitempty"`
	Ended    bool `json:"ended"`
}

// StateAt evaluates the session's state at the given instant.
func (s Session) StateAt(now time.Time) State {
	if s.Ended {
		return StateEnded
	}
	if now.After(s.ExpiresAt) {
		return StateExpired
	}
	return StateActive
}

// Repository persists sessions.
type Repository interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, sessionID string) (Session, error)
	// ListActive returns sessions neither ended nor expired at now.
	ListActive(ctx context.Context, now time.Time) ([]Session, error)
	// End marks the session terminally closed.
	End(ctx context.Context, sessionID string) error
}
