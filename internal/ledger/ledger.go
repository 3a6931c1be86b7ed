// Package ledger is the single source of truth for attendance events. Both
// verification channels write through it; the (identity, subject, day) dedup
// key guarantees at most one event per identity per subject per calendar day.
package ledger

import (
	"context"
	"errors"
	"time"
)

// Method is the verification channel that produced an event.
type Method string

const (
	MethodBiometric Method = "biometric"
	MethodToken     Method = "token"
	MethodManual    Method = "manual"
)

// Status is the derived attendance status.
type Status string

const (
	StatusPresent Status = "present"
	StatusLate    Status = "late"
	StatusAbsent  Status = "absent"
)

// Expected domain outcomes, matched with errors.Is.
var (
	// ErrAlreadyMarked is the dedup hit. It is returned alongside the
	// existing event so callers can show "already marked" instead of failing.
	ErrAlreadyMarked = errors.New("attendance already marked")
	// ErrCapacityExceeded is returned when a session-scoped record would
	// push the session past its attendee capacity.
	ErrCapacityExceeded = errors.New("session capacity exceeded")
)

// Event is one immutable attendance record. Events are created once and
// removed only by explicit administrative purge.
type Event struct {
	ID         string    `json:"id"`
	IdentityID string    `json:"identity_id"`
	Subject    string    `json:"subject"`
	Day        string    `json:"day"`
	SessionID  *string   `json:"session_id,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
	Method     Method    `json:"method"`
	Score      *float64  `json:"score,omitempty"`
	Status     Status    `json:"status"`
}

// Summary is the per-identity projection bumped in the same atomic unit as
// each successful insert.
type Summary struct {
	IdentityID string     `json:"identity_id"`
	Total      int        `json:"total"`
	LastSeen   *time.Time `json:"last_seen,omitempty"`
}

// Filter narrows Query and Purge. Zero-value fields are ignored.
type Filter struct {
	Subject    string
	Day        string
	IdentityID string
	SessionID  string
}

// Repository performs the atomic check-and-insert and the read paths.
type Repository interface {
	// Record inserts the event unless the (identity, subject, day) key is
	// taken. On a dedup hit it returns the existing event and
	// ErrAlreadyMarked. The check and the insert are one atomic operation,
	// and the summary projection is updated in the same unit.
	Record(ctx context.Context, evt Event) (Event, error)

	// RecordInSession behaves like Record but additionally enforces the
	// session's attendee capacity (0 means unlimited) atomically with the
	// insert. The dedup check runs before the capacity check.
	RecordInSession(ctx context.Context, evt Event, capacity int) (Event, error)

	Query(ctx context.Context, f Filter) ([]Event, error)
	CountBySession(ctx context.Context, sessionID string) (int, error)
	Summary(ctx context.Context, identityID string) (Summary, error)

	// Purge is the only deletion path; it is administrative and explicit.
	Purge(ctx context.Context, f Filter) (int64, error)
}

// DayOf formats t's calendar day in loc; this is the third leg of the dedup
// key.
func DayOf(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}
