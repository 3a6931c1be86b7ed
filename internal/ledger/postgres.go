package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresRepository persists attendance events in Postgres. The dedup key
// is enforced by a unique index over (identity_id, subject, day), so the
// check-and-insert is a single statement.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Record inserts evt unless the dedup key is taken; on a hit the existing
// event comes back with ErrAlreadyMarked. Insert and summary bump share one
// transaction.
func (r *PostgresRepository) Record(ctx context.Context, evt Event) (Event, error) {
	return r.record(ctx, evt, 0)
}

// RecordInSession additionally enforces session capacity under a row lock on
// the session, so concurrent scans cannot jointly exceed it.
func (r *PostgresRepository) RecordInSession(ctx context.Context, evt Event, capacity int) (Event, error) {
	return r.record(ctx, evt, capacity)
}

func (r *PostgresRepository) record(ctx context.Context, evt Event, capacity int) (Event, error) {
	prepareEvent(&evt)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Event{}, err
	}
	defer tx.Rollback()

	if existing, err := r.findExisting(ctx, tx, evt); err != nil {
		return Event{}, err
	} else if existing != nil {
		return *existing, ErrAlreadyMarked
	}

	if capacity > 0 && evt.SessionID != nil {
		// Lock the session row so the count below cannot race a concurrent
		// scan into the same session.
		var locked string
		if err := tx.QueryRowContext(ctx,
			`SELECT id FROM sessions WHERE id = $1 FOR UPDATE`, *evt.SessionID,
		).Scan(&locked); err != nil {
			return Event{}, fmt.Errorf("lock session: %w", err)
		}
		var count int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM attendance_events WHERE session_id = $1`, *evt.SessionID,
		).Scan(&count); err != nil {
			return Event{}, err
		}
		if count >= capacity {
			return Event{}, ErrCapacityExceeded
		}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO attendance_events (id, identity_id, subject, day, session_id, recorded_at, method, score, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (identity_id, subject, day) DO NOTHING
	`, evt.ID, evt.IdentityID, evt.Subject, evt.Day, evt.SessionID, evt.RecordedAt, evt.Method, evt.Score, evt.Status)
	if err != nil {
		return Event{}, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return Event{}, err
	} else if n == 0 {
		// Lost a race against a concurrent insert for the same key.
		existing, err := r.findExisting(ctx, tx, evt)
		if err != nil {
			return Event{}, err
		}
		if existing == nil {
			return Event{}, fmt.Errorf("dedup conflict but no existing event for %s/%s/%s", evt.IdentityID, evt.Subject, evt.Day)
		}
		return *existing, ErrAlreadyMarked
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO attendance_summary (identity_id, total, last_seen)
		VALUES ($1, 1, $2)
		ON CONFLICT (identity_id) DO UPDATE SET
			total = attendance_summary.total + 1,
			last_seen = EXCLUDED.last_seen
	`, evt.IdentityID, evt.RecordedAt); err != nil {
		return Event{}, fmt.Errorf("update summary: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Event{}, err
	}
	return evt, nil
}

func prepareEvent(evt *Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.RecordedAt.IsZero() {
		evt.RecordedAt = time.Now().UTC()
	}
	if evt.Day == "" {
		evt.Day = DayOf(evt.RecordedAt, time.UTC)
	}
}

func (r *PostgresRepository) findExisting(ctx context.Context, tx *sql.Tx, evt Event) (*Event, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, identity_id, subject, day, session_id, recorded_at, method, score, status
		FROM attendance_events
		WHERE identity_id = $1 AND subject = $2 AND day = $3
	`, evt.IdentityID, evt.Subject, evt.Day)
	var existing Event
	if err := row.Scan(&existing.ID, &existing.IdentityID, &existing.Subject, &existing.Day,
		&existing.SessionID, &existing.RecordedAt, &existing.Method, &existing.Score, &existing.Status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &existing, nil
}

// Query returns events matching the filter, newest first.
func (r *PostgresRepository) Query(ctx context.Context, f Filter) ([]Event, error) {
	query := `SELECT id, identity_id, subject, day, session_id, recorded_at, method, score, status FROM attendance_events`
	where, args := filterClauses(f)
	query += where + " ORDER BY recorded_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Event
	for rows.Next() {
		var evt Event
		if err := rows.Scan(&evt.ID, &evt.IdentityID, &evt.Subject, &evt.Day,
			&evt.SessionID, &evt.RecordedAt, &evt.Method, &evt.Score, &evt.Status); err != nil {
			return nil, err
		}
		res = append(res, evt)
	}
	return res, rows.Err()
}

// CountBySession returns how many events a session has generated.
func (r *PostgresRepository) CountBySession(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attendance_events WHERE session_id = $1`, sessionID,
	).Scan(&count)
	return count, err
}

// Summary returns the per-identity attendance projection.
func (r *PostgresRepository) Summary(ctx context.Context, identityID string) (Summary, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT identity_id, total, last_seen FROM attendance_summary WHERE identity_id = $1
	`, identityID)
	var s Summary
	if err := row.Scan(&s.IdentityID, &s.Total, &s.LastSeen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Summary{IdentityID: identityID}, nil
		}
		return Summary{}, err
	}
	return s, nil
}

// Purge deletes events matching the filter and reports the count removed.
func (r *PostgresRepository) Purge(ctx context.Context, f Filter) (int64, error) {
	where, args := filterClauses(f)
	if where == "" {
		return 0, fmt.Errorf("purge requires at least one filter")
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM attendance_events`+where, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func filterClauses(f Filter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(col string, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("subject", f.Subject)
	add("day", f.Day)
	add("identity_id", f.IdentityID)
	add("session_id", f.SessionID)
	if len(clauses) == 0 {
		return "", nil
	}
	where := " WHERE " + clauses[0]
	for _, c := range clauses[1:] {
		where += " AND " + c
	}
	return where, args
}
