package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresRepository persists sessions in Postgres. Late thresholds are
// stored as nanoseconds so time.Duration round-trips exactly.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a session.
func (r *PostgresRepository) Create(ctx context.Context, s Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, subject, creator_id, created_at, expires_at, late_threshold, allow_late_entry, capacity, ended)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, s.ID, s.Subject, s.CreatorID, s.CreatedAt, s.ExpiresAt, int64(s.LateThreshold), s.AllowLateEntry, s.Capacity, s.Ended)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Get returns a single session by id.
func (r *PostgresRepository) Get(ctx context.Context, sessionID string) (Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, subject, creator_id, created_at, expires_at, late_threshold, allow_late_entry, capacity, ended
		FROM sessions WHERE id = $1
	`, sessionID)
	var (
		s         Session
		threshold int64
	)
	if err := row.Scan(&s.ID, &s.Subject, &s.CreatorID, &s.CreatedAt, &s.ExpiresAt,
		&threshold, &s.AllowLateEntry, &s.Capacity, &s.Ended); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	s.LateThreshold = time.Duration(threshold)
	return s, nil
}

// ListActive returns sessions neither ended nor expired at now.
func (r *PostgresRepository) ListActive(ctx context.Context, now time.Time) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, subject, creator_id, created_at, expires_at, late_threshold, allow_late_entry, capacity, ended
		FROM sessions
		WHERE ended = FALSE AND expires_at >= $1
		ORDER BY created_at DESC
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Session
	for rows.Next() {
		var (
			s         Session
			threshold int64
		)
		if err := rows.Scan(&s.ID, &s.Subject, &s.CreatorID, &s.CreatedAt, &s.ExpiresAt,
			&threshold, &s.AllowLateEntry, &s.Capacity, &s.Ended); err != nil {
			return nil, err
		}
		s.LateThreshold = time.Duration(threshold)
		res = append(res, s)
	}
	return res, rows.Err()
}

// End marks the session ended; the transition is one-way.
func (r *PostgresRepository) End(ctx context.Context, sessionID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE sessions SET ended = TRUE WHERE id = $1`, sessionID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
