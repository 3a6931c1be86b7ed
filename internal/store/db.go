package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB creates a Postgres connection, applies the schema, and verifies
// connectivity.
func NewDB(connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &DB{Client: db}, nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS identities (
		id          UUID PRIMARY KEY,
		name        TEXT NOT NULL,
		roll_code   TEXT UNIQUE NOT NULL,
		enrolled_at TIMESTAMPTZ,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS descriptors (
		id          UUID PRIMARY KEY,
		identity_id UUID NOT NULL REFERENCES identities(id),
		vector      JSONB NOT NULL,
		quality     DOUBLE PRECISION NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_descriptors_identity ON descriptors(identity_id);

	CREATE TABLE IF NOT EXISTS sessions (
		id               UUID PRIMARY KEY,
		subject          TEXT NOT NULL,
		creator_id       TEXT NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL,
		expires_at       TIMESTAMPTZ NOT NULL,
		late_threshold   BIGINT NOT NULL,
		allow_late_entry BOOLEAN NOT NULL DEFAULT TRUE,
		capacity         INT NOT NULL DEFAULT 0,
		ended            BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS attendance_events (
		id          UUID PRIMARY KEY,
		identity_id UUID NOT NULL REFERENCES identities(id),
		subject     TEXT NOT NULL,
		day         TEXT NOT NULL,
		session_id  UUID REFERENCES sessions(id),
		recorded_at TIMESTAMPTZ NOT NULL,
		method      TEXT NOT NULL,
		score       DOUBLE PRECISION,
		status      TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_attendance_dedup
		ON attendance_events(identity_id, subject, day);
	CREATE INDEX IF NOT EXISTS idx_attendance_session ON attendance_events(session_id);
	CREATE INDEX IF NOT EXISTS idx_attendance_day ON attendance_events(day);

	CREATE TABLE IF NOT EXISTS attendance_summary (
		identity_id UUID PRIMARY KEY REFERENCES identities(id),
		total       INT NOT NULL DEFAULT 0,
		last_seen   TIMESTAMPTZ
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
