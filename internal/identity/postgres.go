package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresRepository persists identities and descriptors in Postgres.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new identity.
func (r *PostgresRepository) Create(ctx context.Context, id Identity) (Identity, error) {
	if id.ID == "" {
		id.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO identities (id, name, roll_code)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, id.ID, id.Name, id.RollCode)
	if err := row.Scan(&id.CreatedAt); err != nil {
		return Identity{}, fmt.Errorf("insert identity: %w", err)
	}
	return id, nil
}

// Get returns a single identity by id.
func (r *PostgresRepository) Get(ctx context.Context, identityID string) (Identity, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, roll_code, enrolled_at, created_at
		FROM identities WHERE id = $1
	`, identityID)
	return scanIdentity(row)
}

// GetByRollCode returns a single identity by its external roll code.
func (r *PostgresRepository) GetByRollCode(ctx context.Context, rollCode string) (Identity, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, roll_code, enrolled_at, created_at
		FROM identities WHERE roll_code = $1
	`, rollCode)
	return scanIdentity(row)
}

func scanIdentity(row *sql.Row) (Identity, error) {
	var id Identity
	if err := row.Scan(&id.ID, &id.Name, &id.RollCode, &id.EnrolledAt, &id.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Identity{}, ErrNotFound
		}
		return Identity{}, err
	}
	return id, nil
}

// List returns all identities ordered by roll code.
func (r *PostgresRepository) List(ctx context.Context) ([]Identity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, roll_code, enrolled_at, created_at
		FROM identities
		ORDER BY roll_code
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Identity
	for rows.Next() {
		var id Identity
		if err := rows.Scan(&id.ID, &id.Name, &id.RollCode, &id.EnrolledAt, &id.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}

// Descriptors returns the enrolled descriptors for an identity.
func (r *PostgresRepository) Descriptors(ctx context.Context, identityID string) ([]Descriptor, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT vector, quality
		FROM descriptors
		WHERE identity_id = $1
		ORDER BY created_at
	`, identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Descriptor
	for rows.Next() {
		d, err := scanDescriptor(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func scanDescriptor(rows *sql.Rows) (Descriptor, error) {
	var (
		d   Descriptor
		raw []byte
	)
	if err := rows.Scan(&raw, &d.Quality); err != nil {
		return Descriptor{}, err
	}
	if err := json.Unmarshal(raw, &d.Vector); err != nil {
		return Descriptor{}, fmt.Errorf("decode descriptor vector: %w", err)
	}
	return d, nil
}

// SaveDescriptors appends (or replaces) an identity's descriptor set and
// stamps enrolled_at, all in one transaction.
func (r *PostgresRepository) SaveDescriptors(ctx context.Context, identityID string, ds []Descriptor, replace bool) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if replace {
		if _, err := tx.ExecContext(ctx, `DELETE FROM descriptors WHERE identity_id = $1`, identityID); err != nil {
			return err
		}
	}
	for _, d := range ds {
		raw, err := json.Marshal(d.Vector)
		if err != nil {
			return fmt.Errorf("encode descriptor vector: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO descriptors (id, identity_id, vector, quality)
			VALUES ($1, $2, $3, $4)
		`, uuid.NewString(), identityID, raw, d.Quality); err != nil {
			return err
		}
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE identities SET enrolled_at = $2 WHERE id = $1
	`, identityID, time.Now().UTC())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// Candidates loads every identity with its descriptors in one pass.
func (r *PostgresRepository) Candidates(ctx context.Context) ([]Candidate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT identity_id, vector, quality
		FROM descriptors
		ORDER BY identity_id, created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		res []Candidate
		cur *Candidate
	)
	for rows.Next() {
		var (
			identityID string
			raw        []byte
			d          Descriptor
		)
		if err := rows.Scan(&identityID, &raw, &d.Quality); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &d.Vector); err != nil {
			return nil, fmt.Errorf("decode descriptor vector: %w", err)
		}
		if cur == nil || cur.IdentityID != identityID {
			res = append(res, Candidate{IdentityID: identityID})
			cur = &res[len(res)-1]
		}
		cur.Descriptors = append(cur.Descriptors, d)
	}
	return res, rows.Err()
}
