package profilestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/portalAuth/profile"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Open opens a lib/pq connection pool. sql.Open does not dial; callers Ping.
func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// Postgres stores one row per user id in the profiles table. The role payload lives
// in a JSONB column decoded according to the row's role.
type Postgres struct {
	db  *sql.DB
	now nowFunc
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, now: time.Now}
}

const selectProfile = `SELECT id, user_id, email, display_name, phone, role, skills,
	linkedin, github, portfolio, details, created_at, updated_at
	FROM profiles WHERE user_id = $1`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*profile.Profile, error) {
	var (
		p       profile.Profile
		role    string
		skills  []string
		details []byte
	)
	err := row.Scan(&p.ID, &p.UserID, &p.Email, &p.DisplayName, &p.Phone, &role,
		pq.Array(&skills), &p.Links.LinkedIn, &p.Links.GitHub, &p.Links.Portfolio,
		&details, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	p.Role = profile.Role(role)
	p.Skills = skills
	p.Details, err = profile.DecodeDetails(p.Role, details)
	if err != nil {
		return nil, fmt.Errorf("decode profile details: %w", err)
	}
	return &p, nil
}

func (s *Postgres) Get(ctx context.Context, userID string) (*profile.Profile, error) {
	p, err := scanProfile(s.db.QueryRowContext(ctx, selectProfile, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, profile.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", profile.ErrStoreUnavailable, err)
	}
	return p, nil
}

// Upsert locks the existing row, merges patch in Go and writes the result back with
// INSERT ... ON CONFLICT. Two first-time upserts for the same id race on the insert;
// the later one overwrites the fields but keeps the row id and creation time.
func (s *Postgres) Upsert(ctx context.Context, userID, email string, patch profile.Patch) (*profile.Profile, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %w", profile.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	current, err := scanProfile(tx.QueryRowContext(ctx, selectProfile+" FOR UPDATE", userID))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		current = seed(uuid.NewString(), userID, email, patch, s.now)
	case err != nil:
		return nil, fmt.Errorf("%w: %w", profile.ErrStoreUnavailable, err)
	}

	if err := current.Apply(patch, s.now()); err != nil {
		return nil, err
	}

	details, err := json.Marshal(current.Details)
	if err != nil {
		return nil, fmt.Errorf("encode profile details: %w", err)
	}

	err = tx.QueryRowContext(ctx,
		`INSERT INTO profiles (id, user_id, email, display_name, phone, role, skills,
			linkedin, github, portfolio, details, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (user_id) DO UPDATE SET
			email = EXCLUDED.email,
			display_name = EXCLUDED.display_name,
			phone = EXCLUDED.phone,
			role = EXCLUDED.role,
			skills = EXCLUDED.skills,
			linkedin = EXCLUDED.linkedin,
			github = EXCLUDED.github,
			portfolio = EXCLUDED.portfolio,
			details = EXCLUDED.details,
			updated_at = EXCLUDED.updated_at
		 RETURNING id, created_at`,
		current.ID, current.UserID, current.Email, current.DisplayName, current.Phone,
		string(current.Role), pq.Array(current.Skills), current.Links.LinkedIn,
		current.Links.GitHub, current.Links.Portfolio, details,
		current.CreatedAt, current.UpdatedAt,
	).Scan(&current.ID, &current.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: upsert: %w", profile.ErrStoreUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %w", profile.ErrStoreUnavailable, err)
	}
	return current, nil
}

func (s *Postgres) Delete(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("%w: %w", profile.ErrStoreUnavailable, err)
	}
	return nil
}

var _ Store = (*Postgres)(nil)
