package voiceover

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the voiceovers table. Execute it via
// [PostgresRepository.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS voiceovers (
    id               UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    profile_id       UUID NOT NULL REFERENCES profiles(id),
    text_input       TEXT NOT NULL,
    voice_id         TEXT NOT NULL,
    audio_url        TEXT NOT NULL,
    duration_seconds INTEGER NOT NULL DEFAULT 0,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_voiceovers_profile_created
    ON voiceovers(profile_id, created_at DESC);
`

// DB is the database interface used by [PostgresRepository]. Both
// *pgxpool.Pool and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresRepository is a [Repository] backed by a PostgreSQL database.
type PostgresRepository struct {
	db DB
}

// Compile-time interface check.
var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a new [PostgresRepository] that uses the
// given database connection or pool.
func NewPostgresRepository(db DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Migrate executes the [Schema] DDL against the database. The profiles
// table must exist first because of the foreign key.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	_, err := r.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("voiceover: migrate: %w", err)
	}
	return nil
}

// Create implements [Repository].
func (r *PostgresRepository) Create(ctx context.Context, rec *Record) error {
	if rec.ProfileID == "" {
		return fmt.Errorf("%w: profile id must not be empty", ErrPersistFailed)
	}

	const query = `
		INSERT INTO voiceovers (profile_id, text_input, voice_id, audio_url, duration_seconds)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query,
		rec.ProfileID, rec.TextInput, rec.VoiceID, rec.AudioURL, rec.DurationSeconds,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: create: %v", ErrPersistFailed, err)
	}
	return nil
}

// ListRecent implements [Repository].
func (r *PostgresRepository) ListRecent(ctx context.Context, profileID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}

	const query = `
		SELECT id, profile_id, text_input, voice_id, audio_url, duration_seconds, created_at
		FROM voiceovers
		WHERE profile_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, profileID, limit)
	if err != nil {
		return nil, fmt.Errorf("voiceover: list recent: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.ID, &rec.ProfileID, &rec.TextInput, &rec.VoiceID,
			&rec.AudioURL, &rec.DurationSeconds, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("voiceover: list scan: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("voiceover: list recent: %w", err)
	}
	return recs, nil
}
