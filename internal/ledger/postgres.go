package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the profiles table. Execute it via
// [PostgresLedger.Migrate] or apply it manually during deployment.
//
// The CHECK constraint is the last line of defence; the Debit statement
// never relies on it because the conditional decrement already refuses to
// go below zero.
const Schema = `
CREATE TABLE IF NOT EXISTS profiles (
    id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    user_id    TEXT NOT NULL UNIQUE,
    name       TEXT NOT NULL DEFAULT '',
    email      TEXT NOT NULL DEFAULT '',
    plan       TEXT NOT NULL DEFAULT 'free',
    credits    INTEGER NOT NULL DEFAULT 50 CHECK (credits >= 0),
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_profiles_email ON profiles(email);
`

// DB is the database interface used by [PostgresLedger]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresLedger is a [Ledger] backed by a PostgreSQL database.
type PostgresLedger struct {
	db DB
}

// Compile-time interface check.
var _ Ledger = (*PostgresLedger)(nil)

// NewPostgresLedger creates a new [PostgresLedger] that uses the given
// database connection or pool. The caller is responsible for calling
// [PostgresLedger.Migrate] to ensure the schema exists before issuing
// queries.
func NewPostgresLedger(db DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// Migrate executes the [Schema] DDL against the database, creating the
// profiles table and indexes if they do not already exist.
func (l *PostgresLedger) Migrate(ctx context.Context) error {
	_, err := l.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("ledger: migrate: %w", err)
	}
	return nil
}

// CreateProfile inserts a new profile. A zero Credits value is replaced by
// the signup grant, and an empty plan defaults to free. Returns an error if
// a profile for the same user already exists.
func (l *PostgresLedger) CreateProfile(ctx context.Context, p *Profile) error {
	if p.UserID == "" {
		return errors.New("ledger: user id must not be empty")
	}
	plan := p.Plan
	if plan == "" {
		plan = PlanFree
	}
	if !plan.IsValid() {
		return fmt.Errorf("ledger: unknown plan %q", plan)
	}
	credits := p.Credits
	if credits == 0 {
		credits = DefaultSignupCredits
	}

	const query = `
		INSERT INTO profiles (user_id, name, email, plan, credits)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	err := l.db.QueryRow(ctx, query, p.UserID, p.Name, p.Email, string(plan), credits).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("ledger: profile for user %q already exists", p.UserID)
		}
		return fmt.Errorf("ledger: create profile: %w", err)
	}
	p.Plan = plan
	p.Credits = credits
	return nil
}

// Profile retrieves the full profile for the user. Returns
// ErrProfileNotFound when no profile exists.
func (l *PostgresLedger) Profile(ctx context.Context, userID string) (*Profile, error) {
	const query = `
		SELECT id, user_id, name, email, plan, credits, created_at, updated_at
		FROM profiles
		WHERE user_id = $1`

	var p Profile
	var plan string
	err := l.db.QueryRow(ctx, query, userID).Scan(
		&p.ID, &p.UserID, &p.Name, &p.Email, &plan, &p.Credits, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("ledger: profile %q: %w", userID, err)
	}
	p.Plan = Plan(plan)
	return &p, nil
}

// Balance implements [Ledger].
func (l *PostgresLedger) Balance(ctx context.Context, userID string) (Balance, error) {
	const query = `SELECT id, credits, plan FROM profiles WHERE user_id = $1`

	var b Balance
	var plan string
	err := l.db.QueryRow(ctx, query, userID).Scan(&b.ProfileID, &b.Credits, &plan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{}, ErrProfileNotFound
		}
		return Balance{}, fmt.Errorf("ledger: balance %q: %w", userID, err)
	}
	b.Plan = Plan(plan)
	return b, nil
}

// Debit implements [Ledger]. The check and the decrement are one statement:
// a request racing another past its balance loses here, not at the earlier
// read-only quota check.
func (l *PostgresLedger) Debit(ctx context.Context, userID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("ledger: debit amount %d must be positive", amount)
	}

	const query = `
		UPDATE profiles
		SET credits = credits - $2, updated_at = now()
		WHERE user_id = $1 AND credits >= $2
		RETURNING credits`

	var remaining int
	err := l.db.QueryRow(ctx, query, userID, amount).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("ledger: debit %q: %w", userID, err)
	}

	// No row matched: either the profile is missing or the balance is short.
	if _, berr := l.Balance(ctx, userID); berr != nil {
		return 0, berr
	}
	return 0, ErrInsufficientCredits
}

// Credit implements [Ledger].
func (l *PostgresLedger) Credit(ctx context.Context, userID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("ledger: credit amount %d must be positive", amount)
	}

	const query = `
		UPDATE profiles
		SET credits = credits + $2, updated_at = now()
		WHERE user_id = $1
		RETURNING credits`

	var balance int
	err := l.db.QueryRow(ctx, query, userID, amount).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrProfileNotFound
		}
		return 0, fmt.Errorf("ledger: credit %q: %w", userID, err)
	}
	return balance, nil
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
