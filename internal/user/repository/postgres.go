package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"ledgerguard/backend/internal/user/domain"
)

const userColumns = `id, email, name, password_hash, status, roles, is_locked, locked_at, lock_reason, created_at, updated_at`

// uniqueViolation is the Postgres SQLSTATE for unique_violation.
const uniqueViolation = "23505"

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an account repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByEmail returns the user with the given email, or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, domain.NormalizeEmail(email))
}

func (r *PostgresRepository) getOne(ctx context.Context, q string, arg any) (*domain.User, error) {
	var (
		u        domain.User
		status   string
		roles    string
		lockedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, q, arg).Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &status, &roles,
		&u.IsLocked, &lockedAt, &u.LockReason, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.Status = domain.UserStatus(status)
	u.Roles = domain.SplitRoles(roles)
	if lockedAt.Valid {
		t := lockedAt.Time.UTC()
		u.LockedAt = &t
	}
	return &u, nil
}

// Create persists the user to the database. The user must have ID set; it is not assigned by this method.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, password_hash, status, roles, is_locked, lock_reason, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, FALSE, '', $7, $8)`,
		u.ID, domain.NormalizeEmail(u.Email), u.Name, u.PasswordHash, string(u.Status), domain.JoinRoles(u.Roles),
		u.CreatedAt.UTC(), u.UpdatedAt.UTC(),
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateEmail
	}
	return err
}

func (r *PostgresRepository) UpdatePasswordHash(ctx context.Context, id, hash string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`, id, hash, at.UTC())
	return err
}

// Lock sets the lock only on an unlocked row, so concurrent lockers change it once.
func (r *PostgresRepository) Lock(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET is_locked = TRUE, locked_at = $2, lock_reason = $3, updated_at = $2
		 WHERE id = $1 AND NOT is_locked`,
		id, at.UTC(), reason)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *PostgresRepository) Unlock(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET is_locked = FALSE, locked_at = NULL, lock_reason = '', updated_at = $2 WHERE id = $1`,
		id, at.UTC())
	return err
}
