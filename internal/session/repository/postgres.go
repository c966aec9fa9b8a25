package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"ledgerguard/backend/internal/session/domain"
)

const sessionColumns = `id, user_id, ip_address, user_agent, created_at, expires_at, last_activity,
	idle_timeout_ms, status, invalidated_at, invalidation_reason`

// PostgresRepository stores sessions in the sessions table.
// Update takes a row lock (SELECT ... FOR UPDATE) inside a transaction.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the session to the database. The session must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.ID, s.UserID, s.IPAddress, s.UserAgent, s.CreatedAt.UTC(), s.ExpiresAt.UTC(), s.LastActivity.UTC(),
		s.IdleTimeout.Milliseconds(), string(s.Status), timeToNullTime(s.InvalidatedAt), s.InvalidationReason,
	)
	return err
}

// GetByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ListByUser returns all sessions for the user, newest first. Returns (nil, error) only on database errors.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*domain.Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Update locks the row, applies fn and writes the mutable columns back in the same transaction.
func (r *PostgresRepository) Update(ctx context.Context, id string, fn MutateFunc) (*domain.Session, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := scanSession(tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	next, changed, err := apply(cur, fn)
	if err != nil {
		return nil, err
	}
	if !changed {
		return cur, nil
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET last_activity = $2, status = $3, invalidated_at = $4, invalidation_reason = $5, user_agent = $6
		 WHERE id = $1`,
		id, next.LastActivity.UTC(), string(next.Status), timeToNullTime(next.InvalidatedAt), next.InvalidationReason, next.UserAgent,
	); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return next, nil
}

// InvalidateAll invalidates every active session for the user in one statement.
func (r *PostgresRepository) InvalidateAll(ctx context.Context, userID, reason string, at time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET status = $2, invalidated_at = $3, invalidation_reason = $4
		 WHERE user_id = $1 AND status = $5`,
		userID, string(domain.StatusInvalidated), at.UTC(), reason, string(domain.StatusActive),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		s           domain.Session
		idleMs      int64
		status      string
		invalidated sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.IPAddress, &s.UserAgent, &s.CreatedAt, &s.ExpiresAt, &s.LastActivity,
		&idleMs, &status, &invalidated, &s.InvalidationReason); err != nil {
		return nil, err
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.ExpiresAt = s.ExpiresAt.UTC()
	s.LastActivity = s.LastActivity.UTC()
	s.IdleTimeout = time.Duration(idleMs) * time.Millisecond
	s.Status = domain.Status(status)
	s.InvalidatedAt = nullTimeToPtr(invalidated)
	return &s, nil
}

func timeToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullTimeToPtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time.UTC()
	return &t
}
