package repository

import (
	"context"
	"time"

	"ledgerguard/backend/internal/session/domain"
)

// MutateFunc changes a session in place. It runs while the record is exclusively held;
// returning an error aborts the update without writing.
type MutateFunc func(s *domain.Session) error

// Repository defines persistence for sessions.
// Every mutation of a single record is serialized per session id.
type Repository interface {
	// Create persists a new session. The session must have ID set.
	Create(ctx context.Context, s *domain.Session) error
	// GetByID returns the session for id, or nil if not found.
	// It returns an error only for store failures, not for missing records.
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	// ListByUser returns all of the user's sessions, including invalidated ones, newest CreatedAt first.
	ListByUser(ctx context.Context, userID string) ([]*domain.Session, error)
	// Update applies fn to the current record under its exclusive lock and stores the result,
	// rejecting changes that fail domain.CheckTransition. Returns the stored session,
	// or nil without calling fn when id does not exist.
	Update(ctx context.Context, id string, fn MutateFunc) (*domain.Session, error)
	// InvalidateAll invalidates every active session of the user and returns how many changed.
	InvalidateAll(ctx context.Context, userID, reason string, at time.Time) (int, error)
}

// apply runs fn on a copy of cur and validates the result. changed is false when fn left it untouched.
func apply(cur *domain.Session, fn MutateFunc) (next *domain.Session, changed bool, err error) {
	next = cur.Clone()
	if err := fn(next); err != nil {
		return nil, false, err
	}
	if err := domain.CheckTransition(cur, next); err != nil {
		return nil, false, err
	}
	return next, !next.Equal(cur), nil
}
