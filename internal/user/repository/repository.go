package repository

import (
	"context"
	"errors"
	"time"

	"ledgerguard/backend/internal/user/domain"
)

// ErrDuplicateEmail is returned by Create when the email is taken.
var ErrDuplicateEmail = errors.New("email already registered")

// Repository defines persistence for accounts, including the lock state mutated by the risk assessor.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	UpdatePasswordHash(ctx context.Context, id, hash string, at time.Time) error
	// Lock marks the account locked. It is duplicate-safe: changed is false when the account
	// was already locked or does not exist.
	Lock(ctx context.Context, id, reason string, at time.Time) (changed bool, err error)
	// Unlock clears the lock. Only the admin unlock route reaches it.
	Unlock(ctx context.Context, id string, at time.Time) error
}
