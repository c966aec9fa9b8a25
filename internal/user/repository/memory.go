package repository

import (
	"context"
	"sync"
	"time"

	"ledgerguard/backend/internal/user/domain"
)

// MemoryRepository keeps accounts in process. Safe for concurrent use.
type MemoryRepository struct {
	mu      sync.Mutex
	byID    map[string]*domain.User
	byEmail map[string]string
}

// NewMemoryRepository returns an empty in-memory account repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*domain.User), byEmail: make(map[string]string)}
}

func clone(u *domain.User) *domain.User {
	c := *u
	c.Roles = append([]string(nil), u.Roles...)
	if u.LockedAt != nil {
		t := *u.LockedAt
		c.LockedAt = &t
	}
	return &c
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		return clone(u), nil
	}
	return nil, nil
}

func (r *MemoryRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byEmail[domain.NormalizeEmail(email)]; ok {
		return clone(r.byID[id]), nil
	}
	return nil, nil
}

func (r *MemoryRepository) Create(ctx context.Context, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	email := domain.NormalizeEmail(u.Email)
	if _, ok := r.byEmail[email]; ok {
		return ErrDuplicateEmail
	}
	c := clone(u)
	c.Email = email
	r.byID[u.ID] = c
	r.byEmail[email] = u.ID
	return nil
}

func (r *MemoryRepository) UpdatePasswordHash(ctx context.Context, id, hash string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		u.PasswordHash = hash
		u.UpdatedAt = at
	}
	return nil
}

func (r *MemoryRepository) Lock(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok || u.IsLocked {
		return false, nil
	}
	t := at
	u.IsLocked = true
	u.LockedAt = &t
	u.LockReason = reason
	u.UpdatedAt = at
	return true, nil
}

func (r *MemoryRepository) Unlock(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		u.IsLocked = false
		u.LockedAt = nil
		u.LockReason = ""
		u.UpdatedAt = at
	}
	return nil
}
