package repository

import (
	"context"

	"ledgerguard/backend/internal/policy/domain"
)

// Repository defines persistence for access policies.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Policy, error)
	ListEnabled(ctx context.Context) ([]*domain.Policy, error)
	Create(ctx context.Context, p *domain.Policy) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
}
