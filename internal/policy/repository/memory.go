package repository

import (
	"context"
	"sort"
	"sync"

	"ledgerguard/backend/internal/policy/domain"
)

// MemoryRepository keeps policies in process memory.
type MemoryRepository struct {
	mu       sync.RWMutex
	policies map[string]domain.Policy
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{policies: make(map[string]domain.Policy)}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// ListEnabled returns enabled policies ordered by creation time.
func (r *MemoryRepository) ListEnabled(ctx context.Context) ([]*domain.Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Policy, 0, len(r.policies))
	for _, p := range r.policies {
		if p.Enabled {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepository) Create(ctx context.Context, p *domain.Policy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[p.ID] = *p
	return nil
}

func (r *MemoryRepository) SetEnabled(ctx context.Context, id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.policies[id]; ok {
		p.Enabled = enabled
		r.policies[id] = p
	}
	return nil
}
