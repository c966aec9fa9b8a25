package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"ledgerguard/backend/internal/session/domain"
)

// ErrDuplicateID is returned by Create when the id is already taken.
var ErrDuplicateID = errors.New("session id already exists")

// entry is one arena slot. Its mutex serializes every mutation of the session it holds.
type entry struct {
	mu sync.Mutex
	s  *domain.Session
}

// MemoryRepository is an in-process session arena. The map lock only guards slot lookup;
// per-session work happens under the slot's own lock so unrelated sessions never contend.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries map[string]*entry
	byUser  map[string][]string
}

// NewMemoryRepository returns an empty in-memory session repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		entries: make(map[string]*entry),
		byUser:  make(map[string][]string),
	}
}

func (r *MemoryRepository) Create(ctx context.Context, s *domain.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[s.ID]; ok {
		return ErrDuplicateID
	}
	r.entries[s.ID] = &entry{s: s.Clone()}
	r.byUser[s.UserID] = append(r.byUser[s.UserID], s.ID)
	return nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	e := r.slot(id)
	if e == nil {
		return nil, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s.Clone(), nil
}

func (r *MemoryRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	out := make([]*domain.Session, 0)
	for _, e := range r.userSlots(userID) {
		e.mu.Lock()
		out = append(out, e.s.Clone())
		e.mu.Unlock()
	}
	sortByCreatedDesc(out)
	return out, nil
}

func (r *MemoryRepository) Update(ctx context.Context, id string, fn MutateFunc) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e := r.slot(id)
	if e == nil {
		return nil, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	next, changed, err := apply(e.s, fn)
	if err != nil {
		return nil, err
	}
	if changed {
		e.s = next
	}
	return e.s.Clone(), nil
}

func (r *MemoryRepository) InvalidateAll(ctx context.Context, userID, reason string, at time.Time) (int, error) {
	n := 0
	for _, e := range r.userSlots(userID) {
		e.mu.Lock()
		if e.s.Active() {
			next := e.s.Clone()
			next.Invalidate(reason, at)
			e.s = next
			n++
		}
		e.mu.Unlock()
	}
	return n, nil
}

func (r *MemoryRepository) slot(id string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}

func (r *MemoryRepository) userSlots(userID string) []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byUser[userID]
	out := make([]*entry, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.entries[id])
	}
	return out
}

func sortByCreatedDesc(list []*domain.Session) {
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
}
