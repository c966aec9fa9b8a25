package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"ledgerguard/backend/internal/audit/domain"
)

// MemoryRepository keeps audit events in process. Safe for concurrent use.
// Stored events are copies; callers cannot mutate history through returned values.
type MemoryRepository struct {
	mu     sync.RWMutex
	events []*domain.AuditEvent
}

// NewMemoryRepository returns an empty in-memory audit repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Append(ctx context.Context, e *domain.AuditEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	r.events = append(r.events, e.Clone())
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) ListByUser(ctx context.Context, userID string, since time.Time, limit int) ([]*domain.AuditEvent, error) {
	out := r.filter(func(e *domain.AuditEvent) bool {
		return e.UserID == userID && !e.Timestamp.Before(since)
	})
	sortDesc(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) ListWindow(ctx context.Context, userID string, since time.Time) ([]*domain.AuditEvent, error) {
	out := r.filter(func(e *domain.AuditEvent) bool {
		return e.UserID == userID && !e.Timestamp.Before(since)
	})
	sortAsc(out)
	return out, nil
}

func (r *MemoryRepository) CountByAction(ctx context.Context, identifier string, action domain.Action, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.events {
		if e.Action != action || e.Timestamp.Before(since) {
			continue
		}
		if e.UserID == identifier || e.IPAddress == identifier {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) ListRange(ctx context.Context, start, end time.Time, userID string) ([]*domain.AuditEvent, error) {
	out := r.filter(func(e *domain.AuditEvent) bool {
		if userID != "" && e.UserID != userID {
			return false
		}
		return !e.Timestamp.Before(start) && !e.Timestamp.After(end)
	})
	sortAsc(out)
	return out, nil
}

// Len returns the number of stored events.
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}

func (r *MemoryRepository) filter(keep func(*domain.AuditEvent) bool) []*domain.AuditEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.AuditEvent, 0)
	for _, e := range r.events {
		if keep(e) {
			out = append(out, e.Clone())
		}
	}
	return out
}

func sortAsc(list []*domain.AuditEvent) {
	sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.Before(list[j].Timestamp) })
}

// sortDesc orders newest first; ties keep the most recently appended first.
func sortDesc(list []*domain.AuditEvent) {
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.After(list[j].Timestamp) })
}
