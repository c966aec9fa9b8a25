package ratelimit

import (
	"context"
	"time"

	"ledgerguard/backend/internal/apperr"
	auditdomain "ledgerguard/backend/internal/audit/domain"
)

// ActionCounter counts past audit events for an identifier (user id or IP) and action.
type ActionCounter interface {
	CountByAction(ctx context.Context, identifier string, action auditdomain.Action, since time.Time) (int, error)
}

// HistoryLimiter allows a request while fewer than limit matching events exist in the audit log.
// It checks history without reserving a slot: concurrent callers can all observe count < limit and
// proceed, so admission may exceed limit by the number of in-flight callers. Use SlidingWindow or
// RedisSlidingWindow where the bound must hold.
type HistoryLimiter struct {
	counter ActionCounter
	now     func() time.Time
}

// NewHistoryLimiter returns a limiter over counter. now may be nil.
func NewHistoryLimiter(counter ActionCounter, now func() time.Time) *HistoryLimiter {
	if now == nil {
		now = time.Now
	}
	return &HistoryLimiter{counter: counter, now: now}
}

// Allow implements Limiter.
func (l *HistoryLimiter) Allow(ctx context.Context, identifier, action string, limit int, window time.Duration) (bool, error) {
	if err := checkArgs(identifier, window); err != nil {
		return false, err
	}
	if limit <= 0 {
		return false, nil
	}
	n, err := l.counter.CountByAction(ctx, identifier, auditdomain.Action(action), l.now().UTC().Add(-window))
	if err != nil {
		return false, apperr.Storage("rate limit count", err)
	}
	return n < limit, nil
}
