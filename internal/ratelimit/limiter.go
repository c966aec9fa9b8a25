// Package ratelimit decides whether an identifier may perform an action again within a window.
package ratelimit

import (
	"context"
	"time"

	"ledgerguard/backend/internal/apperr"
)

// Limiter reports whether identifier may perform action given at most limit occurrences per window.
// Callers must treat an error as a denial.
type Limiter interface {
	Allow(ctx context.Context, identifier, action string, limit int, window time.Duration) (bool, error)
}

func key(identifier, action string) string {
	return action + ":" + identifier
}

// checkArgs rejects windows that cannot be evaluated. A non-positive limit is a valid "always deny".
func checkArgs(identifier string, window time.Duration) error {
	if identifier == "" {
		return apperr.Validation("rate limit identifier is required")
	}
	if window <= 0 {
		return apperr.Validation("rate limit window must be positive")
	}
	return nil
}
