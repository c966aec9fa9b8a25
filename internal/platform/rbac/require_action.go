// Package rbac gates role-restricted operations on the access policy engine.
package rbac

import (
	"context"

	"ledgerguard/backend/internal/apperr"
	"ledgerguard/backend/internal/policy/engine"
)

// RequireAction ensures the caller is authenticated and the access policy grants them action.
// An evaluation error denies. Returns apperr.ErrUnauthenticated or apperr.ErrAuthorization on failure.
func RequireAction(ctx context.Context, eval engine.Evaluator, userID string, roles []string, action string) error {
	if userID == "" {
		return apperr.Unauthenticated("user context required")
	}
	if eval == nil {
		return apperr.Authorization("access policy unavailable")
	}
	allowed, err := eval.Allow(ctx, engine.AccessInput{UserID: userID, Roles: roles, Action: action})
	if err != nil || !allowed {
		return apperr.Authorization("insufficient role for " + action)
	}
	return nil
}
