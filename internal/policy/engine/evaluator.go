package engine

import "context"

// AccessInput is the subject and action presented to the access policy.
type AccessInput struct {
	UserID string
	Roles  []string
	Action string
}

// Evaluator decides role-gated access using OPA or other engines.
type Evaluator interface {
	// Allow reports whether the subject may perform the action. Implementations deny on any error.
	Allow(ctx context.Context, in AccessInput) (bool, error)
}
