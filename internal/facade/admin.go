package facade

import (
	"context"

	"go.uber.org/zap"

	"ledgerguard/backend/internal/apperr"
	"ledgerguard/backend/internal/logger"
	policydomain "ledgerguard/backend/internal/policy/domain"
)

// AccountLockResult reports an administrative lock.
type AccountLockResult struct {
	UserID  string `json:"userId"`
	Changed bool   `json:"changed"`
}

// LockAccount locks userID on the caller's behalf and ends all of the user's sessions.
// The access policy must grant the caller lock_account.
func (s *Service) LockAccount(ctx context.Context, c Caller, userID, reason string) (*AccountLockResult, error) {
	if err := s.authorize(ctx, c, policydomain.ActionLockAccount); err != nil {
		return nil, err
	}
	if err := s.requireAccount(ctx, userID); err != nil {
		return nil, err
	}
	changed, err := s.Accounts.LockAccount(ctx, userID, reason)
	if err != nil {
		return nil, err
	}
	s.log.Info("facade: account locked by operator", logger.UserID(userID), zap.String("operator", c.UserID))
	return &AccountLockResult{UserID: userID, Changed: changed}, nil
}

// UnlockAccount clears the lock on userID. The failed-login streak ends with it, so the owner can
// sign in again at once. The access policy must grant the caller unlock_account.
func (s *Service) UnlockAccount(ctx context.Context, c Caller, userID string) error {
	if err := s.authorize(ctx, c, policydomain.ActionUnlockAccount); err != nil {
		return err
	}
	if err := s.requireAccount(ctx, userID); err != nil {
		return err
	}
	return s.Accounts.UnlockAccount(ctx, userID, c.UserID)
}

func (s *Service) requireAccount(ctx context.Context, userID string) error {
	if s.Accounts == nil {
		return apperr.Authorization("account administration is not enabled")
	}
	if userID == "" {
		return apperr.Validation("user id is required")
	}
	u, err := s.Users.GetByID(ctx, userID)
	if err != nil {
		return apperr.Storage("account lookup", err)
	}
	if u == nil {
		return apperr.NotFound("account not found")
	}
	return nil
}
