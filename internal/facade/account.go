package facade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ledgerguard/backend/internal/apperr"
	auditdomain "ledgerguard/backend/internal/audit/domain"
	"ledgerguard/backend/internal/logger"
	"ledgerguard/backend/internal/risk"
	"ledgerguard/backend/internal/security"
	sessiondomain "ledgerguard/backend/internal/session/domain"
	userdomain "ledgerguard/backend/internal/user/domain"
)

const resourceAccount = "account"

// csrfTokenBytes yields a 64-character legacy token.
const csrfTokenBytes = security.CSRFTokenLength / 2

// LoginResult holds the access token and the session it is bound to.
type LoginResult struct {
	AccessToken      string    `json:"accessToken"`
	ExpiresAt        time.Time `json:"expiresAt"`
	SessionID        string    `json:"sessionId"`
	SessionExpiresAt time.Time `json:"sessionExpiresAt"`
	UserID           string    `json:"userId"`
}

// PasswordResult is a strength result with its label.
type PasswordResult struct {
	security.StrengthResult
	Strength string `json:"strength"`
}

// Login authenticates email and password from ip. Attempts are rate limited per IP; locked accounts
// are refused before the password is checked. Every outcome is recorded and evaluated.
func (s *Service) Login(ctx context.Context, email, password, ip, userAgent string) (*LoginResult, error) {
	email = userdomain.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperr.Validation("email and password are required")
	}
	anon := Caller{IP: ip, UserAgent: userAgent}
	if err := s.allow(ctx, ip, auditdomain.ActionLoginFailed, s.Limits.Login, s.Limits.LoginWindow); err != nil {
		if errors.Is(err, apperr.ErrRateLimited) {
			s.record(ctx, anon, auditdomain.ActionLoginRateLimited, auditdomain.RiskMedium, resourceAccount, nil)
		}
		return nil, err
	}

	u, err := s.Users.GetByEmail(ctx, email)
	if err != nil {
		return nil, apperr.Storage("account lookup", err)
	}
	if u == nil {
		s.record(ctx, anon, auditdomain.ActionLoginFailed, auditdomain.RiskMedium, resourceAccount,
			map[string]any{"reason": "unknown_email"})
		return nil, apperr.Unauthenticated("invalid credentials")
	}
	c := Caller{UserID: u.ID, Roles: u.Roles, IP: ip, UserAgent: userAgent}
	if u.IsLocked {
		s.record(ctx, c, auditdomain.ActionLoginBlocked, auditdomain.RiskHigh, resourceAccount, nil)
		return nil, apperr.AccountLocked("account is locked")
	}
	if u.Status != userdomain.UserStatusActive || !s.Hasher.Verify(u.PasswordHash, password) {
		ev := s.record(ctx, c, auditdomain.ActionLoginFailed, auditdomain.RiskMedium, resourceAccount, nil)
		if ev.Tier == risk.TierLocked {
			return nil, apperr.AccountLocked("account is locked")
		}
		return nil, apperr.Unauthenticated("invalid credentials")
	}

	s.upgradeHash(ctx, u.ID, u.PasswordHash, password)

	sess, err := s.Sessions.Create(ctx, u.ID, ip, userAgent, 0, 0)
	if err != nil {
		return nil, err
	}
	s.Metrics.SessionCreated(ctx)
	token, exp, err := s.Tokens.IssueAccess(sess.ID, u.ID, u.Roles)
	if err != nil {
		_, _ = s.Sessions.Invalidate(ctx, sess.ID, sessiondomain.ReasonLogout)
		s.log.Error("facade: issue access token failed", logger.UserID(u.ID), zap.Error(err))
		return nil, err
	}
	c.SessionID = sess.ID
	ev := s.record(ctx, c, auditdomain.ActionLoginSuccess, auditdomain.RiskLow, resourceAccount,
		map[string]any{"session_id": shortID(sess.ID)})
	if ev.Tier == risk.TierLocked {
		return nil, apperr.AccountLocked("account is locked")
	}
	return &LoginResult{
		AccessToken:      token,
		ExpiresAt:        exp,
		SessionID:        sess.ID,
		SessionExpiresAt: sess.ExpiresAt,
		UserID:           u.ID,
	}, nil
}

// ChangePassword replaces the caller's password after verifying the current one. The new password
// must pass the strength policy. The caller's other sessions are ended.
func (s *Service) ChangePassword(ctx context.Context, c Caller, current, next string) error {
	if err := requireUser(c); err != nil {
		return err
	}
	if err := s.allow(ctx, c.UserID, auditdomain.ActionPasswordChangeFail, s.Limits.Password, s.Limits.PasswordWindow); err != nil {
		return err
	}
	u, err := s.Users.GetByID(ctx, c.UserID)
	if err != nil {
		return apperr.Storage("account lookup", err)
	}
	if u == nil {
		return apperr.NotFound("account not found")
	}
	if u.IsLocked {
		s.record(ctx, c, auditdomain.ActionPasswordChangeFail, auditdomain.RiskHigh, resourceAccount,
			map[string]any{"reason": "account_locked"})
		return apperr.AccountLocked("account is locked")
	}
	if !s.Hasher.Verify(u.PasswordHash, current) {
		s.record(ctx, c, auditdomain.ActionPasswordChangeFail, auditdomain.RiskMedium, resourceAccount, nil)
		return apperr.Unauthenticated("current password is incorrect")
	}
	if next == current {
		return apperr.Validation("new password must differ from the current password")
	}
	if res := security.ValidateStrength(next); !res.IsValid {
		return apperr.Validation("password does not meet the strength policy", res.Feedback...)
	}
	hash, err := s.Hasher.Hash(next)
	if errors.Is(err, security.ErrPasswordTooLong) {
		return apperr.Validation("password is too long", fmt.Sprintf("Use at most %d bytes", security.MaxPasswordBytes))
	}
	if err != nil {
		return err
	}
	if err := s.Users.UpdatePasswordHash(ctx, u.ID, hash, s.clock()); err != nil {
		return apperr.Storage("password update", err)
	}
	n, err := s.Sessions.InvalidateOthers(ctx, u.ID, c.SessionID, sessiondomain.ReasonPasswordReset)
	if err != nil {
		s.log.Warn("facade: invalidate other sessions failed", logger.UserID(u.ID), zap.Error(err))
	}
	s.Metrics.SessionsInvalidated(ctx, sessiondomain.ReasonPasswordReset, n)
	s.record(ctx, c, auditdomain.ActionPasswordChanged, auditdomain.RiskMedium, resourceAccount,
		map[string]any{"sessions_invalidated": n})
	return err
}

// ValidatePassword scores password without storing it. Checks are rate limited per caller.
func (s *Service) ValidatePassword(ctx context.Context, c Caller, password string) (*PasswordResult, error) {
	if err := requireUser(c); err != nil {
		return nil, err
	}
	if err := s.allow(ctx, c.UserID, auditdomain.ActionPasswordCheck, s.Limits.Password, s.Limits.PasswordWindow); err != nil {
		return nil, err
	}
	res := security.ValidateStrength(password)
	s.record(ctx, c, auditdomain.ActionPasswordCheck, auditdomain.RiskLow, resourceAccount,
		map[string]any{"score": res.Score})
	return &PasswordResult{StrengthResult: res, Strength: security.StrengthLabel(res.Score)}, nil
}

// IssueCSRFToken returns a token for the caller's session: HMAC-bound when a binder is configured,
// otherwise a random 64-character token accepted by the legacy length check.
func (s *Service) IssueCSRFToken(ctx context.Context, c Caller) (string, error) {
	if err := requireUser(c); err != nil {
		return "", err
	}
	if s.CSRF != nil {
		if c.SessionID == "" {
			return "", apperr.Validation("session is required for a bound CSRF token")
		}
		return s.CSRF.Issue(c.SessionID), nil
	}
	return security.GenerateSecureToken(csrfTokenBytes)
}

// upgradeHash re-encodes a verified password when the stored hash uses a different bcrypt cost.
// Failures are logged; the login proceeds with the old hash.
func (s *Service) upgradeHash(ctx context.Context, userID, stored, password string) {
	r, ok := s.Hasher.(interface{ NeedsRehash(hash string) bool })
	if !ok || !r.NeedsRehash(stored) {
		return
	}
	hash, err := s.Hasher.Hash(password)
	if err == nil {
		err = s.Users.UpdatePasswordHash(ctx, userID, hash, s.clock())
	}
	if err != nil {
		s.log.Warn("facade: password rehash failed", logger.UserID(userID), zap.Error(err))
	}
}
