package facade

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ledgerguard/backend/internal/apperr"
	auditdomain "ledgerguard/backend/internal/audit/domain"
	"ledgerguard/backend/internal/logger"
	"ledgerguard/backend/internal/security"
	sessiondomain "ledgerguard/backend/internal/session/domain"
)

const resourceSession = "session"

// ValidateResult is returned by ValidateSession.
type ValidateResult struct {
	Valid     bool      `json:"valid"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionView is an active session as shown to its owner.
type SessionView struct {
	ID           string    `json:"id"`
	IPAddress    string    `json:"ipAddress"`
	UserAgent    string    `json:"userAgent"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Current      bool      `json:"current"`
}

// ValidateSession checks sessionID for the caller at the caller's IP. An invalid outcome records
// its signal event. A store failure is reported as invalid, never as an error.
func (s *Service) ValidateSession(ctx context.Context, c Caller, sessionID string) (*ValidateResult, error) {
	if sessionID == "" {
		return nil, apperr.Validation("X-Session-Id header is required")
	}
	valid, _ := s.checkSession(ctx, c, sessionID)
	return &ValidateResult{Valid: valid, Timestamp: s.clock()}, nil
}

// CheckSession gates an authenticated request on the session its access token names.
// An invalid session is Unauthenticated; a store failure is a Storage error. Both refuse the request.
func (s *Service) CheckSession(ctx context.Context, id security.Identity, ip, userAgent string) error {
	c := Caller{UserID: id.UserID, SessionID: id.SessionID, Roles: id.Roles, IP: ip, UserAgent: userAgent}
	valid, err := s.checkSession(ctx, c, id.SessionID)
	if err != nil {
		return err
	}
	if !valid {
		return apperr.Unauthenticated("session is no longer valid")
	}
	return nil
}

// checkSession validates sessionID for c, records the signal of an invalid outcome and
// returns false with the store error when the store fails.
func (s *Service) checkSession(ctx context.Context, c Caller, sessionID string) (bool, error) {
	out, err := s.Sessions.Validate(ctx, sessionID, c.UserID, c.IP)
	if err != nil {
		s.log.Warn("facade: session validation failed closed", logger.SessionID(shortID(sessionID)), zap.Error(err))
		s.Metrics.Validation(ctx, false, "store_error")
		return false, err
	}
	s.Metrics.Validation(ctx, out.Valid, string(out.Signal))
	if !out.Valid && out.Signal != "" {
		s.record(ctx, c, out.Signal, out.Risk, resourceSession, map[string]any{"session_id": shortID(sessionID)})
	}
	return out.Valid, nil
}

// Logout ends sessionID if the caller owns it and records LOGOUT. A foreign or unknown id is ignored.
func (s *Service) Logout(ctx context.Context, c Caller, sessionID string) error {
	if err := requireUser(c); err != nil {
		return err
	}
	if sessionID != "" {
		sess, err := s.Sessions.Get(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess != nil && sess.UserID == c.UserID {
			changed, err := s.Sessions.Invalidate(ctx, sessionID, sessiondomain.ReasonLogout)
			if err != nil {
				return err
			}
			if changed {
				s.Metrics.SessionsInvalidated(ctx, sessiondomain.ReasonLogout, 1)
			}
		}
	}
	s.record(ctx, c, auditdomain.ActionLogout, auditdomain.RiskLow, resourceSession, nil)
	return nil
}

// LogoutAll ends every active session of the caller and returns how many were ended.
func (s *Service) LogoutAll(ctx context.Context, c Caller) (int, error) {
	if err := requireUser(c); err != nil {
		return 0, err
	}
	n, err := s.Sessions.InvalidateAll(ctx, c.UserID, sessiondomain.ReasonLogoutAll)
	if err != nil {
		return n, err
	}
	s.Metrics.SessionsInvalidated(ctx, sessiondomain.ReasonLogoutAll, n)
	s.record(ctx, c, auditdomain.ActionLogoutAll, auditdomain.RiskMedium, resourceSession,
		map[string]any{"sessions_invalidated": n})
	return n, nil
}

// ListSessions returns the caller's active sessions with masked IPs, newest first.
func (s *Service) ListSessions(ctx context.Context, c Caller) ([]SessionView, error) {
	if err := requireUser(c); err != nil {
		return nil, err
	}
	list, err := s.Sessions.ListActive(ctx, c.UserID)
	if err != nil {
		return nil, err
	}
	out := make([]SessionView, 0, len(list))
	for _, sess := range list {
		out = append(out, SessionView{
			ID:           sess.ID,
			IPAddress:    MaskIP(sess.IPAddress),
			UserAgent:    sess.UserAgent,
			CreatedAt:    sess.CreatedAt,
			LastActivity: sess.LastActivity,
			ExpiresAt:    sess.ExpiresAt,
			Current:      sess.ID == c.SessionID,
		})
	}
	return out, nil
}

// TerminateSession ends one of the caller's sessions. Missing and foreign sessions are both NotFound.
func (s *Service) TerminateSession(ctx context.Context, c Caller, sessionID string) error {
	if err := requireUser(c); err != nil {
		return err
	}
	if sessionID == "" {
		return apperr.NotFound("session not found")
	}
	sess, err := s.Sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil || sess.UserID != c.UserID {
		return apperr.NotFound("session not found")
	}
	changed, err := s.Sessions.Invalidate(ctx, sessionID, sessiondomain.ReasonTerminated)
	if err != nil {
		return err
	}
	if changed {
		s.Metrics.SessionsInvalidated(ctx, sessiondomain.ReasonTerminated, 1)
	}
	s.record(ctx, c, auditdomain.ActionSessionTerminated, auditdomain.RiskMedium, resourceSession,
		map[string]any{"terminatedSessionId": sessionID})
	return nil
}
