// Package service implements the session lifecycle: create, validate, touch and invalidate.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ledgerguard/backend/internal/apperr"
	auditdomain "ledgerguard/backend/internal/audit/domain"
	"ledgerguard/backend/internal/logger"
	"ledgerguard/backend/internal/security"
	"ledgerguard/backend/internal/session/domain"
	"ledgerguard/backend/internal/session/repository"
)

// sessionIDBytes yields a 64-character hex session id.
const sessionIDBytes = 32

// Config holds the default lifetimes applied when Create is called with zero values.
type Config struct {
	MaxAge      time.Duration
	IdleTimeout time.Duration
}

// Outcome is the result of Validate. Signal and Risk are set whenever Valid is false
// and the cause is known; a store failure leaves Signal empty.
type Outcome struct {
	Valid   bool
	Signal  auditdomain.Action
	Risk    auditdomain.RiskLevel
	Session *domain.Session
}

func invalid(signal auditdomain.Action, risk auditdomain.RiskLevel) Outcome {
	return Outcome{Signal: signal, Risk: risk}
}

// Manager creates and validates sessions over an injected store. It holds no session state itself.
type Manager struct {
	repo repository.Repository
	cfg  Config
	log  *zap.Logger
	now  func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager returns a session manager over repo. log may be nil.
func NewManager(repo repository.Repository, cfg Config, log *zap.Logger, opts ...Option) *Manager {
	m := &Manager{repo: repo, cfg: cfg, log: logger.OrNop(log), now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) clock() time.Time { return m.now().UTC() }

// Create starts a session for userID pinned to ip. Zero maxAge or idleTimeout use the configured defaults.
func (m *Manager) Create(ctx context.Context, userID, ip, userAgent string, maxAge, idleTimeout time.Duration) (*domain.Session, error) {
	if userID == "" {
		return nil, apperr.Validation("user id is required")
	}
	if maxAge == 0 {
		maxAge = m.cfg.MaxAge
	}
	if idleTimeout == 0 {
		idleTimeout = m.cfg.IdleTimeout
	}
	if maxAge <= 0 || idleTimeout <= 0 {
		return nil, apperr.Validation("session lifetimes must be positive")
	}
	id, err := security.GenerateSecureToken(sessionIDBytes)
	if err != nil {
		return nil, apperr.Storage("session id", err)
	}
	now := m.clock()
	s := &domain.Session{
		ID:           id,
		UserID:       userID,
		IPAddress:    ip,
		UserAgent:    userAgent,
		CreatedAt:    now,
		ExpiresAt:    now.Add(maxAge),
		LastActivity: now,
		IdleTimeout:  idleTimeout,
		Status:       domain.StatusActive,
	}
	if err := m.repo.Create(ctx, s); err != nil {
		m.log.Error("session: create failed", logger.UserID(userID), zap.Error(err))
		return nil, apperr.Storage("session create", err)
	}
	m.log.Debug("session created", logger.UserID(userID), logger.SessionID(id))
	return s.Clone(), nil
}

// Validate checks the session for userID at ip and, when it passes, records activity.
// Checks run in order under the session's lock: unknown or foreign session (no mutation),
// already invalidated, absolute expiry, idle timeout, IP mismatch. The last three invalidate
// the session permanently. A store failure returns an invalid outcome with the error.
func (m *Manager) Validate(ctx context.Context, sessionID, userID, ip string) (Outcome, error) {
	if sessionID == "" {
		return invalid(auditdomain.ActionInvalidSession, auditdomain.RiskHigh), nil
	}
	now := m.clock()
	var out Outcome
	stored, err := m.repo.Update(ctx, sessionID, func(s *domain.Session) error {
		switch {
		case s.UserID != userID:
			out = invalid(auditdomain.ActionInvalidSession, auditdomain.RiskHigh)
		case !s.Active():
			out = invalid(auditdomain.ActionSessionInvalidated, auditdomain.RiskMedium)
		case s.Expired(now):
			s.Invalidate(domain.ReasonExpired, now)
			out = invalid(auditdomain.ActionSessionExpired, auditdomain.RiskMedium)
		case s.Idle(now):
			s.Invalidate(domain.ReasonIdleTimeout, now)
			out = invalid(auditdomain.ActionSessionIdleTimeout, auditdomain.RiskMedium)
		case s.IPAddress != ip:
			s.Invalidate(domain.ReasonIPMismatch, now)
			out = invalid(auditdomain.ActionIPAddressChange, auditdomain.RiskHigh)
		default:
			s.Touch(now)
			out = Outcome{Valid: true}
		}
		return nil
	})
	if err != nil {
		m.log.Error("session: validate failed closed", logger.SessionID(sessionID), zap.Error(err))
		return Outcome{}, apperr.Storage("session validate", err)
	}
	if stored == nil {
		return invalid(auditdomain.ActionInvalidSession, auditdomain.RiskHigh), nil
	}
	if out.Signal != auditdomain.ActionInvalidSession {
		out.Session = stored
	}
	return out, nil
}

// Get returns the session for id, or nil if it does not exist.
func (m *Manager) Get(ctx context.Context, id string) (*domain.Session, error) {
	s, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Storage("session get", err)
	}
	return s, nil
}

// Invalidate ends the session. Unknown or already invalid sessions are not an error; changed reports whether anything happened.
func (m *Manager) Invalidate(ctx context.Context, id, reason string) (bool, error) {
	if id == "" {
		return false, nil
	}
	now := m.clock()
	changed := false
	_, err := m.repo.Update(ctx, id, func(s *domain.Session) error {
		changed = s.Invalidate(reason, now)
		return nil
	})
	if err != nil {
		return false, apperr.Storage("session invalidate", err)
	}
	return changed, nil
}

// InvalidateAll ends every active session of the user and returns how many were ended.
func (m *Manager) InvalidateAll(ctx context.Context, userID, reason string) (int, error) {
	n, err := m.repo.InvalidateAll(ctx, userID, reason, m.clock())
	if err != nil {
		m.log.Error("session: invalidate all failed", logger.UserID(userID), zap.Error(err))
		return n, apperr.Storage("session invalidate all", err)
	}
	if n > 0 {
		m.log.Info("sessions invalidated", logger.UserID(userID), zap.Int("count", n), zap.String("reason", reason))
	}
	return n, nil
}

// InvalidateOthers ends every active session of the user except keepID.
func (m *Manager) InvalidateOthers(ctx context.Context, userID, keepID, reason string) (int, error) {
	list, err := m.ListActive(ctx, userID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range list {
		if s.ID == keepID {
			continue
		}
		changed, err := m.Invalidate(ctx, s.ID, reason)
		if err != nil {
			return n, err
		}
		if changed {
			n++
		}
	}
	return n, nil
}

// ListActive returns the user's sessions that are neither invalidated nor past expiry, newest first.
func (m *Manager) ListActive(ctx context.Context, userID string) ([]*domain.Session, error) {
	all, err := m.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Storage("session list", err)
	}
	now := m.clock()
	out := make([]*domain.Session, 0, len(all))
	for _, s := range all {
		if s.Active() && !s.Expired(now) {
			out = append(out, s)
		}
	}
	return out, nil
}

// CountActive returns len(ListActive).
func (m *Manager) CountActive(ctx context.Context, userID string) (int, error) {
	list, err := m.ListActive(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(list), nil
}
