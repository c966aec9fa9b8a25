// Package facade is the boundary surface of the security engine. It composes sessions, the audit
// log, the risk assessor, rate limiting and password policy for the HTTP handlers.
package facade

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ledgerguard/backend/internal/apperr"
	"ledgerguard/backend/internal/audit"
	auditdomain "ledgerguard/backend/internal/audit/domain"
	"ledgerguard/backend/internal/logger"
	"ledgerguard/backend/internal/policy/engine"
	"ledgerguard/backend/internal/ratelimit"
	"ledgerguard/backend/internal/risk"
	"ledgerguard/backend/internal/security"
	sessiondomain "ledgerguard/backend/internal/session/domain"
	sessionservice "ledgerguard/backend/internal/session/service"
	"ledgerguard/backend/internal/telemetry"
	userdomain "ledgerguard/backend/internal/user/domain"
)

// Caller is the authenticated identity and transport context of a request.
type Caller struct {
	UserID    string
	SessionID string
	Roles     []string
	IP        string
	UserAgent string
}

// SessionStore is the session manager surface used by the facade.
type SessionStore interface {
	Create(ctx context.Context, userID, ip, userAgent string, maxAge, idleTimeout time.Duration) (*sessiondomain.Session, error)
	Validate(ctx context.Context, sessionID, userID, ip string) (sessionservice.Outcome, error)
	Get(ctx context.Context, id string) (*sessiondomain.Session, error)
	Invalidate(ctx context.Context, id, reason string) (bool, error)
	InvalidateAll(ctx context.Context, userID, reason string) (int, error)
	InvalidateOthers(ctx context.Context, userID, keepID, reason string) (int, error)
	ListActive(ctx context.Context, userID string) ([]*sessiondomain.Session, error)
	CountActive(ctx context.Context, userID string) (int, error)
}

// AuditReader answers the read-side audit queries.
type AuditReader interface {
	Query(ctx context.Context, userID string, sinceMinutes, limit int) ([]*auditdomain.AuditEvent, error)
	ComplianceReport(ctx context.Context, start, end time.Time, userID string) (*audit.ComplianceReport, error)
}

// EventRecorder appends an event and evaluates the acting user's risk.
type EventRecorder interface {
	Record(ctx context.Context, e *auditdomain.AuditEvent) (risk.Evaluation, error)
}

// UserRepo is the minimal account repository needed by the facade.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	UpdatePasswordHash(ctx context.Context, id, hash string, at time.Time) error
}

// PasswordHasher hashes and verifies secrets. The facade never implements the algorithm.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) bool
}

// TokenIssuer mints access tokens bound to a session.
type TokenIssuer interface {
	IssueAccess(sessionID, userID string, roles []string) (string, time.Time, error)
}

// Limits configures the facade's rate limits.
type Limits struct {
	Login          int
	LoginWindow    time.Duration
	Password       int
	PasswordWindow time.Duration
}

// AccountAdmin locks and unlocks accounts on an operator's behalf.
type AccountAdmin interface {
	LockAccount(ctx context.Context, userID, reason string) (bool, error)
	UnlockAccount(ctx context.Context, userID, actorID string) error
}

// Deps are the collaborators of Service. Metrics, Policy, CSRF and Accounts may be nil.
type Deps struct {
	Sessions SessionStore
	Audit    AuditReader
	Recorder EventRecorder
	Accounts AccountAdmin
	Users    UserRepo
	Hasher   PasswordHasher
	Tokens   TokenIssuer
	Limiter  ratelimit.Limiter
	Policy   engine.Evaluator
	CSRF     *security.CSRFBinder
	Metrics  *telemetry.Metrics
	Limits   Limits
}

// Service implements the security facade operations. It holds no per-user state.
type Service struct {
	Deps
	log *zap.Logger
	now func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService returns a facade over d. log may be nil.
func NewService(d Deps, log *zap.Logger, opts ...Option) *Service {
	s := &Service{Deps: d, log: logger.OrNop(log), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) clock() time.Time { return s.now().UTC() }

// record appends an event for the caller. Failures are logged; the assessor has already
// escalated any security-critical loss.
func (s *Service) record(ctx context.Context, c Caller, action auditdomain.Action, lvl auditdomain.RiskLevel, resource string, meta map[string]any) risk.Evaluation {
	ev, err := s.Recorder.Record(ctx, &auditdomain.AuditEvent{
		UserID:    c.UserID,
		Action:    action,
		Resource:  resource,
		IPAddress: c.IP,
		UserAgent: c.UserAgent,
		Metadata:  meta,
		RiskLevel: lvl,
	})
	if err != nil {
		s.log.Warn("facade: audit record failed",
			zap.String("action", string(action)), logger.UserID(c.UserID), zap.Error(err))
	}
	return ev
}

// allow consults the limiter. An error denies.
func (s *Service) allow(ctx context.Context, identifier string, action auditdomain.Action, limit int, window time.Duration) error {
	ok, err := s.Limiter.Allow(ctx, identifier, string(action), limit, window)
	if err != nil {
		s.log.Warn("facade: rate limiter failed closed", zap.String("action", string(action)), zap.Error(err))
		return err
	}
	if !ok {
		s.Metrics.RateLimited(ctx, string(action))
		return apperr.RateLimited("too many attempts, try again later")
	}
	return nil
}

func requireUser(c Caller) error {
	if c.UserID == "" {
		return apperr.Unauthenticated("user context required")
	}
	return nil
}

// shortID keeps audit metadata from carrying full bearer session ids.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
