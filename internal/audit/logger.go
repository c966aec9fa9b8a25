// Package audit is the append-only audit log: it stamps and persists security events
// and answers the windowed queries the risk assessor, rate limiter and reports need.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ledgerguard/backend/internal/apperr"
	"ledgerguard/backend/internal/audit/domain"
	auditrepo "ledgerguard/backend/internal/audit/repository"
	"ledgerguard/backend/internal/logger"
)

// Logger stamps and appends audit events and serves queries over them.
type Logger struct {
	repo auditrepo.Repository
	log  *zap.Logger
	now  func() time.Time
}

// Option configures a Logger.
type Option func(*Logger)

// WithClock overrides the time source used for timestamps and lookback windows.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// NewLogger returns a Logger that persists to repo. log may be nil.
func NewLogger(repo auditrepo.Repository, log *zap.Logger, opts ...Option) *Logger {
	l := &Logger{repo: repo, log: logger.OrNop(log), now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Now returns the logger's current time in UTC.
func (l *Logger) Now() time.Time { return l.now().UTC() }

// Append persists e, filling ID, Timestamp and RiskLevel when unset.
// A failure is returned as apperr.ErrStorage; the caller decides whether it escalates.
func (l *Logger) Append(ctx context.Context, e *domain.AuditEvent) error {
	if e == nil || e.Action == "" {
		return apperr.Validation("audit event requires an action")
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.Now()
	}
	if !e.RiskLevel.Valid() {
		e.RiskLevel = domain.RiskLow
	}
	if err := l.repo.Append(ctx, e); err != nil {
		l.log.Error("audit: append failed",
			zap.String("action", string(e.Action)),
			logger.UserID(e.UserID),
			zap.String("risk_level", string(e.RiskLevel)),
			zap.Error(err))
		return apperr.Storage("audit append", err)
	}
	return nil
}

// Query returns the user's events from the last sinceMinutes minutes, newest first, at most limit.
// Lookback bounds are the caller's concern.
func (l *Logger) Query(ctx context.Context, userID string, sinceMinutes, limit int) ([]*domain.AuditEvent, error) {
	since := l.Now().Add(-time.Duration(sinceMinutes) * time.Minute)
	list, err := l.repo.ListByUser(ctx, userID, since, limit)
	if err != nil {
		return nil, apperr.Storage("audit query", err)
	}
	return list, nil
}

// Window returns every event of the user at or after since, oldest first.
func (l *Logger) Window(ctx context.Context, userID string, since time.Time) ([]*domain.AuditEvent, error) {
	list, err := l.repo.ListWindow(ctx, userID, since)
	if err != nil {
		return nil, apperr.Storage("audit window", err)
	}
	return list, nil
}

// CountByAction counts events with action at or after since whose user id or IP is identifier.
func (l *Logger) CountByAction(ctx context.Context, identifier string, action domain.Action, since time.Time) (int, error) {
	n, err := l.repo.CountByAction(ctx, identifier, action, since)
	if err != nil {
		return 0, apperr.Storage("audit count", err)
	}
	return n, nil
}

// ComplianceReport is the set of events in an inclusive window with grouped counts.
type ComplianceReport struct {
	Start       time.Time
	End         time.Time
	UserID      string
	Events      []*domain.AuditEvent
	Total       int
	ByRiskLevel map[domain.RiskLevel]int
	ByAction    map[domain.Action]int
}

// ComplianceReport returns events with start <= timestamp <= end, optionally for one user,
// grouped by risk level and by action.
func (l *Logger) ComplianceReport(ctx context.Context, start, end time.Time, userID string) (*ComplianceReport, error) {
	if start.After(end) {
		return nil, apperr.Validation("start date must not be after end date")
	}
	events, err := l.repo.ListRange(ctx, start, end, userID)
	if err != nil {
		return nil, apperr.Storage("audit report", err)
	}
	report := &ComplianceReport{
		Start:       start,
		End:         end,
		UserID:      userID,
		Events:      events,
		Total:       len(events),
		ByRiskLevel: make(map[domain.RiskLevel]int, len(domain.RiskLevels)),
		ByAction:    make(map[domain.Action]int),
	}
	for _, lvl := range domain.RiskLevels {
		report.ByRiskLevel[lvl] = 0
	}
	for _, e := range events {
		report.ByRiskLevel[e.RiskLevel]++
		report.ByAction[e.Action]++
	}
	return report, nil
}
