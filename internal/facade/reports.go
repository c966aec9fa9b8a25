package facade

import (
	"context"
	"errors"
	"time"

	"ledgerguard/backend/internal/apperr"
	"ledgerguard/backend/internal/audit"
	auditdomain "ledgerguard/backend/internal/audit/domain"
	"ledgerguard/backend/internal/platform/rbac"
	policydomain "ledgerguard/backend/internal/policy/domain"
	"ledgerguard/backend/internal/risk"
)

// Audit log lookback and page bounds.
const (
	DefaultAuditHours = 24
	MaxAuditHours     = 168
	DefaultAuditLimit = 50
	MaxAuditLimit     = 100
)

// AuditEventView is an audit event as shown to its owner.
type AuditEventView struct {
	ID        string                `json:"id"`
	Action    auditdomain.Action    `json:"action"`
	Resource  string                `json:"resource,omitempty"`
	IPAddress string                `json:"ipAddress"`
	UserAgent string                `json:"userAgent,omitempty"`
	Metadata  map[string]any        `json:"metadata,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
	RiskLevel auditdomain.RiskLevel `json:"riskLevel"`
}

// Status summarises the caller's account security.
type Status struct {
	ActiveSessions  int        `json:"activeSessions"`
	RecentActivity  int        `json:"recentActivity"`
	HighRiskEvents  int        `json:"highRiskEvents"`
	LastLogin       *time.Time `json:"lastLogin"`
	SecurityScore   int        `json:"securityScore"`
	Recommendations []string   `json:"recommendations"`
	AccountLocked   bool       `json:"accountLocked"`
}

// ClampAudit applies defaults and bounds to an audit log request. Zero means unset.
func ClampAudit(hours, limit int) (int, int) {
	if hours == 0 {
		hours = DefaultAuditHours
	}
	if limit == 0 {
		limit = DefaultAuditLimit
	}
	return min(max(hours, 1), MaxAuditHours), min(max(limit, 1), MaxAuditLimit)
}

// AuditLogs returns the caller's recent events, newest first, with masked IPs.
func (s *Service) AuditLogs(ctx context.Context, c Caller, hours, limit int) ([]AuditEventView, error) {
	if err := requireUser(c); err != nil {
		return nil, err
	}
	hours, limit = ClampAudit(hours, limit)
	events, err := s.Audit.Query(ctx, c.UserID, hours*60, limit)
	if err != nil {
		return nil, err
	}
	out := make([]AuditEventView, 0, len(events))
	for _, e := range events {
		out = append(out, AuditEventView{
			ID:        e.ID,
			Action:    e.Action,
			Resource:  e.Resource,
			IPAddress: MaskIP(e.IPAddress),
			UserAgent: e.UserAgent,
			Metadata:  e.Metadata,
			Timestamp: e.Timestamp,
			RiskLevel: e.RiskLevel,
		})
	}
	return out, nil
}

// SecurityStatus derives the caller's security score and recommendations from the last 24h.
func (s *Service) SecurityStatus(ctx context.Context, c Caller) (*Status, error) {
	if err := requireUser(c); err != nil {
		return nil, err
	}
	active, err := s.Sessions.CountActive(ctx, c.UserID)
	if err != nil {
		return nil, err
	}
	events, err := s.Audit.Query(ctx, c.UserID, 24*60, 0)
	if err != nil {
		return nil, err
	}
	u, err := s.Users.GetByID(ctx, c.UserID)
	if err != nil {
		return nil, apperr.Storage("account lookup", err)
	}
	summary := risk.Summarize(events, active)
	st := &Status{
		ActiveSessions:  active,
		RecentActivity:  len(events),
		HighRiskEvents:  summary.HighRiskEvents,
		SecurityScore:   summary.Score(),
		Recommendations: summary.Recommendations(),
		AccountLocked:   u != nil && u.IsLocked,
	}
	// events are newest first
	for _, e := range events {
		if e.Action == auditdomain.ActionLoginSuccess {
			t := e.Timestamp
			st.LastLogin = &t
			break
		}
	}
	return st, nil
}

// ComplianceReport returns unmasked events in [start, end] with grouped counts. Callers without
// the required role get an authorization error and an UNAUTHORIZED_ACCESS event.
func (s *Service) ComplianceReport(ctx context.Context, c Caller, start, end time.Time, userID string) (*audit.ComplianceReport, error) {
	if err := s.AuthorizeComplianceReport(ctx, c); err != nil {
		return nil, err
	}
	if start.After(end) {
		return nil, apperr.Validation("startDate must not be after endDate")
	}
	return s.Audit.ComplianceReport(ctx, start, end, userID)
}

// AuthorizeComplianceReport runs the role check of ComplianceReport on its own, so transports can
// refuse a caller before they validate report parameters.
func (s *Service) AuthorizeComplianceReport(ctx context.Context, c Caller) error {
	return s.authorize(ctx, c, policydomain.ActionComplianceReport)
}

// authorize asks the access policy for action. A denial records UNAUTHORIZED_ACCESS MEDIUM.
func (s *Service) authorize(ctx context.Context, c Caller, action string) error {
	err := rbac.RequireAction(ctx, s.Policy, c.UserID, c.Roles, action)
	if errors.Is(err, apperr.ErrAuthorization) {
		s.record(ctx, c, auditdomain.ActionUnauthorizedAccess, auditdomain.RiskMedium, action, nil)
	}
	return err
}
