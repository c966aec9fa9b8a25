package domain

import "time"

// Severity of a security alert. Values match audit risk levels.
type Severity string

const (
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Alert types raised by risk evaluation.
const (
	AlertAccountLocked      = "ACCOUNT_LOCKED"
	AlertSuspiciousActivity = "SUSPICIOUS_ACTIVITY"
	AlertCriticalEvent      = "CRITICAL_EVENT"
	AlertAuditUnavailable   = "AUDIT_UNAVAILABLE"
)

// SecurityAlert is a notification that an operator should look at an account.
// Alerts are delivered best-effort and are never the source of truth; the audit log is.
type SecurityAlert struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	Type      string         `json:"type"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	Tier      string         `json:"tier,omitempty"`
	Trigger   string         `json:"trigger,omitempty"` // audit action that caused the alert
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}
