package domain

import (
	"time"
)

// RiskLevel grades an audit event. Levels are ordered LOW < MEDIUM < HIGH < CRITICAL.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// RiskLevels lists every level in ascending order.
var RiskLevels = []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical}

// Rank returns the ordinal of r (0 for LOW); unknown levels rank as LOW.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether r is as severe as o.
func (r RiskLevel) AtLeast(o RiskLevel) bool { return r.Rank() >= o.Rank() }

// Valid reports whether r is one of the known levels.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// Action names a security-relevant action.
type Action string

const (
	ActionLoginSuccess       Action = "LOGIN_SUCCESS"
	ActionLoginFailed        Action = "LOGIN_FAILED"
	ActionLoginBlocked       Action = "LOGIN_BLOCKED"
	ActionLoginRateLimited   Action = "LOGIN_RATE_LIMITED"
	ActionLogout             Action = "LOGOUT"
	ActionLogoutAll          Action = "LOGOUT_ALL"
	ActionSessionTerminated  Action = "SESSION_TERMINATED"
	ActionInvalidSession     Action = "INVALID_SESSION"
	ActionSessionExpired     Action = "SESSION_EXPIRED"
	ActionSessionIdleTimeout Action = "SESSION_IDLE_TIMEOUT"
	ActionSessionInvalidated Action = "SESSION_INVALIDATED"
	ActionIPAddressChange    Action = "IP_ADDRESS_CHANGE"
	ActionSuspiciousActivity Action = "SUSPICIOUS_ACTIVITY"
	ActionAccountLocked      Action = "ACCOUNT_LOCKED"
	ActionAccountUnlocked    Action = "ACCOUNT_UNLOCKED"
	ActionUnauthorizedAccess Action = "UNAUTHORIZED_ACCESS"
	ActionPasswordChanged    Action = "PASSWORD_CHANGED"
	ActionPasswordChangeFail Action = "PASSWORD_CHANGE_FAILED"
	ActionPasswordCheck      Action = "PASSWORD_STRENGTH_CHECK"
)

// AuditEvent is an immutable record of a security-relevant action.
// UserID may be empty for events with no resolved identity (e.g. login with an unknown email).
type AuditEvent struct {
	ID        string
	UserID    string
	Action    Action
	Resource  string
	IPAddress string
	UserAgent string
	Metadata  map[string]any
	Timestamp time.Time
	RiskLevel RiskLevel
}

// SecurityCritical reports whether losing this event would weaken a lock or invalidation decision.
func (e *AuditEvent) SecurityCritical() bool {
	if e.RiskLevel.AtLeast(RiskHigh) {
		return true
	}
	switch e.Action {
	case ActionLoginFailed, ActionIPAddressChange, ActionInvalidSession, ActionAccountLocked, ActionSuspiciousActivity:
		return true
	}
	return false
}

// Clone returns a deep copy so stored events cannot be mutated through returned pointers.
func (e *AuditEvent) Clone() *AuditEvent {
	if e == nil {
		return nil
	}
	c := *e
	if e.Metadata != nil {
		c.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
