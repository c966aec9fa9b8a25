package risk

import (
	auditdomain "ledgerguard/backend/internal/audit/domain"
)

// Score deductions.
const (
	maxScore              = 100
	highRiskPenalty       = 10
	failedLoginPenalty    = 5
	extraSessionPenalty   = 5
	freeConcurrentSession = 3
)

// Summary holds the counts the score and recommendations are derived from.
type Summary struct {
	HighRiskEvents int
	FailedLogins   int
	ActiveSessions int
}

// Summarize counts high-risk events and failed logins in events.
func Summarize(events []*auditdomain.AuditEvent, activeSessions int) Summary {
	s := Summary{ActiveSessions: activeSessions}
	for _, e := range events {
		if e.RiskLevel.AtLeast(auditdomain.RiskHigh) {
			s.HighRiskEvents++
		}
		if e.Action == auditdomain.ActionLoginFailed {
			s.FailedLogins++
		}
	}
	return s
}

// SecurityScore starts at 100 and deducts for the last 24h of events and for concurrent sessions
// beyond three. The result is clamped to [0, 100]. It is for reporting only.
func SecurityScore(events24h []*auditdomain.AuditEvent, activeSessions int) int {
	return Summarize(events24h, activeSessions).Score()
}

// Score computes the security score for s.
func (s Summary) Score() int {
	score := maxScore
	score -= highRiskPenalty * s.HighRiskEvents
	score -= failedLoginPenalty * s.FailedLogins
	if extra := s.ActiveSessions - freeConcurrentSession; extra > 0 {
		score -= extraSessionPenalty * extra
	}
	return min(max(score, 0), maxScore)
}

// Recommendations returns advice for the status page. It is never empty.
func (s Summary) Recommendations() []string {
	var out []string
	if s.ActiveSessions > freeConcurrentSession {
		out = append(out, "Review your active sessions and terminate any you do not recognize")
	}
	if s.FailedLogins > 0 {
		out = append(out, "Recent failed login attempts were detected; consider changing your password")
	}
	if s.HighRiskEvents > 0 {
		out = append(out, "Review recent high-risk security events in your audit log")
	}
	if s.Score() < 70 {
		out = append(out, "Log out of all sessions and sign in again from trusted devices")
	}
	if len(out) == 0 {
		out = append(out, "No action needed; your account security looks good")
	}
	return out
}
