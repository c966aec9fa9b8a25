package domain

import "time"

// Policy is an operator-supplied Rego module in package ledgerguard.access. Enabled modules are
// compiled together with the built-in policy; any allow rule that matches grants access.
type Policy struct {
	ID        string
	Name      string
	Module    string
	Enabled   bool
	CreatedAt time.Time
}

// Access actions checked by the policy engine.
const (
	ActionComplianceReport = "compliance_report"
	ActionLockAccount      = "lock_account"
	ActionUnlockAccount    = "unlock_account"
)
