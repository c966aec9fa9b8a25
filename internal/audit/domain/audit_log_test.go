package domain

import "testing"

func TestRiskLevel_Order(t *testing.T) {
	for i, lvl := range RiskLevels {
		if lvl.Rank() != i {
			t.Errorf("%s.Rank() = %d, want %d", lvl, lvl.Rank(), i)
		}
		if !lvl.Valid() {
			t.Errorf("%s should be valid", lvl)
		}
	}
	if !RiskCritical.AtLeast(RiskHigh) {
		t.Error("CRITICAL should be at least HIGH")
	}
	if RiskMedium.AtLeast(RiskHigh) {
		t.Error("MEDIUM should not be at least HIGH")
	}
	if RiskLevel("SEVERE").Valid() {
		t.Error("unknown level should be invalid")
	}
}

func TestAuditEvent_SecurityCritical(t *testing.T) {
	cases := []struct {
		name string
		ev   AuditEvent
		want bool
	}{
		{"failed login", AuditEvent{Action: ActionLoginFailed, RiskLevel: RiskMedium}, true},
		{"ip change", AuditEvent{Action: ActionIPAddressChange, RiskLevel: RiskHigh}, true},
		{"critical anything", AuditEvent{Action: ActionLogout, RiskLevel: RiskCritical}, true},
		{"logout", AuditEvent{Action: ActionLogout, RiskLevel: RiskLow}, false},
		{"login success", AuditEvent{Action: ActionLoginSuccess, RiskLevel: RiskLow}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.ev.SecurityCritical(); got != tc.want {
				t.Errorf("SecurityCritical() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAuditEvent_CloneIsDeep(t *testing.T) {
	e := &AuditEvent{ID: "e1", Metadata: map[string]any{"k": "v"}}
	c := e.Clone()
	c.Metadata["k"] = "changed"
	if e.Metadata["k"] != "v" {
		t.Error("Clone should not share metadata")
	}
	var nilEvent *AuditEvent
	if nilEvent.Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}
