package domain

import "testing"

func TestUser_Validate(t *testing.T) {
	u := &User{Email: "a@example.com", PasswordHash: "x"}
	if err := u.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if u.Status != UserStatusActive {
		t.Errorf("Status = %q, want %q", u.Status, UserStatusActive)
	}
	if err := (&User{PasswordHash: "x"}).Validate(); err == nil {
		t.Error("missing email should fail")
	}
	if err := (&User{Email: "a@example.com"}).Validate(); err == nil {
		t.Error("missing password hash should fail")
	}
}

func TestRoles(t *testing.T) {
	roles := SplitRoles(" admin, ,compliance")
	if len(roles) != 2 || roles[0] != RoleAdmin || roles[1] != RoleCompliance {
		t.Errorf("SplitRoles = %v", roles)
	}
	if JoinRoles(roles) != "admin,compliance" {
		t.Errorf("JoinRoles = %q", JoinRoles(roles))
	}
	if SplitRoles("") != nil {
		t.Error("SplitRoles(\"\") should be nil")
	}
	u := &User{Roles: roles}
	if !u.HasRole(RoleCompliance) || u.HasRole(RoleUser) {
		t.Error("HasRole mismatch")
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  Alice@Example.COM "); got != "alice@example.com" {
		t.Errorf("NormalizeEmail = %q", got)
	}
}
