package domain

import (
	"errors"
	"strings"
	"time"
)

// User is the account record consulted at login and locked by the risk assessor.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Status       UserStatus
	Roles        []string
	IsLocked     bool
	LockedAt     *time.Time
	LockReason   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// Roles granted to operators.
const (
	RoleAdmin      = "admin"
	RoleCompliance = "compliance"
	RoleUser       = "user"
)

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.Email == "" {
		return errors.New("email is required")
	}
	if u.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	return nil
}

// HasRole reports whether the user holds role.
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// NormalizeEmail lowercases and trims an email for lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// JoinRoles encodes roles for a single text column.
func JoinRoles(roles []string) string { return strings.Join(roles, ",") }

// SplitRoles decodes a roles column written by JoinRoles.
func SplitRoles(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
