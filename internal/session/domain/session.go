package domain

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a session. INVALIDATED is terminal.
type Status string

const (
	StatusActive      Status = "ACTIVE"
	StatusInvalidated Status = "INVALIDATED"
)

// Reasons recorded when a session is invalidated.
const (
	ReasonLogout        = "logout"
	ReasonLogoutAll     = "logout_all"
	ReasonExpired       = "expired"
	ReasonIdleTimeout   = "idle_timeout"
	ReasonIPMismatch    = "ip_mismatch"
	ReasonTerminated    = "terminated"
	ReasonAccountLocked = "account_locked"
	ReasonPasswordReset = "password_changed"
)

// ErrIllegalTransition is returned when an update would break a session invariant.
var ErrIllegalTransition = errors.New("illegal session transition")

// Session binds a user to a time-bounded, IP-pinned authentication grant.
// ExpiresAt is fixed at creation; LastActivity only moves forward.
type Session struct {
	ID                 string
	UserID             string
	IPAddress          string
	UserAgent          string
	CreatedAt          time.Time
	ExpiresAt          time.Time
	LastActivity       time.Time
	IdleTimeout        time.Duration
	Status             Status
	InvalidatedAt      *time.Time // nil while active
	InvalidationReason string
}

// Active reports whether the session has not been invalidated. It does not check expiry.
func (s *Session) Active() bool { return s.Status == StatusActive }

// Expired reports whether now is past the absolute expiry.
func (s *Session) Expired(now time.Time) bool { return now.After(s.ExpiresAt) }

// Idle reports whether the session has been inactive longer than its idle timeout.
func (s *Session) Idle(now time.Time) bool { return now.Sub(s.LastActivity) > s.IdleTimeout }

// Invalidate moves the session to INVALIDATED. Returns false if it already was.
func (s *Session) Invalidate(reason string, at time.Time) bool {
	if s.Status == StatusInvalidated {
		return false
	}
	s.Status = StatusInvalidated
	t := at
	s.InvalidatedAt = &t
	s.InvalidationReason = reason
	return true
}

// Touch advances LastActivity to at; it never moves backwards.
func (s *Session) Touch(at time.Time) {
	if at.After(s.LastActivity) {
		s.LastActivity = at
	}
}

// Clone returns a copy that shares no pointers with s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.InvalidatedAt != nil {
		t := *s.InvalidatedAt
		c.InvalidatedAt = &t
	}
	return &c
}

// Equal reports whether s and o hold the same values.
func (s *Session) Equal(o *Session) bool {
	if s == nil || o == nil {
		return s == o
	}
	if (s.InvalidatedAt == nil) != (o.InvalidatedAt == nil) {
		return false
	}
	if s.InvalidatedAt != nil && !s.InvalidatedAt.Equal(*o.InvalidatedAt) {
		return false
	}
	return s.ID == o.ID && s.UserID == o.UserID && s.IPAddress == o.IPAddress && s.UserAgent == o.UserAgent &&
		s.CreatedAt.Equal(o.CreatedAt) && s.ExpiresAt.Equal(o.ExpiresAt) && s.LastActivity.Equal(o.LastActivity) &&
		s.IdleTimeout == o.IdleTimeout && s.Status == o.Status && s.InvalidationReason == o.InvalidationReason
}

// CheckTransition returns ErrIllegalTransition when next is not a legal successor of prev:
// identity and lifetime fields are immutable, INVALIDATED never returns to ACTIVE,
// and LastActivity never moves backwards.
func CheckTransition(prev, next *Session) error {
	switch {
	case next.ID != prev.ID, next.UserID != prev.UserID, next.IPAddress != prev.IPAddress:
		return ErrIllegalTransition
	case !next.CreatedAt.Equal(prev.CreatedAt), !next.ExpiresAt.Equal(prev.ExpiresAt), next.IdleTimeout != prev.IdleTimeout:
		return ErrIllegalTransition
	case prev.Status == StatusInvalidated && next.Status != StatusInvalidated:
		return ErrIllegalTransition
	case next.LastActivity.Before(prev.LastActivity):
		return ErrIllegalTransition
	case next.Status != StatusActive && next.Status != StatusInvalidated:
		return ErrIllegalTransition
	}
	return nil
}
