package repository

import (
	"context"
	"time"

	"ledgerguard/backend/internal/audit/domain"
)

// Repository defines append-only persistence for audit events. There is no update or delete.
type Repository interface {
	// Append persists e. The event must have ID and Timestamp set.
	Append(ctx context.Context, e *domain.AuditEvent) error
	// ListByUser returns the user's events at or after since, newest first. limit <= 0 means no limit.
	ListByUser(ctx context.Context, userID string, since time.Time, limit int) ([]*domain.AuditEvent, error)
	// ListWindow returns all of the user's events at or after since, oldest first.
	ListWindow(ctx context.Context, userID string, since time.Time) ([]*domain.AuditEvent, error)
	// CountByAction counts events with the given action at or after since whose user id or IP equals identifier.
	CountByAction(ctx context.Context, identifier string, action domain.Action, since time.Time) (int, error)
	// ListRange returns events with start <= timestamp <= end, oldest first. Empty userID means all users.
	ListRange(ctx context.Context, start, end time.Time, userID string) ([]*domain.AuditEvent, error)
}

// Cipher encrypts metadata at rest. Implemented by security.FieldCipher.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}
