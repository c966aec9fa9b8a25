// Package producer defines the interface for publishing security alerts (e.g. to Kafka).
package producer

import (
	"context"

	"ledgerguard/backend/internal/telemetry/domain"
)

// Producer publishes security alerts. Callers use it best-effort: log and ignore errors.
type Producer interface {
	// Emit sends a single alert. Implementations may block briefly; call from a goroutine if needed.
	Emit(ctx context.Context, alert *domain.SecurityAlert) error
	// Close releases resources (e.g. Kafka writer). Safe to call if already closed.
	Close() error
}
