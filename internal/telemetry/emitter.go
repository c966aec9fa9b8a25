package telemetry

import (
	"context"
	"errors"

	"ledgerguard/backend/internal/telemetry/domain"
)

// EventEmitter delivers security alerts (e.g. to Kafka or OTel Logs). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, alert *domain.SecurityAlert) error
}

// Fanout emits each alert to every non-nil emitter and joins their errors.
type Fanout []EventEmitter

// Emit sends alert to all emitters. One failing sink does not stop the others.
func (f Fanout) Emit(ctx context.Context, alert *domain.SecurityAlert) error {
	var errs []error
	for _, e := range f {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
