package telemetry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"ledgerguard/backend/internal/logger"
	"ledgerguard/backend/internal/telemetry/domain"
)

// emitTimeout bounds a single alert delivery.
const emitTimeout = 5 * time.Second

var inflight sync.WaitGroup

// EmitAsync delivers alert on its own goroutine and returns at once. The delivery is
// detached from ctx so a finished request does not cancel it; failures are logged.
// Nil emitter or alert is a no-op.
func EmitAsync(emitter EventEmitter, ctx context.Context, alert *domain.SecurityAlert) {
	if emitter == nil || alert == nil {
		return
	}
	inflight.Add(1)
	go func() {
		defer inflight.Done()
		emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emitTimeout)
		defer cancel()
		if err := emitter.Emit(emitCtx, alert); err != nil {
			logger.Get().Warn("telemetry: async emit failed",
				zap.Error(err), zap.String("alert_type", alert.Type), logger.UserID(alert.UserID))
		}
	}()
}

// EmitSync delivers alert within emitTimeout and returns the emitter's error.
func EmitSync(emitter EventEmitter, ctx context.Context, alert *domain.SecurityAlert) error {
	if emitter == nil || alert == nil {
		return nil
	}
	emitCtx, cancel := context.WithTimeout(ctx, emitTimeout)
	defer cancel()
	return emitter.Emit(emitCtx, alert)
}

// Drain blocks until every EmitAsync delivery has returned or ctx is done.
// Call it after the HTTP server stops and before the providers shut down.
func Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
