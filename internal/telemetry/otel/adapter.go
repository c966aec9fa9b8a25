package otel

import (
	"context"
	"encoding/json"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"ledgerguard/backend/internal/telemetry"
	"ledgerguard/backend/internal/telemetry/domain"
)

// recordEmitter is the subset of otellog.Logger used by the alert emitter.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewEventEmitter returns an EventEmitter that sends alerts as OTel log records via the given LoggerProvider.
// If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: provider.Logger("ledgerguard.security")}
}

// NewEventEmitterWithLogger returns an emitter writing to logger directly.
func NewEventEmitterWithLogger(logger recordEmitter) telemetry.EventEmitter {
	if logger == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: logger}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *domain.SecurityAlert) error { return nil }

type otelEmitter struct {
	logger recordEmitter
}

// Emit converts the alert to an OTel log record: message as body, metadata as a JSON attribute.
func (e *otelEmitter) Emit(ctx context.Context, alert *domain.SecurityAlert) error {
	if alert == nil {
		return nil
	}
	rec := otellog.Record{}
	if !alert.CreatedAt.IsZero() {
		rec.SetTimestamp(alert.CreatedAt)
	} else {
		rec.SetTimestamp(time.Now().UTC())
	}
	rec.SetSeverity(severityOf(alert.Severity))
	rec.SetSeverityText(string(alert.Severity))
	if alert.Message != "" {
		rec.SetBody(otellog.StringValue(alert.Message))
	}
	for _, kv := range []struct{ k, v string }{
		{"alert_id", alert.ID},
		{"user_id", alert.UserID},
		{"alert_type", alert.Type},
		{"risk_tier", alert.Tier},
		{"trigger", alert.Trigger},
	} {
		if kv.v != "" {
			rec.AddAttributes(otellog.String(kv.k, kv.v))
		}
	}
	if len(alert.Metadata) > 0 {
		if b, err := json.Marshal(alert.Metadata); err == nil {
			rec.AddAttributes(otellog.String("metadata", string(b)))
		}
	}
	e.logger.Emit(ctx, rec)
	return nil
}

func severityOf(s domain.Severity) otellog.Severity {
	switch s {
	case domain.SeverityCritical:
		return otellog.SeverityFatal
	case domain.SeverityHigh:
		return otellog.SeverityError
	default:
		return otellog.SeverityWarn
	}
}
