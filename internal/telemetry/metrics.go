package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "ledgerguard/security"

// Metrics holds the security counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	sessionsCreated     metric.Int64Counter
	validations         metric.Int64Counter
	sessionsInvalidated metric.Int64Counter
	accountsLocked      metric.Int64Counter
	suspicious          metric.Int64Counter
	alerts              metric.Int64Counter
	rateLimited         metric.Int64Counter
	auditAppendFailures metric.Int64Counter
	httpRequests        metric.Int64Counter
}

// NewMetrics registers the counters on provider, or on the global MeterProvider when provider is nil.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)
	m := &Metrics{}
	for _, c := range []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.sessionsCreated, "security.sessions.created", "Sessions created"},
		{&m.validations, "security.sessions.validations", "Session validations by outcome"},
		{&m.sessionsInvalidated, "security.sessions.invalidated", "Sessions invalidated by reason"},
		{&m.accountsLocked, "security.accounts.locked", "Accounts locked by risk evaluation"},
		{&m.suspicious, "security.suspicious_activity", "Suspicious activity flags raised"},
		{&m.alerts, "security.alerts", "Security alerts emitted by type"},
		{&m.rateLimited, "security.rate_limited", "Requests rejected by rate limiting"},
		{&m.auditAppendFailures, "security.audit.append_failures", "Audit appends that failed to persist"},
		{&m.httpRequests, "http.server.requests", "HTTP requests by method and status code"},
	} {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}
	return m, nil
}

func add(ctx context.Context, c metric.Int64Counter, n int64, attrs ...attribute.KeyValue) {
	if c == nil || n <= 0 {
		return
	}
	c.Add(ctx, n, metric.WithAttributes(attrs...))
}

// SessionCreated counts one new session.
func (m *Metrics) SessionCreated(ctx context.Context) {
	if m == nil {
		return
	}
	add(ctx, m.sessionsCreated, 1)
}

// Validation counts a validation outcome; signal is empty for a valid session.
func (m *Metrics) Validation(ctx context.Context, valid bool, signal string) {
	if m == nil {
		return
	}
	add(ctx, m.validations, 1, attribute.Bool("valid", valid), attribute.String("signal", signal))
}

// SessionsInvalidated counts n sessions invalidated for reason.
func (m *Metrics) SessionsInvalidated(ctx context.Context, reason string, n int) {
	if m == nil {
		return
	}
	add(ctx, m.sessionsInvalidated, int64(n), attribute.String("reason", reason))
}

// AccountLocked counts one account lock.
func (m *Metrics) AccountLocked(ctx context.Context) {
	if m == nil {
		return
	}
	add(ctx, m.accountsLocked, 1)
}

// SuspiciousActivity counts one suspicious-activity flag.
func (m *Metrics) SuspiciousActivity(ctx context.Context) {
	if m == nil {
		return
	}
	add(ctx, m.suspicious, 1)
}

// Alert counts one emitted alert.
func (m *Metrics) Alert(ctx context.Context, alertType, severity string) {
	if m == nil {
		return
	}
	add(ctx, m.alerts, 1, attribute.String("type", alertType), attribute.String("severity", severity))
}

// RateLimited counts one rejection for action.
func (m *Metrics) RateLimited(ctx context.Context, action string) {
	if m == nil {
		return
	}
	add(ctx, m.rateLimited, 1, attribute.String("action", action))
}

// AuditAppendFailed counts one audit write that did not persist.
func (m *Metrics) AuditAppendFailed(ctx context.Context, action string) {
	if m == nil {
		return
	}
	add(ctx, m.auditAppendFailures, 1, attribute.String("action", action))
}

// HTTPRequest counts one completed HTTP request.
func (m *Metrics) HTTPRequest(ctx context.Context, method string, status int) {
	if m == nil {
		return
	}
	add(ctx, m.httpRequests, 1, attribute.String("method", method), attribute.Int("status", status))
}
