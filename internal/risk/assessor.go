package risk

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ledgerguard/backend/internal/apperr"
	auditdomain "ledgerguard/backend/internal/audit/domain"
	"ledgerguard/backend/internal/logger"
	sessiondomain "ledgerguard/backend/internal/session/domain"
	"ledgerguard/backend/internal/telemetry"
	telemetrydomain "ledgerguard/backend/internal/telemetry/domain"
)

// Lock reasons recorded on the account.
const (
	LockReasonFailedLogins = "Multiple failed login attempts"
	LockReasonAdmin        = "Locked by administrator"
)

// AuditLog is the part of the audit log the assessor reads and writes.
type AuditLog interface {
	Append(ctx context.Context, e *auditdomain.AuditEvent) error
	Window(ctx context.Context, userID string, since time.Time) ([]*auditdomain.AuditEvent, error)
}

// SessionInvalidator ends every session of a user.
type SessionInvalidator interface {
	InvalidateAll(ctx context.Context, userID, reason string) (int, error)
}

// AccountLocker sets the account lock state. Lock reports whether the state changed.
type AccountLocker interface {
	Lock(ctx context.Context, userID, reason string, at time.Time) (bool, error)
	Unlock(ctx context.Context, userID string, at time.Time) error
}

// Evaluation is the result of one assessment.
type Evaluation struct {
	Tier                Tier
	Signals             []Signal
	FailedLogins        int
	DistinctIPs         int
	NewlyLocked         bool
	SessionsInvalidated int
	Flagged             bool
}

func (ev *Evaluation) apply(s Signal) {
	ev.Tier = Transition(ev.Tier, s)
	ev.Signals = append(ev.Signals, s)
}

// Assessor records security events and reacts to the trailing window of each user's audit trail.
// Record is the single entry point for events any decision depends on.
type Assessor struct {
	audit      AuditLog
	sessions   SessionInvalidator
	locker     AccountLocker
	thresholds Thresholds
	emitter    telemetry.EventEmitter
	metrics    *telemetry.Metrics
	log        *zap.Logger
	now        func() time.Time
}

// Option configures an Assessor.
type Option func(*Assessor)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(a *Assessor) { a.now = now } }

// WithEmitter sets where alerts are sent. Without one, alerts are only logged.
func WithEmitter(e telemetry.EventEmitter) Option { return func(a *Assessor) { a.emitter = e } }

// WithMetrics sets the counters updated by evaluations.
func WithMetrics(m *telemetry.Metrics) Option { return func(a *Assessor) { a.metrics = m } }

// NewAssessor returns an assessor. log may be nil; zero thresholds take the defaults.
func NewAssessor(audit AuditLog, sessions SessionInvalidator, locker AccountLocker, th Thresholds, log *zap.Logger, opts ...Option) *Assessor {
	a := &Assessor{
		audit:      audit,
		sessions:   sessions,
		locker:     locker,
		thresholds: th.withDefaults(),
		log:        logger.OrNop(log),
		now:        time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Thresholds returns the effective thresholds.
func (a *Assessor) Thresholds() Thresholds { return a.thresholds }

// Record appends e and evaluates the acting user's window.
//
// An append failure on a security-critical event escalates to WATCH and alerts before the storage
// error is returned; other append failures only return the error. Events without a user id are
// stored but not evaluated.
func (a *Assessor) Record(ctx context.Context, e *auditdomain.AuditEvent) (Evaluation, error) {
	ev := Evaluation{Tier: TierNormal}
	if err := a.audit.Append(ctx, e); err != nil {
		if errors.Is(err, apperr.ErrValidation) {
			return ev, err
		}
		a.metrics.AuditAppendFailed(ctx, string(e.Action))
		if e.SecurityCritical() {
			ev.apply(SignalWindowUnavailable)
			a.alertSync(ctx, a.newAlert(e.UserID, telemetrydomain.AlertAuditUnavailable, telemetrydomain.SeverityHigh,
				"security-critical audit event could not be stored", ev.Tier, e.Action, map[string]any{"error": err.Error()}))
		}
		return ev, err
	}
	if e.RiskLevel == auditdomain.RiskCritical {
		a.criticalEvent(ctx, e)
	}
	if e.UserID == "" {
		return ev, nil
	}
	return a.evaluate(ctx, e)
}

func (a *Assessor) evaluate(ctx context.Context, trigger *auditdomain.AuditEvent) (Evaluation, error) {
	ev := Evaluation{Tier: TierNormal}
	userID := trigger.UserID
	events, err := a.audit.Window(ctx, userID, a.now().UTC().Add(-a.thresholds.Window))
	if err != nil {
		ev.apply(SignalWindowUnavailable)
		a.log.Error("risk: window unavailable, treating as elevated", logger.UserID(userID), zap.Error(err))
		a.alertSync(ctx, a.newAlert(userID, telemetrydomain.AlertAuditUnavailable, telemetrydomain.SeverityHigh,
			"risk window could not be read", ev.Tier, trigger.Action, nil))
		return ev, apperr.Storage("risk window", err)
	}

	ips := make(map[string]int)
	flaggedAlready := false
	// events are oldest first; a successful login or an unlock ends the failure streak
	for _, e := range events {
		switch e.Action {
		case auditdomain.ActionLoginFailed:
			ev.FailedLogins++
		case auditdomain.ActionLoginSuccess, auditdomain.ActionAccountUnlocked:
			ev.FailedLogins = 0
		}
		if e.Action == auditdomain.ActionSuspiciousActivity {
			flaggedAlready = true
		}
		if e.IPAddress != "" {
			ips[e.IPAddress]++
		}
	}
	ev.DistinctIPs = len(ips)

	var errs []error
	if ev.FailedLogins >= a.thresholds.FailedLogins {
		ev.apply(SignalFailedLogins)
		changed, n, err := a.lockAccount(ctx, userID, LockReasonFailedLogins, ev.FailedLogins)
		ev.NewlyLocked, ev.SessionsInvalidated = changed, n
		if err != nil {
			errs = append(errs, err)
		}
	}
	if ev.DistinctIPs > a.thresholds.DistinctIPs {
		ev.apply(SignalIPSpread)
		newIP := trigger.IPAddress != "" && ips[trigger.IPAddress] == 1
		if newIP || !flaggedAlready {
			a.flagSuspicious(ctx, trigger, ev)
			ev.Flagged = true
		}
	}
	return ev, errors.Join(errs...)
}

// LockAccount locks userID and invalidates all of the user's sessions. Sessions are invalidated even
// when the account was already locked or the lock itself failed.
func (a *Assessor) LockAccount(ctx context.Context, userID, reason string) (bool, error) {
	if reason == "" {
		reason = LockReasonAdmin
	}
	changed, _, err := a.lockAccount(ctx, userID, reason, 0)
	return changed, err
}

// UnlockAccount clears the lock and records ACCOUNT_UNLOCKED, which ends the failed-login streak
// so the next correct login is not locked again by failures already in the window.
func (a *Assessor) UnlockAccount(ctx context.Context, userID, actorID string) error {
	now := a.now().UTC()
	if err := a.locker.Unlock(ctx, userID, now); err != nil {
		a.log.Error("risk: account unlock failed", logger.UserID(userID), zap.Error(err))
		return apperr.Storage("account unlock", err)
	}
	_, err := a.Record(ctx, &auditdomain.AuditEvent{
		UserID:    userID,
		Action:    auditdomain.ActionAccountUnlocked,
		Resource:  "account",
		Metadata:  map[string]any{"unlocked_by": actorID},
		Timestamp: now,
		RiskLevel: auditdomain.RiskHigh,
	})
	if err != nil {
		return err
	}
	a.log.Info("account unlocked", logger.UserID(userID), zap.String("unlocked_by", actorID))
	return nil
}

func (a *Assessor) lockAccount(ctx context.Context, userID, reason string, failedLogins int) (bool, int, error) {
	now := a.now().UTC()
	changed, lockErr := a.locker.Lock(ctx, userID, reason, now)
	if lockErr != nil {
		a.log.Error("risk: account lock failed", logger.UserID(userID), zap.Error(lockErr))
		a.alertSync(ctx, a.newAlert(userID, telemetrydomain.AlertAccountLocked, telemetrydomain.SeverityCritical,
			"account lock could not be stored; sessions are being invalidated", TierLocked, auditdomain.ActionAccountLocked,
			map[string]any{"reason": reason, "error": lockErr.Error()}))
		lockErr = apperr.Storage("account lock", lockErr)
	}

	if changed {
		a.metrics.AccountLocked(ctx)
		meta := map[string]any{"reason": reason}
		if failedLogins > 0 {
			meta["failed_logins"] = failedLogins
		}
		locked := &auditdomain.AuditEvent{
			UserID:    userID,
			Action:    auditdomain.ActionAccountLocked,
			Resource:  "account",
			Metadata:  meta,
			Timestamp: now,
			RiskLevel: auditdomain.RiskCritical,
		}
		if err := a.audit.Append(ctx, locked); err != nil {
			a.metrics.AuditAppendFailed(ctx, string(locked.Action))
		}
		a.criticalEvent(ctx, locked)
	}

	n, invErr := a.sessions.InvalidateAll(ctx, userID, sessiondomain.ReasonAccountLocked)
	if invErr != nil {
		a.log.Error("risk: session invalidation after lock failed", logger.UserID(userID), zap.Error(invErr))
		invErr = apperr.Storage("invalidate sessions", invErr)
	}
	a.metrics.SessionsInvalidated(ctx, sessiondomain.ReasonAccountLocked, n)
	return changed, n, errors.Join(lockErr, invErr)
}

func (a *Assessor) flagSuspicious(ctx context.Context, trigger *auditdomain.AuditEvent, ev Evaluation) {
	flag := &auditdomain.AuditEvent{
		UserID:    trigger.UserID,
		Action:    auditdomain.ActionSuspiciousActivity,
		Resource:  "account",
		IPAddress: trigger.IPAddress,
		UserAgent: trigger.UserAgent,
		Metadata: map[string]any{
			"distinct_ips":   ev.DistinctIPs,
			"window_minutes": int(a.thresholds.Window / time.Minute),
			"trigger":        string(trigger.Action),
		},
		RiskLevel: auditdomain.RiskHigh,
	}
	if err := a.audit.Append(ctx, flag); err != nil {
		a.metrics.AuditAppendFailed(ctx, string(flag.Action))
	}
	a.metrics.SuspiciousActivity(ctx)
	a.log.Warn("risk: suspicious activity", logger.UserID(trigger.UserID), zap.Int("distinct_ips", ev.DistinctIPs))
	telemetry.EmitAsync(a.emitter, ctx, a.newAlert(trigger.UserID, telemetrydomain.AlertSuspiciousActivity,
		telemetrydomain.SeverityHigh, "activity from an unusual number of IP addresses", ev.Tier, trigger.Action, flag.Metadata))
	a.metrics.Alert(ctx, telemetrydomain.AlertSuspiciousActivity, string(telemetrydomain.SeverityHigh))
}

// criticalEvent writes the alert to the log synchronously, then hands it to the emitter.
func (a *Assessor) criticalEvent(ctx context.Context, e *auditdomain.AuditEvent) {
	alertType, tier := telemetrydomain.AlertCriticalEvent, Tier("")
	if e.Action == auditdomain.ActionAccountLocked {
		alertType, tier = telemetrydomain.AlertAccountLocked, TierLocked
	}
	alert := a.newAlert(e.UserID, alertType, telemetrydomain.SeverityCritical,
		"critical security event: "+string(e.Action), tier, e.Action, e.Metadata)
	a.log.Error("risk: critical security event",
		zap.String("alert_id", alert.ID),
		zap.String("action", string(e.Action)),
		logger.UserID(e.UserID),
		logger.IP(e.IPAddress))
	telemetry.EmitAsync(a.emitter, ctx, alert)
	a.metrics.Alert(ctx, alertType, string(telemetrydomain.SeverityCritical))
}

// alertSync logs the alert and waits for the emitter, for failures where nothing else is recorded.
func (a *Assessor) alertSync(ctx context.Context, alert *telemetrydomain.SecurityAlert) {
	a.log.Error("risk: security alert",
		zap.String("alert_id", alert.ID),
		zap.String("alert_type", alert.Type),
		logger.UserID(alert.UserID),
		zap.String("message", alert.Message))
	if err := telemetry.EmitSync(a.emitter, ctx, alert); err != nil {
		a.log.Warn("risk: alert emit failed", zap.String("alert_id", alert.ID), zap.Error(err))
	}
	a.metrics.Alert(ctx, alert.Type, string(alert.Severity))
}

func (a *Assessor) newAlert(userID, alertType string, sev telemetrydomain.Severity, msg string, tier Tier, trigger auditdomain.Action, meta map[string]any) *telemetrydomain.SecurityAlert {
	return &telemetrydomain.SecurityAlert{
		ID:        uuid.New().String(),
		UserID:    userID,
		Type:      alertType,
		Severity:  sev,
		Message:   msg,
		Tier:      string(tier),
		Trigger:   string(trigger),
		Metadata:  meta,
		CreatedAt: a.now().UTC(),
	}
}
