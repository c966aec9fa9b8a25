package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ledgerguard/backend/internal/apperr"
	"ledgerguard/backend/internal/audit"
	auditdomain "ledgerguard/backend/internal/audit/domain"
	auditrepo "ledgerguard/backend/internal/audit/repository"
	sessionrepo "ledgerguard/backend/internal/session/repository"
	sessionservice "ledgerguard/backend/internal/session/service"
	telemetrydomain "ledgerguard/backend/internal/telemetry/domain"
	userdomain "ledgerguard/backend/internal/user/domain"
	userrepo "ledgerguard/backend/internal/user/repository"
)

var testNow = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

// flakyAuditRepo wraps the memory repository with switchable failures.
type flakyAuditRepo struct {
	*auditrepo.MemoryRepository
	mu         sync.Mutex
	failAppend bool
	failWindow bool
}

func (r *flakyAuditRepo) Append(ctx context.Context, e *auditdomain.AuditEvent) error {
	r.mu.Lock()
	fail := r.failAppend
	r.mu.Unlock()
	if fail {
		return errors.New("audit store down")
	}
	return r.MemoryRepository.Append(ctx, e)
}

func (r *flakyAuditRepo) ListWindow(ctx context.Context, userID string, since time.Time) ([]*auditdomain.AuditEvent, error) {
	r.mu.Lock()
	fail := r.failWindow
	r.mu.Unlock()
	if fail {
		return nil, errors.New("audit store down")
	}
	return r.MemoryRepository.ListWindow(ctx, userID, since)
}

type captureEmitter struct {
	mu     sync.Mutex
	alerts []*telemetrydomain.SecurityAlert
}

func (c *captureEmitter) Emit(_ context.Context, a *telemetrydomain.SecurityAlert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
	return nil
}

func (c *captureEmitter) ofType(t string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, a := range c.alerts {
		if a.Type == t {
			n++
		}
	}
	return n
}

type failingLocker struct{}

func (failingLocker) Lock(context.Context, string, string, time.Time) (bool, error) {
	return false, errors.New("identity store down")
}

func (failingLocker) Unlock(context.Context, string, time.Time) error {
	return errors.New("identity store down")
}

type fixture struct {
	repo     *flakyAuditRepo
	audit    *audit.Logger
	sessions *sessionservice.Manager
	users    *userrepo.MemoryRepository
	emitter  *captureEmitter
	assessor *Assessor
}

func newFixture(t *testing.T, opts ...func(*fixture) AccountLocker) *fixture {
	t.Helper()
	f := &fixture{
		repo:    &flakyAuditRepo{MemoryRepository: auditrepo.NewMemoryRepository()},
		users:   userrepo.NewMemoryRepository(),
		emitter: &captureEmitter{},
	}
	f.audit = audit.NewLogger(f.repo, nil, audit.WithClock(fixedClock))
	f.sessions = sessionservice.NewManager(sessionrepo.NewMemoryRepository(),
		sessionservice.Config{MaxAge: time.Hour, IdleTimeout: 30 * time.Minute}, nil, sessionservice.WithClock(fixedClock))
	require.NoError(t, f.users.Create(context.Background(), &userdomain.User{
		ID: "u1", Email: "u1@example.com", PasswordHash: "x", Status: userdomain.UserStatusActive, CreatedAt: testNow, UpdatedAt: testNow,
	}))
	var locker AccountLocker = f.users
	for _, o := range opts {
		locker = o(f)
	}
	f.assessor = NewAssessor(f.audit, f.sessions, locker, DefaultThresholds, nil,
		WithClock(fixedClock), WithEmitter(f.emitter))
	return f
}

func (f *fixture) count(t *testing.T, action auditdomain.Action) int {
	t.Helper()
	n, err := f.audit.CountByAction(context.Background(), "u1", action, testNow.Add(-time.Hour))
	require.NoError(t, err)
	return n
}

func failedLogin(ip string) *auditdomain.AuditEvent {
	return &auditdomain.AuditEvent{UserID: "u1", Action: auditdomain.ActionLoginFailed, IPAddress: ip, RiskLevel: auditdomain.RiskMedium}
}

func waitForAlerts(t *testing.T, e *captureEmitter, alertType string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return e.ofType(alertType) >= n }, 2*time.Second, 5*time.Millisecond)
}

func TestRecord_FiveFailedLoginsLockOnceAndInvalidateSessions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for i := 0; i < 2; i++ {
		_, err := f.sessions.Create(ctx, "u1", "10.0.0.1", "ua", 0, 0)
		require.NoError(t, err)
	}

	for i := 1; i <= 4; i++ {
		ev, err := f.assessor.Record(ctx, failedLogin("10.0.0.1"))
		require.NoError(t, err)
		require.Equal(t, TierNormal, ev.Tier, "attempt %d", i)
	}
	active, err := f.sessions.CountActive(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 2, active)

	ev, err := f.assessor.Record(ctx, failedLogin("10.0.0.1"))
	require.NoError(t, err)
	require.Equal(t, TierLocked, ev.Tier)
	require.True(t, ev.NewlyLocked)
	require.Equal(t, 5, ev.FailedLogins)
	require.Equal(t, 2, ev.SessionsInvalidated)

	u, err := f.users.GetByID(ctx, "u1")
	require.NoError(t, err)
	require.True(t, u.IsLocked)
	require.Equal(t, LockReasonFailedLogins, u.LockReason)
	active, err = f.sessions.CountActive(ctx, "u1")
	require.NoError(t, err)
	require.Zero(t, active)
	require.Equal(t, 1, f.count(t, auditdomain.ActionAccountLocked))
	waitForAlerts(t, f.emitter, telemetrydomain.AlertAccountLocked, 1)

	// Re-evaluation stays LOCKED without a second lock event.
	ev, err = f.assessor.Record(ctx, failedLogin("10.0.0.1"))
	require.NoError(t, err)
	require.Equal(t, TierLocked, ev.Tier)
	require.False(t, ev.NewlyLocked)
	require.Equal(t, 1, f.count(t, auditdomain.ActionAccountLocked))
}

func TestRecord_DistinctIPsFlagWithoutLocking(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.sessions.Create(ctx, "u1", "10.0.0.1", "ua", 0, 0)
	require.NoError(t, err)

	login := func(ip string) Evaluation {
		ev, err := f.assessor.Record(ctx, &auditdomain.AuditEvent{UserID: "u1", Action: auditdomain.ActionLoginSuccess, IPAddress: ip})
		require.NoError(t, err)
		return ev
	}
	for i := 1; i <= 3; i++ {
		require.Equal(t, TierNormal, login(fmt.Sprintf("10.0.0.%d", i)).Tier)
	}
	ev := login("10.0.0.4")
	require.Equal(t, TierWatch, ev.Tier)
	require.True(t, ev.Flagged)
	require.Equal(t, 4, ev.DistinctIPs)
	require.Equal(t, 1, f.count(t, auditdomain.ActionSuspiciousActivity))

	// A known IP does not re-flag; a new one does.
	ev = login("10.0.0.2")
	require.Equal(t, TierWatch, ev.Tier)
	require.False(t, ev.Flagged)
	require.Equal(t, 1, f.count(t, auditdomain.ActionSuspiciousActivity))
	require.True(t, login("10.0.0.5").Flagged)
	require.Equal(t, 2, f.count(t, auditdomain.ActionSuspiciousActivity))

	u, err := f.users.GetByID(ctx, "u1")
	require.NoError(t, err)
	require.False(t, u.IsLocked)
	active, err := f.sessions.CountActive(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, active)
	waitForAlerts(t, f.emitter, telemetrydomain.AlertSuspiciousActivity, 2)
}

func TestRecord_CriticalTriggerAlerts(t *testing.T) {
	f := newFixture(t)
	ev, err := f.assessor.Record(context.Background(), &auditdomain.AuditEvent{
		UserID: "u1", Action: auditdomain.ActionUnauthorizedAccess, RiskLevel: auditdomain.RiskCritical,
	})
	require.NoError(t, err)
	require.Equal(t, TierNormal, ev.Tier)
	waitForAlerts(t, f.emitter, telemetrydomain.AlertCriticalEvent, 1)
}

func TestRecord_CriticalAppendFailureEscalates(t *testing.T) {
	f := newFixture(t)
	f.repo.failAppend = true
	ev, err := f.assessor.Record(context.Background(), failedLogin("10.0.0.1"))
	require.ErrorIs(t, err, apperr.ErrStorage)
	require.Equal(t, TierWatch, ev.Tier)
	require.Equal(t, []Signal{SignalWindowUnavailable}, ev.Signals)
	// Synchronous: the alert is present on return.
	require.Equal(t, 1, f.emitter.ofType(telemetrydomain.AlertAuditUnavailable))
}

func TestRecord_NonCriticalAppendFailureDoesNotEscalate(t *testing.T) {
	f := newFixture(t)
	f.repo.failAppend = true
	ev, err := f.assessor.Record(context.Background(), &auditdomain.AuditEvent{UserID: "u1", Action: auditdomain.ActionLogout})
	require.ErrorIs(t, err, apperr.ErrStorage)
	require.Equal(t, TierNormal, ev.Tier)
	require.Zero(t, f.emitter.ofType(telemetrydomain.AlertAuditUnavailable))
}

func TestRecord_WindowUnavailableFailsClosed(t *testing.T) {
	f := newFixture(t)
	f.repo.failWindow = true
	ev, err := f.assessor.Record(context.Background(), failedLogin("10.0.0.1"))
	require.ErrorIs(t, err, apperr.ErrStorage)
	require.Equal(t, TierWatch, ev.Tier)
	require.Equal(t, 1, f.emitter.ofType(telemetrydomain.AlertAuditUnavailable))
}

func TestRecord_LockFailureStillInvalidatesSessions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(*fixture) AccountLocker { return failingLocker{} })
	_, err := f.sessions.Create(ctx, "u1", "10.0.0.1", "ua", 0, 0)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := f.assessor.Record(ctx, failedLogin("10.0.0.1"))
		require.NoError(t, err)
	}
	ev, err := f.assessor.Record(ctx, failedLogin("10.0.0.1"))
	require.ErrorIs(t, err, apperr.ErrStorage)
	require.Equal(t, TierLocked, ev.Tier)
	require.Equal(t, 1, ev.SessionsInvalidated)
	require.Equal(t, 1, f.emitter.ofType(telemetrydomain.AlertAccountLocked))
}

func TestRecord_AnonymousEventNotEvaluated(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 6; i++ {
		ev, err := f.assessor.Record(context.Background(), &auditdomain.AuditEvent{Action: auditdomain.ActionLoginFailed, IPAddress: "10.0.0.1"})
		require.NoError(t, err)
		require.Equal(t, TierNormal, ev.Tier)
	}
	require.Equal(t, 6, f.repo.Len())
}

func TestRecord_RejectsEventWithoutAction(t *testing.T) {
	f := newFixture(t)
	_, err := f.assessor.Record(context.Background(), &auditdomain.AuditEvent{UserID: "u1"})
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestLockAccount_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	changed, err := f.assessor.LockAccount(ctx, "u1", "manual")
	require.NoError(t, err)
	require.True(t, changed)
	changed, err = f.assessor.LockAccount(ctx, "u1", "manual")
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, 1, f.count(t, auditdomain.ActionAccountLocked))
}

func TestRecord_SuccessfulLoginEndsFailureStreak(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for i := 0; i < 4; i++ {
		_, err := f.assessor.Record(ctx, failedLogin("10.0.0.1"))
		require.NoError(t, err)
	}
	ev, err := f.assessor.Record(ctx, &auditdomain.AuditEvent{UserID: "u1", Action: auditdomain.ActionLoginSuccess, IPAddress: "10.0.0.1"})
	require.NoError(t, err)
	require.Zero(t, ev.FailedLogins)

	ev, err = f.assessor.Record(ctx, failedLogin("10.0.0.1"))
	require.NoError(t, err)
	require.Equal(t, TierNormal, ev.Tier)
	require.Equal(t, 1, ev.FailedLogins)
	require.Zero(t, f.count(t, auditdomain.ActionAccountLocked))
}

func TestUnlockAccount_ClearsLockAndStreak(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		_, err := f.assessor.Record(ctx, failedLogin("10.0.0.1"))
		require.NoError(t, err)
	}
	u, err := f.users.GetByID(ctx, "u1")
	require.NoError(t, err)
	require.True(t, u.IsLocked)

	require.NoError(t, f.assessor.UnlockAccount(ctx, "u1", "admin-1"))
	u, err = f.users.GetByID(ctx, "u1")
	require.NoError(t, err)
	require.False(t, u.IsLocked)
	require.Empty(t, u.LockReason)
	require.Equal(t, 1, f.count(t, auditdomain.ActionAccountUnlocked))

	// The five failures are still inside the window but no longer count.
	ev, err := f.assessor.Record(ctx, failedLogin("10.0.0.1"))
	require.NoError(t, err)
	require.Equal(t, TierNormal, ev.Tier)
	require.Equal(t, 1, ev.FailedLogins)
	u, err = f.users.GetByID(ctx, "u1")
	require.NoError(t, err)
	require.False(t, u.IsLocked)
	require.Equal(t, 1, f.count(t, auditdomain.ActionAccountLocked))
}

func TestUnlockAccount_StoreFailure(t *testing.T) {
	f := newFixture(t, func(*fixture) AccountLocker { return failingLocker{} })
	err := f.assessor.UnlockAccount(context.Background(), "u1", "admin-1")
	require.ErrorIs(t, err, apperr.ErrStorage)
	require.Zero(t, f.count(t, auditdomain.ActionAccountUnlocked))
}

func TestLockAccount_DefaultReason(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	changed, err := f.assessor.LockAccount(ctx, "u1", "")
	require.NoError(t, err)
	require.True(t, changed)
	u, err := f.users.GetByID(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, LockReasonAdmin, u.LockReason)
}

func TestThresholdsOverridable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := NewAssessor(f.audit, f.sessions, f.users, Thresholds{FailedLogins: 2}, nil, WithClock(fixedClock))
	require.Equal(t, 60*time.Minute, a.Thresholds().Window)
	_, err := a.Record(ctx, failedLogin("10.0.0.1"))
	require.NoError(t, err)
	ev, err := a.Record(ctx, failedLogin("10.0.0.1"))
	require.NoError(t, err)
	require.Equal(t, TierLocked, ev.Tier)
}

func TestTransition_OnlyEscalates(t *testing.T) {
	tiers := []Tier{TierNormal, TierWatch, TierLocked}
	signals := []Signal{SignalFailedLogins, SignalIPSpread, SignalWindowUnavailable, Signal("unknown")}
	for _, from := range tiers {
		for _, s := range signals {
			to := Transition(from, s)
			require.GreaterOrEqual(t, to.Rank(), from.Rank(), "%s --%s--> %s", from, s, to)
		}
	}
	require.Equal(t, TierLocked, Transition(TierNormal, SignalFailedLogins))
	require.Equal(t, TierWatch, Transition(TierNormal, SignalIPSpread))
	require.Equal(t, TierLocked, Transition(TierLocked, SignalIPSpread))
}

func TestSecurityScore(t *testing.T) {
	ev := func(a auditdomain.Action, r auditdomain.RiskLevel) *auditdomain.AuditEvent {
		return &auditdomain.AuditEvent{Action: a, RiskLevel: r}
	}
	testCases := []struct {
		name     string
		events   []*auditdomain.AuditEvent
		sessions int
		want     int
	}{
		{"clean", nil, 3, 100},
		{"one high", []*auditdomain.AuditEvent{ev(auditdomain.ActionIPAddressChange, auditdomain.RiskHigh)}, 1, 90},
		{"failed logins", []*auditdomain.AuditEvent{ev(auditdomain.ActionLoginFailed, auditdomain.RiskMedium), ev(auditdomain.ActionLoginFailed, auditdomain.RiskMedium)}, 0, 90},
		{"extra sessions", nil, 5, 90},
		{"critical counts as high", []*auditdomain.AuditEvent{ev(auditdomain.ActionAccountLocked, auditdomain.RiskCritical)}, 0, 90},
		{"clamped", []*auditdomain.AuditEvent{
			ev(auditdomain.ActionLoginFailed, auditdomain.RiskHigh), ev(auditdomain.ActionLoginFailed, auditdomain.RiskHigh),
			ev(auditdomain.ActionLoginFailed, auditdomain.RiskHigh), ev(auditdomain.ActionLoginFailed, auditdomain.RiskHigh),
			ev(auditdomain.ActionLoginFailed, auditdomain.RiskHigh), ev(auditdomain.ActionLoginFailed, auditdomain.RiskHigh),
			ev(auditdomain.ActionLoginFailed, auditdomain.RiskHigh),
		}, 10, 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, SecurityScore(tc.events, tc.sessions))
		})
	}
}

func TestRecommendations(t *testing.T) {
	clean := Summary{ActiveSessions: 1}.Recommendations()
	require.Len(t, clean, 1)
	busy := Summary{ActiveSessions: 6, FailedLogins: 3, HighRiskEvents: 2}.Recommendations()
	require.Len(t, busy, 4)
}
