package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ledgerguard/backend/internal/apperr"
	auditdomain "ledgerguard/backend/internal/audit/domain"
	"ledgerguard/backend/internal/session/domain"
	"ledgerguard/backend/internal/session/repository"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// brokenRepo fails every call.
type brokenRepo struct{}

var errDown = errors.New("store down")

func (brokenRepo) Create(context.Context, *domain.Session) error { return errDown }
func (brokenRepo) GetByID(context.Context, string) (*domain.Session, error) {
	return nil, errDown
}
func (brokenRepo) ListByUser(context.Context, string) ([]*domain.Session, error) {
	return nil, errDown
}
func (brokenRepo) Update(context.Context, string, repository.MutateFunc) (*domain.Session, error) {
	return nil, errDown
}
func (brokenRepo) InvalidateAll(context.Context, string, string, time.Time) (int, error) {
	return 0, errDown
}

func setup(t *testing.T) (*Manager, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	m := NewManager(repository.NewMemoryRepository(), Config{MaxAge: 24 * time.Hour, IdleTimeout: 30 * time.Minute}, nil, WithClock(clock.Now))
	return m, clock
}

func TestCreate(t *testing.T) {
	m, clock := setup(t)
	ctx := context.Background()

	s, err := m.Create(ctx, "u1", "10.0.0.1", "agent", 0, 0)
	require.NoError(t, err)
	require.Len(t, s.ID, 64)
	require.Equal(t, domain.StatusActive, s.Status)
	require.True(t, s.CreatedAt.Equal(clock.Now()))
	require.True(t, s.ExpiresAt.Equal(s.CreatedAt.Add(24*time.Hour)))
	require.Equal(t, 30*time.Minute, s.IdleTimeout)

	custom, err := m.Create(ctx, "u1", "10.0.0.1", "agent", time.Hour, time.Minute)
	require.NoError(t, err)
	require.True(t, custom.ExpiresAt.Equal(custom.CreatedAt.Add(time.Hour)))
	require.NotEqual(t, s.ID, custom.ID)

	_, err = m.Create(ctx, "", "10.0.0.1", "agent", 0, 0)
	require.ErrorIs(t, err, apperr.ErrValidation)
	_, err = m.Create(ctx, "u1", "10.0.0.1", "agent", -time.Hour, 0)
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCreate_StorageError(t *testing.T) {
	m := NewManager(brokenRepo{}, Config{MaxAge: time.Hour, IdleTimeout: time.Minute}, nil)
	_, err := m.Create(context.Background(), "u1", "10.0.0.1", "", 0, 0)
	require.ErrorIs(t, err, apperr.ErrStorage)
}

func TestValidate_TouchesAndKeepsExpiry(t *testing.T) {
	m, clock := setup(t)
	ctx := context.Background()
	s, err := m.Create(ctx, "u1", "10.0.0.1", "", 0, 0)
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	out, err := m.Validate(ctx, s.ID, "u1", "10.0.0.1")
	require.NoError(t, err)
	require.True(t, out.Valid)
	require.True(t, out.Session.LastActivity.Equal(clock.Now()))
	require.True(t, out.Session.ExpiresAt.Equal(s.ExpiresAt))

	// Activity keeps the idle timer from firing.
	for i := 0; i < 5; i++ {
		clock.Advance(25 * time.Minute)
		out, err = m.Validate(ctx, s.ID, "u1", "10.0.0.1")
		require.NoError(t, err)
		require.True(t, out.Valid, "validate %d", i)
	}
}

func TestValidate_Failures(t *testing.T) {
	cases := []struct {
		name        string
		advance     time.Duration
		user, ip    string
		signal      auditdomain.Action
		risk        auditdomain.RiskLevel
		invalidated bool
	}{
		{"owner mismatch", 0, "u2", "10.0.0.1", auditdomain.ActionInvalidSession, auditdomain.RiskHigh, false},
		{"expired", 25 * time.Hour, "u1", "10.0.0.1", auditdomain.ActionSessionExpired, auditdomain.RiskMedium, true},
		{"idle", 31 * time.Minute, "u1", "10.0.0.1", auditdomain.ActionSessionIdleTimeout, auditdomain.RiskMedium, true},
		{"ip mismatch", time.Minute, "u1", "10.0.0.2", auditdomain.ActionIPAddressChange, auditdomain.RiskHigh, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, clock := setup(t)
			ctx := context.Background()
			s, err := m.Create(ctx, "u1", "10.0.0.1", "", 0, 0)
			require.NoError(t, err)

			clock.Advance(tc.advance)
			out, err := m.Validate(ctx, s.ID, tc.user, tc.ip)
			require.NoError(t, err)
			require.False(t, out.Valid)
			require.Equal(t, tc.signal, out.Signal)
			require.Equal(t, tc.risk, out.Risk)

			stored, err := m.Get(ctx, s.ID)
			require.NoError(t, err)
			require.Equal(t, tc.invalidated, !stored.Active())
			require.True(t, stored.ExpiresAt.Equal(s.ExpiresAt))

			if tc.invalidated {
				again, err := m.Validate(ctx, s.ID, "u1", "10.0.0.1")
				require.NoError(t, err)
				require.False(t, again.Valid)
				require.Equal(t, auditdomain.ActionSessionInvalidated, again.Signal)
			}
		})
	}
}

func TestValidate_IPChangeKillsSessionForGood(t *testing.T) {
	m, _ := setup(t)
	ctx := context.Background()
	s, err := m.Create(ctx, "u1", "203.0.113.1", "", 0, 0)
	require.NoError(t, err)

	out, err := m.Validate(ctx, s.ID, "u1", "198.51.100.9")
	require.NoError(t, err)
	require.False(t, out.Valid)

	out, err = m.Validate(ctx, s.ID, "u1", "203.0.113.1")
	require.NoError(t, err)
	require.False(t, out.Valid, "original IP must not revive the session")
}

func TestValidate_ExpiryWinsOverIdle(t *testing.T) {
	m, clock := setup(t)
	ctx := context.Background()
	s, err := m.Create(ctx, "u1", "10.0.0.1", "", time.Hour, 10*time.Minute)
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)
	out, err := m.Validate(ctx, s.ID, "u1", "10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, auditdomain.ActionSessionExpired, out.Signal)
	stored, _ := m.Get(ctx, s.ID)
	require.Equal(t, domain.ReasonExpired, stored.InvalidationReason)
}

func TestValidate_Unknown(t *testing.T) {
	m, _ := setup(t)
	for _, id := range []string{"", "does-not-exist"} {
		out, err := m.Validate(context.Background(), id, "u1", "10.0.0.1")
		require.NoError(t, err)
		require.False(t, out.Valid)
		require.Equal(t, auditdomain.ActionInvalidSession, out.Signal)
		require.Nil(t, out.Session)
	}
}

func TestValidate_FailsClosedOnStoreError(t *testing.T) {
	m := NewManager(brokenRepo{}, Config{}, nil)
	out, err := m.Validate(context.Background(), "s1", "u1", "10.0.0.1")
	require.ErrorIs(t, err, apperr.ErrStorage)
	require.False(t, out.Valid)
}

func TestInvalidate_Idempotent(t *testing.T) {
	m, _ := setup(t)
	ctx := context.Background()
	s, _ := m.Create(ctx, "u1", "10.0.0.1", "", 0, 0)

	changed, err := m.Invalidate(ctx, s.ID, domain.ReasonLogout)
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = m.Invalidate(ctx, s.ID, domain.ReasonLogout)
	require.NoError(t, err)
	require.False(t, changed)

	changed, err = m.Invalidate(ctx, "missing", domain.ReasonLogout)
	require.NoError(t, err)
	require.False(t, changed)
}

func TestInvalidateAll_ThenListActiveEmpty(t *testing.T) {
	m, clock := setup(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := m.Create(ctx, "u1", "10.0.0.1", "", 0, 0)
		require.NoError(t, err)
		clock.Advance(time.Second)
	}
	list, err := m.ListActive(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.True(t, list[0].CreatedAt.After(list[2].CreatedAt))

	n, err := m.InvalidateAll(ctx, "u1", domain.ReasonLogoutAll)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	list, err = m.ListActive(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, list)

	n, err = m.InvalidateAll(ctx, "u1", domain.ReasonLogoutAll)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestListActive_ExcludesExpired(t *testing.T) {
	m, clock := setup(t)
	ctx := context.Background()
	_, _ = m.Create(ctx, "u1", "10.0.0.1", "", time.Minute, time.Minute)
	_, _ = m.Create(ctx, "u1", "10.0.0.1", "", 2*time.Hour, time.Hour)
	clock.Advance(5 * time.Minute)
	n, err := m.CountActive(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestInvalidateOthers(t *testing.T) {
	m, _ := setup(t)
	ctx := context.Background()
	keep, _ := m.Create(ctx, "u1", "10.0.0.1", "", 0, 0)
	_, _ = m.Create(ctx, "u1", "10.0.0.1", "", 0, 0)
	_, _ = m.Create(ctx, "u1", "10.0.0.1", "", 0, 0)

	n, err := m.InvalidateOthers(ctx, "u1", keep.ID, domain.ReasonPasswordReset)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	list, _ := m.ListActive(ctx, "u1")
	require.Len(t, list, 1)
	require.Equal(t, keep.ID, list[0].ID)
}

func TestValidate_ConcurrentWithInvalidate(t *testing.T) {
	m, _ := setup(t)
	ctx := context.Background()
	s, _ := m.Create(ctx, "u1", "10.0.0.1", "", 0, 0)

	var wg sync.WaitGroup
	results := make(chan bool, 100)
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			out, _ := m.Validate(ctx, s.ID, "u1", "10.0.0.1")
			results <- out.Valid
		}()
		go func() {
			defer wg.Done()
			_, _ = m.Invalidate(ctx, s.ID, domain.ReasonLogout)
		}()
	}
	wg.Wait()
	close(results)

	stored, _ := m.Get(ctx, s.ID)
	require.Equal(t, domain.StatusInvalidated, stored.Status)
	out, _ := m.Validate(ctx, s.ID, "u1", "10.0.0.1")
	require.False(t, out.Valid)
}
