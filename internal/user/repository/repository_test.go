package repository

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"ledgerguard/backend/internal/db"
	"ledgerguard/backend/internal/db/migrate"
	"ledgerguard/backend/internal/user/domain"
)

func runContract(t *testing.T, r Repository) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	email := uuid.NewString() + "@Example.com"
	u := &domain.User{ID: uuid.NewString(), Email: email, PasswordHash: "hash", Roles: []string{domain.RoleUser}, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, r.Create(ctx, u))
	require.ErrorIs(t, r.Create(ctx, &domain.User{ID: uuid.NewString(), Email: email, PasswordHash: "h"}), ErrDuplicateEmail)

	got, err := r.GetByEmail(ctx, email)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, u.ID, got.ID)
	require.Equal(t, []string{domain.RoleUser}, got.Roles)
	require.False(t, got.IsLocked)

	missing, err := r.GetByID(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, missing)

	require.NoError(t, r.UpdatePasswordHash(ctx, u.ID, "new-hash", now))
	got, _ = r.GetByID(ctx, u.ID)
	require.Equal(t, "new-hash", got.PasswordHash)

	// Concurrent lockers change the state exactly once.
	var changes int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			changed, err := r.Lock(ctx, u.ID, "Multiple failed login attempts", now)
			if err == nil && changed {
				atomic.AddInt32(&changes, 1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, changes)

	got, _ = r.GetByID(ctx, u.ID)
	require.True(t, got.IsLocked)
	require.NotNil(t, got.LockedAt)
	require.Equal(t, "Multiple failed login attempts", got.LockReason)

	changed, err := r.Lock(ctx, "missing", "x", now)
	require.NoError(t, err)
	require.False(t, changed)

	require.NoError(t, r.Unlock(ctx, u.ID, now))
	got, _ = r.GetByID(ctx, u.ID)
	require.False(t, got.IsLocked)
	require.Nil(t, got.LockedAt)
}

func TestMemoryRepository_Contract(t *testing.T) {
	runContract(t, NewMemoryRepository())
}

func TestPostgresRepository_Contract(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	require.NoError(t, migrate.Run(dsn, migrate.Up))
	conn, err := db.Open(context.Background(), dsn)
	require.NoError(t, err)
	defer conn.Close()
	runContract(t, NewPostgresRepository(conn))
}
