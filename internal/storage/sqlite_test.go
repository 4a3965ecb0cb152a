package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunfall-smp/perkbridge/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestDonatorRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.UpsertDonator(ctx, &domain.Donator{Handle: "Alice", Tier: "VIP"})
	require.NoError(t, err)

	d, err := store.GetDonator(ctx, "Alice")
	require.NoError(t, err)
	assert.Equal(t, "VIP", d.Tier)
	assert.False(t, d.IsAdmin)
	assert.False(t, d.CreatedAt.IsZero())

	// Upsert replaces tier but keeps the original creation time
	created := d.CreatedAt
	err = store.UpsertDonator(ctx, &domain.Donator{Handle: "Alice", Tier: "PREMIUM", IsAdmin: true})
	require.NoError(t, err)

	d, err = store.GetDonator(ctx, "Alice")
	require.NoError(t, err)
	assert.Equal(t, "PREMIUM", d.Tier)
	assert.True(t, d.IsAdmin)
	assert.True(t, d.CreatedAt.Equal(created))

	list, err := store.ListDonators(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, store.DeleteDonator(ctx, "Alice"))
	_, err = store.GetDonator(ctx, "Alice")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.DeleteDonator(ctx, "Alice"), ErrNotFound)
}

func TestDonatorValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		donator domain.Donator
	}{
		{"empty handle", domain.Donator{Handle: "", Tier: "VIP"}},
		{"handle too short", domain.Donator{Handle: "a", Tier: "VIP"}},
		{"handle too long", domain.Donator{Handle: "abcdefghijklmnopq", Tier: "VIP"}},
		{"invalid characters", domain.Donator{Handle: "bad name", Tier: "VIP"}},
		{"empty tier", domain.Donator{Handle: "Alice", Tier: ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, store.UpsertDonator(ctx, &tt.donator))
		})
	}
}

func TestCooldownLazyExpiry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	err := store.SetCooldown(ctx, &domain.Cooldown{
		Handle:    "Alice",
		Command:   "heal",
		LastUsed:  base,
		ExpiresAt: base.Add(5 * time.Minute),
	})
	require.NoError(t, err)

	// Still active one second in
	cd, err := store.GetCooldown(ctx, "Alice", base.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "heal", cd.Command)
	assert.Equal(t, 4*time.Minute+59*time.Second, cd.Remaining(base.Add(time.Second)))

	// At the expiry instant the record is gone, and stays gone
	_, err = store.GetCooldown(ctx, "Alice", base.Add(5*time.Minute))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetCooldown(ctx, "Alice", base)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCooldownRejectsInvertedExpiry(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()
	err := store.SetCooldown(context.Background(), &domain.Cooldown{
		Handle:    "Alice",
		Command:   "heal",
		LastUsed:  now,
		ExpiresAt: now,
	})
	assert.Error(t, err)
}

func TestAuditTrimsToCap(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	total := auditCap + 25
	for i := 0; i < total; i++ {
		err := store.AppendAudit(ctx, &domain.AuditEntry{
			Handle:   "Alice",
			Command:  "heal",
			Accepted: true,
			Reason:   "executed",
		})
		require.NoError(t, err)
	}

	n, err := store.CountAudit(ctx)
	require.NoError(t, err)
	assert.Equal(t, auditCap, n)

	// The survivors are the newest entries
	entries, err := store.ListAudit(ctx, auditCap)
	require.NoError(t, err)
	require.Len(t, entries, auditCap)
	assert.Equal(t, int64(total), entries[0].ID)
	assert.Equal(t, int64(total-auditCap+1), entries[len(entries)-1].ID)
}

func TestListAuditNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, cmd := range []string{"heal", "feed", "fly"} {
		require.NoError(t, store.AppendAudit(ctx, &domain.AuditEntry{
			Handle: "Alice", Command: cmd, Accepted: true, Reason: "executed",
		}))
	}

	entries, err := store.ListAudit(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "fly", entries[0].Command)
	assert.Equal(t, "feed", entries[1].Command)
}

func TestCounters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	c, err := store.GetCounters(ctx)
	require.NoError(t, err)
	assert.Equal(t, &domain.Counters{}, c)

	require.NoError(t, store.IncrCounter(ctx, CounterAccepted))
	require.NoError(t, store.IncrCounter(ctx, CounterAccepted))
	require.NoError(t, store.IncrCounter(ctx, CounterGranted))
	require.NoError(t, store.IncrCounter(ctx, CounterBlocked))
	assert.Error(t, store.IncrCounter(ctx, "bogus"))

	c, err = store.GetCounters(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.Accepted)
	assert.Equal(t, int64(1), c.Granted)
	assert.Equal(t, int64(1), c.Blocked)
}

func TestUserRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateUser(ctx, "admin", "hash", true))

	got, err := store.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.NotZero(t, got.ID)
	assert.Equal(t, "hash", got.PasswordHash)
	assert.True(t, got.IsAdmin)

	_, err = store.GetUserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.DeleteUser(ctx, "admin"))
	_, err = store.GetUserByUsername(ctx, "admin")
	assert.ErrorIs(t, err, ErrNotFound)
}
