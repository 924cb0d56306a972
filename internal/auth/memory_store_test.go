package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreUpsertKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.UpsertUser(ctx, User{Username: "root", Role: RoleAdmin, PasswordHash: "a"}))
	first, err := store.FindByUsername(ctx, "root")
	require.NoError(t, err)

	require.NoError(t, store.UpsertUser(ctx, User{Username: "root", Role: RoleAdmin, PasswordHash: "b"}))
	second, err := store.FindByUsername(ctx, "root")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "b", second.PasswordHash)

	assert.ErrorIs(t, store.UpdatePasswordHash(ctx, "ghost", "x"), ErrNotFound)
}

func TestMemoryStoreCleanup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2024, 3, 18, 9, 30, 0, 0, time.UTC)
	policy := LockoutPolicy{MaxAttempts: 5, LockDuration: 5 * time.Minute}

	require.NoError(t, store.SaveSession(ctx, SessionRecord{Username: "a", TokenHash: "expired", ExpiresAt: now.Add(-time.Minute)}))
	require.NoError(t, store.SaveSession(ctx, SessionRecord{Username: "a", TokenHash: "live", ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, store.CreateResetToken(ctx, ResetToken{Username: "a", TokenHash: "old", ExpiresAt: now.Add(-time.Second)}))
	require.NoError(t, store.CreateResetToken(ctx, ResetToken{Username: "a", TokenHash: "new", ExpiresAt: now.Add(time.Minute)}))
	_, _, err := store.RegisterFailedAttempt(ctx, "stale", policy, now.Add(-40*24*time.Hour))
	require.NoError(t, err)
	_, _, err = store.RegisterFailedAttempt(ctx, "recent", policy, now.Add(-time.Hour))
	require.NoError(t, err)

	result, err := store.CleanupStaleAuthData(ctx, now, 30*24*time.Hour, 10)
	require.NoError(t, err)
	assert.Equal(t, CleanupResult{DeletedSessions: 1, DeletedLoginAttempts: 1, DeletedResetTokens: 1}, result)

	assert.Equal(t, 1, store.SessionCount())
	assert.Equal(t, 1, store.ResetTokenCount())
	assert.False(t, store.HasLoginAttempt("stale"))
	assert.True(t, store.HasLoginAttempt("recent"))
}

func TestMemoryStoreCleanupHonoursBatchSize(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2024, 3, 18, 9, 30, 0, 0, time.UTC)

	for _, hash := range []string{"a", "b", "c"} {
		require.NoError(t, store.SaveSession(ctx, SessionRecord{Username: "u", TokenHash: hash, ExpiresAt: now.Add(-time.Minute)}))
	}

	result, err := store.CleanupStaleAuthData(ctx, now, time.Hour, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.DeletedSessions)
	assert.Equal(t, 1, store.SessionCount())
}
