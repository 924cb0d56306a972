package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginSucceedsAndClearsAttempts(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	seedUser(t, s.store, "alice", "", "alice@example.com")

	_, err := s.service.Login(ctx, "alice", "bad")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	require.True(t, s.store.HasLoginAttempt("alice"))

	result, err := s.service.Login(ctx, "  alice ", " secret1 ")
	require.NoError(t, err)
	assert.Equal(t, "alice", result.Username)
	assert.Equal(t, "staff", result.Role)
	assert.NotEmpty(t, result.Token)
	assert.False(t, s.store.HasLoginAttempt("alice"))

	claims, err := s.tokens.Verify(ctx, result.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "staff", claims.Role)
}

func TestLoginLockoutScenario(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	seedUser(t, s.store, "alice", "", "alice@example.com")

	for i := 1; i <= 4; i++ {
		_, err := s.service.Login(ctx, "alice", "bad")
		require.ErrorIs(t, err, ErrInvalidCredentials, "attempt %d", i)
	}

	_, err := s.service.Login(ctx, "alice", "bad")
	var locked ErrLoginLocked
	require.ErrorAs(t, err, &locked)
	assert.True(t, locked.Triggered)
	assert.Equal(t, 5, locked.RemainingMinutes(s.clock.Now()))

	s.clock.Advance(30 * time.Second)
	_, err = s.service.Login(ctx, "alice", "secret1")
	require.ErrorAs(t, err, &locked)
	assert.False(t, locked.Triggered)
	assert.Equal(t, 5, locked.RemainingMinutes(s.clock.Now()))
	assert.Equal(t, 0, s.store.SessionCount())

	s.clock.Advance(5 * time.Minute)
	result, err := s.service.Login(ctx, "alice", "secret1")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Token)
}

func TestLoginUnknownUserCountsAsFailure(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)

	_, err := s.service.Login(ctx, "ghost", "whatever")
	require.ErrorIs(t, err, ErrUserNotFound)

	attempt, err := s.store.GetLoginAttempt(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, 1, attempt.Attempts)
}

func TestLoginRejectsBeforeTouchingTracker(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)

	cases := map[string]struct {
		username string
		password string
		want     error
	}{
		"empty username": {username: "  ", password: "secret1", want: ErrMissingCredentials},
		"empty password": {username: "alice", password: "", want: ErrMissingCredentials},
		"too short":      {username: "al", password: "secret1", want: ErrInvalidUsername},
		"bad characters": {username: "alice!", password: "secret1", want: ErrInvalidUsername},
		"too long":       {username: "a123456789012345678901", password: "secret1", want: ErrInvalidUsername},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := s.service.Login(ctx, tc.username, tc.password)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	assert.False(t, s.store.HasLoginAttempt("alice"))
	assert.False(t, s.store.HasLoginAttempt("al"))
}

func TestLoginUnhashedPasswordIsNotCounted(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	require.NoError(t, s.store.UpsertUser(ctx, User{Username: "legacy", PasswordHash: "secret1"}))

	_, err := s.service.Login(ctx, "legacy", "secret1")
	require.ErrorIs(t, err, ErrUnhashedPassword)
	assert.False(t, s.store.HasLoginAttempt("legacy"))
}

func TestLogoutRevokesAllSessions(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	seedUser(t, s.store, "dave", RoleAdmin, "")

	first, err := s.service.Login(ctx, "dave", "secret1")
	require.NoError(t, err)
	second, err := s.service.Login(ctx, "dave", "secret1")
	require.NoError(t, err)
	require.NotEqual(t, first.Token, second.Token)

	require.NoError(t, s.service.Logout(ctx, "dave"))

	for _, token := range []string{first.Token, second.Token} {
		_, err := s.tokens.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	}
	require.NoError(t, s.service.Logout(ctx, ""))
}

func TestBootstrapAdmin(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, BootstrapAdmin(ctx, store, "", "", "", "bcrypt"))
	_, err := store.FindByUsername(ctx, "root")
	require.ErrorIs(t, err, ErrNotFound)

	require.Error(t, BootstrapAdmin(ctx, store, "root", "", "", "bcrypt"))

	require.NoError(t, BootstrapAdmin(ctx, store, "root", "changeme", "root@example.com", "bcrypt"))
	user, err := store.FindByUsername(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, user.Role)
	assert.Equal(t, "root@example.com", user.Email)
	assert.NotEqual(t, "changeme", user.PasswordHash)
}
