package auth

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inventory-auth/internal/passhash"
)

func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	parsed, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "/reset_password", parsed.Path)
	token := parsed.Query().Get("token")
	require.NotEmpty(t, token)
	return token
}

func requestToken(t *testing.T, s *testStack, username string) string {
	t.Helper()
	require.NoError(t, s.reset.RequestReset(context.Background(), username, "https://inventory.example.com/"))
	sent := s.mailer.Sent()
	require.NotEmpty(t, sent)
	return tokenFromLink(t, sent[len(sent)-1].Link)
}

func TestRequestResetUnknownUserWritesNothing(t *testing.T) {
	s := newTestStack(t)

	require.NoError(t, s.reset.RequestReset(context.Background(), "nouser", "https://inventory.example.com"))
	require.NoError(t, s.reset.RequestReset(context.Background(), "bad name!", "https://inventory.example.com"))

	assert.Zero(t, s.store.ResetTokenCount())
	assert.Empty(t, s.mailer.Sent())
}

func TestRequestResetMailsLink(t *testing.T) {
	s := newTestStack(t)
	seedUser(t, s.store, "alice", "", "alice@example.com")

	token := requestToken(t, s, "alice")
	sent := s.mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "alice@example.com", sent[0].Email)
	assert.Contains(t, sent[0].Link, "https://inventory.example.com/reset_password?token=")

	record, err := s.reset.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "alice", record.Username)
	assert.Equal(t, s.clock.Now().Add(10*time.Minute), record.ExpiresAt)
	assert.NotEqual(t, token, record.TokenHash)
}

func TestRequestResetInvalidatesPreviousTokens(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	seedUser(t, s.store, "alice", "", "alice@example.com")

	first := requestToken(t, s, "alice")
	second := requestToken(t, s, "alice")
	assert.Equal(t, 1, s.store.ResetTokenCount())

	_, err := s.reset.ValidateToken(ctx, first)
	assert.ErrorIs(t, err, ErrResetTokenInvalid)
	_, err = s.reset.ValidateToken(ctx, second)
	assert.NoError(t, err)
}

func TestRequestResetMailFailureIsSwallowed(t *testing.T) {
	s := newTestStack(t)
	s.mailer.err = errors.New("smtp down")
	seedUser(t, s.store, "alice", "", "alice@example.com")

	require.NoError(t, s.reset.RequestReset(context.Background(), "alice", "https://inventory.example.com"))
	assert.Equal(t, 1, s.store.ResetTokenCount())
}

func TestConsumeTokenScenario(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	seedUser(t, s.store, "alice", "", "alice@example.com")
	token := requestToken(t, s, "alice")

	require.NoError(t, s.reset.ConsumeToken(ctx, token, "abcdef", "abcdef"))

	user, err := s.store.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	ok, err := passhash.Verify(user.PasswordHash, "abcdef")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, s.store.ResetTokenCount())

	_, err = s.reset.ValidateToken(ctx, token)
	assert.ErrorIs(t, err, ErrResetTokenInvalid)

	err = s.reset.ConsumeToken(ctx, token, "ghijkl", "ghijkl")
	assert.ErrorIs(t, err, ErrResetTokenInvalid)
}

func TestConsumeTokenValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	seedUser(t, s.store, "alice", "", "alice@example.com")
	token := requestToken(t, s, "alice")

	err := s.reset.ConsumeToken(ctx, token, "abcdef", "abcdeg")
	assert.ErrorIs(t, err, ErrPasswordMismatch)

	err = s.reset.ConsumeToken(ctx, token, "abc", "abc")
	assert.ErrorIs(t, err, ErrPasswordTooShort)

	user, err := s.store.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, secret1Hash, user.PasswordHash)
	assert.Equal(t, 1, s.store.ResetTokenCount())
}

func TestExpiredTokenIsDistinctFromInvalid(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	seedUser(t, s.store, "alice", "", "alice@example.com")
	token := requestToken(t, s, "alice")

	s.clock.Advance(10*time.Minute + time.Second)

	_, err := s.reset.ValidateToken(ctx, token)
	assert.ErrorIs(t, err, ErrResetTokenExpired)
	err = s.reset.ConsumeToken(ctx, token, "abcdef", "abcdef")
	assert.ErrorIs(t, err, ErrResetTokenExpired)

	_, err = s.reset.ValidateToken(ctx, "never-issued")
	assert.ErrorIs(t, err, ErrResetTokenInvalid)
	_, err = s.reset.ValidateToken(ctx, "")
	assert.ErrorIs(t, err, ErrResetTokenInvalid)
}

func TestResetLink(t *testing.T) {
	assert.Equal(t, "https://a.example/reset_password?token=x%2By", ResetLink("https://a.example/", "x+y"))
}

func TestConsumeTokenTrimsLikeLogin(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	seedUser(t, s.store, "erin", "", "erin@example.com")
	token := requestToken(t, s, "erin")

	err := s.reset.ConsumeToken(ctx, token, "     a", "     a")
	assert.ErrorIs(t, err, ErrPasswordTooShort)

	require.NoError(t, s.reset.ConsumeToken(ctx, token, "  abcdef  ", "  abcdef  "))

	_, err = s.service.Login(ctx, "erin", "  abcdef  ")
	require.NoError(t, err)
	_, err = s.service.Login(ctx, "erin", "abcdef")
	require.NoError(t, err)
	assert.False(t, s.store.HasLoginAttempt("erin"))
}

func TestConsumeTokenRejectsPasswordPastBcryptLimit(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	seedUser(t, s.store, "alice", "", "alice@example.com")
	token := requestToken(t, s, "alice")
	require.Equal(t, 72, s.reset.MaxPasswordBytes())

	long := strings.Repeat("x", 73)
	err := s.reset.ConsumeToken(ctx, token, long, long)
	assert.ErrorIs(t, err, ErrPasswordTooLong)
	assert.Equal(t, 1, s.store.ResetTokenCount())

	exact := strings.Repeat("x", 72)
	require.NoError(t, s.reset.ConsumeToken(ctx, token, exact, exact))
}
