package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"inventory-auth/internal/observability"
)

// Werkzeug-style hash of "secret1" with a low iteration count.
const secret1Hash = "pbkdf2:sha256:1000$abcdefghijklmnop$94e92028d9731d0191d0b512198387cd98927d51cf770f85bf3dbaf00f0f858f"

const testSecret = "test-signing-secret"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 18, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordedMail struct {
	Email string
	Link  string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []recordedMail
	err  error
}

func (m *fakeMailer) SendPasswordReset(_ context.Context, email, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, recordedMail{Email: email, Link: link})
	return m.err
}

func (m *fakeMailer) Sent() []recordedMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]recordedMail(nil), m.sent...)
}

func seedUser(t *testing.T, store *MemoryStore, username, role, email string) {
	t.Helper()
	require.NoError(t, store.UpsertUser(context.Background(), User{
		Username:     username,
		Email:        email,
		Role:         role,
		PasswordHash: secret1Hash,
	}))
}

type testStack struct {
	store    *MemoryStore
	clock    *fakeClock
	tokens   *TokenService
	attempts *AttemptTracker
	service  *Service
	reset    *ResetFlow
	mailer   *fakeMailer
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	logger := observability.NopLogger()
	store := NewMemoryStore()
	clock := newFakeClock()
	mailer := &fakeMailer{}

	tokens := NewTokenService(store, TokenConfig{Secret: testSecret, TTL: 24 * time.Hour}, logger).WithClock(clock.Now)
	attempts := NewAttemptTracker(store, logger).WithClock(clock.Now)
	service := NewService(store, attempts, tokens, logger)
	reset := NewResetFlow(store, store, mailer, ResetConfig{
		MinPasswordLength:  6,
		HashMethod:         "bcrypt",
		InvalidatePrevious: true,
	}, logger).WithClock(clock.Now)

	return &testStack{
		store:    store,
		clock:    clock,
		tokens:   tokens,
		attempts: attempts,
		service:  service,
		reset:    reset,
		mailer:   mailer,
	}
}
