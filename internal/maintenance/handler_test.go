package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inventory-auth/internal/auth"
	"inventory-auth/internal/observability"
)

type stubSweeper struct {
	deleted int64
	err     error
	calls   int
}

func (s *stubSweeper) Sweep(context.Context) (int64, error) {
	s.calls++
	return s.deleted, s.err
}

func newRequest(method, secret string) *http.Request {
	req := httptest.NewRequest(method, "/internal/maintenance/cleanup", nil)
	if secret != "" {
		req.Header.Set("Authorization", "Bearer "+secret)
	}
	return req
}

func TestCleanupRequiresSecret(t *testing.T) {
	sweeper := &stubSweeper{}
	disabled := NewCleanupHandler(auth.NewMemoryStore(), sweeper, observability.NopLogger(), "", time.Hour, 10)
	rec := httptest.NewRecorder()
	disabled.Handle(rec, newRequest(http.MethodPost, "anything"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	h := NewCleanupHandler(auth.NewMemoryStore(), sweeper, observability.NopLogger(), "cron-secret", time.Hour, 10)
	for _, secret := range []string{"", "wrong"} {
		rec := httptest.NewRecorder()
		h.Handle(rec, newRequest(http.MethodPost, secret))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	assert.Zero(t, sweeper.calls)
}

func TestCleanupRemovesStaleData(t *testing.T) {
	ctx := context.Background()
	store := auth.NewMemoryStore()
	now := time.Now().UTC()

	require.NoError(t, store.SaveSession(ctx, auth.SessionRecord{Username: "a", TokenHash: "old", ExpiresAt: now.Add(-time.Hour)}))
	require.NoError(t, store.CreateResetToken(ctx, auth.ResetToken{Username: "a", TokenHash: "r", ExpiresAt: now.Add(-time.Minute)}))

	sweeper := &stubSweeper{deleted: 3}
	h := NewCleanupHandler(store, sweeper, observability.NopLogger(), "cron-secret", time.Hour, 10)

	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, newRequest(http.MethodGet, "cron-secret"))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status        string             `json:"status"`
		Result        auth.CleanupResult `json:"result"`
		SweptSessions int64              `json:"swept_sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, int64(1), body.Result.DeletedSessions)
	assert.Equal(t, int64(1), body.Result.DeletedResetTokens)
	assert.Equal(t, int64(3), body.SweptSessions)
	assert.Zero(t, store.SessionCount())
}

func TestCleanupSweepFailure(t *testing.T) {
	sweeper := &stubSweeper{err: errors.New("redis down")}
	h := NewCleanupHandler(auth.NewMemoryStore(), sweeper, observability.NopLogger(), "cron-secret", time.Hour, 10)

	rec := httptest.NewRecorder()
	h.Handle(rec, newRequest(http.MethodPost, "cron-secret"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
