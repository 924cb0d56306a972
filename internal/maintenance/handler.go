package maintenance

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"inventory-auth/internal/auth"
	"inventory-auth/internal/observability"
)

// SessionSweeper purges expired records from the active session registry,
// which may live outside the database the Cleaner works on.
type SessionSweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

type CleanupHandler struct {
	cleaner               auth.Cleaner
	sweeper               SessionSweeper
	logger                *observability.Logger
	cronSecret            string
	loginAttemptRetention time.Duration
	batchSize             int
	now                   func() time.Time
}

func NewCleanupHandler(
	cleaner auth.Cleaner,
	sweeper SessionSweeper,
	logger *observability.Logger,
	cronSecret string,
	loginAttemptRetention time.Duration,
	batchSize int,
) *CleanupHandler {
	return &CleanupHandler{
		cleaner:               cleaner,
		sweeper:               sweeper,
		logger:                logger,
		cronSecret:            strings.TrimSpace(cronSecret),
		loginAttemptRetention: loginAttemptRetention,
		batchSize:             batchSize,
		now:                   time.Now,
	}
}

func (h *CleanupHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /internal/maintenance/cleanup", h.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", h.Handle)
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") ||
		subtle.ConstantTimeCompare([]byte(strings.TrimSpace(parts[1])), []byte(h.cronSecret)) != 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	result, err := h.cleaner.CleanupStaleAuthData(r.Context(), h.now().UTC(), h.loginAttemptRetention, h.batchSize)
	if err != nil {
		h.logger.Error("auth_cleanup_failed", map[string]any{"error": err})
		observability.CaptureError(err, "auth_cleanup")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	var swept int64
	if h.sweeper != nil {
		swept, err = h.sweeper.Sweep(r.Context())
		if err != nil {
			h.logger.Error("session_sweep_failed", map[string]any{"error": err})
			observability.CaptureError(err, "session_sweep")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
			return
		}
	}

	h.logger.Info("auth_cleanup_completed", map[string]any{
		"deleted_sessions":       result.DeletedSessions,
		"deleted_login_attempts": result.DeletedLoginAttempts,
		"deleted_reset_tokens":   result.DeletedResetTokens,
		"swept_sessions":         swept,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"result":         result,
		"swept_sessions": swept,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
