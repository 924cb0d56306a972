package auth

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gorilla/sessions"

	"inventory-auth/internal/observability"
)

const maxFormBodyBytes = 1 << 20

const (
	flashError   = "error"
	flashSuccess = "success"
	flashInfo    = "info"
)

//go:embed templates/*.html
var templateFiles embed.FS

var pages = template.Must(template.ParseFS(templateFiles, "templates/*.html"))

type HandlerConfig struct {
	// BaseURL overrides the scheme and host used in reset links.
	BaseURL           string
	LandingPath       string
	GenericLoginError bool
}

type Handler struct {
	service *Service
	reset   *ResetFlow
	tokens  *TokenService
	gate    *Gate
	cfg     HandlerConfig
	logger  *observability.Logger
	now     func() time.Time
}

func NewHandler(service *Service, reset *ResetFlow, tokens *TokenService, gate *Gate, cfg HandlerConfig, logger *observability.Logger) *Handler {
	if cfg.LandingPath == "" {
		cfg.LandingPath = "/dashboard_analytics"
	}
	return &Handler{
		service: service,
		reset:   reset,
		tokens:  tokens,
		gate:    gate,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

func (h *Handler) WithClock(now func() time.Time) *Handler {
	h.now = now
	return h
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	})
	mux.HandleFunc("GET /login", h.LoginPage)
	mux.HandleFunc("POST /login", h.Login)
	mux.HandleFunc("GET /forgot_password", h.ForgotPasswordPage)
	mux.HandleFunc("POST /forgot_password", h.ForgotPassword)
	mux.HandleFunc("GET /reset_password", h.ResetPasswordPage)
	mux.HandleFunc("POST /reset_password", h.ResetPassword)
	mux.HandleFunc("GET /logout", h.Logout)
	mux.HandleFunc("GET /check_token", h.CheckToken)
	mux.HandleFunc("GET /unauthorized", h.Unauthorized)
	mux.Handle("GET "+h.cfg.LandingPath, h.gate.Authenticated(false, http.HandlerFunc(h.Landing)))
}

type flashMessage struct {
	Category string
	Message  string
}

type pageData struct {
	Flashes           []flashMessage
	Token             string
	Username          string
	Role              string
	MinPasswordLength int
}

func (h *Handler) LoginPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "login.html", pageData{})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.redirectWithFlash(w, r, "/login", flashError, "Invalid form submission")
		return
	}

	result, err := h.service.Login(r.Context(), r.PostForm.Get("username"), r.PostForm.Get("password"))
	if err != nil {
		h.redirectWithFlash(w, r, "/login", flashError, h.loginMessage(err))
		return
	}

	session := h.gate.Session(r)
	h.gate.SignIn(session, result)
	session.AddFlash("Login successful", flashSuccess)
	h.save(w, r, session)
	http.Redirect(w, r, h.cfg.LandingPath, http.StatusSeeOther)
}

func (h *Handler) loginMessage(err error) string {
	var locked ErrLoginLocked
	switch {
	case errors.As(err, &locked):
		minutes := locked.RemainingMinutes(h.now().UTC())
		if locked.Triggered {
			return fmt.Sprintf("Too many failed attempts. Account locked for %d minutes.", minutes)
		}
		return fmt.Sprintf("Account locked. Try again in %d minutes.", minutes)
	case errors.Is(err, ErrMissingCredentials):
		return "Username and password are required"
	case errors.Is(err, ErrInvalidUsername):
		return "Invalid username format"
	case errors.Is(err, ErrUserNotFound):
		if h.cfg.GenericLoginError {
			return "Invalid username or password"
		}
		return "User not found"
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid username or password"
	case errors.Is(err, ErrUnhashedPassword):
		return "Password is not encrypted yet. Contact the administrator."
	default:
		h.logger.Error("login_failed", map[string]any{"error": err})
		sentry.CaptureException(err)
		return "Login failed, please try again later."
	}
}

func (h *Handler) ForgotPasswordPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "forgot_password.html", pageData{})
}

// ForgotPassword answers with the same message whether or not the username
// exists.
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBodyBytes)
	if err := r.ParseForm(); err == nil {
		if err := h.reset.RequestReset(r.Context(), r.PostForm.Get("username"), h.baseURL(r)); err != nil {
			h.logger.Error("password_reset_request_failed", map[string]any{"error": err})
			sentry.CaptureException(err)
		}
	}

	h.redirectWithFlash(w, r, "/forgot_password", flashInfo, "If the account exists, a reset link has been sent to its email.")
}

func (h *Handler) ResetPasswordPage(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		h.redirectWithFlash(w, r, "/login", flashError, "Token not found")
		return
	}

	if _, err := h.reset.ValidateToken(r.Context(), token); err != nil {
		h.resetTokenFailure(w, r, err)
		return
	}

	h.render(w, r, http.StatusOK, "reset_password.html", pageData{
		Token:             token,
		MinPasswordLength: h.reset.MinPasswordLength(),
	})
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.redirectWithFlash(w, r, "/login", flashError, "Invalid form submission")
		return
	}

	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		token = strings.TrimSpace(r.PostForm.Get("token"))
	}
	if token == "" {
		h.redirectWithFlash(w, r, "/login", flashError, "Token not found")
		return
	}

	err := h.reset.ConsumeToken(r.Context(), token, r.PostForm.Get("password"), r.PostForm.Get("confirm_password"))
	switch {
	case err == nil:
		h.redirectWithFlash(w, r, "/login", flashSuccess, "Password has been reset. Please log in again.")
	case errors.Is(err, ErrPasswordMismatch):
		h.redirectWithFlash(w, r, resetPath(token), flashError, "Passwords do not match")
	case errors.Is(err, ErrPasswordTooShort):
		h.redirectWithFlash(w, r, resetPath(token), flashError,
			fmt.Sprintf("Password must be at least %d characters", h.reset.MinPasswordLength()))
	case errors.Is(err, ErrPasswordTooLong):
		h.redirectWithFlash(w, r, resetPath(token), flashError,
			fmt.Sprintf("Password must be at most %d bytes", h.reset.MaxPasswordBytes()))
	default:
		h.resetTokenFailure(w, r, err)
	}
}

func (h *Handler) resetTokenFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrResetTokenExpired):
		h.redirectWithFlash(w, r, "/forgot_password", flashError, "Token expired, please request a new one.")
	case errors.Is(err, ErrResetTokenInvalid):
		h.redirectWithFlash(w, r, "/login", flashError, "Token is invalid or has already been used.")
	default:
		h.logger.Error("password_reset_failed", map[string]any{"error": err})
		sentry.CaptureException(err)
		h.redirectWithFlash(w, r, "/login", flashError, "Password reset failed, please try again later.")
	}
}

// Logout revokes every session of the caller, not only the current one.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	session := h.gate.Session(r)
	identity := SessionIdentity(session)

	if err := h.service.Logout(r.Context(), identity.Username); err != nil {
		h.logger.Error("logout_revoke_failed", map[string]any{"username": identity.Username, "error": err})
		sentry.CaptureException(err)
	}

	SignOut(session)
	h.redirectWithSession(w, r, session, "/login", flashSuccess, "Logout successful")
}

func (h *Handler) CheckToken(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		token = bearerToken(r)
	}
	if token == "" {
		writeError(w, http.StatusBadRequest, "Token not found")
		return
	}

	claims, err := h.tokens.Verify(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"status":  "invalid",
			"message": "Token is invalid or expired",
		})
		return
	}

	body := map[string]any{
		"status":   "valid",
		"username": claims.Username,
		"role":     claims.Role,
		"sub":      claims.Subject,
		"jti":      claims.ID,
	}
	if claims.IssuedAt != nil {
		body["iat"] = claims.IssuedAt.Unix()
	}
	if claims.ExpiresAt != nil {
		body["exp"] = claims.ExpiresAt.Unix()
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) Unauthorized(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusForbidden, "unauthorized.html", pageData{})
}

func (h *Handler) Landing(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())
	h.render(w, r, http.StatusOK, "landing.html", pageData{Username: identity.Username, Role: identity.Role})
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, name string, data pageData) {
	session := h.gate.Session(r)
	for _, category := range []string{flashError, flashSuccess, flashInfo} {
		for _, raw := range session.Flashes(category) {
			if message, ok := raw.(string); ok {
				data.Flashes = append(data.Flashes, flashMessage{Category: category, Message: message})
			}
		}
	}
	h.save(w, r, session)

	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		h.logger.Error("template_render_failed", map[string]any{"template": name, "error": err})
		sentry.CaptureException(err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, location, category, message string) {
	h.redirectWithSession(w, r, h.gate.Session(r), location, category, message)
}

func (h *Handler) redirectWithSession(w http.ResponseWriter, r *http.Request, session *sessions.Session, location, category, message string) {
	session.AddFlash(message, category)
	h.save(w, r, session)
	http.Redirect(w, r, location, http.StatusSeeOther)
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request, session *sessions.Session) {
	if err := session.Save(r, w); err != nil {
		h.logger.Error("session_save_failed", map[string]any{"error": err})
	}
}

func (h *Handler) baseURL(r *http.Request) string {
	if h.cfg.BaseURL != "" {
		return h.cfg.BaseURL
	}
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func resetPath(token string) string {
	return "/reset_password?token=" + url.QueryEscape(token)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
