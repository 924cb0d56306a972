package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/sessions"

	"inventory-auth/internal/observability"
)

const (
	SessionName = "inventory_session"

	sessionUsernameKey = "username"
	sessionRoleKey     = "role"
	sessionTokenKey    = "token"
)

// ShortCircuit is the response a gate check produces instead of letting the
// request through. Status 401/403 carry a JSON Error; page redirects carry a
// Location.
type ShortCircuit struct {
	Status   int
	Error    string
	Location string
}

func (s *ShortCircuit) Write(w http.ResponseWriter, r *http.Request) {
	if s.Location != "" {
		http.Redirect(w, r, s.Location, s.Status)
		return
	}
	writeJSON(w, s.Status, map[string]any{"status": false, "error": s.Error})
}

type SessionConfig struct {
	MaxAge time.Duration
	Secure bool
}

// Gate reads the caller's cookie session and checks its token against the
// TokenService before letting protected handlers run.
type Gate struct {
	store  sessions.Store
	tokens *TokenService
	cfg    SessionConfig
	logger *observability.Logger
}

func NewGate(store sessions.Store, tokens *TokenService, cfg SessionConfig, logger *observability.Logger) *Gate {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = tokens.TTL()
	}
	return &Gate{store: store, tokens: tokens, cfg: cfg, logger: logger}
}

// Session loads the caller session and applies cookie options. A cookie that
// fails to decode yields a fresh session.
func (g *Gate) Session(r *http.Request) *sessions.Session {
	session, err := g.store.Get(r, SessionName)
	if err != nil {
		g.logger.Info("session_cookie_rejected", map[string]any{"error": err})
	}
	if session == nil {
		session = sessions.NewSession(g.store, SessionName)
	}
	g.applyOptions(session)
	return session
}

func (g *Gate) applyOptions(session *sessions.Session) {
	if session.Options == nil {
		session.Options = &sessions.Options{}
	}
	session.Options.Path = "/"
	session.Options.MaxAge = int(g.cfg.MaxAge.Seconds())
	session.Options.HttpOnly = true
	session.Options.Secure = g.cfg.Secure
	session.Options.SameSite = http.SameSiteLaxMode
}

// SignIn stores a fresh login in the caller session.
func (g *Gate) SignIn(session *sessions.Session, result LoginResult) {
	session.Values[sessionUsernameKey] = result.Username
	session.Values[sessionRoleKey] = result.Role
	session.Values[sessionTokenKey] = result.Token
}

// SignOut drops the identity from the session but keeps the cookie alive so
// a flash can still be carried to the next page.
func SignOut(session *sessions.Session) {
	delete(session.Values, sessionUsernameKey)
	delete(session.Values, sessionRoleKey)
	delete(session.Values, sessionTokenKey)
}

func SessionIdentity(session *sessions.Session) Identity {
	username, _ := session.Values[sessionUsernameKey].(string)
	role, _ := session.Values[sessionRoleKey].(string)
	token, _ := session.Values[sessionTokenKey].(string)
	return Identity{Username: username, Role: role, Token: token}
}

// RequireAuthenticated returns nil when the caller holds a live session
// token. API callers get JSON errors; page callers get redirected to /login.
func (g *Gate) RequireAuthenticated(w http.ResponseWriter, r *http.Request, api bool) *ShortCircuit {
	_, sc := g.check(w, r, api, false)
	return sc
}

// RequireAdmin is RequireAuthenticated plus an ADMIN role check.
func (g *Gate) RequireAdmin(w http.ResponseWriter, r *http.Request, api bool) *ShortCircuit {
	_, sc := g.check(w, r, api, true)
	return sc
}

func (g *Gate) check(w http.ResponseWriter, r *http.Request, api, admin bool) (Identity, *ShortCircuit) {
	session := g.Session(r)
	identity := SessionIdentity(session)

	if identity.Token == "" || identity.Username == "" || (admin && identity.Role == "") {
		return Identity{}, deny(api, http.StatusUnauthorized, "Unauthorized", "/login")
	}

	claims, err := g.tokens.Verify(r.Context(), identity.Token)
	if err != nil {
		session.Values = map[any]any{}
		if saveErr := session.Save(r, w); saveErr != nil {
			g.logger.Warn("session_clear_failed", map[string]any{"error": saveErr})
		}
		return Identity{}, deny(api, http.StatusUnauthorized, "Session expired", "/login")
	}

	identity.Role = claims.Role
	if admin && !identity.IsAdmin() {
		g.logger.Info("admin_denied", map[string]any{"username": identity.Username, "path": r.URL.Path})
		return Identity{}, deny(api, http.StatusForbidden, "Forbidden: Admin only", "/unauthorized")
	}

	return identity, nil
}

func deny(api bool, status int, message, location string) *ShortCircuit {
	if api {
		return &ShortCircuit{Status: status, Error: message}
	}
	return &ShortCircuit{Status: http.StatusSeeOther, Location: location}
}

type identityContextKey struct{}

// Authenticated wraps next so it only runs for authenticated callers. The
// verified Identity is available through IdentityFromContext.
func (g *Gate) Authenticated(api bool, next http.Handler) http.Handler {
	return g.wrap(api, false, next)
}

// Admin wraps next so it only runs for ADMIN callers.
func (g *Gate) Admin(api bool, next http.Handler) http.Handler {
	return g.wrap(api, true, next)
}

func (g *Gate) wrap(api, admin bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, sc := g.check(w, r, api, admin)
		if sc != nil {
			sc.Write(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityContextKey{}, identity)))
	})
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(Identity)
	return identity, ok
}
