package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"inventory-auth/internal/observability"
)

const (
	defaultSessionTTL  = 24 * time.Hour
	defaultTokenLeeway = 10 * time.Second
)

type TokenConfig struct {
	Secret string
	TTL    time.Duration
	Leeway time.Duration
}

// TokenService issues HS256 session tokens and mirrors each one in a
// SessionStore. A token verifies only while its signature, its expiry and
// its session record are all valid, so deleting records revokes tokens.
type TokenService struct {
	store  SessionStore
	secret []byte
	ttl    time.Duration
	leeway time.Duration
	logger *observability.Logger
	now    func() time.Time
}

func NewTokenService(store SessionStore, cfg TokenConfig, logger *observability.Logger) *TokenService {
	s := &TokenService{
		store:  store,
		secret: []byte(cfg.Secret),
		ttl:    defaultSessionTTL,
		leeway: defaultTokenLeeway,
		logger: logger,
		now:    time.Now,
	}
	if cfg.TTL > 0 {
		s.ttl = cfg.TTL
	}
	if cfg.Leeway > 0 {
		s.leeway = cfg.Leeway
	}
	return s
}

func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	s.now = now
	return s
}

func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue signs a token for username/role and stores its session record.
// Expired records are purged first; a failed purge does not block issuance.
func (s *TokenService) Issue(ctx context.Context, username, role string) (string, error) {
	now := s.now().UTC()

	if purged, err := s.purgeOnIssue(ctx, username, now); err != nil {
		s.logger.Warn("session_purge_failed", map[string]any{"error": err})
	} else if purged > 0 {
		s.logger.Info("session_purged", map[string]any{"deleted": purged})
	}

	jti, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate token id: %w", err)
	}

	expiresAt := now.Add(s.ttl)
	claims := Claims{
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti.String(),
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}

	record := SessionRecord{
		Username:  username,
		Role:      role,
		TokenHash: hashToken(token),
		CreatedAt: now,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if err := s.store.SaveSession(ctx, record); err != nil {
		return "", fmt.Errorf("save session: %w", err)
	}

	return token, nil
}

func (s *TokenService) purgeOnIssue(ctx context.Context, username string, now time.Time) (int64, error) {
	if pruner, ok := s.store.(UserSessionPruner); ok {
		return pruner.PruneUserSessions(ctx, username, now)
	}
	return s.store.PurgeExpiredSessions(ctx, now)
}

// Verify returns the token claims or ErrTokenInvalid. Store failures are
// logged and reported as invalid.
func (s *TokenService) Verify(ctx context.Context, token string) (Claims, error) {
	if token == "" {
		return Claims{}, ErrTokenInvalid
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(s.leeway),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			if delErr := s.store.DeleteSession(ctx, hashToken(token)); delErr != nil {
				s.logger.Warn("expired_session_delete_failed", map[string]any{"error": delErr})
			}
			s.logger.Info("token_expired", nil)
		} else {
			s.logger.Info("token_rejected", map[string]any{"error": err})
		}
		return Claims{}, ErrTokenInvalid
	}

	// The record check gets the same skew allowance as the exp claim.
	if _, err := s.store.FindSession(ctx, hashToken(token), s.now().UTC().Add(-s.leeway)); err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.Info("token_session_missing", map[string]any{"username": claims.Username})
		} else {
			s.logger.Error("token_session_lookup_failed", map[string]any{"error": err})
		}
		return Claims{}, ErrTokenInvalid
	}

	return claims, nil
}

// Revoke deletes every session record of username, logging out all devices.
func (s *TokenService) Revoke(ctx context.Context, username string) (int64, error) {
	deleted, err := s.store.DeleteUserSessions(ctx, username)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}
	s.logger.Info("sessions_revoked", map[string]any{"username": username, "deleted": deleted})
	return deleted, nil
}

// Sweep purges expired session records.
func (s *TokenService) Sweep(ctx context.Context) (int64, error) {
	return s.store.PurgeExpiredSessions(ctx, s.now().UTC())
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *TokenService) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.Sweep(ctx)
			if err != nil {
				s.logger.Error("session_sweep_failed", map[string]any{"error": err})
				continue
			}
			if deleted > 0 {
				s.logger.Info("session_sweep_completed", map[string]any{"deleted": deleted})
			}
		}
	}
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
