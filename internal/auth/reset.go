package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"inventory-auth/internal/observability"
	"inventory-auth/internal/passhash"
)

const (
	defaultResetTTL       = 10 * time.Minute
	defaultMinPasswordLen = 6
	resetTokenBytes       = 32
)

// ResetMailer hands a reset link to the email collaborator. Delivery is
// fire-and-forget from the flow's point of view.
type ResetMailer interface {
	SendPasswordReset(ctx context.Context, email, link string) error
}

type ResetConfig struct {
	TTL                time.Duration
	MinPasswordLength  int
	HashMethod         string
	InvalidatePrevious bool
}

type ResetFlow struct {
	users  UserStore
	tokens ResetTokenStore
	mailer ResetMailer
	cfg    ResetConfig
	logger *observability.Logger
	now    func() time.Time
}

func NewResetFlow(users UserStore, tokens ResetTokenStore, mailer ResetMailer, cfg ResetConfig, logger *observability.Logger) *ResetFlow {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultResetTTL
	}
	if cfg.MinPasswordLength <= 0 {
		cfg.MinPasswordLength = defaultMinPasswordLen
	}
	if cfg.HashMethod == "" {
		cfg.HashMethod = passhash.MethodScrypt
	}
	return &ResetFlow{
		users:  users,
		tokens: tokens,
		mailer: mailer,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

func (f *ResetFlow) WithClock(now func() time.Time) *ResetFlow {
	f.now = now
	return f
}

func (f *ResetFlow) MinPasswordLength() int {
	return f.cfg.MinPasswordLength
}

// MaxPasswordBytes is the longest password the configured hash method
// accepts, or 0 when unbounded.
func (f *ResetFlow) MaxPasswordBytes() int {
	return passhash.MaxPasswordBytes(f.cfg.HashMethod)
}

// RequestReset issues a reset token for username and mails a link built on
// baseURL. The caller shows the same message whatever happens here; a nil
// error does not imply the user exists. Unknown usernames cause no writes.
func (f *ResetFlow) RequestReset(ctx context.Context, username, baseURL string) error {
	username = strings.TrimSpace(username)
	if !ValidUsername(username) {
		return nil
	}

	user, err := f.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("find user: %w", err)
	}

	token, err := newResetToken()
	if err != nil {
		return fmt.Errorf("generate reset token: %w", err)
	}

	if f.cfg.InvalidatePrevious {
		if err := f.tokens.DeleteUserResetTokens(ctx, user.Username); err != nil {
			return fmt.Errorf("invalidate previous reset tokens: %w", err)
		}
	}

	now := f.now().UTC()
	record := ResetToken{
		Username:  user.Username,
		TokenHash: hashToken(token),
		CreatedAt: now,
		ExpiresAt: now.Add(f.cfg.TTL),
	}
	if err := f.tokens.CreateResetToken(ctx, record); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	f.logger.Info("password_reset_issued", map[string]any{"username": user.Username})

	if user.Email == "" {
		f.logger.Warn("password_reset_no_email", map[string]any{"username": user.Username})
		return nil
	}
	if err := f.mailer.SendPasswordReset(ctx, user.Email, ResetLink(baseURL, token)); err != nil {
		f.logger.Error("password_reset_mail_failed", map[string]any{"username": user.Username, "error": err})
		observability.CaptureError(err, "password_reset_mail")
	}

	return nil
}

// ValidateToken returns the stored record, ErrResetTokenInvalid when it is
// unknown or already used, or ErrResetTokenExpired past its window.
func (f *ResetFlow) ValidateToken(ctx context.Context, token string) (ResetToken, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return ResetToken{}, ErrResetTokenInvalid
	}

	record, err := f.tokens.FindResetToken(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ResetToken{}, ErrResetTokenInvalid
		}
		return ResetToken{}, fmt.Errorf("find reset token: %w", err)
	}

	if f.now().UTC().After(record.ExpiresAt) {
		return ResetToken{}, ErrResetTokenExpired
	}

	return record, nil
}

// ConsumeToken replaces the user's password and then deletes the token, so a
// token is accepted at most once. Passwords are trimmed the same way Login
// trims them.
func (f *ResetFlow) ConsumeToken(ctx context.Context, token, newPassword, confirmPassword string) error {
	record, err := f.ValidateToken(ctx, token)
	if err != nil {
		return err
	}

	newPassword = strings.TrimSpace(newPassword)
	confirmPassword = strings.TrimSpace(confirmPassword)
	if err := validateNewPassword(newPassword, confirmPassword, f.cfg.MinPasswordLength, f.MaxPasswordBytes()); err != nil {
		return err
	}

	hash, err := passhash.Hash(newPassword, f.cfg.HashMethod)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := f.users.UpdatePasswordHash(ctx, record.Username, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	if err := f.tokens.DeleteResetToken(ctx, record.TokenHash); err != nil {
		return fmt.Errorf("delete reset token: %w", err)
	}

	f.logger.Info("password_reset_completed", map[string]any{"username": record.Username})
	return nil
}

func ResetLink(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + "/reset_password?token=" + url.QueryEscape(token)
}

func newResetToken() (string, error) {
	b := make([]byte, resetTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
