package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"inventory-auth/internal/observability"
	"inventory-auth/internal/passhash"
)

type Service struct {
	users    UserStore
	attempts *AttemptTracker
	tokens   *TokenService
	logger   *observability.Logger
}

func NewService(users UserStore, attempts *AttemptTracker, tokens *TokenService, logger *observability.Logger) *Service {
	return &Service{
		users:    users,
		attempts: attempts,
		tokens:   tokens,
		logger:   logger,
	}
}

// Login runs the full credential check and issues a session token.
//
// Malformed usernames are rejected before the attempt tracker is touched, and
// stored passwords without a recognised algorithm tag are refused without
// counting a failure. Every other failure is counted; the one that reaches
// the limit comes back as ErrLoginLocked with Triggered set.
func (s *Service) Login(ctx context.Context, username, password string) (LoginResult, error) {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)

	if username == "" || password == "" {
		return LoginResult{}, ErrMissingCredentials
	}
	if !ValidUsername(username) {
		return LoginResult{}, ErrInvalidUsername
	}

	lockedUntil, err := s.attempts.lockedUntil(ctx, username)
	if err != nil {
		return LoginResult{}, fmt.Errorf("check lockout: %w", err)
	}
	if lockedUntil != nil {
		return LoginResult{}, ErrLoginLocked{Until: *lockedUntil}
	}

	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return LoginResult{}, s.fail(ctx, username, ErrUserNotFound)
		}
		return LoginResult{}, fmt.Errorf("find user: %w", err)
	}

	if !passhash.Recognized(user.PasswordHash) {
		s.logger.Warn("login_unhashed_password", map[string]any{"username": username})
		return LoginResult{}, ErrUnhashedPassword
	}

	ok, err := passhash.Verify(user.PasswordHash, password)
	if err != nil {
		s.logger.Warn("login_password_hash_unusable", map[string]any{"username": username, "error": err})
		return LoginResult{}, ErrUnhashedPassword
	}
	if !ok {
		return LoginResult{}, s.fail(ctx, username, ErrInvalidCredentials)
	}

	if err := s.attempts.Clear(ctx, username); err != nil {
		return LoginResult{}, fmt.Errorf("clear attempts: %w", err)
	}

	role := user.Role
	if role == "" {
		role = defaultRole
	}

	token, err := s.tokens.Issue(ctx, user.Username, role)
	if err != nil {
		return LoginResult{}, err
	}

	s.logger.Info("login_succeeded", map[string]any{"username": user.Username, "role": role})
	return LoginResult{Username: user.Username, Role: role, Token: token}, nil
}

func (s *Service) fail(ctx context.Context, username string, cause error) error {
	if _, err := s.attempts.RecordFailure(ctx, username); err != nil {
		var locked ErrLoginLocked
		if errors.As(err, &locked) {
			return locked
		}
		return fmt.Errorf("record failed attempt: %w", err)
	}
	return cause
}

// Logout revokes every session of username.
func (s *Service) Logout(ctx context.Context, username string) error {
	if username == "" {
		return nil
	}
	_, err := s.tokens.Revoke(ctx, username)
	return err
}

// BootstrapAdmin upserts an ADMIN user from configuration. Both credentials
// empty means there is nothing to do.
func BootstrapAdmin(ctx context.Context, users UserProvisioner, username, password, email, hashMethod string) error {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)

	if username == "" && password == "" {
		return nil
	}
	if username == "" || password == "" {
		return fmt.Errorf("ADMIN_USERNAME and ADMIN_PASSWORD are required together")
	}
	if !ValidUsername(username) {
		return fmt.Errorf("bootstrap admin: %w", ErrInvalidUsername)
	}

	hash, err := passhash.Hash(password, hashMethod)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	return users.UpsertUser(ctx, User{
		Username:     username,
		Email:        strings.TrimSpace(email),
		Role:         RoleAdmin,
		PasswordHash: hash,
	})
}
