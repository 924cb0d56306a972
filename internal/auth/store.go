package auth

import (
	"context"
	"time"
)

// UserStore is the credential store collaborator. Both methods are single
// document operations.
type UserStore interface {
	FindByUsername(ctx context.Context, username string) (User, error)
	UpdatePasswordHash(ctx context.Context, username, passwordHash string) error
}

type AttemptStore interface {
	GetLoginAttempt(ctx context.Context, username string) (LoginAttempt, error)
	// RegisterFailedAttempt applies one failure. recorded is false when the
	// username was already locked and nothing changed.
	RegisterFailedAttempt(ctx context.Context, username string, policy LockoutPolicy, now time.Time) (attempt LoginAttempt, recorded bool, err error)
	ResetLoginAttempt(ctx context.Context, username string) error
}

// SessionStore is the server-side registry of live tokens, keyed by token
// hash. Implementations must treat records past ExpiresAt as absent.
type SessionStore interface {
	SaveSession(ctx context.Context, record SessionRecord) error
	FindSession(ctx context.Context, tokenHash string, now time.Time) (SessionRecord, error)
	DeleteSession(ctx context.Context, tokenHash string) error
	DeleteUserSessions(ctx context.Context, username string) (int64, error)
	PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// UserSessionPruner is implemented by registries that can purge expired
// records of a single user cheaply. Issue prefers it over a full purge.
type UserSessionPruner interface {
	PruneUserSessions(ctx context.Context, username string, now time.Time) (int64, error)
}

type ResetTokenStore interface {
	CreateResetToken(ctx context.Context, token ResetToken) error
	FindResetToken(ctx context.Context, tokenHash string) (ResetToken, error)
	DeleteResetToken(ctx context.Context, tokenHash string) error
	DeleteUserResetTokens(ctx context.Context, username string) error
}

// UserProvisioner creates or replaces a user; used for the bootstrap admin.
type UserProvisioner interface {
	UpsertUser(ctx context.Context, user User) error
}

// Cleaner removes stale auth data in bounded batches.
type Cleaner interface {
	CleanupStaleAuthData(ctx context.Context, now time.Time, attemptRetention time.Duration, batchSize int) (CleanupResult, error)
}
