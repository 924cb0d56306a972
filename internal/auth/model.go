package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleAdmin   = "ADMIN"
	defaultRole = "staff"
)

// User is the credential-store projection the core reads. Only PasswordHash
// is ever written back.
type User struct {
	ID           string
	Username     string
	Email        string
	Role         string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// LoginAttempt counts consecutive failures for one username. LockedUntil is
// only set once Attempts reaches the configured maximum.
type LoginAttempt struct {
	Username    string
	Attempts    int
	LastAttempt time.Time
	LockedUntil *time.Time
}

func (a LoginAttempt) LockedAt(now time.Time) bool {
	return a.LockedUntil != nil && now.Before(*a.LockedUntil)
}

// SessionRecord mirrors an issued token server-side. The token itself is
// stored as its sha256 hex digest.
type SessionRecord struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	TokenHash string    `json:"token_hash"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ResetToken struct {
	Username  string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Claims is the signed payload of a session token.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Identity is what the gate hands to protected handlers.
type Identity struct {
	Username string
	Role     string
	Token    string
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

type LoginResult struct {
	Username string
	Role     string
	Token    string
}

type CleanupResult struct {
	DeletedSessions      int64 `json:"deleted_sessions"`
	DeletedLoginAttempts int64 `json:"deleted_login_attempts"`
	DeletedResetTokens   int64 `json:"deleted_reset_tokens"`
}
