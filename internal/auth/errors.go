package auth

import (
	"errors"
	"time"
)

var (
	ErrMissingCredentials = errors.New("username and password are required")
	ErrInvalidUsername    = errors.New("username format is invalid")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnhashedPassword   = errors.New("stored password is not hashed")

	ErrTokenInvalid = errors.New("session token invalid")

	ErrResetTokenInvalid = errors.New("reset token invalid")
	ErrResetTokenExpired = errors.New("reset token expired")
	ErrPasswordMismatch  = errors.New("passwords do not match")
	ErrPasswordTooShort  = errors.New("password too short")
	ErrPasswordTooLong   = errors.New("password too long")

	// ErrNotFound is returned by stores for absent records.
	ErrNotFound = errors.New("record not found")
)

// ErrLoginLocked reports an active lockout. Triggered is set when the failure
// being recorded is the one that caused the lock.
type ErrLoginLocked struct {
	Until     time.Time
	Triggered bool
}

func (e ErrLoginLocked) Error() string {
	return "login temporarily locked"
}

// RemainingMinutes rounds up so a fresh lock reports its full duration.
func (e ErrLoginLocked) RemainingMinutes(now time.Time) int {
	return remainingMinutes(e.Until, now)
}

func remainingMinutes(until, now time.Time) int {
	remaining := until.Sub(now)
	if remaining <= 0 {
		return 0
	}
	minutes := int((remaining + time.Minute - 1) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}
