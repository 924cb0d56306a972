package auth

import (
	"context"
	"time"

	"inventory-auth/internal/observability"
)

const (
	defaultMaxAttempts  = 5
	defaultLockDuration = 5 * time.Minute
)

type LockoutPolicy struct {
	MaxAttempts  int
	LockDuration time.Duration
}

// nextAttempt computes the record after one more failure. A lock that is
// still active is returned unchanged with changed=false; an expired lock
// starts a new series.
func nextAttempt(prev *LoginAttempt, username string, policy LockoutPolicy, now time.Time) (LoginAttempt, bool) {
	if prev != nil && prev.LockedAt(now) {
		return *prev, false
	}

	next := LoginAttempt{Username: username, Attempts: 1, LastAttempt: now}
	if prev != nil && prev.LockedUntil == nil {
		next.Attempts = prev.Attempts + 1
	}
	if next.Attempts >= policy.MaxAttempts {
		until := now.Add(policy.LockDuration)
		next.LockedUntil = &until
	}
	return next, true
}

type AttemptTracker struct {
	store  AttemptStore
	policy LockoutPolicy
	logger *observability.Logger
	now    func() time.Time
}

func NewAttemptTracker(store AttemptStore, logger *observability.Logger) *AttemptTracker {
	return &AttemptTracker{
		store:  store,
		policy: LockoutPolicy{MaxAttempts: defaultMaxAttempts, LockDuration: defaultLockDuration},
		logger: logger,
		now:    time.Now,
	}
}

func (t *AttemptTracker) WithPolicy(maxAttempts int, lockDuration time.Duration) *AttemptTracker {
	if maxAttempts > 0 {
		t.policy.MaxAttempts = maxAttempts
	}
	if lockDuration > 0 {
		t.policy.LockDuration = lockDuration
	}
	return t
}

func (t *AttemptTracker) WithClock(now func() time.Time) *AttemptTracker {
	t.now = now
	return t
}

// RecordFailure registers one failed login. The returned error is
// ErrLoginLocked with Triggered set when this failure caused the lock.
func (t *AttemptTracker) RecordFailure(ctx context.Context, username string) (LoginAttempt, error) {
	now := t.now().UTC()
	attempt, recorded, err := t.store.RegisterFailedAttempt(ctx, username, t.policy, now)
	if err != nil {
		return LoginAttempt{}, err
	}

	if attempt.LockedAt(now) {
		triggered := recorded
		if triggered {
			t.logger.Warn("login_locked", map[string]any{
				"username":     username,
				"attempts":     attempt.Attempts,
				"locked_until": attempt.LockedUntil.Format(time.RFC3339),
			})
		}
		return attempt, ErrLoginLocked{Until: *attempt.LockedUntil, Triggered: triggered}
	}

	return attempt, nil
}

// IsLocked reports whether username is locked and the whole minutes left.
func (t *AttemptTracker) IsLocked(ctx context.Context, username string) (bool, int, error) {
	attempt, err := t.store.GetLoginAttempt(ctx, username)
	if err != nil {
		return false, 0, err
	}
	now := t.now().UTC()
	if !attempt.LockedAt(now) {
		return false, 0, nil
	}
	return true, remainingMinutes(*attempt.LockedUntil, now), nil
}

func (t *AttemptTracker) lockedUntil(ctx context.Context, username string) (*time.Time, error) {
	attempt, err := t.store.GetLoginAttempt(ctx, username)
	if err != nil {
		return nil, err
	}
	if !attempt.LockedAt(t.now().UTC()) {
		return nil, nil
	}
	return attempt.LockedUntil, nil
}

func (t *AttemptTracker) Clear(ctx context.Context, username string) error {
	return t.store.ResetLoginAttempt(ctx, username)
}
