package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository is the Postgres implementation of every auth store.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) FindByUsername(ctx context.Context, username string) (User, error) {
	var user User
	var email, role sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, username, email, role, password_hash, created_at, updated_at
		FROM users
		WHERE username = $1
	`, username).Scan(&user.ID, &user.Username, &email, &role, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("query user by username: %w", err)
	}
	user.Email = email.String
	user.Role = role.String

	return user, nil
}

func (r *Repository) UpdatePasswordHash(ctx context.Context, username, passwordHash string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $2, updated_at = $3
		WHERE username = $1
	`, username, passwordHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update password hash rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *Repository) UpsertUser(ctx context.Context, user User) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate uuid v7: %w", err)
	}

	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, role, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (username)
		DO UPDATE SET
			email = EXCLUDED.email,
			role = EXCLUDED.role,
			password_hash = EXCLUDED.password_hash,
			updated_at = EXCLUDED.updated_at
	`, id.String(), user.Username, user.Email, user.Role, user.PasswordHash, now)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}

	return nil
}

func (r *Repository) GetLoginAttempt(ctx context.Context, username string) (LoginAttempt, error) {
	attempt := LoginAttempt{Username: username}

	var lockedUntil sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT attempts, last_attempt, locked_until
		FROM auth_login_attempts
		WHERE username = $1
	`, username).Scan(&attempt.Attempts, &attempt.LastAttempt, &lockedUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return attempt, nil
		}
		return LoginAttempt{}, fmt.Errorf("query login attempt: %w", err)
	}
	attempt.LastAttempt = attempt.LastAttempt.UTC()
	if lockedUntil.Valid {
		value := lockedUntil.Time.UTC()
		attempt.LockedUntil = &value
	}

	return attempt, nil
}

// RegisterFailedAttempt serialises concurrent failures for one username with
// a row lock, so two racing requests cannot both read the same count.
func (r *Repository) RegisterFailedAttempt(ctx context.Context, username string, policy LockoutPolicy, now time.Time) (LoginAttempt, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return LoginAttempt{}, false, fmt.Errorf("begin login attempt tx: %w", err)
	}
	defer tx.Rollback()

	var prev *LoginAttempt
	var existing LoginAttempt
	var lockedUntil sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT attempts, last_attempt, locked_until
		FROM auth_login_attempts
		WHERE username = $1
		FOR UPDATE
	`, username).Scan(&existing.Attempts, &existing.LastAttempt, &lockedUntil)
	switch {
	case err == nil:
		existing.Username = username
		if lockedUntil.Valid {
			value := lockedUntil.Time.UTC()
			existing.LockedUntil = &value
		}
		prev = &existing
	case errors.Is(err, sql.ErrNoRows):
	default:
		return LoginAttempt{}, false, fmt.Errorf("lock login attempt row: %w", err)
	}

	next, recorded := nextAttempt(prev, username, policy, now.UTC())
	if !recorded {
		if err := tx.Commit(); err != nil {
			return LoginAttempt{}, false, fmt.Errorf("commit existing lock tx: %w", err)
		}
		return next, false, nil
	}

	var nextLock any
	if next.LockedUntil != nil {
		nextLock = next.LockedUntil.UTC()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO auth_login_attempts (username, attempts, last_attempt, locked_until)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (username)
		DO UPDATE SET
			attempts = EXCLUDED.attempts,
			last_attempt = EXCLUDED.last_attempt,
			locked_until = EXCLUDED.locked_until
	`, username, next.Attempts, next.LastAttempt.UTC(), nextLock)
	if err != nil {
		return LoginAttempt{}, false, fmt.Errorf("upsert failed login attempt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return LoginAttempt{}, false, fmt.Errorf("commit login attempt tx: %w", err)
	}

	return next, true, nil
}

func (r *Repository) ResetLoginAttempt(ctx context.Context, username string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM auth_login_attempts
		WHERE username = $1
	`, username)
	if err != nil {
		return fmt.Errorf("reset login attempts: %w", err)
	}

	return nil
}

func (r *Repository) SaveSession(ctx context.Context, record SessionRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO auth_sessions (token_hash, username, role, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (token_hash) DO NOTHING
	`, record.TokenHash, record.Username, record.Role, record.CreatedAt.UTC(), record.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	return nil
}

func (r *Repository) FindSession(ctx context.Context, tokenHash string, now time.Time) (SessionRecord, error) {
	record := SessionRecord{TokenHash: tokenHash}
	err := r.db.QueryRowContext(ctx, `
		SELECT username, role, created_at, expires_at
		FROM auth_sessions
		WHERE token_hash = $1 AND expires_at > $2
	`, tokenHash, now.UTC()).Scan(&record.Username, &record.Role, &record.CreatedAt, &record.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SessionRecord{}, ErrNotFound
		}
		return SessionRecord{}, fmt.Errorf("query session: %w", err)
	}

	return record, nil
}

func (r *Repository) DeleteSession(ctx context.Context, tokenHash string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE token_hash = $1`, tokenHash); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (r *Repository) DeleteUserSessions(ctx context.Context, username string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE username = $1`, username)
	if err != nil {
		return 0, fmt.Errorf("delete user sessions: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("user sessions rows affected: %w", err)
	}

	return affected, nil
}

func (r *Repository) PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE expires_at < $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge expired sessions: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired sessions rows affected: %w", err)
	}

	return affected, nil
}

func (r *Repository) CreateResetToken(ctx context.Context, token ResetToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO auth_password_resets (token_hash, username, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
	`, token.TokenHash, token.Username, token.CreatedAt.UTC(), token.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("insert reset token: %w", err)
	}

	return nil
}

func (r *Repository) FindResetToken(ctx context.Context, tokenHash string) (ResetToken, error) {
	token := ResetToken{TokenHash: tokenHash}
	err := r.db.QueryRowContext(ctx, `
		SELECT username, created_at, expires_at
		FROM auth_password_resets
		WHERE token_hash = $1
	`, tokenHash).Scan(&token.Username, &token.CreatedAt, &token.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ResetToken{}, ErrNotFound
		}
		return ResetToken{}, fmt.Errorf("query reset token: %w", err)
	}
	token.CreatedAt = token.CreatedAt.UTC()
	token.ExpiresAt = token.ExpiresAt.UTC()

	return token, nil
}

func (r *Repository) DeleteResetToken(ctx context.Context, tokenHash string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM auth_password_resets WHERE token_hash = $1`, tokenHash); err != nil {
		return fmt.Errorf("delete reset token: %w", err)
	}
	return nil
}

func (r *Repository) DeleteUserResetTokens(ctx context.Context, username string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM auth_password_resets WHERE username = $1`, username); err != nil {
		return fmt.Errorf("delete user reset tokens: %w", err)
	}
	return nil
}

func (r *Repository) CleanupStaleAuthData(ctx context.Context, now time.Time, attemptRetention time.Duration, batchSize int) (CleanupResult, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	if attemptRetention <= 0 {
		attemptRetention = 30 * 24 * time.Hour
	}
	now = now.UTC()

	deletedSessions, err := r.deleteBatch(ctx, "stale sessions", `
		WITH stale AS (
			SELECT token_hash
			FROM auth_sessions
			WHERE expires_at < $1
			ORDER BY expires_at ASC
			LIMIT $2
		)
		DELETE FROM auth_sessions t
		USING stale
		WHERE t.token_hash = stale.token_hash
	`, now, batchSize)
	if err != nil {
		return CleanupResult{}, err
	}

	deletedLoginAttempts, err := r.deleteBatch(ctx, "stale login attempts", `
		WITH stale AS (
			SELECT username
			FROM auth_login_attempts
			WHERE last_attempt < $1
			  AND (locked_until IS NULL OR locked_until < $3)
			ORDER BY last_attempt ASC
			LIMIT $2
		)
		DELETE FROM auth_login_attempts t
		USING stale
		WHERE t.username = stale.username
	`, now.Add(-attemptRetention), batchSize, now)
	if err != nil {
		return CleanupResult{}, err
	}

	deletedResetTokens, err := r.deleteBatch(ctx, "expired reset tokens", `
		WITH stale AS (
			SELECT token_hash
			FROM auth_password_resets
			WHERE expires_at < $1
			ORDER BY expires_at ASC
			LIMIT $2
		)
		DELETE FROM auth_password_resets t
		USING stale
		WHERE t.token_hash = stale.token_hash
	`, now, batchSize)
	if err != nil {
		return CleanupResult{}, err
	}

	return CleanupResult{
		DeletedSessions:      deletedSessions,
		DeletedLoginAttempts: deletedLoginAttempts,
		DeletedResetTokens:   deletedResetTokens,
	}, nil
}

func (r *Repository) deleteBatch(ctx context.Context, what, query string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", what, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s rows affected: %w", what, err)
	}

	return affected, nil
}
