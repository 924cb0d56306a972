package auth

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps every auth collection in process. It backs the
// SESSION_STORE=memory mode and the tests.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[string]User
	attempts map[string]LoginAttempt
	sessions map[string]SessionRecord
	resets   map[string]ResetToken
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]User),
		attempts: make(map[string]LoginAttempt),
		sessions: make(map[string]SessionRecord),
		resets:   make(map[string]ResetToken),
	}
}

func (m *MemoryStore) UpsertUser(_ context.Context, user User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := m.users[user.Username]; ok {
		user.ID = existing.ID
		user.CreatedAt = existing.CreatedAt
	} else {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		user.ID = id.String()
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	m.users[user.Username] = user
	return nil
}

func (m *MemoryStore) FindByUsername(_ context.Context, username string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[username]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (m *MemoryStore) UpdatePasswordHash(_ context.Context, username, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[username]
	if !ok {
		return ErrNotFound
	}
	user.PasswordHash = passwordHash
	user.UpdatedAt = time.Now().UTC()
	m.users[username] = user
	return nil
}

func (m *MemoryStore) GetLoginAttempt(_ context.Context, username string) (LoginAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	attempt, ok := m.attempts[username]
	if !ok {
		return LoginAttempt{Username: username}, nil
	}
	return attempt, nil
}

// HasLoginAttempt reports whether an attempt record exists for username.
func (m *MemoryStore) HasLoginAttempt(username string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.attempts[username]
	return ok
}

func (m *MemoryStore) RegisterFailedAttempt(_ context.Context, username string, policy LockoutPolicy, now time.Time) (LoginAttempt, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var prev *LoginAttempt
	if existing, ok := m.attempts[username]; ok {
		prev = &existing
	}
	next, recorded := nextAttempt(prev, username, policy, now)
	m.attempts[username] = next
	return next, recorded, nil
}

func (m *MemoryStore) ResetLoginAttempt(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.attempts, username)
	return nil
}

func (m *MemoryStore) SaveSession(_ context.Context, record SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[record.TokenHash] = record
	return nil
}

func (m *MemoryStore) FindSession(_ context.Context, tokenHash string, now time.Time) (SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.sessions[tokenHash]
	if !ok || !now.Before(record.ExpiresAt) {
		return SessionRecord{}, ErrNotFound
	}
	return record, nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, tokenHash)
	return nil
}

func (m *MemoryStore) DeleteUserSessions(_ context.Context, username string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for key, record := range m.sessions {
		if record.Username == username {
			delete(m.sessions, key)
			deleted++
		}
	}
	return deleted, nil
}

func (m *MemoryStore) PurgeExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for key, record := range m.sessions {
		if record.ExpiresAt.Before(now) {
			delete(m.sessions, key)
			deleted++
		}
	}
	return deleted, nil
}

// SessionCount returns the number of stored session records, expired or not.
func (m *MemoryStore) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.sessions)
}

func (m *MemoryStore) CreateResetToken(_ context.Context, token ResetToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resets[token.TokenHash] = token
	return nil
}

func (m *MemoryStore) FindResetToken(_ context.Context, tokenHash string) (ResetToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	token, ok := m.resets[tokenHash]
	if !ok {
		return ResetToken{}, ErrNotFound
	}
	return token, nil
}

func (m *MemoryStore) DeleteResetToken(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.resets, tokenHash)
	return nil
}

func (m *MemoryStore) DeleteUserResetTokens(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, token := range m.resets {
		if token.Username == username {
			delete(m.resets, key)
		}
	}
	return nil
}

// ResetTokenCount returns the number of outstanding reset tokens.
func (m *MemoryStore) ResetTokenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.resets)
}

func (m *MemoryStore) CleanupStaleAuthData(_ context.Context, now time.Time, attemptRetention time.Duration, batchSize int) (CleanupResult, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	attemptCutoff := now.Add(-attemptRetention)

	m.mu.Lock()
	defer m.mu.Unlock()

	var result CleanupResult
	for _, key := range sortedKeys(m.sessions) {
		if result.DeletedSessions >= int64(batchSize) {
			break
		}
		if m.sessions[key].ExpiresAt.Before(now) {
			delete(m.sessions, key)
			result.DeletedSessions++
		}
	}
	for _, key := range sortedKeys(m.attempts) {
		if result.DeletedLoginAttempts >= int64(batchSize) {
			break
		}
		attempt := m.attempts[key]
		if attempt.LastAttempt.Before(attemptCutoff) && !attempt.LockedAt(now) {
			delete(m.attempts, key)
			result.DeletedLoginAttempts++
		}
	}
	for _, key := range sortedKeys(m.resets) {
		if result.DeletedResetTokens >= int64(batchSize) {
			break
		}
		if m.resets[key].ExpiresAt.Before(now) {
			delete(m.resets, key)
			result.DeletedResetTokens++
		}
	}
	return result, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
