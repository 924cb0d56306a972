package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisSessionPrefix     = "auth:session:"
	redisUserSessionPrefix = "auth:user_sessions:"
	redisScanCount         = 100
)

// NewRedisClient parses a redis:// URL and pings the server before returning.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, errors.New("empty redis url")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return client, nil
}

// RedisSessionStore keeps session records as JSON values whose key TTL
// matches the token lifetime. A per-user set indexes the record keys so all
// sessions of one user can be revoked together.
type RedisSessionStore struct {
	client redis.UniversalClient
}

func NewRedisSessionStore(client redis.UniversalClient) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

func sessionKey(tokenHash string) string {
	return redisSessionPrefix + tokenHash
}

func userSessionsKey(username string) string {
	return redisUserSessionPrefix + username
}

func (s *RedisSessionStore) SaveSession(ctx context.Context, record SessionRecord) error {
	ttl := record.ExpiresAt.Sub(record.CreatedAt)
	if ttl <= 0 {
		return nil
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	// Every record shares the configured lifetime, so the newest one always
	// expires last and may safely set the index TTL.
	indexKey := userSessionsKey(record.Username)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(record.TokenHash), payload, ttl)
		pipe.SAdd(ctx, indexKey, record.TokenHash)
		pipe.Expire(ctx, indexKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store session: %w", err)
	}

	return nil
}

func (s *RedisSessionStore) FindSession(ctx context.Context, tokenHash string, now time.Time) (SessionRecord, error) {
	raw, err := s.client.Get(ctx, sessionKey(tokenHash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return SessionRecord{}, ErrNotFound
		}
		return SessionRecord{}, fmt.Errorf("get session: %w", err)
	}

	var record SessionRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return SessionRecord{}, fmt.Errorf("decode session: %w", err)
	}
	if !now.Before(record.ExpiresAt) {
		return SessionRecord{}, ErrNotFound
	}

	return record, nil
}

func (s *RedisSessionStore) DeleteSession(ctx context.Context, tokenHash string) error {
	key := sessionKey(tokenHash)

	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("get session: %w", err)
	}

	var record SessionRecord
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &record); err != nil {
			record = SessionRecord{}
		}
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if record.Username != "" {
			pipe.SRem(ctx, userSessionsKey(record.Username), tokenHash)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	return nil
}

func (s *RedisSessionStore) DeleteUserSessions(ctx context.Context, username string) (int64, error) {
	indexKey := userSessionsKey(username)

	hashes, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("list user sessions: %w", err)
	}

	dels := make([]*redis.IntCmd, 0, len(hashes))
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, hash := range hashes {
			dels = append(dels, pipe.Del(ctx, sessionKey(hash)))
		}
		pipe.Del(ctx, indexKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete user sessions: %w", err)
	}

	var deleted int64
	for _, cmd := range dels {
		deleted += cmd.Val()
	}
	return deleted, nil
}

// PruneUserSessions drops the expired entries of one user's index. Record
// keys expire on their own, so this is all an issuance needs.
func (s *RedisSessionStore) PruneUserSessions(ctx context.Context, username string, _ time.Time) (int64, error) {
	return s.pruneIndex(ctx, userSessionsKey(username))
}

// PurgeExpiredSessions drops index entries whose record key has already
// expired. The records themselves are removed by Redis.
func (s *RedisSessionStore) PurgeExpiredSessions(ctx context.Context, _ time.Time) (int64, error) {
	var purged int64
	var cursor uint64

	for {
		keys, next, err := s.client.Scan(ctx, cursor, redisUserSessionPrefix+"*", redisScanCount).Result()
		if err != nil {
			return purged, fmt.Errorf("scan user session indexes: %w", err)
		}

		for _, indexKey := range keys {
			n, err := s.pruneIndex(ctx, indexKey)
			if err != nil {
				return purged, err
			}
			purged += n
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return purged, nil
}

func (s *RedisSessionStore) pruneIndex(ctx context.Context, indexKey string) (int64, error) {
	hashes, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", indexKey, err)
	}
	if len(hashes) == 0 {
		return 0, nil
	}

	exists := make([]*redis.IntCmd, len(hashes))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, hash := range hashes {
			exists[i] = pipe.Exists(ctx, sessionKey(hash))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("check %s: %w", indexKey, err)
	}

	stale := make([]any, 0, len(hashes))
	for i, cmd := range exists {
		if cmd.Val() == 0 {
			stale = append(stale, hashes[i])
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	removed, err := s.client.SRem(ctx, indexKey, stale...).Result()
	if err != nil {
		return 0, fmt.Errorf("prune %s: %w", strings.TrimPrefix(indexKey, redisUserSessionPrefix), err)
	}
	return removed, nil
}
