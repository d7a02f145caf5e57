package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// deleteIfMatch removes the session hash only when it still holds the given token.
var deleteIfMatch = goredis.NewScript(`
if redis.call("HGET", KEYS[1], "hash") == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisTokenStore implements TokenStore on Redis. Each user's token lives in
// one hash key that Redis expires at the token's expiry.
type RedisTokenStore struct {
	rdb    *goredis.Client
	prefix string
}

// NewRedisTokenStore creates a Redis-backed token store. Keys are
// prefix + "session:" + userID.
func NewRedisTokenStore(rdb *goredis.Client, prefix string) *RedisTokenStore {
	return &RedisTokenStore{rdb: rdb, prefix: prefix}
}

func (s *RedisTokenStore) key(userID string) string {
	return s.prefix + "session:" + userID
}

// Replace stores the token, discarding any previous token of the same user.
func (s *RedisTokenStore) Replace(ctx context.Context, token StoredToken) error {
	key := s.key(token.UserID)

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key,
		"hash", token.TokenHash,
		"expires_at", strconv.FormatInt(token.ExpiresAt.UnixMilli(), 10),
	)
	pipe.PExpireAt(ctx, key, token.ExpiresAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: storing session token: %w", ErrStoreFailure, err)
	}
	return nil
}

// Lookup returns the stored token of a user, if any.
func (s *RedisTokenStore) Lookup(ctx context.Context, userID string) (StoredToken, bool, error) {
	vals, err := s.rdb.HGetAll(ctx, s.key(userID)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return StoredToken{}, false, nil
		}
		return StoredToken{}, false, fmt.Errorf("%w: reading session token: %w", ErrStoreFailure, err)
	}
	if len(vals) == 0 || vals["hash"] == "" {
		return StoredToken{}, false, nil
	}

	ms, err := strconv.ParseInt(vals["expires_at"], 10, 64)
	if err != nil {
		return StoredToken{}, false, fmt.Errorf("%w: parsing session expiry: %w", ErrStoreFailure, err)
	}

	return StoredToken{
		UserID:    userID,
		TokenHash: vals["hash"],
		ExpiresAt: time.UnixMilli(ms),
	}, true, nil
}

// Delete removes the user's token only if it matches tokenHash.
func (s *RedisTokenStore) Delete(ctx context.Context, userID, tokenHash string) error {
	if err := deleteIfMatch.Run(ctx, s.rdb, []string{s.key(userID)}, tokenHash).Err(); err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("%w: deleting session token: %w", ErrStoreFailure, err)
	}
	return nil
}

// DeleteAll removes any token of the user.
func (s *RedisTokenStore) DeleteAll(ctx context.Context, userID string) error {
	if err := s.rdb.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: deleting session tokens: %w", ErrStoreFailure, err)
	}
	return nil
}

// PurgeExpired is a no-op: Redis expires session keys itself.
func (s *RedisTokenStore) PurgeExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}
