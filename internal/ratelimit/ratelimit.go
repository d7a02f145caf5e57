// Package ratelimit limits repeated attempts per key, such as login
// attempts per email address.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter decides whether another attempt for key is allowed.
type Limiter interface {
	// Allow records one attempt and reports whether it is within the limit.
	Allow(ctx context.Context, key string) (bool, error)
	// Reset forgets all attempts for key.
	Reset(ctx context.Context, key string) error
}

// Unlimited allows everything.
type Unlimited struct{}

// Allow implements Limiter.
func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }

// Reset implements Limiter.
func (Unlimited) Reset(context.Context, string) error { return nil }

// RedisLimiter is a fixed-window counter shared by every process using the same Redis.
type RedisLimiter struct {
	rdb    *goredis.Client
	prefix string
	max    int64
	window time.Duration
}

// NewRedisLimiter allows max attempts per key in each window.
func NewRedisLimiter(rdb *goredis.Client, prefix string, max int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, prefix: prefix, max: int64(max), window: window}
}

func (l *RedisLimiter) key(k string) string {
	return l.prefix + "attempts:" + k
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	count, err := l.rdb.Incr(ctx, l.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("counting attempts: %w", err)
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, l.key(key), l.window).Err(); err != nil {
			return false, fmt.Errorf("setting attempt window: %w", err)
		}
	}
	return count <= l.max, nil
}

// Reset implements Limiter.
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := l.rdb.Del(ctx, l.key(key)).Err(); err != nil {
		return fmt.Errorf("resetting attempts: %w", err)
	}
	return nil
}

// MemoryLimiter keeps one token bucket per key in process memory.
// The bucket holds max tokens and refills at max per window.
type MemoryLimiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMemoryLimiter allows bursts of max attempts per key, refilled over window.
func NewMemoryLimiter(max int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limiters: make(map[string]*entry),
		limit:    rate.Limit(float64(max) / window.Seconds()),
		burst:    max,
		now:      time.Now,
	}
}

// Allow implements Limiter.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := l.now()

	l.mu.Lock()
	e, ok := l.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = now
	l.mu.Unlock()

	return e.limiter.AllowN(now, 1), nil
}

// Reset implements Limiter.
func (l *MemoryLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	delete(l.limiters, key)
	l.mu.Unlock()
	return nil
}

// Prune drops buckets not used since before and returns how many were removed.
func (l *MemoryLimiter) Prune(before time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for k, e := range l.limiters {
		if e.lastSeen.Before(before) {
			delete(l.limiters, k)
			n++
		}
	}
	return n
}
