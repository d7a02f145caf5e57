package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultPingTimeout    = 2 * time.Second
)

// Client is a go-redis handle plus the key namespace from config. It is
// safe for concurrent use.
type Client struct {
	rdb    *goredis.Client
	prefix string
}

// Connect dials cfg.Addr and pings it. A disabled section yields
// ErrDisabled; an unanswered ping yields ErrConnectionFailed.
func Connect(cfg config.RedisConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	dial, stop := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer stop()

	if err := rdb.Ping(dial).Err(); err != nil {
		rdb.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return &Client{rdb: rdb, prefix: cfg.KeyPrefix}, nil
}

// New wraps an existing go-redis client.
func New(rdb *goredis.Client, prefix string) *Client {
	return &Client{rdb: rdb, prefix: prefix}
}

// Redis returns the underlying go-redis client.
func (c *Client) Redis() *goredis.Client {
	return c.rdb
}

// Key appends parts, joined by ":", to the configured prefix, which
// carries its own trailing separator.
func (c *Client) Key(parts ...string) string {
	return c.prefix + strings.Join(parts, ":")
}

// HealthCheck pings the server, bounded by defaultPingTimeout.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases the pool; a nil Client is fine.
func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("closing redis: %w", err)
	}
	return nil
}
