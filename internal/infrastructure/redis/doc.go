// Package redis provides the optional Redis connection used for session
// tokens and login attempt limiting.
//
// Usage:
//
//	client, err := redis.Connect(cfg.Redis)
//	if errors.Is(err, redis.ErrDisabled) {
//	    // fall back to SQLite sessions and the in-process limiter
//	}
//	defer client.Close()
//
//	key := client.Key("session", userID)
package redis
