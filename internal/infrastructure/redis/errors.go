package redis

import "errors"

// Sentinel errors for Redis operations.
var (
	// ErrDisabled indicates Redis integration is disabled in config.
	ErrDisabled = errors.New("redis: disabled in configuration")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("redis: connection failed")
)
