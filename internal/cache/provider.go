package cache

import (
	"context"
	"errors"
	"time"
)

// Provider defines the cache operations used by remediation and the cycle lease.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	// Flush removes every key starting with prefix and reports how many were removed.
	Flush(ctx context.Context, prefix string) (int, error)
	Close() error
}

// ErrCacheMiss signals that a cache key was not found.
var ErrCacheMiss = errors.New("cache miss")
