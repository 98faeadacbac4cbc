package cache

import (
	"context"
	"errors"
	"time"
)

var ErrCacheMiss = errors.New("cache: key not found")

// Service is implemented by the Redis and in-process backends. Values are
// JSON encoded so Get decodes into any destination type.
type Service interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
	// DeleteByPattern removes keys matching a trailing-star pattern from BuildPattern.
	DeleteByPattern(ctx context.Context, pattern string) error
	Exists(ctx context.Context, keys ...string) (bool, error)
	// TryLock takes key only when absent. The lock expires after ttl even if
	// never released. Unlock only releases a lock this instance holds.
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// noExpiry bounds entries written without a ttl.
const noExpiry = 7 * 24 * time.Hour

func ttlOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return noExpiry
	}
	return d
}
