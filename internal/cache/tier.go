package cache

import (
	"context"
	"time"

	"github.com/tidwall/match"
)

// Tier is one level of the cache hierarchy. Values are opaque bytes;
// a zero ttl means no expiry.
type Tier interface {
	Name() string
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// InvalidatePattern removes every key matching a redis-style glob
	// (`*` and `?`) and returns how many were removed
	InvalidatePattern(ctx context.Context, pattern string) (int, error)
	Clear(ctx context.Context) error
	Close() error
}

// Match reports whether key matches a redis-style glob pattern
func Match(key, pattern string) bool {
	return match.Match(key, pattern)
}

func expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}
