package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultRedisPrefix namespaces every key this tier writes
const DefaultRedisPrefix = "estore:"

// RedisTier is a shared L2 tier backed by Redis
type RedisTier struct {
	client *redis.Client
	prefix string
	logger *logrus.Logger
}

// NewRedisTier connects to addr and verifies connectivity
func NewRedisTier(ctx context.Context, addr, password string, db int, logger *logrus.Logger) (*RedisTier, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address missing")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Fail fast on startup
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	logger.WithField("addr", addr).Debug("redis cache tier connected")
	return &RedisTier{client: client, prefix: DefaultRedisPrefix, logger: logger}, nil
}

func (r *RedisTier) Name() string { return "redis" }

func (r *RedisTier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}
	return val, true, nil
}

func (r *RedisTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisTier) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// InvalidatePattern uses SCAN with a server-side MATCH so large keyspaces
// are never loaded with KEYS. Brackets are escaped so the server reads
// the pattern the way Match does; keys are then checked with Match.
func (r *RedisTier) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	const batch = 500

	removed := 0
	var keys []string
	flush := func() error {
		if len(keys) == 0 {
			return nil
		}
		n, err := r.client.Del(ctx, keys...).Result()
		if err != nil {
			return fmt.Errorf("redis delete failed: %w", err)
		}
		removed += int(n)
		keys = keys[:0]
		return nil
	}

	iter := r.client.Scan(ctx, 0, r.prefix+redisGlob(pattern), batch).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if !Match(strings.TrimPrefix(key, r.prefix), pattern) {
			continue
		}
		keys = append(keys, key)
		if len(keys) >= batch {
			if err := flush(); err != nil {
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis scan failed: %w", err)
	}
	if err := flush(); err != nil {
		return removed, err
	}

	r.logger.WithFields(logrus.Fields{"pattern": pattern, "removed": removed}).Debug("redis keys invalidated")
	return removed, nil
}

// redisGlob escapes the character classes Redis MATCH supports and Match
// does not
func redisGlob(pattern string) string {
	return strings.NewReplacer("[", `\[`, "]", `\]`).Replace(pattern)
}

func (r *RedisTier) Clear(ctx context.Context) error {
	_, err := r.InvalidatePattern(ctx, "*")
	return err
}

func (r *RedisTier) Close() error {
	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	return nil
}
