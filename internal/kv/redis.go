package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "genpipe:"

// fixedWindowScript increments the caller's counter and arms the window expiry on the first hit,
// both inside one server-side step.
var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// OpenRedis parses a redis:// URL and verifies the connection.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("kv: invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("kv: connect to redis: %w", err)
	}
	return rdb, nil
}

// Redis is a KV backed by plain Redis strings under a common prefix.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
}

var _ KV = (*Redis)(nil)

// NewRedis wraps an existing client. An empty prefix defaults to "genpipe:".
func NewRedis(rdb redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &Redis{rdb: rdb, prefix: prefix}
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.rdb.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("kv: redis get: %w", err)
	}
	return v, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := r.rdb.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("kv: redis set: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("kv: redis del: %w", err)
	}
	return nil
}

func (r *Redis) Reset(ctx context.Context) error {
	var keys []string
	iter := r.rdb.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("kv: redis scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("kv: redis del: %w", err)
	}
	return nil
}

// RedisCounter is a Counter shared by every process pointed at the same Redis.
type RedisCounter struct {
	rdb    redis.UniversalClient
	prefix string
}

var _ Counter = (*RedisCounter)(nil)

// NewRedisCounter wraps an existing client. An empty prefix defaults to "genpipe:".
func NewRedisCounter(rdb redis.UniversalClient, prefix string) *RedisCounter {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisCounter{rdb: rdb, prefix: prefix + "ratelimit:"}
}

func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	ms := window.Milliseconds()
	if ms <= 0 {
		return 0, fmt.Errorf("kv: window %s must be at least 1ms", window)
	}
	n, err := fixedWindowScript.Run(ctx, c.rdb, []string{c.prefix + key}, ms).Int64()
	if err != nil {
		return 0, fmt.Errorf("kv: redis incr: %w", err)
	}
	return n, nil
}
