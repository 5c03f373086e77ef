package enginecache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKV adapts a go-redis client to the KV interface, reproducing
// redis.rs's get/set_ex/delete/delete_pattern behavior: any Redis-side
// error is logged by the caller (via the returned error) rather than
// silently swallowed, since Go's error-return idiom makes that the
// natural place for it — the original logs-and-returns-None instead
// because Rust's call sites there don't propagate errors either way.
type RedisKV struct {
	client *redis.Client
}

func NewRedisKV(client *redis.Client) *RedisKV {
	return &RedisKV{client: client}
}

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (r *RedisKV) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisKV) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// DeletePattern scans for keys matching pattern via KEYS and deletes them
// one at a time. KEYS blocks the Redis event loop and is O(keyspace); the
// original implementation accepts exactly this tradeoff for branch-scoped
// cache invalidation on push, on the basis that the keyspace under one
// branch pattern stays small in practice. A SCAN-based incremental variant
// would be a reasonable hardening, not attempted here.
func (r *RedisKV) DeletePattern(ctx context.Context, pattern string) error {
	keys, err := r.client.Keys(ctx, pattern).Result()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}
