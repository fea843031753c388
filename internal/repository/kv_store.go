package repository

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKV is the key-value store behind OTPs, reset tokens and throttling
// counters.  Every method maps to a single Redis command and is therefore
// atomic per key.
type RedisKV struct {
	rdb redis.UniversalClient
}

func NewRedisKV(rdb redis.UniversalClient) *RedisKV { return &RedisKV{rdb: rdb} }

// SetWithTTL stores value under key with the given expiry (SET EX).
func (s *RedisKV) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

// Get returns the value or ErrKeyNotFound.
func (s *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	return b, err
}

// Delete removes the keys and reports whether the first one existed.  Callers
// use the result to claim single-use secrets.
func (s *RedisKV) Delete(ctx context.Context, keys ...string) (bool, error) {
	if len(keys) == 0 {
		return false, nil
	}
	pipe := s.rdb.TxPipeline()
	first := pipe.Del(ctx, keys[0])
	if len(keys) > 1 {
		pipe.Del(ctx, keys[1:]...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return first.Val() > 0, nil
}

// Incr atomically increments the integer at key, creating it at 1.
func (s *RedisKV) Incr(ctx context.Context, key string) (int64, error) {
	return s.rdb.Incr(ctx, key).Result()
}

// Expire sets a TTL on an existing key.
func (s *RedisKV) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.rdb.Expire(ctx, key, ttl).Err()
}

// TTL returns the remaining lifetime of key, or ErrKeyNotFound.  Keys
// without expiry report a negative duration.
func (s *RedisKV) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if d == -2 {
		return 0, ErrKeyNotFound
	}
	return d, nil
}
