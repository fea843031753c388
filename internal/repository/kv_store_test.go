package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKV(t *testing.T) (*RedisKV, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisKV(rdb), mr
}

func TestRedisKVSetGetExpire(t *testing.T) {
	kv, mr := newTestKV(t)
	ctx := context.Background()

	require.NoError(t, kv.SetWithTTL(ctx, "k", []byte("v"), time.Minute))
	b, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(b))

	ttl, err := kv.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)

	mr.FastForward(time.Minute + time.Second)
	_, err = kv.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrKeyNotFound)
	_, err = kv.TTL(ctx, "k")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestRedisKVDeleteReportsFirstKey(t *testing.T) {
	kv, _ := newTestKV(t)
	ctx := context.Background()

	require.NoError(t, kv.SetWithTTL(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, kv.SetWithTTL(ctx, "b", []byte("2"), time.Minute))

	deleted, err := kv.Delete(ctx, "a", "b")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = kv.Delete(ctx, "a", "b")
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = kv.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestRedisKVIncr(t *testing.T) {
	kv, _ := newTestKV(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := kv.Incr(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	require.NoError(t, kv.Expire(ctx, "counter", time.Hour))
	ttl, err := kv.TTL(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, ttl)
}
