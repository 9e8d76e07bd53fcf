package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "test", nil), mr
}

func TestRedisStore_Take(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	for i := 1; i <= 3; i++ {
		c, allowed, err := store.Take(ctx, "auth:ip:1", 3, time.Minute, now)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, i, c.Count)
		assert.True(t, c.ResetAt.Equal(now.Add(time.Minute)))
	}

	c, allowed, err := store.Take(ctx, "auth:ip:1", 3, time.Minute, now.Add(30*time.Second))
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 3, c.Count)

	assert.True(t, mr.Exists("test:auth:ip:1"))
	assert.Positive(t, mr.TTL("test:auth:ip:1"))

	c, allowed, err = store.Take(ctx, "auth:ip:1", 3, time.Minute, now.Add(time.Minute+time.Millisecond))
	require.NoError(t, err)
	assert.True(t, allowed, "expired window resets lazily")
	assert.Equal(t, 1, c.Count)
}

func TestRedisStore_GetSetDelete(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()

	_, found, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	reset := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	require.NoError(t, store.Set(ctx, "k", Counter{Count: 7, ResetAt: reset}))

	c, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 7, c.Count)
	assert.True(t, c.ResetAt.Equal(reset))

	require.NoError(t, store.Delete(ctx, "k"))
	_, found, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	n, err := store.Sweep(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisStore_ConcurrentTakeIsAtomic(t *testing.T) {
	store, _ := setupRedisStore(t)
	now := time.Now()

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, err := store.Take(context.Background(), "k", 10, time.Minute, now); err == nil && ok {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), admitted.Load())
}

func TestRedisStore_BacksLimiterAndCooldown(t *testing.T) {
	store, _ := setupRedisStore(t)
	clock := clockwork.NewFakeClockAt(time.Now())

	registry, err := NewRegistry(DefaultProfiles())
	require.NoError(t, err)
	limiter := NewLimiter(store, registry, WithClock(clock))

	for i := 4; i >= 0; i-- {
		res, err := limiter.Check(context.Background(), ProfileAuth, IPScope("203.0.113.1"))
		require.NoError(t, err)
		require.True(t, res.Allowed)
		assert.Equal(t, i, res.Remaining)
	}
	res, err := limiter.Check(context.Background(), ProfileAuth, IPScope("203.0.113.1"))
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	guard, err := NewCooldownGuard(store, DefaultCooldowns(), WithClock(clock))
	require.NoError(t, err)
	first, err := guard.Check(context.Background(), "inv-1", CooldownInvoiceSend)
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	second, err := guard.Check(context.Background(), "inv-1", CooldownInvoiceSend)
	require.NoError(t, err)
	assert.False(t, second.Allowed)
}

func TestRedisStore_ErrorsWhenUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisStore(client, "", nil)

	_, _, err := store.Take(context.Background(), "k", 1, time.Minute, time.Now())
	assert.Error(t, err)
}
