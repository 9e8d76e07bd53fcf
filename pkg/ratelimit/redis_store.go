package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/invoicely/gatekeeper/pkg/observability"
)

// takeScript is the atomic fixed-window admission.
// KEYS[1] counter hash; ARGV: limit, window ms, now ms.
// Returns {allowed, count, resetAt ms}.
var takeScript = redis.NewScript(`
local count = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
local reset = tonumber(redis.call('HGET', KEYS[1], 'reset') or '0')
local limit = tonumber(ARGV[1])
local now = tonumber(ARGV[3])
if reset == 0 or now > reset then
  count = 0
  reset = now + tonumber(ARGV[2])
end
if count >= limit then
  return {0, count, reset}
end
count = count + 1
redis.call('HSET', KEYS[1], 'count', count, 'reset', reset)
redis.call('PEXPIREAT', KEYS[1], reset + 1)
return {1, count, reset}
`)

// RedisStore is a CounterStore shared across processes.
// Expired keys are removed by Redis itself, so Sweep has nothing to do.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	metrics *observability.Metrics
}

// NewRedisStore creates a Redis-backed store. metrics may be nil.
func NewRedisStore(client redis.UniversalClient, prefix string, metrics *observability.Metrics) *RedisStore {
	if prefix == "" {
		prefix = "gatekeeper"
	}
	return &RedisStore{client: client, prefix: prefix, metrics: metrics}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + ":" + key
}

func (s *RedisStore) observe(command string, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil && err != redis.Nil {
		status = "error"
	}
	s.metrics.RedisCommandsTotal.WithLabelValues(command, status).Inc()
}

// Get returns the counter for key
func (s *RedisStore) Get(ctx context.Context, key string) (Counter, bool, error) {
	vals, err := s.client.HGetAll(ctx, s.key(key)).Result()
	s.observe("hgetall", err)
	if err != nil {
		return Counter{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if len(vals) == 0 {
		return Counter{}, false, nil
	}

	// Lua may have written either integer or float notation
	count, err := strconv.ParseFloat(vals["count"], 64)
	if err != nil {
		return Counter{}, false, fmt.Errorf("redis get %s: bad count: %w", key, err)
	}
	resetMs, err := strconv.ParseFloat(vals["reset"], 64)
	if err != nil {
		return Counter{}, false, fmt.Errorf("redis get %s: bad reset: %w", key, err)
	}
	return Counter{Count: int(count), ResetAt: time.UnixMilli(int64(resetMs))}, true, nil
}

// Set replaces the counter for key and expires it with its window
func (s *RedisStore) Set(ctx context.Context, key string, c Counter) error {
	k := s.key(key)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, "count", c.Count, "reset", c.ResetAt.UnixMilli())
		pipe.PExpireAt(ctx, k, c.ResetAt.Add(time.Millisecond))
		return nil
	})
	s.observe("hset", err)
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes key
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	err := s.client.Del(ctx, s.key(key)).Err()
	s.observe("del", err)
	if err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	return nil
}

// Take runs the admission script; the whole read-decide-write executes inside Redis
func (s *RedisStore) Take(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Counter, bool, error) {
	res, err := takeScript.Run(ctx, s.client, []string{s.key(key)}, limit, window.Milliseconds(), now.UnixMilli()).Result()
	s.observe("evalsha", err)
	if err != nil {
		return Counter{}, false, fmt.Errorf("redis take %s: %w", key, err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 3 {
		return Counter{}, false, fmt.Errorf("redis take %s: unexpected reply %v", key, res)
	}
	allowed, _ := vals[0].(int64)
	count, _ := vals[1].(int64)
	reset, _ := vals[2].(int64)

	return Counter{Count: int(count), ResetAt: time.UnixMilli(reset)}, allowed == 1, nil
}

// Sweep is a no-op; keys carry their own expiry
func (s *RedisStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}
