package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const memoryShards = 64

type memoryShard struct {
	mu       sync.Mutex
	counters map[string]Counter
}

// MemoryStore is an in-process CounterStore.
// Keys are spread over lock shards; Take holds its shard lock for the whole read-decide-write.
type MemoryStore struct {
	shards [memoryShards]*memoryShard
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i] = &memoryShard{counters: make(map[string]Counter)}
	}
	return s
}

func (s *MemoryStore) shard(key string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%memoryShards]
}

// Get returns the counter for key
func (s *MemoryStore) Get(_ context.Context, key string) (Counter, bool, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	c, ok := sh.counters[key]
	return c, ok, nil
}

// Set replaces the counter for key
func (s *MemoryStore) Set(_ context.Context, key string, c Counter) error {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.counters[key] = c
	return nil
}

// Delete removes key
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.counters, key)
	return nil
}

// Take performs the fixed-window admission under the key's shard lock
func (s *MemoryStore) Take(_ context.Context, key string, limit int, window time.Duration, now time.Time) (Counter, bool, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	c, found := sh.counters[key]
	next, allowed := take(c, found, limit, window, now)
	sh.counters[key] = next
	return next, allowed, nil
}

// Sweep deletes counters whose window elapsed before now, one shard at a time
func (s *MemoryStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	for _, sh := range s.shards {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		sh.mu.Lock()
		for key, c := range sh.counters {
			if c.Expired(now) {
				delete(sh.counters, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

// Len returns the number of live entries
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.counters)
		sh.mu.Unlock()
	}
	return n
}
