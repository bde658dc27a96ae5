// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// MemoryStore keeps counters in process memory. Acquire holds a single mutex
// for the whole check-then-increment, so concurrent callers cannot
// over-admit.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*counter
	now      func() time.Time
}

type counter struct {
	count     int
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]*counter),
		now:      time.Now,
	}
}

// Acquire implements Store.
func (s *MemoryStore) Acquire(_ context.Context, key string, limit int, expiresAt time.Time) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c, ok := s.counters[key]
	if !ok || !now.Before(c.expiresAt) {
		// New day: drop yesterday's keys before starting a fresh counter.
		s.pruneLocked(now)
		c = &counter{expiresAt: expiresAt}
		s.counters[key] = c
	}

	if c.count >= limit {
		return c.count, false, nil
	}
	c.count++
	return c.count, true, nil
}

// Count returns the current value of a counter (0 when absent or expired).
func (s *MemoryStore) Count(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[key]
	if !ok || !s.now().Before(c.expiresAt) {
		return 0
	}
	return c.count
}

func (s *MemoryStore) pruneLocked(now time.Time) {
	for k, c := range s.counters {
		if !now.Before(c.expiresAt) {
			delete(s.counters, k)
		}
	}
}

// RedisStore shares counters across processes through Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Acquire implements Store. INCR and EXPIREAT run in one MULTI block; a
// request that pushes the counter past the limit is rolled back with DECR so
// denials never consume quota.
func (s *RedisStore) Acquire(ctx context.Context, key string, limit int, expiresAt time.Time) (int, bool, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireAt(ctx, key, expiresAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, false, fmt.Errorf("failed to increment quota counter: %w", err)
	}

	count := int(incr.Val())
	if count > limit {
		// A failed rollback leaves the counter inflated until the key
		// expires; the request is still denied.
		_ = s.client.Decr(ctx, key).Err()
		return limit, false, nil
	}
	return count, true, nil
}

// Flush removes a counter (admin operation).
func (s *RedisStore) Flush(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to flush quota counter: %w", err)
	}
	return nil
}
