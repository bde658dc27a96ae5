// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package cache

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "taskcache:"

// RedisStore shares cached results between engine instances. Redis errors
// degrade to misses; the cache is never allowed to fail a task.
type RedisStore struct {
	client *redis.Client
	logger *log.Logger
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client *redis.Client, logger *log.Logger) *RedisStore {
	if logger == nil {
		logger = log.New(os.Stdout, "[TASK_CACHE] ", log.LstdFlags)
	}
	return &RedisStore{client: client, logger: logger}
}

// Get implements Store. Expiry is enforced by Redis itself.
func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Printf("Warning: cache read failed for %s: %v", key, err)
		}
		return Entry{}, false
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		s.logger.Printf("Warning: dropping undecodable cache entry %s: %v", key, err)
		_ = s.client.Del(ctx, redisKeyPrefix+key).Err()
		return Entry{}, false
	}
	return entry, true
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, key string, entry Entry, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		s.logger.Printf("Warning: cache entry for %s not serializable: %v", key, err)
		return
	}
	if err := s.client.Set(ctx, redisKeyPrefix+key, raw, ttl).Err(); err != nil {
		s.logger.Printf("Warning: cache write failed for %s: %v", key, err)
	}
}

// Clear removes every cache key owned by the engine.
func (s *RedisStore) Clear(ctx context.Context) {
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		s.logger.Printf("Warning: cache scan failed: %v", err)
	}
	if len(keys) == 0 {
		return
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		s.logger.Printf("Warning: cache clear failed: %v", err)
	}
}
