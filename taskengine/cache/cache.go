// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package cache stores successful task results under a content-addressed key
// for the lifetime configured on the task. Expired entries are removed on
// lookup; there is no background sweep.
package cache

import (
	"context"
	"sync"
	"time"

	"jobpilot/platform/taskengine/tasks"
)

// Entry is the cached snapshot of a successful result, without trace and
// timing fields.
type Entry struct {
	Output   any    `json:"output"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// FromResult snapshots a result for caching.
func FromResult(res tasks.RunResult) Entry {
	return Entry{Output: res.Output, Provider: res.Provider, Model: res.Model}
}

// Result rebuilds a cache-hit result for the given trace.
func (e Entry) Result(traceID string) tasks.RunResult {
	return tasks.RunResult{
		OK:       true,
		Output:   e.Output,
		Provider: e.Provider,
		Model:    e.Model,
		CacheHit: true,
		TraceID:  traceID,
	}
}

// Store is the cache seam used by the engine.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool)
	Put(ctx context.Context, key string, entry Entry, ttl time.Duration)
	Clear(ctx context.Context)
}

// Stats tracks cache performance.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Entries   int   `json:"entries"`
}

type memoryEntry struct {
	entry     Entry
	expiresAt time.Time
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	stats   Stats
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory cache.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get returns a live entry. An expired entry is deleted and reported as a
// miss.
func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		s.stats.Misses++
		return Entry{}, false
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		s.stats.Evictions++
		s.stats.Misses++
		return Entry{}, false
	}
	s.stats.Hits++
	return e.entry, true
}

// Put stores entry for ttl. Non-positive TTLs are ignored.
func (s *MemoryStore) Put(_ context.Context, key string, entry Entry, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{entry: entry, expiresAt: s.now().Add(ttl)}
}

// Clear drops every entry.
func (s *MemoryStore) Clear(_ context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]memoryEntry)
}

// Stats returns a copy of the current counters.
func (s *MemoryStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Entries = len(s.entries)
	return st
}
