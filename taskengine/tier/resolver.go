// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package tier resolves a user's subscription tier. Every resolver falls
// back to the lowest tier when the lookup fails.
package tier

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"jobpilot/platform/taskengine/tasks"
)

// Resolver maps a user id onto a tier.
type Resolver interface {
	ResolveTier(ctx context.Context, userID string) tasks.Tier
}

// Static resolves tiers from a fixed map.
type Static map[string]tasks.Tier

// ResolveTier implements Resolver.
func (s Static) ResolveTier(_ context.Context, userID string) tasks.Tier {
	if t, ok := s[userID]; ok && t.Valid() {
		return t
	}
	return tasks.LowestTier
}

const selectTierSQL = `SELECT tier FROM user_profiles WHERE user_id = $1`

// PostgresResolver reads tiers from the user_profiles table and keeps a
// short-lived in-process cache.
type PostgresResolver struct {
	db       *sql.DB
	cacheTTL time.Duration
	timeout  time.Duration
	logger   *log.Logger
	now      func() time.Time

	mu    sync.RWMutex
	cache map[string]cachedTier
}

type cachedTier struct {
	tier      tasks.Tier
	expiresAt time.Time
}

// NewPostgresResolver creates a resolver. A zero cacheTTL disables caching.
func NewPostgresResolver(db *sql.DB, cacheTTL time.Duration) *PostgresResolver {
	return &PostgresResolver{
		db:       db,
		cacheTTL: cacheTTL,
		timeout:  2 * time.Second,
		logger:   log.New(os.Stdout, "[TIER] ", log.LstdFlags),
		now:      time.Now,
		cache:    make(map[string]cachedTier),
	}
}

// ResolveTier implements Resolver.
func (r *PostgresResolver) ResolveTier(ctx context.Context, userID string) tasks.Tier {
	if userID == "" {
		return tasks.LowestTier
	}
	if t, ok := r.cached(userID); ok {
		return t
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var raw string
	err := r.db.QueryRowContext(ctx, selectTierSQL, userID).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return tasks.LowestTier
	case err != nil:
		r.logger.Printf("Failed to resolve tier for %s: %v (using %s)", userID, err, tasks.LowestTier)
		return tasks.LowestTier
	}

	t := tasks.ParseTier(raw)
	r.store(userID, t)
	return t
}

func (r *PostgresResolver) cached(userID string) (tasks.Tier, bool) {
	if r.cacheTTL <= 0 {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cache[userID]
	if !ok || !r.now().Before(c.expiresAt) {
		return "", false
	}
	return c.tier, true
}

func (r *PostgresResolver) store(userID string, t tasks.Tier) {
	if r.cacheTTL <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[userID] = cachedTier{tier: t, expiresAt: r.now().Add(r.cacheTTL)}
}
