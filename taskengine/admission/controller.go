// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package admission enforces per-user, per-tier daily invocation ceilings.
//
// Counters are keyed by user, tier and calendar day in a fixed reference
// timezone, so they roll over implicitly at midnight. With the in-memory
// store the ceiling is per process: a horizontally scaled deployment only
// enforces it approximately unless the Redis store is configured.
package admission

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"jobpilot/platform/taskengine/tasks"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed   bool   `json:"allowed"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
	Remaining int    `json:"remaining"` // -1 when unlimited
}

// Checker is the admission seam used by the engine and the legacy router.
type Checker interface {
	CheckTierCap(ctx context.Context, userID string, tier tasks.Tier, task string) Decision
}

// Store performs an atomic check-then-increment against a daily counter.
// It returns the post-increment count and whether the request was admitted.
// A denied request must leave the counter unchanged.
type Store interface {
	Acquire(ctx context.Context, key string, limit int, expiresAt time.Time) (count int, admitted bool, err error)
}

// DefaultCaps are the daily ceilings per tier; 0 means unlimited.
var DefaultCaps = map[tasks.Tier]int{
	tasks.TierFree:    20,
	tasks.TierPro:     200,
	tasks.TierPremium: 1000,
	tasks.TierCoach:   0,
}

// DefaultTimezone is the reference zone for day boundaries.
const DefaultTimezone = "America/New_York"

const anonymousUser = "anonymous"

// Config configures a Controller.
type Config struct {
	Caps     map[tasks.Tier]int
	Location *time.Location
	Store    Store
	Logger   *log.Logger
	Now      func() time.Time
}

// Controller implements Checker on top of a Store.
type Controller struct {
	caps   map[tasks.Tier]int
	loc    *time.Location
	store  Store
	logger *log.Logger
	now    func() time.Time
}

// NewController creates a controller. Missing fields fall back to defaults
// and an in-memory store.
func NewController(cfg Config) *Controller {
	c := &Controller{
		caps:   make(map[tasks.Tier]int, len(DefaultCaps)),
		loc:    cfg.Location,
		store:  cfg.Store,
		logger: cfg.Logger,
		now:    cfg.Now,
	}
	for tier, cap := range DefaultCaps {
		c.caps[tier] = cap
	}
	for tier, cap := range cfg.Caps {
		c.caps[tier] = cap
	}
	if c.loc == nil {
		loc, err := time.LoadLocation(DefaultTimezone)
		if err != nil {
			loc = time.UTC
		}
		c.loc = loc
	}
	if c.store == nil {
		c.store = NewMemoryStore()
	}
	if c.logger == nil {
		c.logger = log.New(os.Stdout, "[ADMISSION] ", log.LstdFlags)
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Cap returns the daily ceiling for tier. Unknown tiers get the lowest
// tier's ceiling.
func (c *Controller) Cap(tier tasks.Tier) int {
	if cap, ok := c.caps[tier]; ok {
		return cap
	}
	return c.caps[tasks.LowestTier]
}

// CheckTierCap admits or denies a request and, when admitted, consumes one
// unit of the caller's daily quota in the same atomic step.
func (c *Controller) CheckTierCap(ctx context.Context, userID string, tier tasks.Tier, task string) Decision {
	if !tier.Valid() {
		tier = tasks.LowestTier
	}
	limit := c.Cap(tier)
	if limit <= 0 {
		return Decision{Allowed: true, Remaining: -1}
	}

	if userID == "" {
		userID = anonymousUser
	}

	now := c.now().In(c.loc)
	day := now.Format("2006-01-02")
	key := QuotaKey(userID, tier, day)
	midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, c.loc)

	count, admitted, err := c.store.Acquire(ctx, key, limit, midnight)
	if err != nil {
		// Fail open on store errors.
		c.logger.Printf("Warning: quota check failed for %s (task %s): %v (failing open)", userID, task, err)
		return Decision{Allowed: true, Remaining: -1}
	}
	if !admitted {
		return Decision{
			Allowed:   false,
			Code:      tasks.ReasonDailyCap,
			Message:   fmt.Sprintf("daily limit of %d requests reached for %s tier", limit, tier),
			Remaining: 0,
		}
	}
	return Decision{Allowed: true, Remaining: limit - count}
}

// QuotaKey builds the counter key for a user, tier and day.
func QuotaKey(userID string, tier tasks.Tier, day string) string {
	return fmt.Sprintf("quota:%s:%s:%s", userID, tier, day)
}
