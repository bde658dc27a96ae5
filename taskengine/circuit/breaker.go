// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package circuit tracks provider failures and stops routing to a provider
// that keeps failing until a cooldown has passed.
//
// State machine per provider:
//
//	closed    --N consecutive failures-->  open
//	open      --cooldown elapsed-------->  half_open (one trial call)
//	half_open --success----------------->  closed
//	half_open --failure----------------->  open
//
// State is process-local. Separate engine instances each discover an outage
// on their own.
package circuit

import (
	"log"
	"os"
	"sync"
	"time"
)

// State is the circuit state of a provider.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Defaults used when Config fields are zero.
const (
	DefaultFailureThreshold = 3
	DefaultCooldown         = 30 * time.Second
)

// Gate is the breaker seam consumed by the orchestrator and the legacy
// router.
type Gate interface {
	IsOpen(provider string) bool
	RecordResult(provider string, success bool)
}

// Config contains circuit breaker configuration. The values are deployment
// constants shared by every task.
type Config struct {
	FailureThreshold int
	Cooldown         time.Duration
	Logger           *log.Logger
	Now              func() time.Time
}

// Snapshot is a read-only view of one provider's circuit.
type Snapshot struct {
	Provider            string     `json:"provider"`
	State               State      `json:"state"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	OpenedAt            *time.Time `json:"opened_at,omitempty"`
}

type providerCircuit struct {
	state               State
	consecutiveFailures int
	openedAt            time.Time
	trialInFlight       bool
}

// Breaker implements Gate. A single mutex serialises every read-then-write
// so concurrent requests cannot flap a circuit.
type Breaker struct {
	threshold int
	cooldown  time.Duration
	logger    *log.Logger
	now       func() time.Time

	mu       sync.Mutex
	circuits map[string]*providerCircuit
}

// NewBreaker creates a breaker with all circuits closed.
func NewBreaker(cfg Config) *Breaker {
	b := &Breaker{
		threshold: cfg.FailureThreshold,
		cooldown:  cfg.Cooldown,
		logger:    cfg.Logger,
		now:       cfg.Now,
		circuits:  make(map[string]*providerCircuit),
	}
	if b.threshold <= 0 {
		b.threshold = DefaultFailureThreshold
	}
	if b.cooldown <= 0 {
		b.cooldown = DefaultCooldown
	}
	if b.logger == nil {
		b.logger = log.New(os.Stdout, "[CIRCUIT_BREAKER] ", log.LstdFlags)
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

func (b *Breaker) circuitLocked(provider string) *providerCircuit {
	c, ok := b.circuits[provider]
	if !ok {
		c = &providerCircuit{state: StateClosed}
		b.circuits[provider] = c
	}
	return c
}

// IsOpen reports whether calls to provider must be skipped. Once the cooldown
// of an open circuit has elapsed, the first caller is let through as the
// half-open trial; everyone else keeps seeing the circuit as open until that
// trial reports back.
func (b *Breaker) IsOpen(provider string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitLocked(provider)
	switch c.state {
	case StateClosed:
		return false
	case StateOpen:
		if b.now().Sub(c.openedAt) < b.cooldown {
			return true
		}
		c.state = StateHalfOpen
		c.trialInFlight = true
		b.logger.Printf("Circuit for %s half-open after %s cooldown, allowing trial call", provider, b.cooldown)
		return false
	case StateHalfOpen:
		if c.trialInFlight {
			return true
		}
		c.trialInFlight = true
		return false
	}
	return false
}

// RecordResult feeds the outcome of a provider call into its circuit.
func (b *Breaker) RecordResult(provider string, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitLocked(provider)
	if success {
		if c.state == StateOpen {
			// A straggler that started before the circuit opened. Only the
			// half-open trial may close it.
			return
		}
		if c.state == StateHalfOpen {
			b.logger.Printf("Circuit for %s closed after successful trial", provider)
		}
		c.state = StateClosed
		c.consecutiveFailures = 0
		c.trialInFlight = false
		c.openedAt = time.Time{}
		return
	}

	c.consecutiveFailures++
	switch c.state {
	case StateHalfOpen:
		c.state = StateOpen
		c.openedAt = b.now()
		c.trialInFlight = false
		b.logger.Printf("Circuit for %s reopened: trial call failed", provider)
	case StateClosed:
		if c.consecutiveFailures >= b.threshold {
			c.state = StateOpen
			c.openedAt = b.now()
			b.logger.Printf("Circuit for %s opened after %d consecutive failures", provider, c.consecutiveFailures)
		}
	case StateOpen:
		// A straggler finishing after the circuit opened; keep the window.
	}
}

// Snapshot returns the current state of provider's circuit without causing
// any transition.
func (b *Breaker) Snapshot(provider string) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[provider]
	if !ok {
		return Snapshot{Provider: provider, State: StateClosed}
	}
	snap := Snapshot{
		Provider:            provider,
		State:               c.state,
		ConsecutiveFailures: c.consecutiveFailures,
	}
	if !c.openedAt.IsZero() {
		opened := c.openedAt
		snap.OpenedAt = &opened
	}
	return snap
}

// Snapshots returns the state of every provider seen so far.
func (b *Breaker) Snapshots() []Snapshot {
	b.mu.Lock()
	names := make([]string, 0, len(b.circuits))
	for name := range b.circuits {
		names = append(names, name)
	}
	b.mu.Unlock()

	out := make([]Snapshot, 0, len(names))
	for _, name := range names {
		out = append(out, b.Snapshot(name))
	}
	return out
}

// Reset closes every circuit.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.circuits = make(map[string]*providerCircuit)
}
