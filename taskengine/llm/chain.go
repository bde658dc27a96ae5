// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package llm

import "jobpilot/platform/taskengine/tasks"

// Chain is the fixed provider priority list, cheapest first.
type Chain struct {
	adapters []Adapter
}

// NewChain builds a chain in the given priority order.
func NewChain(adapters ...Adapter) *Chain {
	out := make([]Adapter, 0, len(adapters))
	for _, a := range adapters {
		if a != nil {
			out = append(out, a)
		}
	}
	return &Chain{adapters: out}
}

// Len returns the number of providers.
func (c *Chain) Len() int { return len(c.adapters) }

// Names returns the provider identifiers in priority order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.adapters))
	for i, a := range c.adapters {
		names[i] = a.Name()
	}
	return names
}

// Get returns the adapter registered under name.
func (c *Chain) Get(name string) (Adapter, bool) {
	for _, a := range c.adapters {
		if a.Name() == name {
			return a, true
		}
	}
	return nil, false
}

// Order returns the attempt order for a quality level. Low and standard
// start at the cheapest provider; high starts at the most capable one and
// falls back towards cheaper ones.
func (c *Chain) Order(q tasks.Quality) []Adapter {
	out := make([]Adapter, len(c.adapters))
	if q == tasks.QualityHigh {
		for i, a := range c.adapters {
			out[len(c.adapters)-1-i] = a
		}
		return out
	}
	copy(out, c.adapters)
	return out
}
