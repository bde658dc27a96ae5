// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package llm

import (
	"context"
	"sync"
)

// MockAdapter is a scriptable Adapter for tests and local development.
type MockAdapter struct {
	name  string
	model string

	mu      sync.Mutex
	results []Result
	calls   []Prompt
	respond func(ctx context.Context, p Prompt) Result
}

// NewMockAdapter creates a mock that succeeds with "{}" until scripted.
func NewMockAdapter(name, model string) *MockAdapter {
	return &MockAdapter{name: name, model: model}
}

// Name implements Adapter.
func (m *MockAdapter) Name() string { return m.name }

// Model implements Adapter.
func (m *MockAdapter) Model() string { return m.model }

// Enqueue scripts the next results, consumed in order. The last one repeats.
func (m *MockAdapter) Enqueue(results ...Result) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, results...)
	return m
}

// RespondWith installs a function that computes every result.
func (m *MockAdapter) RespondWith(fn func(ctx context.Context, p Prompt) Result) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.respond = fn
	return m
}

// Call implements Adapter.
func (m *MockAdapter) Call(ctx context.Context, p Prompt, _ map[string]any) Result {
	m.mu.Lock()
	m.calls = append(m.calls, p)
	fn := m.respond
	var res Result
	switch {
	case fn != nil:
	case len(m.results) == 0:
		res = Result{Success: true, Content: "{}", Model: m.model}
	case len(m.results) == 1:
		res = m.results[0]
	default:
		res = m.results[0]
		m.results = m.results[1:]
	}
	m.mu.Unlock()

	if fn != nil {
		res = fn(ctx, p)
	}
	if res.Success && res.Model == "" {
		res.Model = m.model
	}
	return res
}

// CallCount returns how many times Call was invoked.
func (m *MockAdapter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Calls returns a copy of every prompt received.
func (m *MockAdapter) Calls() []Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Prompt, len(m.calls))
	copy(out, m.calls)
	return out
}
