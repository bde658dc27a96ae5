// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package legacy serves the older task namespace. Each legacy task has one
// preferred provider and gets a single failover to the next healthy
// provider. Output is returned as-is without schema checks or caching.
package legacy

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"jobpilot/platform/taskengine/admission"
	"jobpilot/platform/taskengine/circuit"
	"jobpilot/platform/taskengine/llm"
	"jobpilot/platform/taskengine/tasks"
	"jobpilot/platform/taskengine/telemetry"
)

// DefaultAttemptTimeout bounds each provider call.
const DefaultAttemptTimeout = 20 * time.Second

// Router routes legacy tasks to providers.
type Router struct {
	chain     *llm.Chain
	breaker   circuit.Gate
	admission admission.Checker
	telemetry telemetry.Telemetry
	logger    *log.Logger
	timeout   time.Duration
	preferred map[string]string
	now       func() time.Time
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithLogger sets the router logger.
func WithLogger(l *log.Logger) RouterOption {
	return func(r *Router) {
		r.logger = l
	}
}

// WithAttemptTimeout sets the per-provider call timeout.
func WithAttemptTimeout(d time.Duration) RouterOption {
	return func(r *Router) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithPreferredProvider overrides the preferred provider of a legacy task.
func WithPreferredProvider(task, provider string) RouterOption {
	return func(r *Router) {
		r.preferred[task] = provider
	}
}

// WithClock sets the time source used for latency measurement.
func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) {
		r.now = now
	}
}

// NewRouter creates a legacy router. tel is expected to feed breaker.
func NewRouter(chain *llm.Chain, breaker circuit.Gate, checker admission.Checker, tel telemetry.Telemetry, opts ...RouterOption) *Router {
	r := &Router{
		chain:     chain,
		breaker:   breaker,
		admission: checker,
		telemetry: tel,
		logger:    log.New(os.Stdout, "[LEGACY_ROUTER] ", log.LstdFlags),
		timeout:   DefaultAttemptTimeout,
		preferred: make(map[string]string, len(legacyTasks)),
		now:       time.Now,
	}
	for name, def := range legacyTasks {
		r.preferred[name] = def.preferred
	}
	if r.telemetry == nil {
		r.telemetry = telemetry.Nop{}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route executes a legacy task.
func (r *Router) Route(ctx context.Context, name string, input any, c Context) LegacyResult {
	start := r.now()
	if c.TraceID == "" {
		c.TraceID = uuid.NewString()
	}
	if !c.Tier.Valid() {
		c.Tier = tasks.LowestTier
	}

	res := r.route(ctx, name, input, c)
	res.TraceID = c.TraceID
	res.LatencyMs = r.now().Sub(start).Milliseconds()

	r.telemetry.LogInvocation(ctx, tasks.RunRequest{
		Task:    name,
		Input:   input,
		UserID:  c.UserID,
		Tier:    c.Tier,
		TraceID: c.TraceID,
	}, res.RunResult())
	return res
}

func (r *Router) route(ctx context.Context, name string, input any, c Context) LegacyResult {
	def, ok := legacyTasks[name]
	if !ok || !IsLegacyTask(name) {
		return failure(c.TraceID, tasks.ReasonUnknownTask, fmt.Sprintf("unknown legacy task %q", name))
	}

	if r.admission != nil {
		if d := r.admission.CheckTierCap(ctx, c.UserID, c.Tier, name); !d.Allowed {
			code := d.Code
			if code == "" {
				code = tasks.ReasonDailyCap
			}
			return failure(c.TraceID, code, d.Message)
		}
	}

	rendered, err := llm.RenderInput(input)
	if err != nil {
		return failure(c.TraceID, tasks.ReasonInternalError, err.Error())
	}
	prompt := llm.Prompt{
		Task:         name,
		SystemPrompt: def.instruction,
		Input:        rendered,
		Quality:      tasks.QualityStandard,
		MaxTokens:    def.maxTokens,
		TraceID:      c.TraceID,
	}

	provider := r.selectProvider(name)
	if provider == nil {
		return failure(c.TraceID, tasks.ReasonFallbackExhausted, "no healthy provider available")
	}

	out := r.call(ctx, provider, prompt)
	if !out.Success {
		fallback := r.getFallbackProvider(provider.Name())
		if fallback == nil {
			return failure(c.TraceID, tasks.ReasonFallbackExhausted,
				fmt.Sprintf("primary provider failed and no fallback: %s", out.Error))
		}
		r.logger.Printf("Failing over from %s to %s (task=%s trace_id=%s)", provider.Name(), fallback.Name(), name, c.TraceID)
		out = r.call(ctx, fallback, prompt)
		if !out.Success {
			return failure(c.TraceID, tasks.ReasonFallbackExhausted,
				fmt.Sprintf("all providers failed: %s", out.Error))
		}
		provider = fallback
	}

	return LegacyResult{
		Success:  true,
		Data:     decodeData(out.Content),
		Provider: provider.Name(),
		Model:    out.Model,
	}
}

func (r *Router) call(ctx context.Context, provider llm.Adapter, prompt llm.Prompt) llm.Result {
	attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := r.now()
	defer func() {
		if p := recover(); p != nil {
			r.record(ctx, provider.Name(), prompt, llm.Failed(tasks.ReasonProviderError, fmt.Errorf("panic: %v", p)), start)
			panic(p)
		}
	}()

	out := provider.Call(attemptCtx, prompt, nil)
	if !out.Success && out.Code == "" {
		out.Code = tasks.ReasonProviderError
	}
	if out.Success && out.Content == "" {
		out = llm.Failed(tasks.ReasonProviderError, fmt.Errorf("empty completion from %s", provider.Name()))
	}

	r.record(ctx, provider.Name(), prompt, out, start)
	return out
}

func (r *Router) record(ctx context.Context, name string, prompt llm.Prompt, out llm.Result, start time.Time) {
	r.telemetry.RecordProviderResult(name, out.Success)
	r.telemetry.RecordAttempt(ctx, telemetry.Attempt{
		TraceID:   prompt.TraceID,
		Task:      prompt.Task,
		Provider:  name,
		Model:     out.Model,
		Success:   out.Success,
		Code:      out.Code,
		LatencyMs: r.now().Sub(start).Milliseconds(),
		Usage:     out.Usage,
	})
}

// selectProvider returns the task's preferred provider when it is healthy,
// otherwise the first healthy provider in chain order.
func (r *Router) selectProvider(task string) llm.Adapter {
	if name, ok := r.preferred[task]; ok {
		if p, ok := r.chain.Get(name); ok && !r.isOpen(name) {
			return p
		}
	}
	return r.getFallbackProvider("")
}

func (r *Router) getFallbackProvider(failed string) llm.Adapter {
	for _, p := range r.chain.Order(tasks.QualityStandard) {
		if p.Name() == failed || r.isOpen(p.Name()) {
			continue
		}
		return p
	}
	return nil
}

func (r *Router) isOpen(provider string) bool {
	return r.breaker != nil && r.breaker.IsOpen(provider)
}

// decodeData returns parsed JSON when the completion is JSON and the raw
// text otherwise.
func decodeData(content string) any {
	if v, err := llm.ParseStructured(content); err == nil {
		return v
	}
	return content
}
