// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package taskengine runs AI-backed tasks for the job-search assistant.
//
// RunTask is the single entry point. Every request is classified into the
// primary or legacy namespace first; primary tasks then pass admission,
// the response cache and a sequential provider fallback chain guarded by
// per-provider circuit breakers. Operational failures are returned as
// results with OK=false, never as Go errors or panics.
package taskengine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"jobpilot/platform/taskengine/admission"
	"jobpilot/platform/taskengine/cache"
	"jobpilot/platform/taskengine/circuit"
	"jobpilot/platform/taskengine/legacy"
	"jobpilot/platform/taskengine/llm"
	"jobpilot/platform/taskengine/tasks"
	"jobpilot/platform/taskengine/telemetry"
)

// DefaultAttemptTimeout bounds each provider call.
const DefaultAttemptTimeout = 20 * time.Second

// Route is the namespace a task name belongs to.
type Route int

const (
	RouteUnknown Route = iota
	RoutePrimary
	RouteLegacy
)

func (r Route) String() string {
	switch r {
	case RoutePrimary:
		return "primary"
	case RouteLegacy:
		return "legacy"
	}
	return "unknown"
}

// Classify maps a task name onto exactly one route.
func Classify(task string) Route {
	switch {
	case tasks.TaskID(task).Valid():
		return RoutePrimary
	case legacy.IsLegacyTask(task):
		return RouteLegacy
	}
	return RouteUnknown
}

// Options wires an Engine. Registry and Chain are required; the rest fall
// back to in-memory defaults.
type Options struct {
	Registry  *tasks.Registry
	Chain     *llm.Chain
	Admission admission.Checker
	Cache     cache.Store
	Breaker   circuit.Gate
	// Telemetry is the only writer of breaker state. When nil a Recorder
	// feeding Breaker is created.
	Telemetry telemetry.Telemetry
	Legacy    *legacy.Router

	AttemptTimeout time.Duration
	// SkipQuotaOnCacheHit serves cache hits before admission so they do
	// not consume quota. By default admission runs first and every
	// invocation, cached or not, counts against the daily cap.
	SkipQuotaOnCacheHit bool

	Logger     *log.Logger
	Now        func() time.Time
	NewTraceID func() string
}

// Engine executes tasks. It is safe for concurrent use.
type Engine struct {
	registry  *tasks.Registry
	chain     *llm.Chain
	admission admission.Checker
	cache     cache.Store
	breaker   circuit.Gate
	telemetry telemetry.Telemetry
	legacy    *legacy.Router

	timeout        time.Duration
	skipQuotaOnHit bool
	logger         *log.Logger
	now            func() time.Time
	newTraceID     func() string
}

// New creates an engine.
func New(opts Options) (*Engine, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("task registry is required")
	}
	if opts.Chain == nil || opts.Chain.Len() == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}

	e := &Engine{
		registry:       opts.Registry,
		chain:          opts.Chain,
		admission:      opts.Admission,
		cache:          opts.Cache,
		breaker:        opts.Breaker,
		telemetry:      opts.Telemetry,
		legacy:         opts.Legacy,
		timeout:        opts.AttemptTimeout,
		skipQuotaOnHit: opts.SkipQuotaOnCacheHit,
		logger:         opts.Logger,
		now:            opts.Now,
		newTraceID:     opts.NewTraceID,
	}
	if e.logger == nil {
		e.logger = log.New(os.Stdout, "[TASK_ENGINE] ", log.LstdFlags)
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newTraceID == nil {
		e.newTraceID = uuid.NewString
	}
	if e.timeout <= 0 {
		e.timeout = DefaultAttemptTimeout
	}
	if e.admission == nil {
		e.admission = admission.NewController(admission.Config{})
	}
	if e.cache == nil {
		e.cache = cache.NewMemoryStore()
	}
	if e.breaker == nil {
		e.breaker = circuit.NewBreaker(circuit.Config{})
	}
	if e.telemetry == nil {
		e.telemetry = telemetry.NewRecorder(telemetry.Config{Breaker: e.breaker})
	}
	if e.legacy == nil {
		e.legacy = legacy.NewRouter(e.chain, e.breaker, e.admission, e.telemetry,
			legacy.WithAttemptTimeout(e.timeout),
			legacy.WithClock(e.now))
	}
	return e, nil
}

// RunTask executes one task invocation.
func (e *Engine) RunTask(ctx context.Context, req tasks.RunRequest) tasks.RunResult {
	if req.TraceID == "" {
		req.TraceID = e.newTraceID()
	}
	if !req.Tier.Valid() {
		req.Tier = tasks.LowestTier
	}

	if Classify(req.Task) == RouteLegacy {
		return e.RouteLegacyTask(ctx, req.Task, req.Input, legacy.Context{
			UserID:  req.UserID,
			Tier:    req.Tier,
			TraceID: req.TraceID,
		}).RunResult()
	}

	start := e.now()
	res := e.runPrimary(ctx, req)
	res.TraceID = req.TraceID
	res.LatencyMs = e.now().Sub(start).Milliseconds()

	e.telemetry.LogInvocation(ctx, req, res)
	return res
}

// RouteLegacyTask executes a task from the legacy namespace. Names outside
// it fail with unknown_task.
func (e *Engine) RouteLegacyTask(ctx context.Context, name string, input any, lc legacy.Context) (res legacy.LegacyResult) {
	if lc.TraceID == "" {
		lc.TraceID = e.newTraceID()
	}
	defer func() {
		if p := recover(); p != nil {
			e.logger.Printf("Recovered panic in legacy task %s (trace_id=%s): %v\n%s", name, lc.TraceID, p, debug.Stack())
			res = legacy.LegacyResult{
				Success:   false,
				TraceID:   lc.TraceID,
				ErrorCode: tasks.ReasonInternalError,
				Error:     "internal error",
			}
		}
	}()

	if Classify(name) != RouteLegacy {
		return legacy.LegacyResult{
			Success:   false,
			TraceID:   lc.TraceID,
			ErrorCode: tasks.ReasonUnknownTask,
			Error:     fmt.Sprintf("unknown legacy task %q", name),
		}
	}
	return e.legacy.Route(ctx, name, input, lc)
}

func (e *Engine) runPrimary(ctx context.Context, req tasks.RunRequest) (res tasks.RunResult) {
	defer func() {
		if p := recover(); p != nil {
			e.logger.Printf("Recovered panic in task %s (trace_id=%s): %v\n%s", req.Task, req.TraceID, p, debug.Stack())
			res = tasks.Failure(req.TraceID, tasks.ReasonInternalError, "internal error")
		}
	}()

	spec, ok := e.registry.Lookup(req.Task)
	if !ok {
		return tasks.Failure(req.TraceID, tasks.ReasonUnknownTask, fmt.Sprintf("unknown task %q", req.Task))
	}

	rendered, err := llm.RenderInput(req.Input)
	if err != nil {
		return tasks.Failure(req.TraceID, tasks.ReasonInternalError, err.Error())
	}
	if spec.MaxInputSize > 0 && len(rendered) > spec.MaxInputSize {
		return tasks.Failure(req.TraceID, tasks.ReasonInputTooLarge,
			fmt.Sprintf("input of %d bytes exceeds limit of %d", len(rendered), spec.MaxInputSize))
	}

	quality := spec.DefaultQuality
	if req.Quality != nil && req.Quality.Valid() {
		quality = *req.Quality
	}

	if !e.skipQuotaOnHit {
		if denied, ok := e.admit(ctx, req); !ok {
			return denied
		}
	}

	ttl, cacheable := spec.CacheTTL()
	var key string
	if cacheable {
		key, err = cache.Key(req.Task, req.Input, req.OutputSchema, req.SchemaVersion, string(quality))
		if err != nil {
			e.logger.Printf("Skipping cache for %s (trace_id=%s): %v", req.Task, req.TraceID, err)
			cacheable = false
		}
	}
	if cacheable {
		if entry, hit := e.cache.Get(ctx, key); hit {
			return entry.Result(req.TraceID)
		}
	}

	if e.skipQuotaOnHit {
		if denied, ok := e.admit(ctx, req); !ok {
			return denied
		}
	}

	prompt, err := llm.BuildPrompt(req.Task, req.Input, spec, quality, req.OutputSchema, req.TraceID)
	if err != nil {
		return tasks.Failure(req.TraceID, tasks.ReasonInternalError, err.Error())
	}

	res = e.fallback(ctx, prompt, req.OutputSchema)
	if res.OK && cacheable {
		e.cache.Put(ctx, key, cache.FromResult(res), ttl)
	}
	return res
}

func (e *Engine) admit(ctx context.Context, req tasks.RunRequest) (tasks.RunResult, bool) {
	d := e.admission.CheckTierCap(ctx, req.UserID, req.Tier, req.Task)
	if d.Allowed {
		return tasks.RunResult{}, true
	}
	code := d.Code
	if code == "" {
		code = tasks.ReasonDailyCap
	}
	return tasks.Failure(req.TraceID, code, d.Message), false
}

// fallback tries each provider in order until one succeeds.
func (e *Engine) fallback(ctx context.Context, prompt llm.Prompt, schema map[string]any) tasks.RunResult {
	var failures []string
	for _, provider := range e.chain.Order(prompt.Quality) {
		name := provider.Name()
		if err := ctx.Err(); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", name, err))
			break
		}
		if e.breaker.IsOpen(name) {
			failures = append(failures, name+": "+tasks.ReasonCircuitOpen)
			continue
		}

		out := e.attempt(ctx, provider, prompt, schema)
		if out.Success {
			return tasks.RunResult{
				OK:       true,
				Output:   decodeOutput(out.Content, prompt.Structured),
				Provider: name,
				Model:    out.Model,
			}
		}
		failures = append(failures, name+": "+out.Code)
	}

	return tasks.Failure(prompt.TraceID, tasks.ReasonFallbackExhausted,
		"all providers failed ("+strings.Join(failures, "; ")+")")
}

// attempt makes one provider call and reports its outcome. Structured
// output that fails schema validation counts as a provider failure.
func (e *Engine) attempt(ctx context.Context, provider llm.Adapter, prompt llm.Prompt, schema map[string]any) llm.Result {
	attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := e.now()
	defer func() {
		// A panicking call still settles the circuit as a failure.
		if p := recover(); p != nil {
			e.record(ctx, provider.Name(), prompt, llm.Failed(tasks.ReasonProviderError, fmt.Errorf("panic: %v", p)), start)
			panic(p)
		}
	}()

	out := provider.Call(attemptCtx, prompt, schema)
	if !out.Success && out.Code == "" {
		out.Code = tasks.ReasonProviderError
	}
	if !out.Success && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		out.Code = tasks.ReasonProviderTimeout
	}
	if out.Success && prompt.Structured {
		if err := llm.ValidateStructured(out.Content, schema); err != nil {
			model := out.Model
			out = llm.Failed(tasks.ReasonSchemaInvalid, err)
			out.Model = model
		}
	}

	e.record(ctx, provider.Name(), prompt, out, start)
	return out
}

func (e *Engine) record(ctx context.Context, name string, prompt llm.Prompt, out llm.Result, start time.Time) {
	e.telemetry.RecordProviderResult(name, out.Success)
	e.telemetry.RecordAttempt(ctx, telemetry.Attempt{
		TraceID:   prompt.TraceID,
		Task:      prompt.Task,
		Provider:  name,
		Model:     out.Model,
		Success:   out.Success,
		Code:      out.Code,
		LatencyMs: e.now().Sub(start).Milliseconds(),
		Usage:     out.Usage,
	})
}

// decodeOutput returns parsed JSON for structured tasks and the raw text
// otherwise. Structured content has already been validated by attempt.
func decodeOutput(content string, structured bool) any {
	if !structured {
		return content
	}
	if v, err := llm.ParseStructured(content); err == nil {
		return v
	}
	return content
}

// ClearCache drops every cached response.
func (e *Engine) ClearCache(ctx context.Context) {
	e.cache.Clear(ctx)
}

// ProviderStatus returns the circuit state of every configured provider.
func (e *Engine) ProviderStatus() []circuit.Snapshot {
	type snapshotter interface {
		Snapshot(provider string) circuit.Snapshot
	}
	s, ok := e.breaker.(snapshotter)
	names := e.chain.Names()
	out := make([]circuit.Snapshot, 0, len(names))
	for _, name := range names {
		if ok {
			out = append(out, s.Snapshot(name))
			continue
		}
		out = append(out, circuit.Snapshot{Provider: name, State: circuit.StateClosed})
	}
	return out
}

// Registry returns the task registry the engine was built with.
func (e *Engine) Registry() *tasks.Registry {
	return e.registry
}
