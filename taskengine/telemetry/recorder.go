// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package telemetry records invocation outcomes and per-provider attempts.
// Recording never fails the caller: errors and panics inside a sink are
// recovered and logged.
package telemetry

import (
	"context"
	"log"
	"os"
	"time"

	"jobpilot/platform/shared/logger"
	"jobpilot/platform/taskengine/circuit"
	"jobpilot/platform/taskengine/llm"
	"jobpilot/platform/taskengine/tasks"
)

// Attempt describes one provider call made while serving an invocation.
type Attempt struct {
	TraceID   string
	Task      string
	Provider  string
	Model     string
	Success   bool
	Code      string
	LatencyMs int64
	Usage     llm.Usage
}

// Telemetry is the recording surface used by the engine and legacy router.
type Telemetry interface {
	LogInvocation(ctx context.Context, req tasks.RunRequest, res tasks.RunResult)
	RecordProviderResult(provider string, success bool)
	RecordAttempt(ctx context.Context, a Attempt)
}

// Config wires a Recorder to its sinks. Every field is optional.
type Config struct {
	Breaker circuit.Gate
	Metrics *Metrics
	Logger  *logger.Logger
	Sink    Sink
	Now     func() time.Time
}

// Recorder is the default Telemetry implementation.
type Recorder struct {
	breaker circuit.Gate
	metrics *Metrics
	log     *logger.Logger
	sink    Sink
	now     func() time.Time
	std     *log.Logger
}

var _ Telemetry = (*Recorder)(nil)

// NewRecorder creates a recorder.
func NewRecorder(cfg Config) *Recorder {
	if cfg.Logger == nil {
		cfg.Logger = logger.New("task-engine")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Recorder{
		breaker: cfg.Breaker,
		metrics: cfg.Metrics,
		log:     cfg.Logger,
		sink:    cfg.Sink,
		now:     cfg.Now,
		std:     log.New(os.Stdout, "[TELEMETRY] ", log.LstdFlags),
	}
}

func (r *Recorder) recoverPanic(op string) {
	if p := recover(); p != nil {
		r.std.Printf("Recovered panic in %s: %v", op, p)
	}
}

// LogInvocation records the final outcome of one invocation.
func (r *Recorder) LogInvocation(ctx context.Context, req tasks.RunRequest, res tasks.RunResult) {
	defer r.recoverPanic("LogInvocation")

	outcome := "ok"
	if !res.OK {
		outcome = res.Reason
	}

	if r.metrics != nil {
		r.metrics.Invocations.WithLabelValues(req.Task, outcome).Inc()
		r.metrics.Duration.WithLabelValues(req.Task).Observe(float64(res.LatencyMs))
		if res.CacheHit {
			r.metrics.CacheHits.WithLabelValues(req.Task).Inc()
		}
	}

	fields := map[string]interface{}{
		"task":       req.Task,
		"tier":       string(req.Tier),
		"outcome":    outcome,
		"latency_ms": res.LatencyMs,
		"cache_hit":  res.CacheHit,
	}
	if res.Provider != "" {
		fields["provider"] = res.Provider
		fields["model"] = res.Model
	}
	if res.OK {
		r.log.Info(req.UserID, res.TraceID, "Task invocation completed", fields)
	} else {
		if res.ErrorMessage != "" {
			fields["error"] = res.ErrorMessage
		}
		r.log.Warn(req.UserID, res.TraceID, "Task invocation failed", fields)
	}

	if r.sink != nil {
		r.sink.Enqueue(Event{
			TraceID:   res.TraceID,
			Task:      req.Task,
			UserID:    req.UserID,
			Tier:      string(req.Tier),
			OK:        res.OK,
			Reason:    res.Reason,
			Provider:  res.Provider,
			Model:     res.Model,
			LatencyMs: res.LatencyMs,
			CacheHit:  res.CacheHit,
			CreatedAt: r.now().UTC(),
		})
	}
}

// RecordProviderResult feeds the circuit breaker and the provider counter.
func (r *Recorder) RecordProviderResult(provider string, success bool) {
	defer r.recoverPanic("RecordProviderResult")

	if r.breaker != nil {
		r.breaker.RecordResult(provider, success)
	}
	if r.metrics != nil {
		outcome := "success"
		if !success {
			outcome = "failure"
		}
		r.metrics.ProviderCalls.WithLabelValues(provider, outcome).Inc()
	}
}

// RecordAttempt logs one provider call and adds its estimated cost. Callers
// report the outcome to the circuit separately via RecordProviderResult.
func (r *Recorder) RecordAttempt(ctx context.Context, a Attempt) {
	defer r.recoverPanic("RecordAttempt")

	cost := EstimateCostCents(a.Provider, a.Model, a.Usage.PromptTokens, a.Usage.CompletionTokens)
	if r.metrics != nil && cost > 0 {
		r.metrics.EstimatedCost.WithLabelValues(a.Provider).Add(cost)
	}

	fields := map[string]interface{}{
		"task":       a.Task,
		"provider":   a.Provider,
		"model":      a.Model,
		"latency_ms": a.LatencyMs,
	}
	if a.Success {
		fields["prompt_tokens"] = a.Usage.PromptTokens
		fields["completion_tokens"] = a.Usage.CompletionTokens
		fields["estimated_cost_cents"] = cost
		r.log.Debug("", a.TraceID, "Provider attempt succeeded", fields)
		return
	}
	fields["code"] = a.Code
	r.log.Warn("", a.TraceID, "Provider attempt failed", fields)
}

// Nop is a Telemetry that records nothing.
type Nop struct{}

func (Nop) LogInvocation(context.Context, tasks.RunRequest, tasks.RunResult) {}
func (Nop) RecordProviderResult(string, bool)                                {}
func (Nop) RecordAttempt(context.Context, Attempt)                           {}
