// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package llm defines the uniform call contract for completion providers and
// the helpers shared by every adapter.
package llm

import (
	"context"
	"errors"
	"fmt"

	"jobpilot/platform/taskengine/tasks"
)

// Prompt is the provider-agnostic input to an adapter call. Input is the
// opaque payload produced by the prompt builder, already rendered to text.
type Prompt struct {
	Task         string
	SystemPrompt string
	Input        string
	Quality      tasks.Quality
	MaxTokens    int
	Structured   bool
	TraceID      string
}

// Result is what an adapter returns. Adapters report ordinary failures
// (timeouts, rejections, malformed output) through Success/Code rather than
// by panicking or returning a Go error.
type Result struct {
	Success bool
	Content string
	Model   string
	Code    string
	Error   string
	Usage   Usage
}

// Usage carries token counts when the provider reports them.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Adapter is implemented once per completion provider.
// Implementations must be safe for concurrent use.
type Adapter interface {
	// Name is the stable provider identifier used for circuit state and
	// telemetry, e.g. "openai".
	Name() string

	// Model is the default model the adapter calls.
	Model() string

	// Call sends the prompt and returns the outcome. schema may be nil.
	Call(ctx context.Context, prompt Prompt, schema map[string]any) Result
}

// Failed builds a failure result.
func Failed(code string, err error) Result {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Result{Success: false, Code: code, Error: msg}
}

// ClassifyError maps a transport error onto a failure code.
func ClassifyError(ctx context.Context, err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return tasks.ReasonProviderTimeout
	}
	var te interface{ Timeout() bool }
	if errors.As(err, &te) && te.Timeout() {
		return tasks.ReasonProviderTimeout
	}
	return tasks.ReasonProviderError
}

// Finish applies the shared post-processing every adapter needs: an empty
// reply is a provider error and structured tasks must produce valid output.
func Finish(prompt Prompt, schema map[string]any, content, model string, usage Usage) Result {
	if content == "" {
		return Failed(tasks.ReasonProviderError, fmt.Errorf("empty completion from %s", model))
	}
	if prompt.Structured || schema != nil {
		if err := ValidateStructured(content, schema); err != nil {
			return Failed(tasks.ReasonSchemaInvalid, err)
		}
	}
	return Result{Success: true, Content: content, Model: model, Usage: usage}
}
