// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package legacy

import "jobpilot/platform/taskengine/tasks"

// Context carries the caller identity for a legacy call.
type Context struct {
	UserID  string
	Tier    tasks.Tier
	TraceID string
}

// LegacyResult is the result shape older clients expect.
type LegacyResult struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	TraceID   string `json:"trace_id"`
	Provider  string `json:"provider,omitempty"`
	Model     string `json:"model,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// RunResult converts a legacy result into the primary result shape.
func (r LegacyResult) RunResult() tasks.RunResult {
	if !r.Success {
		res := tasks.Failure(r.TraceID, r.ErrorCode, r.Error)
		res.Provider = r.Provider
		res.Model = r.Model
		res.LatencyMs = r.LatencyMs
		return res
	}
	return tasks.RunResult{
		OK:        true,
		Output:    r.Data,
		Provider:  r.Provider,
		Model:     r.Model,
		LatencyMs: r.LatencyMs,
		TraceID:   r.TraceID,
	}
}

func failure(traceID, code, msg string) LegacyResult {
	return LegacyResult{Success: false, TraceID: traceID, ErrorCode: code, Error: msg}
}
