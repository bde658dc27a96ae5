// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package tasks

// Reason codes carried by failed results.
const (
	ReasonUnknownTask       = "unknown_task"
	ReasonDailyCap          = "daily_cap"
	ReasonCircuitOpen       = "circuit_open"
	ReasonProviderTimeout   = "provider_timeout"
	ReasonProviderError     = "provider_error"
	ReasonSchemaInvalid     = "schema_invalid"
	ReasonFallbackExhausted = "fallback_exhausted"
	ReasonInputTooLarge     = "input_too_large"
	ReasonInternalError     = "internal_error"
)

// RunRequest is the input to the engine's run entry point.
type RunRequest struct {
	Task          string         `json:"task"`
	Input         any            `json:"input"`
	UserID        string         `json:"user_id,omitempty"`
	Tier          Tier           `json:"tier"`
	Quality       *Quality       `json:"quality,omitempty"`
	TraceID       string         `json:"trace_id,omitempty"`
	OutputSchema  map[string]any `json:"output_schema,omitempty"`
	SchemaVersion string         `json:"schema_version,omitempty"`
}

// RunResult is the uniform outcome of a run. Either OK is true and Output is
// set, or OK is false and Reason/ErrorCode explain why.
type RunResult struct {
	OK           bool   `json:"ok"`
	Output       any    `json:"output,omitempty"`
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
	Reason       string `json:"reason,omitempty"`
	LatencyMs    int64  `json:"latency_ms,omitempty"`
	CacheHit     bool   `json:"cache_hit"`
	TraceID      string `json:"trace_id"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Failure builds a failed result with a matching reason and error code.
func Failure(traceID, reason, message string) RunResult {
	return RunResult{
		OK:           false,
		Reason:       reason,
		ErrorCode:    reason,
		ErrorMessage: message,
		TraceID:      traceID,
	}
}
