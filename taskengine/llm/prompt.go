// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"jobpilot/platform/taskengine/tasks"
)

// BuildPrompt renders an opaque task input into a Prompt. The input has
// already been shaped by the caller's prompt builder; it is passed through
// verbatim when it is a string and JSON-encoded otherwise.
func BuildPrompt(task string, input any, spec tasks.TaskSpec, quality tasks.Quality, schema map[string]any, traceID string) (Prompt, error) {
	rendered, err := RenderInput(input)
	if err != nil {
		return Prompt{}, err
	}

	var sys strings.Builder
	fmt.Fprintf(&sys, "You are executing the %q task for a job-search assistant.", task)
	if spec.RequiresStructuredOutput || schema != nil {
		sys.WriteString(" Respond with a single JSON document and no surrounding prose.")
		if schema != nil {
			if raw, err := json.Marshal(schema); err == nil {
				sys.WriteString(" The JSON must satisfy this schema: ")
				sys.Write(raw)
			}
		}
	}

	return Prompt{
		Task:         task,
		SystemPrompt: sys.String(),
		Input:        rendered,
		Quality:      quality,
		MaxTokens:    spec.MaxTokens(),
		Structured:   spec.RequiresStructuredOutput || schema != nil,
		TraceID:      traceID,
	}, nil
}

// RenderInput turns an opaque payload into prompt text.
func RenderInput(input any) (string, error) {
	switch v := input.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("failed to render input: %w", err)
	}
	return string(raw), nil
}
