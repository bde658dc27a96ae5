// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotJSON is returned when structured output is not valid JSON.
var ErrNotJSON = errors.New("output is not valid JSON")

// StripCodeFence removes a surrounding markdown code fence, which models
// frequently wrap JSON in.
func StripCodeFence(content string) string {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// ParseStructured decodes structured output.
func ParseStructured(content string) (any, error) {
	var out any
	if err := json.Unmarshal([]byte(StripCodeFence(content)), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}
	return out, nil
}

// ValidateStructured checks content against a minimal subset of JSON Schema:
// top-level "type" (object/array) and "required" property names. A nil
// schema only requires valid JSON.
func ValidateStructured(content string, schema map[string]any) error {
	out, err := ParseStructured(content)
	if err != nil {
		return err
	}
	if schema == nil {
		return nil
	}

	if want, ok := schema["type"].(string); ok {
		switch want {
		case "object":
			if _, ok := out.(map[string]any); !ok {
				return fmt.Errorf("expected JSON object, got %T", out)
			}
		case "array":
			if _, ok := out.([]any); !ok {
				return fmt.Errorf("expected JSON array, got %T", out)
			}
		}
	}

	required := requiredFields(schema["required"])
	if len(required) == 0 {
		return nil
	}
	obj, ok := out.(map[string]any)
	if !ok {
		return fmt.Errorf("schema requires properties but output is %T", out)
	}
	for _, field := range required {
		if _, ok := obj[field]; !ok {
			return fmt.Errorf("missing required property %q", field)
		}
	}
	return nil
}

func requiredFields(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, item := range req {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
