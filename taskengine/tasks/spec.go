// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package tasks

import "time"

// TaskSpec is the execution policy of a single task. Values are copied out
// of the registry so callers can never mutate the registered policy.
type TaskSpec struct {
	RequiresStructuredOutput bool        `yaml:"requires_structured_output" json:"requires_structured_output"`
	MaxInputSize             int         `yaml:"max_input_size" json:"max_input_size"`
	MaxOutputTokensHint      *int        `yaml:"max_output_tokens_hint,omitempty" json:"max_output_tokens_hint,omitempty"`
	DefaultQuality           Quality     `yaml:"default_quality" json:"default_quality"`
	CacheTTLSeconds          *int        `yaml:"cache_ttl_seconds,omitempty" json:"cache_ttl_seconds,omitempty"`
	Batchable                bool        `yaml:"batchable" json:"batchable"`
	SafetyLevel              SafetyLevel `yaml:"safety_level" json:"safety_level"`
}

// CacheTTL returns the cache lifetime and whether the task is cacheable at all.
func (s TaskSpec) CacheTTL() (time.Duration, bool) {
	if s.CacheTTLSeconds == nil || *s.CacheTTLSeconds <= 0 {
		return 0, false
	}
	return time.Duration(*s.CacheTTLSeconds) * time.Second, true
}

// MaxTokens returns the output token hint, or 0 when the provider default
// should be used.
func (s TaskSpec) MaxTokens() int {
	if s.MaxOutputTokensHint == nil {
		return 0
	}
	return *s.MaxOutputTokensHint
}

func (s TaskSpec) clone() TaskSpec {
	out := s
	if s.MaxOutputTokensHint != nil {
		v := *s.MaxOutputTokensHint
		out.MaxOutputTokensHint = &v
	}
	if s.CacheTTLSeconds != nil {
		v := *s.CacheTTLSeconds
		out.CacheTTLSeconds = &v
	}
	return out
}

func intPtr(v int) *int { return &v }

// defaultSpecs is the static policy table loaded at process start.
func defaultSpecs() map[TaskID]TaskSpec {
	return map[TaskID]TaskSpec{
		TaskKeywordExtraction: {
			RequiresStructuredOutput: true,
			MaxInputSize:             20000,
			MaxOutputTokensHint:      intPtr(512),
			DefaultQuality:           QualityLow,
			CacheTTLSeconds:          intPtr(86400),
			Batchable:                true,
			SafetyLevel:              SafetyLow,
		},
		TaskResumeTailoring: {
			RequiresStructuredOutput: true,
			MaxInputSize:             40000,
			MaxOutputTokensHint:      intPtr(2048),
			DefaultQuality:           QualityHigh,
			CacheTTLSeconds:          intPtr(3600),
			SafetyLevel:              SafetyMedium,
		},
		TaskCoverLetter: {
			MaxInputSize:        30000,
			MaxOutputTokensHint: intPtr(1500),
			DefaultQuality:      QualityHigh,
			SafetyLevel:         SafetyMedium,
		},
		TaskJobMatchScore: {
			RequiresStructuredOutput: true,
			MaxInputSize:             40000,
			MaxOutputTokensHint:      intPtr(400),
			DefaultQuality:           QualityStandard,
			CacheTTLSeconds:          intPtr(43200),
			Batchable:                true,
			SafetyLevel:              SafetyLow,
		},
		TaskInterviewQuestions: {
			RequiresStructuredOutput: true,
			MaxInputSize:             20000,
			MaxOutputTokensHint:      intPtr(1200),
			DefaultQuality:           QualityStandard,
			CacheTTLSeconds:          intPtr(21600),
			SafetyLevel:              SafetyLow,
		},
		TaskApplicationSummary: {
			MaxInputSize:        15000,
			MaxOutputTokensHint: intPtr(600),
			DefaultQuality:      QualityLow,
			CacheTTLSeconds:     intPtr(3600),
			Batchable:           true,
			SafetyLevel:         SafetyLow,
		},
		TaskSkillGapAnalysis: {
			RequiresStructuredOutput: true,
			MaxInputSize:             30000,
			MaxOutputTokensHint:      intPtr(1000),
			DefaultQuality:           QualityStandard,
			CacheTTLSeconds:          intPtr(43200),
			SafetyLevel:              SafetyLow,
		},
		TaskCompanyResearch: {
			MaxInputSize:        10000,
			MaxOutputTokensHint: intPtr(1500),
			DefaultQuality:      QualityStandard,
			CacheTTLSeconds:     intPtr(604800),
			SafetyLevel:         SafetyHigh,
		},
	}
}
