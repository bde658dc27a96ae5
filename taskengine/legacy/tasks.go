// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package legacy

import (
	"sort"

	"jobpilot/platform/taskengine/tasks"
)

// Legacy task names. This namespace is disjoint from tasks.TaskID.
const (
	TaskAnalyzeResume       = "analyze_resume"
	TaskGenerateCoverLetter = "generate_cover_letter"
	TaskMatchJob            = "match_job"
	TaskExtractKeywordsV1   = "extract_keywords_v1"
	TaskMockInterview       = "mock_interview"
)

type taskDef struct {
	preferred   string
	instruction string
	maxTokens   int
}

var legacyTasks = map[string]taskDef{
	TaskAnalyzeResume: {
		preferred:   "anthropic",
		instruction: "Analyze the resume below. Summarize strengths, weaknesses and missing sections.",
		maxTokens:   1500,
	},
	TaskGenerateCoverLetter: {
		preferred:   "anthropic",
		instruction: "Write a cover letter for the candidate and job described below.",
		maxTokens:   1200,
	},
	TaskMatchJob: {
		preferred:   "openai",
		instruction: "Rate how well the resume matches the job on a 0-100 scale and explain the score.",
		maxTokens:   600,
	},
	TaskExtractKeywordsV1: {
		preferred:   "openai",
		instruction: "List the most important keywords in the job description below as a JSON array.",
		maxTokens:   400,
	},
	TaskMockInterview: {
		preferred:   "anthropic",
		instruction: "Act as an interviewer for the role below. Ask the next question given the transcript so far.",
		maxTokens:   800,
	},
}

// IsLegacyTask reports whether name belongs to the legacy namespace.
func IsLegacyTask(name string) bool {
	if tasks.TaskID(name).Valid() {
		return false
	}
	_, ok := legacyTasks[name]
	return ok
}

// Tasks returns the legacy task names in sorted order.
func Tasks() []string {
	out := make([]string, 0, len(legacyTasks))
	for name := range legacyTasks {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
