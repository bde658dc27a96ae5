// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package tasks defines the task identifiers, execution policies and the
// request/result shapes shared by every stage of the task engine.
package tasks

import "fmt"

// TaskID identifies a primary engine task.
type TaskID string

// Primary task identifiers. The set is closed: anything else is either a
// legacy task or unknown.
const (
	TaskKeywordExtraction  TaskID = "keyword_extraction"
	TaskResumeTailoring    TaskID = "resume_tailoring"
	TaskCoverLetter        TaskID = "cover_letter"
	TaskJobMatchScore      TaskID = "job_match_score"
	TaskInterviewQuestions TaskID = "interview_questions"
	TaskApplicationSummary TaskID = "application_summary"
	TaskSkillGapAnalysis   TaskID = "skill_gap_analysis"
	TaskCompanyResearch    TaskID = "company_research"
)

// AllTasks lists every primary task in a stable order.
var AllTasks = []TaskID{
	TaskKeywordExtraction,
	TaskResumeTailoring,
	TaskCoverLetter,
	TaskJobMatchScore,
	TaskInterviewQuestions,
	TaskApplicationSummary,
	TaskSkillGapAnalysis,
	TaskCompanyResearch,
}

// Valid reports whether id is a primary task.
func (id TaskID) Valid() bool {
	for _, t := range AllTasks {
		if t == id {
			return true
		}
	}
	return false
}

// Quality is a coarse cost/accuracy dial.
type Quality string

const (
	QualityLow      Quality = "low"
	QualityStandard Quality = "standard"
	QualityHigh     Quality = "high"
)

// Valid reports whether q is one of the known quality levels.
func (q Quality) Valid() bool {
	switch q {
	case QualityLow, QualityStandard, QualityHigh:
		return true
	}
	return false
}

// ParseQuality converts a string into a Quality.
func ParseQuality(s string) (Quality, error) {
	q := Quality(s)
	if !q.Valid() {
		return "", fmt.Errorf("invalid quality %q", s)
	}
	return q, nil
}

// SafetyLevel expresses how sensitive a task's output is.
type SafetyLevel string

const (
	SafetyLow    SafetyLevel = "low"
	SafetyMedium SafetyLevel = "medium"
	SafetyHigh   SafetyLevel = "high"
)

// Tier is a caller's subscription level.
type Tier string

const (
	TierFree    Tier = "free"
	TierPro     Tier = "pro"
	TierPremium Tier = "premium"
	TierCoach   Tier = "coach"
)

// LowestTier is used whenever a tier cannot be resolved.
const LowestTier = TierFree

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierPro, TierPremium, TierCoach:
		return true
	}
	return false
}

// ParseTier converts s into a Tier, falling back to LowestTier for unknown
// values.
func ParseTier(s string) Tier {
	t := Tier(s)
	if !t.Valid() {
		return LowestTier
	}
	return t
}
