// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package telemetry

import (
	"fmt"
	"strings"
)

// Pricing is a model's list price in US cents per million tokens.
type Pricing struct {
	PromptPer1M     int
	CompletionPer1M int
}

// modelPricing is keyed by "<provider>-<model prefix>". Dated model
// snapshots (gpt-4o-mini-2024-07-18) match their undated prefix.
var modelPricing = map[string]Pricing{
	"openai-gpt-4o-mini": {15, 60},
	"openai-gpt-4o":      {250, 1000},

	"anthropic-claude-3-5-haiku": {80, 400},
	"anthropic-claude-sonnet-4":  {300, 1500},

	"bedrock-anthropic.claude-3-5-sonnet": {300, 1500},
	"bedrock-anthropic.claude-3-haiku":    {25, 125},
	"bedrock-meta.llama3-70b":             {265, 350},

	// Conservative fallback for unknown models
	"default": {300, 1500},
}

// LookupPricing returns the pricing entry with the longest matching prefix.
func LookupPricing(provider, model string) (Pricing, bool) {
	key := provider + "-" + model
	best := ""
	for k := range modelPricing {
		if strings.HasPrefix(key, k) && len(k) > len(best) {
			best = k
		}
	}
	if best == "" {
		return modelPricing["default"], false
	}
	return modelPricing[best], true
}

// EstimateCostCents estimates the spend of one provider call in cents.
func EstimateCostCents(provider, model string, promptTokens, completionTokens int) float64 {
	p, _ := LookupPricing(provider, model)
	return (float64(promptTokens)*float64(p.PromptPer1M) + float64(completionTokens)*float64(p.CompletionPer1M)) / 1e6
}

// FormatCostToDollars converts cents to a dollar string (135 -> "$1.35").
func FormatCostToDollars(cents float64) string {
	return fmt.Sprintf("$%.2f", cents/100.0)
}
