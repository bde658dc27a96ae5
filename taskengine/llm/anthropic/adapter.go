// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package anthropic adapts Anthropic's Messages API to the task engine's
// provider contract.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"jobpilot/platform/taskengine/llm"
	"jobpilot/platform/taskengine/tasks"
)

const (
	// DefaultBaseURL is the default Anthropic API endpoint
	DefaultBaseURL = "https://api.anthropic.com"

	// DefaultAPIVersion is the Anthropic API version
	DefaultAPIVersion = "2023-06-01"

	// DefaultMaxTokens is used when the task has no output hint
	DefaultMaxTokens = 4096

	ModelClaude35Haiku  = "claude-3-5-haiku-20241022"
	ModelClaude4Sonnet  = "claude-sonnet-4-20250514"
	DefaultModel        = ModelClaude4Sonnet
	providerName        = "anthropic"
	maxErrorBodyPreview = 512
)

// HTTPClient is an interface for HTTP client operations (enables testing)
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config contains configuration for the Anthropic adapter
type Config struct {
	APIKey     string                   // Required
	BaseURL    string                   // Optional: default https://api.anthropic.com
	APIVersion string                   // Optional: default 2023-06-01
	Model      string                   // Optional: default claude-sonnet-4
	Models     map[tasks.Quality]string // Optional: per-quality model override
	Client     HTTPClient               // Optional: default http.Client
}

// Adapter implements llm.Adapter for Anthropic Claude.
type Adapter struct {
	apiKey     string
	baseURL    string
	apiVersion string
	model      string
	models     map[tasks.Quality]string
	client     HTTPClient
}

var _ llm.Adapter = (*Adapter)(nil)

// New creates an Anthropic adapter. Timeouts come from the caller's context.
func New(cfg Config) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Models == nil {
		cfg.Models = map[tasks.Quality]string{tasks.QualityLow: ModelClaude35Haiku}
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Adapter{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiVersion: cfg.APIVersion,
		model:      cfg.Model,
		models:     cfg.Models,
		client:     cfg.Client,
	}, nil
}

// Name implements llm.Adapter.
func (a *Adapter) Name() string { return providerName }

// Model implements llm.Adapter.
func (a *Adapter) Model() string { return a.model }

func (a *Adapter) modelFor(q tasks.Quality) string {
	if m, ok := a.models[q]; ok && m != "" {
		return m
	}
	return a.model
}

// Call implements llm.Adapter.
func (a *Adapter) Call(ctx context.Context, prompt llm.Prompt, schema map[string]any) llm.Result {
	model := a.modelFor(prompt.Quality)
	maxTokens := prompt.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	apiReq := messagesRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    prompt.SystemPrompt,
		Messages:  []message{{Role: "user", Content: prompt.Input}},
	}
	if prompt.Structured {
		zero := 0.0
		apiReq.Temperature = &zero
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return llm.Failed(tasks.ReasonProviderError, fmt.Errorf("failed to marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return llm.Failed(tasks.ReasonProviderError, fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", a.apiVersion)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return llm.Failed(llm.ClassifyError(ctx, err), fmt.Errorf("anthropic API error: %w", err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyPreview))
		return llm.Failed(tasks.ReasonProviderError, parseAPIError(resp.StatusCode, raw))
	}

	var apiResp messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return llm.Failed(llm.ClassifyError(ctx, err), fmt.Errorf("failed to decode response: %w", err))
	}

	var content strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	if apiResp.Model != "" {
		model = apiResp.Model
	}

	return llm.Finish(prompt, schema, content.String(), model, llm.Usage{
		PromptTokens:     apiResp.Usage.InputTokens,
		CompletionTokens: apiResp.Usage.OutputTokens,
	})
}

// APIError represents an Anthropic API error
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("anthropic API error (status %d, type %s): %s", e.StatusCode, e.Type, e.Message)
}

func parseAPIError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Type == "" {
		return fmt.Errorf("anthropic API error (status %d): %s", statusCode, string(body))
	}
	return &APIError{StatusCode: statusCode, Type: errResp.Error.Type, Message: errResp.Error.Message}
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}
