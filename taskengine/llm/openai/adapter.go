// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package openai adapts the OpenAI Chat Completions API to the task engine's
// provider contract.
package openai

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
	DefaultBaseURL = "https://api.openai.com"
	ModelGPT4oMini = "gpt-4o-mini"
	ModelGPT4o     = "gpt-4o"
	DefaultModel   = ModelGPT4oMini

	providerName = "openai"
)

// HTTPClient is an interface for HTTP client operations (enables testing)
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config contains configuration for the OpenAI adapter
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Models  map[tasks.Quality]string
	Client  HTTPClient
}

// Adapter implements llm.Adapter for OpenAI.
type Adapter struct {
	apiKey  string
	baseURL string
	model   string
	models  map[tasks.Quality]string
	client  HTTPClient
}

var _ llm.Adapter = (*Adapter)(nil)

// New creates an OpenAI adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Models == nil {
		cfg.Models = map[tasks.Quality]string{tasks.QualityHigh: ModelGPT4o}
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Adapter{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		models:  cfg.Models,
		client:  cfg.Client,
	}, nil
}

func (a *Adapter) Name() string  { return providerName }
func (a *Adapter) Model() string { return a.model }

// Call implements llm.Adapter.
func (a *Adapter) Call(ctx context.Context, prompt llm.Prompt, schema map[string]any) llm.Result {
	model := a.model
	if m, ok := a.models[prompt.Quality]; ok && m != "" {
		model = m
	}

	messages := make([]chatMessage, 0, 2)
	if prompt.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: prompt.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt.Input})

	apiReq := chatRequest{Model: model, Messages: messages}
	if prompt.MaxTokens > 0 {
		apiReq.MaxTokens = prompt.MaxTokens
	}
	if prompt.Structured {
		apiReq.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return llm.Failed(tasks.ReasonProviderError, fmt.Errorf("failed to marshal request: %w", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return llm.Failed(tasks.ReasonProviderError, fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return llm.Failed(llm.ClassifyError(ctx, err), fmt.Errorf("OpenAI API error: %w", err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return llm.Failed(tasks.ReasonProviderError, fmt.Errorf("OpenAI API error (status %d): %s", resp.StatusCode, string(raw)))
	}

	var apiResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return llm.Failed(llm.ClassifyError(ctx, err), fmt.Errorf("failed to decode response: %w", err))
	}
	if len(apiResp.Choices) == 0 {
		return llm.Failed(tasks.ReasonProviderError, fmt.Errorf("OpenAI returned no choices"))
	}
	if apiResp.Model != "" {
		model = apiResp.Model
	}

	return llm.Finish(prompt, schema, apiResp.Choices[0].Message.Content, model, llm.Usage{
		PromptTokens:     apiResp.Usage.PromptTokens,
		CompletionTokens: apiResp.Usage.CompletionTokens,
	})
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}
