// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package bedrock adapts AWS Bedrock's InvokeModel API to the task engine's
// provider contract. Authentication uses the default AWS credential chain
// (IAM role, environment, shared config) with Signature V4.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"jobpilot/platform/taskengine/llm"
	"jobpilot/platform/taskengine/tasks"
)

const (
	DefaultRegion = "us-east-1"
	DefaultModel  = "anthropic.claude-3-5-sonnet-20240620-v1:0"

	defaultMaxTokens = 2048
	providerName     = "bedrock"
)

// RuntimeClient is the subset of the Bedrock runtime client the adapter uses.
type RuntimeClient interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Config contains configuration for the Bedrock adapter.
type Config struct {
	Region string
	Model  string
	Client RuntimeClient
}

// Adapter implements llm.Adapter for AWS Bedrock.
type Adapter struct {
	client RuntimeClient
	region string
	model  string
}

var _ llm.Adapter = (*Adapter)(nil)

// New creates a Bedrock adapter, loading AWS configuration when no client
// is supplied.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if family(cfg.Model) == "" {
		return nil, fmt.Errorf("unsupported bedrock model family: %s", cfg.Model)
	}
	if cfg.Client == nil {
		awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config for Bedrock (region: %s): %w", cfg.Region, err)
		}
		cfg.Client = bedrockruntime.NewFromConfig(awsCfg)
		log.Printf("[Bedrock] Initialized AWS SDK adapter (region: %s, model: %s)", cfg.Region, cfg.Model)
	}
	return &Adapter{client: cfg.Client, region: cfg.Region, model: cfg.Model}, nil
}

func (a *Adapter) Name() string  { return providerName }
func (a *Adapter) Model() string { return a.model }

// Call implements llm.Adapter.
func (a *Adapter) Call(ctx context.Context, prompt llm.Prompt, schema map[string]any) llm.Result {
	body, err := buildRequestBody(a.model, prompt)
	if err != nil {
		return llm.Failed(tasks.ReasonProviderError, err)
	}

	output, err := a.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(a.model),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return llm.Failed(llm.ClassifyError(ctx, err), fmt.Errorf("bedrock API error: %w", err))
	}

	content, usage, err := parseResponseBody(a.model, output.Body)
	if err != nil {
		return llm.Failed(tasks.ReasonProviderError, err)
	}
	return llm.Finish(prompt, schema, content, a.model, usage)
}

// family detects the model family from a Bedrock model id.
func family(model string) string {
	switch {
	case strings.HasPrefix(model, "anthropic."), strings.Contains(model, ".anthropic."):
		return "anthropic"
	case strings.HasPrefix(model, "meta."), strings.Contains(model, ".meta."):
		return "meta"
	}
	return ""
}

func buildRequestBody(model string, prompt llm.Prompt) ([]byte, error) {
	maxTokens := prompt.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	var req map[string]any
	switch family(model) {
	case "anthropic":
		req = map[string]any{
			"anthropic_version": "bedrock-2023-05-31",
			"max_tokens":        maxTokens,
			"messages": []map[string]string{
				{"role": "user", "content": prompt.Input},
			},
		}
		if prompt.SystemPrompt != "" {
			req["system"] = prompt.SystemPrompt
		}
	case "meta":
		text := prompt.Input
		if prompt.SystemPrompt != "" {
			text = prompt.SystemPrompt + "\n\n" + prompt.Input
		}
		req = map[string]any{
			"prompt":      text,
			"max_gen_len": maxTokens,
		}
	default:
		return nil, fmt.Errorf("unsupported model family: %s", model)
	}

	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return raw, nil
}

func parseResponseBody(model string, body []byte) (string, llm.Usage, error) {
	switch family(model) {
	case "anthropic":
		var resp struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
			Usage struct {
				InputTokens  int `json:"input_tokens"`
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", llm.Usage{}, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		var sb strings.Builder
		for _, c := range resp.Content {
			sb.WriteString(c.Text)
		}
		return sb.String(), llm.Usage{PromptTokens: resp.Usage.InputTokens, CompletionTokens: resp.Usage.OutputTokens}, nil
	case "meta":
		var resp struct {
			Generation       string `json:"generation"`
			PromptTokenCount int    `json:"prompt_token_count"`
			GenTokenCount    int    `json:"generation_token_count"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", llm.Usage{}, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		return resp.Generation, llm.Usage{PromptTokens: resp.PromptTokenCount, CompletionTokens: resp.GenTokenCount}, nil
	}
	return "", llm.Usage{}, fmt.Errorf("unsupported model family: %s", model)
}
