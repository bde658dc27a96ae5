// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobpilot/platform/taskengine/llm"
	"jobpilot/platform/taskengine/tasks"
)

func TestNew_RequiresKey(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestCall(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		prompt   llm.Prompt
		wantOK   bool
		wantCode string
	}{
		{
			name:   "structured success",
			status: http.StatusOK,
			body:   `{"model":"gpt-4o-mini-2024","choices":[{"message":{"content":"{\"score\":87}"}}],"usage":{"prompt_tokens":5,"completion_tokens":3}}`,
			prompt: llm.Prompt{Input: "x", Structured: true},
			wantOK: true,
		},
		{
			name:     "server error",
			status:   http.StatusInternalServerError,
			body:     `{"error":{"message":"overloaded"}}`,
			prompt:   llm.Prompt{Input: "x"},
			wantCode: tasks.ReasonProviderError,
		},
		{
			name:     "no choices",
			status:   http.StatusOK,
			body:     `{"choices":[]}`,
			prompt:   llm.Prompt{Input: "x"},
			wantCode: tasks.ReasonProviderError,
		},
		{
			name:     "prose for structured task",
			status:   http.StatusOK,
			body:     `{"choices":[{"message":{"content":"The score is 87"}}]}`,
			prompt:   llm.Prompt{Input: "x", Structured: true},
			wantCode: tasks.ReasonSchemaInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured chatRequest
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/chat/completions", r.URL.Path)
				assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
				_ = json.NewDecoder(r.Body).Decode(&captured)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			a, err := New(Config{APIKey: "sk-test", BaseURL: server.URL})
			require.NoError(t, err)

			res := a.Call(context.Background(), tt.prompt, nil)
			assert.Equal(t, tt.wantOK, res.Success, res.Error)
			if tt.wantOK {
				assert.Equal(t, "gpt-4o-mini-2024", res.Model)
				assert.Equal(t, 5, res.Usage.PromptTokens)
				require.NotNil(t, captured.ResponseFormat)
				assert.Equal(t, "json_object", captured.ResponseFormat.Type)
			} else {
				assert.Equal(t, tt.wantCode, res.Code)
			}
		})
	}
}

func TestCall_HighQualityModel(t *testing.T) {
	var captured chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"letter"}}]}`))
	}))
	defer server.Close()

	a, _ := New(Config{APIKey: "k", BaseURL: server.URL})
	res := a.Call(context.Background(), llm.Prompt{Input: "x", Quality: tasks.QualityHigh, SystemPrompt: "sys"}, nil)
	require.True(t, res.Success)
	assert.Equal(t, ModelGPT4o, captured.Model)
	assert.Equal(t, ModelGPT4o, res.Model)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Nil(t, captured.ResponseFormat)
}
