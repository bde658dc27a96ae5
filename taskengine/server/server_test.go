// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobpilot/platform/shared/logger"
	"jobpilot/platform/taskengine"
	"jobpilot/platform/taskengine/admission"
	"jobpilot/platform/taskengine/circuit"
	"jobpilot/platform/taskengine/legacy"
	"jobpilot/platform/taskengine/llm"
	"jobpilot/platform/taskengine/tasks"
	"jobpilot/platform/taskengine/telemetry"
	"jobpilot/platform/taskengine/tier"
)

const testSecret = "test-secret"

type fixture struct {
	openai    *llm.MockAdapter
	anthropic *llm.MockAdapter
	registry  *prometheus.Registry
	handler   http.Handler
}

func quiet() *log.Logger { return log.New(io.Discard, "", 0) }

func newFixture(t *testing.T, secret string, resolver tier.Resolver) *fixture {
	t.Helper()
	f := &fixture{
		openai:    llm.NewMockAdapter("openai", "gpt-4o-mini"),
		anthropic: llm.NewMockAdapter("anthropic", "claude-sonnet-4"),
		registry:  prometheus.NewRegistry(),
	}

	breaker := circuit.NewBreaker(circuit.Config{FailureThreshold: 3, Cooldown: time.Minute, Logger: quiet()})
	engine, err := taskengine.New(taskengine.Options{
		Registry: tasks.NewRegistry(),
		Chain:    llm.NewChain(f.openai, f.anthropic),
		Admission: admission.NewController(admission.Config{
			Caps:   map[tasks.Tier]int{tasks.TierFree: 1},
			Logger: quiet(),
		}),
		Breaker: breaker,
		Telemetry: telemetry.NewRecorder(telemetry.Config{
			Breaker: breaker,
			Metrics: telemetry.NewMetrics(f.registry),
			Logger:  logger.Discard("test"),
		}),
		Logger: quiet(),
	})
	require.NoError(t, err)

	srv := New(Config{
		Engine:    engine,
		Resolver:  resolver,
		JWTSecret: secret,
		Gatherer:  f.registry,
		Logger:    logger.Discard("test"),
	})
	srv.std = quiet()
	f.handler = srv.Handler()
	return f
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func (f *fixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) tasks.RunResult {
	t.Helper()
	var res tasks.RunResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func TestHealth(t *testing.T) {
	f := newFixture(t, testSecret, nil)
	rec := f.do(t, "GET", "/health", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, serviceName, body["service"])
}

func TestAuth(t *testing.T) {
	f := newFixture(t, testSecret, nil)
	body := RunTaskRequest{Input: map[string]any{"text": "go engineer"}}

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"garbage token", "not-a-jwt", http.StatusUnauthorized},
		{"wrong secret", signToken(t, "other", jwt.MapClaims{"sub": "u1"}), http.StatusUnauthorized},
		{"expired", signToken(t, testSecret, jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(-time.Hour).Unix()}), http.StatusUnauthorized},
		{"no subject", signToken(t, testSecret, jwt.MapClaims{"role": "user"}), http.StatusUnauthorized},
		{"valid", signToken(t, testSecret, jwt.MapClaims{"sub": "u1"}), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, "POST", "/api/v1/tasks/keyword_extraction/run", tt.token, body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestRunTask_Success(t *testing.T) {
	f := newFixture(t, testSecret, nil)
	f.openai.Enqueue(llm.Result{Success: true, Content: `{"keywords":["go","kubernetes"]}`})
	token := signToken(t, testSecret, jwt.MapClaims{"sub": "u1"})

	rec := f.do(t, "POST", "/api/v1/tasks/keyword_extraction/run", token, RunTaskRequest{
		Input:   map[string]any{"text": "go and kubernetes"},
		TraceID: "trace-123",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	res := decodeResult(t, rec)
	assert.True(t, res.OK)
	assert.Equal(t, "openai", res.Provider)
	assert.Equal(t, "trace-123", res.TraceID)
	assert.Equal(t, map[string]any{"keywords": []any{"go", "kubernetes"}}, res.Output)
}

func TestRunTask_Errors(t *testing.T) {
	token := signToken(t, testSecret, jwt.MapClaims{"sub": "u1"})

	t.Run("unknown task", func(t *testing.T) {
		f := newFixture(t, testSecret, nil)
		rec := f.do(t, "POST", "/api/v1/tasks/write_poem/run", token, RunTaskRequest{Input: "x"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, tasks.ReasonUnknownTask, decodeResult(t, rec).ErrorCode)
	})

	t.Run("invalid quality", func(t *testing.T) {
		f := newFixture(t, testSecret, nil)
		rec := f.do(t, "POST", "/api/v1/tasks/keyword_extraction/run", token,
			RunTaskRequest{Input: "x", Quality: "ultra"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, codeInvalidRequest, decodeResult(t, rec).ErrorCode)
		assert.Zero(t, f.openai.CallCount())
	})

	t.Run("malformed body", func(t *testing.T) {
		f := newFixture(t, testSecret, nil)
		req := httptest.NewRequest("POST", "/api/v1/tasks/keyword_extraction/run", strings.NewReader("{"))
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("all providers fail", func(t *testing.T) {
		f := newFixture(t, testSecret, nil)
		f.openai.Enqueue(llm.Result{Success: false, Code: tasks.ReasonProviderError})
		f.anthropic.Enqueue(llm.Result{Success: false, Code: tasks.ReasonProviderError})
		rec := f.do(t, "POST", "/api/v1/tasks/keyword_extraction/run", token, RunTaskRequest{Input: "x"})
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, tasks.ReasonFallbackExhausted, decodeResult(t, rec).ErrorCode)
	})
}

func TestRunTask_TierFromResolver(t *testing.T) {
	f := newFixture(t, testSecret, tier.Static{"coach-1": tasks.TierCoach})
	coach := signToken(t, testSecret, jwt.MapClaims{"sub": "coach-1"})
	free := signToken(t, testSecret, jwt.MapClaims{"sub": "free-1", "tier": "coach"})

	for i := 0; i < 3; i++ {
		rec := f.do(t, "POST", "/api/v1/tasks/keyword_extraction/run", coach, RunTaskRequest{Input: i})
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	// The resolver wins over the token's tier claim.
	rec := f.do(t, "POST", "/api/v1/tasks/keyword_extraction/run", free, RunTaskRequest{Input: "a"})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, "POST", "/api/v1/tasks/keyword_extraction/run", free, RunTaskRequest{Input: "b"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, tasks.ReasonDailyCap, decodeResult(t, rec).ErrorCode)
}

func TestRunTask_NoSecretTrustsHeader(t *testing.T) {
	f := newFixture(t, "", nil)

	send := func(user string) int {
		req := httptest.NewRequest("POST", "/api/v1/tasks/keyword_extraction/run",
			strings.NewReader(`{"input":"x"}`))
		req.Header.Set("X-User-ID", user)
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("alice"))
	assert.Equal(t, http.StatusTooManyRequests, send("alice"))
	assert.Equal(t, http.StatusOK, send("bob"))
}

func TestLegacyTask(t *testing.T) {
	f := newFixture(t, testSecret, nil)
	f.anthropic.Enqueue(llm.Result{Success: true, Content: `{"score":82}`})
	token := signToken(t, testSecret, jwt.MapClaims{"sub": "u1"})

	rec := f.do(t, "POST", "/api/v1/legacy/analyze_resume", token, LegacyTaskRequest{Input: "resume text"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res legacy.LegacyResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, "anthropic", res.Provider)
	assert.NotEmpty(t, res.TraceID)

	rec = f.do(t, "POST", "/api/v1/legacy/keyword_extraction", token, LegacyTaskRequest{Input: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListTasks(t *testing.T) {
	f := newFixture(t, testSecret, nil)
	token := signToken(t, testSecret, jwt.MapClaims{"sub": "u1"})

	rec := f.do(t, "GET", "/api/v1/tasks", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Tasks []struct {
			Task string `json:"task"`
		} `json:"tasks"`
		LegacyTasks []string `json:"legacy_tasks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Tasks, len(tasks.AllTasks))
	assert.Contains(t, body.LegacyTasks, legacy.TaskAnalyzeResume)
}

func TestProviderStatusAndCache(t *testing.T) {
	f := newFixture(t, testSecret, nil)
	token := signToken(t, testSecret, jwt.MapClaims{"sub": "u1"})

	rec := f.do(t, "GET", "/api/v1/providers/status", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		Providers []circuit.Snapshot `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Len(t, status.Providers, 2)
	assert.Equal(t, "openai", status.Providers[0].Provider)
	assert.Equal(t, circuit.StateClosed, status.Providers[0].State)

	rec = f.do(t, "DELETE", "/api/v1/cache", token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, "DELETE", "/api/v1/cache", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPrometheus(t *testing.T) {
	f := newFixture(t, testSecret, nil)
	token := signToken(t, testSecret, jwt.MapClaims{"sub": "u1"})
	f.do(t, "POST", "/api/v1/tasks/keyword_extraction/run", token, RunTaskRequest{Input: "x"})

	rec := f.do(t, "GET", "/prometheus", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "taskengine_invocations_total")
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, testSecret, nil)
	req := httptest.NewRequest("OPTIONS", "/api/v1/tasks/keyword_extraction/run", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		ok   bool
		code string
		want int
	}{
		{true, "", http.StatusOK},
		{false, tasks.ReasonDailyCap, http.StatusTooManyRequests},
		{false, tasks.ReasonUnknownTask, http.StatusBadRequest},
		{false, tasks.ReasonInputTooLarge, http.StatusBadRequest},
		{false, tasks.ReasonFallbackExhausted, http.StatusBadGateway},
		{false, tasks.ReasonInternalError, http.StatusInternalServerError},
		{false, "", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.ok, tt.code), tt.code)
	}
}
