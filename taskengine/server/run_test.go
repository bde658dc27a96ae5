// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobpilot/platform/taskengine/config"
	"jobpilot/platform/taskengine/tasks"
)

func fakeOpenAI(t *testing.T, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"model": "gpt-4o-mini",
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 8},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBuild_NoProviders(t *testing.T) {
	cfg := config.Default()
	_, err := Build(context.Background(), cfg)
	assert.ErrorIs(t, err, config.ErrNoProviders)
}

func TestBuild_WithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	upstream := fakeOpenAI(t, `{"keywords":["go"]}`)

	cfg := config.Default()
	cfg.RedisURL = "redis://" + mr.Addr()
	cfg.Providers.OpenAI.APIKey = "sk-test"
	cfg.Providers.OpenAI.BaseURL = upstream.URL
	cfg.Quota.Caps = map[string]int{"free": 1}

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { app.Close(context.Background()) })

	status := app.Engine.ProviderStatus()
	require.Len(t, status, 1)
	assert.Equal(t, "openai", status[0].Provider)
	handler := app.Server.Handler()

	send := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/api/v1/tasks/keyword_extraction/run",
			strings.NewReader(`{"input":{"text":"go developer"}}`))
		req.Header.Set("X-User-ID", user)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	rec := send("alice")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res tasks.RunResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "openai", res.Provider)

	// The quota counter and cached response both live in Redis.
	assert.NotEmpty(t, mr.Keys())
	assert.Equal(t, http.StatusTooManyRequests, send("alice").Code)
}

func TestBuild_RedisUnavailableFallsBack(t *testing.T) {
	upstream := fakeOpenAI(t, `{"keywords":[]}`)

	cfg := config.Default()
	cfg.RedisURL = "redis://127.0.0.1:1"
	cfg.Providers.Order = []string{config.ProviderOpenAI}
	cfg.Providers.OpenAI.APIKey = "sk-test"
	cfg.Providers.OpenAI.BaseURL = upstream.URL

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { app.Close(context.Background()) })
	assert.Nil(t, app.redis)

	rec := httptest.NewRecorder()
	app.Server.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/prometheus", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestBuild_WithoutDatabaseUsesTierClaim(t *testing.T) {
	upstream := fakeOpenAI(t, "Dear hiring manager")

	cfg := config.Default()
	cfg.JWTSecret = testSecret
	cfg.Providers.OpenAI.APIKey = "sk-test"
	cfg.Providers.OpenAI.BaseURL = upstream.URL
	cfg.Quota.Caps = map[string]int{"free": 1, "coach": 0}

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { app.Close(context.Background()) })
	assert.Nil(t, app.Server.resolver)
	handler := app.Server.Handler()

	send := func(claims jwt.MapClaims) int {
		req := httptest.NewRequest("POST", "/api/v1/tasks/cover_letter/run", strings.NewReader(`{"input":"x"}`))
		req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, claims))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	coach := jwt.MapClaims{"sub": "coach-1", "tier": "coach"}
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, send(coach))
	}

	free := jwt.MapClaims{"sub": "free-1"}
	assert.Equal(t, http.StatusOK, send(free))
	assert.Equal(t, http.StatusTooManyRequests, send(free))
}

func TestBuild_InvalidTaskOverride(t *testing.T) {
	cfg := config.Default()
	cfg.Providers.OpenAI.APIKey = "sk-test"
	cfg.Tasks = map[string]tasks.SpecOverride{"write_poem": {}}

	_, err := Build(context.Background(), cfg)
	assert.ErrorIs(t, err, tasks.ErrUnknownTask)
}
