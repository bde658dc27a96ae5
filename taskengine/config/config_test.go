// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package config

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"jobpilot/platform/taskengine/tasks"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TASK_ENGINE_CONFIG", "")
	t.Setenv("PORT", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, []string{"openai", "anthropic", "bedrock"}, cfg.Providers.Order)
	assert.Equal(t, 3, cfg.Circuit.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Cooldown())
	assert.Equal(t, 20*time.Second, cfg.AttemptTimeout())

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", loc.String())
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9090"
providers:
  order: [anthropic, openai]
  openai:
    api_key: ${TEST_OPENAI_KEY}
    model: ${TEST_OPENAI_MODEL:-gpt-4o-mini}
  anthropic:
    api_key_secret_arn: arn:aws:secretsmanager:us-east-1:123456789012:secret:anthropic
quota:
  timezone: UTC
  caps:
    free: 5
    coach: 0
circuit:
  failure_threshold: 5
tasks:
  keyword_extraction:
    cache_ttl_seconds: 60
`), 0o600))

	t.Setenv("TASK_ENGINE_CONFIG", path)
	t.Setenv("TEST_OPENAI_KEY", "sk-from-file")
	t.Setenv("TEST_OPENAI_MODEL", "")
	t.Setenv("PORT", "7070")
	t.Setenv("CIRCUIT_COOLDOWN_SECONDS", "45")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Port, "environment wins over the file")
	assert.Equal(t, []string{"anthropic", "openai"}, cfg.Providers.Order)
	assert.Equal(t, "sk-from-file", cfg.Providers.OpenAI.APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.Providers.OpenAI.Model)
	assert.Equal(t, 5, cfg.Circuit.FailureThreshold)
	assert.Equal(t, 45*time.Second, cfg.Cooldown())
	assert.Equal(t, map[tasks.Tier]int{tasks.TierFree: 5, tasks.TierCoach: 0}, cfg.TierCaps())
	assert.True(t, cfg.NeedsSecrets())

	reg, err := tasks.NewRegistryWithOverrides(cfg.Tasks)
	require.NoError(t, err)
	spec, _ := reg.Lookup("keyword_extraction")
	ttl, ok := spec.CacheTTL()
	assert.True(t, ok)
	assert.Equal(t, time.Minute, ttl)
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("TASK_ENGINE_CONFIG", "")
	t.Setenv("CIRCUIT_FAILURE_THRESHOLD", "three")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   error
	}{
		{"unknown provider", func(c *Config) { c.Providers.Order = []string{"cohere"} }, ErrUnknownProvider},
		{"no providers", func(c *Config) { c.Providers.Order = nil }, ErrNoProviders},
		{"bad tier", func(c *Config) { c.Quota.Caps = map[string]int{"gold": 1} }, nil},
		{"bad timezone", func(c *Config) { c.Quota.Timezone = "Mars/Olympus" }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			if tt.want != nil {
				assert.True(t, errors.Is(err, tt.want))
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("EXPAND_SET", "value")
	t.Setenv("EXPAND_EMPTY", "")

	assert.Equal(t, "a=value", expandEnvVars("a=${EXPAND_SET}"))
	assert.Equal(t, "a=value", expandEnvVars("a=$EXPAND_SET"))
	assert.Equal(t, "a=fallback", expandEnvVars("a=${EXPAND_EMPTY:-fallback}"))
	assert.Equal(t, "a=", expandEnvVars("a=${EXPAND_EMPTY}"))
}

type mockSecretsAPI struct {
	mock.Mock
}

func (m *mockSecretsAPI) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	args := m.Called(ctx, aws.ToString(params.SecretId))
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*secretsmanager.GetSecretValueOutput), args.Error(1)
}

func newTestSecrets(t *testing.T, api *mockSecretsAPI) *AWSSecretsManager {
	t.Helper()
	sm, err := NewAWSSecretsManager(context.Background(), AWSSecretsManagerOptions{
		Client: api,
		Logger: log.New(io.Discard, "", 0),
	})
	require.NoError(t, err)
	return sm
}

func TestAWSSecretsManager_GetSecret(t *testing.T) {
	api := new(mockSecretsAPI)
	api.On("GetSecretValue", mock.Anything, "arn:json").
		Return(&secretsmanager.GetSecretValueOutput{SecretString: aws.String(`{"api_key":"sk-json"}`)}, nil).Once()
	api.On("GetSecretValue", mock.Anything, "arn:plain").
		Return(&secretsmanager.GetSecretValueOutput{SecretString: aws.String("sk-plain")}, nil).Once()
	api.On("GetSecretValue", mock.Anything, "arn:missing").
		Return(nil, errors.New("ResourceNotFoundException")).Once()

	sm := newTestSecrets(t, api)
	ctx := context.Background()

	v, err := sm.GetSecret(ctx, "arn:json")
	require.NoError(t, err)
	assert.Equal(t, "sk-json", v["api_key"])

	// Cached: the mock allows only one call per ARN.
	_, err = sm.GetSecret(ctx, "arn:json")
	require.NoError(t, err)

	v, err = sm.GetSecret(ctx, "arn:plain")
	require.NoError(t, err)
	assert.Equal(t, "sk-plain", v["value"])

	_, err = sm.GetSecret(ctx, "arn:missing")
	assert.Error(t, err)
	api.AssertExpectations(t)
}

func TestResolveSecrets(t *testing.T) {
	api := new(mockSecretsAPI)
	api.On("GetSecretValue", mock.Anything, "arn:anthropic").
		Return(&secretsmanager.GetSecretValueOutput{SecretString: aws.String(`{"api_key":"sk-ant"}`)}, nil)

	cfg := Default()
	cfg.Providers.OpenAI.APIKey = "sk-direct"
	cfg.Providers.OpenAI.APIKeySecretARN = "arn:unused"
	cfg.Providers.Anthropic.APIKeySecretARN = "arn:anthropic"

	require.NoError(t, cfg.ResolveSecrets(context.Background(), newTestSecrets(t, api)))
	assert.Equal(t, "sk-direct", cfg.Providers.OpenAI.APIKey)
	assert.Equal(t, "sk-ant", cfg.Providers.Anthropic.APIKey)
	assert.False(t, cfg.NeedsSecrets())
	api.AssertNotCalled(t, "GetSecretValue", mock.Anything, "arn:unused")
}

func TestMaskARN(t *testing.T) {
	assert.Equal(t, "***", maskARN("short"))
	assert.Equal(t, "...89012:ab", maskARN("arn:aws:secretsmanager:123456789012:ab"))
}
