// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package config loads task engine configuration from an optional YAML file
// and environment variables. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"jobpilot/platform/taskengine/tasks"
)

// Provider names understood by the loader.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
)

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrNoProviders     = errors.New("no provider is configured")
)

// ProviderConfig configures one HTTP completion provider.
type ProviderConfig struct {
	APIKey          string `yaml:"api_key"`
	APIKeySecretARN string `yaml:"api_key_secret_arn"`
	BaseURL         string `yaml:"base_url"`
	Model           string `yaml:"model"`
}

// BedrockConfig configures AWS Bedrock.
type BedrockConfig struct {
	Enabled bool   `yaml:"enabled"`
	Region  string `yaml:"region"`
	Model   string `yaml:"model"`
}

// ProvidersConfig lists the providers in fallback priority order.
type ProvidersConfig struct {
	Order     []string       `yaml:"order"`
	OpenAI    ProviderConfig `yaml:"openai"`
	Anthropic ProviderConfig `yaml:"anthropic"`
	Bedrock   BedrockConfig  `yaml:"bedrock"`
}

// QuotaConfig configures admission control.
type QuotaConfig struct {
	Timezone            string         `yaml:"timezone"`
	Caps                map[string]int `yaml:"caps"`
	SkipQuotaOnCacheHit bool           `yaml:"skip_quota_on_cache_hit"`
}

// CircuitConfig configures the provider circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
	CooldownSeconds  int `yaml:"cooldown_seconds"`
}

// TelemetryConfig configures invocation persistence.
type TelemetryConfig struct {
	Persist   bool `yaml:"persist"`
	QueueSize int  `yaml:"queue_size"`

	// Optional S3 archive of invocation events.
	ArchiveBucket   string `yaml:"archive_bucket"`
	ArchivePrefix   string `yaml:"archive_prefix"`
	ArchiveRegion   string `yaml:"archive_region"`
	ArchiveEndpoint string `yaml:"archive_endpoint"`
}

// Config is the complete service configuration.
type Config struct {
	Port                   string                        `yaml:"port"`
	DatabaseURL            string                        `yaml:"database_url"`
	RedisURL               string                        `yaml:"redis_url"`
	JWTSecret              string                        `yaml:"jwt_secret"`
	LogLevel               string                        `yaml:"log_level"`
	ProviderTimeoutSeconds int                           `yaml:"provider_timeout_seconds"`
	Providers              ProvidersConfig               `yaml:"providers"`
	Quota                  QuotaConfig                   `yaml:"quota"`
	Circuit                CircuitConfig                 `yaml:"circuit"`
	Telemetry              TelemetryConfig               `yaml:"telemetry"`
	Tasks                  map[string]tasks.SpecOverride `yaml:"tasks"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:                   "8080",
		LogLevel:               "INFO",
		ProviderTimeoutSeconds: 20,
		Providers: ProvidersConfig{
			Order:   []string{ProviderOpenAI, ProviderAnthropic, ProviderBedrock},
			Bedrock: BedrockConfig{Region: "us-east-1"},
		},
		Quota: QuotaConfig{
			Timezone: "America/New_York",
		},
		Circuit: CircuitConfig{
			FailureThreshold: 3,
			CooldownSeconds:  30,
		},
		Telemetry: TelemetryConfig{
			Persist:       true,
			QueueSize:     1024,
			ArchivePrefix: "task-invocations",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// TASK_ENGINE_CONFIG, then environment variables.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("TASK_ENGINE_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Port, "PORT")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.RedisURL, "REDIS_URL")
	setString(&c.JWTSecret, "JWT_SECRET")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.Quota.Timezone, "QUOTA_TIMEZONE")
	setString(&c.Telemetry.ArchiveBucket, "TELEMETRY_ARCHIVE_BUCKET")
	setString(&c.Telemetry.ArchivePrefix, "TELEMETRY_ARCHIVE_PREFIX")
	setString(&c.Telemetry.ArchiveRegion, "TELEMETRY_ARCHIVE_REGION")
	setString(&c.Telemetry.ArchiveEndpoint, "TELEMETRY_ARCHIVE_ENDPOINT")

	setString(&c.Providers.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&c.Providers.OpenAI.APIKeySecretARN, "OPENAI_API_KEY_SECRET_ARN")
	setString(&c.Providers.OpenAI.Model, "OPENAI_MODEL")
	setString(&c.Providers.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	setString(&c.Providers.Anthropic.APIKeySecretARN, "ANTHROPIC_API_KEY_SECRET_ARN")
	setString(&c.Providers.Anthropic.Model, "ANTHROPIC_MODEL")
	setString(&c.Providers.Bedrock.Region, "BEDROCK_REGION")
	if v := os.Getenv("BEDROCK_MODEL"); v != "" {
		c.Providers.Bedrock.Model = v
		c.Providers.Bedrock.Enabled = true
	}
	if v := os.Getenv("PROVIDER_ORDER"); v != "" {
		c.Providers.Order = splitList(v)
	}

	for key, dst := range map[string]*int{
		"CIRCUIT_FAILURE_THRESHOLD": &c.Circuit.FailureThreshold,
		"CIRCUIT_COOLDOWN_SECONDS":  &c.Circuit.CooldownSeconds,
		"PROVIDER_TIMEOUT_SECONDS":  &c.ProviderTimeoutSeconds,
	} {
		if err := setInt(dst, key); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if len(c.Providers.Order) == 0 {
		return ErrNoProviders
	}
	for _, name := range c.Providers.Order {
		switch name {
		case ProviderOpenAI, ProviderAnthropic, ProviderBedrock:
		default:
			return fmt.Errorf("%w: %q", ErrUnknownProvider, name)
		}
	}
	for name := range c.Quota.Caps {
		if !tasks.Tier(name).Valid() {
			return fmt.Errorf("quota.caps: unknown tier %q", name)
		}
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Circuit.FailureThreshold < 0 || c.Circuit.CooldownSeconds < 0 || c.ProviderTimeoutSeconds < 0 {
		return fmt.Errorf("circuit and timeout settings must not be negative")
	}
	return nil
}

// Location returns the quota reference timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Quota.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid quota timezone %q: %w", c.Quota.Timezone, err)
	}
	return loc, nil
}

// TierCaps converts the configured caps to tier keys.
func (c *Config) TierCaps() map[tasks.Tier]int {
	out := make(map[tasks.Tier]int, len(c.Quota.Caps))
	for name, cap := range c.Quota.Caps {
		out[tasks.Tier(name)] = cap
	}
	return out
}

// AttemptTimeout is the per-provider call timeout.
func (c *Config) AttemptTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutSeconds) * time.Second
}

// Cooldown is the open-circuit cooldown.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Circuit.CooldownSeconds) * time.Second
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars expands ${VAR}, $VAR and ${VAR:-default} references.
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}

		defaultVal := ""
		if idx := strings.Index(varName, ":-"); idx != -1 {
			defaultVal = varName[idx+2:]
			varName = varName[:idx]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultVal
	})
}
