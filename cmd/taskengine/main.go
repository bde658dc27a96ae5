// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

/*
Command taskengine runs the JobPilot AI task execution service.

It serves the primary task API and the legacy task endpoints, enforcing
per-tier daily quotas, caching deterministic responses and falling back
across LLM providers when one fails.

# Usage

	taskengine

# Environment Variables

Providers (at least one is required):
  - OPENAI_API_KEY or OPENAI_API_KEY_SECRET_ARN
  - ANTHROPIC_API_KEY or ANTHROPIC_API_KEY_SECRET_ARN
  - BEDROCK_MODEL, BEDROCK_REGION: enable AWS Bedrock
  - PROVIDER_ORDER: comma-separated fallback order (default: openai,anthropic,bedrock)

Optional:
  - PORT: HTTP server port (default: 8080)
  - REDIS_URL: shared quota counters and response cache
  - DATABASE_URL: tier lookup and invocation persistence
  - JWT_SECRET: HS256 secret for bearer tokens
  - TASK_ENGINE_CONFIG: path to a YAML configuration file
  - LOG_LEVEL: DEBUG, INFO, WARN or ERROR
*/
package main

import (
	"jobpilot/platform/taskengine/server"
)

func main() {
	server.Run()
}
