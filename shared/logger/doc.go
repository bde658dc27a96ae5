// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

/*
Package logger provides structured JSON logging for the task engine.

# Overview

Each log entry is written as a single JSON line and includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (task-engine, legacy-router, etc.)
  - Instance ID and container name
  - User ID and trace ID for request correlation
  - Custom fields

# Usage

	log := logger.New("task-engine")

	log.Info("user-123", "trace-456", "Task completed", map[string]interface{}{
	    "task":     "keyword_extraction",
	    "provider": "openai",
	})

	log.ErrorWithCode("user-123", "trace-456", "Task failed", 502, err, nil)

# Environment Variables

  - INSTANCE_ID: Deployment instance identifier
  - LOG_LEVEL: Minimum level written (default INFO)

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger
