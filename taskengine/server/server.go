// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package server exposes the task engine over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"jobpilot/platform/shared/logger"
	"jobpilot/platform/taskengine"
	"jobpilot/platform/taskengine/circuit"
	"jobpilot/platform/taskengine/legacy"
	"jobpilot/platform/taskengine/tasks"
	"jobpilot/platform/taskengine/tier"
)

const (
	serviceName = "jobpilot-task-engine"

	maxBodyBytes = 1 << 20

	codeInvalidRequest = "invalid_request"
)

// Config wires a Server.
type Config struct {
	Engine    *taskengine.Engine
	Resolver  tier.Resolver
	JWTSecret string
	// Gatherer backs /prometheus. Nil uses the default registry.
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
	Logger         *logger.Logger
}

// Server serves the task engine API.
type Server struct {
	engine    *taskengine.Engine
	resolver  tier.Resolver
	jwtSecret []byte
	gatherer  prometheus.Gatherer
	origins   []string
	log       *logger.Logger
	std       *log.Logger
	started   time.Time
}

// New creates a server.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logger.New("task-engine-api")
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	return &Server{
		engine:    cfg.Engine,
		resolver:  cfg.Resolver,
		jwtSecret: []byte(cfg.JWTSecret),
		gatherer:  cfg.Gatherer,
		origins:   cfg.AllowedOrigins,
		log:       cfg.Logger,
		std:       log.New(os.Stdout, "[API] ", log.LstdFlags),
		started:   time.Now(),
	}
}

// Handler returns the routed, CORS-wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	if s.gatherer != nil {
		r.Handle("/prometheus", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods("GET")
	} else {
		r.Handle("/prometheus", promhttp.Handler()).Methods("GET")
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authenticate)
	api.HandleFunc("/tasks", s.listTasksHandler).Methods("GET")
	api.HandleFunc("/tasks/{task}/run", s.runTaskHandler).Methods("POST")
	api.HandleFunc("/legacy/{task}", s.legacyTaskHandler).Methods("POST")
	api.HandleFunc("/providers/status", s.providerStatusHandler).Methods("GET")
	api.HandleFunc("/cache", s.clearCacheHandler).Methods("DELETE")

	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-User-ID"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

// RunTaskRequest is the body of POST /api/v1/tasks/{task}/run.
type RunTaskRequest struct {
	Input         any            `json:"input"`
	Quality       string         `json:"quality,omitempty"`
	OutputSchema  map[string]any `json:"output_schema,omitempty"`
	SchemaVersion string         `json:"schema_version,omitempty"`
	TraceID       string         `json:"trace_id,omitempty"`
}

func (s *Server) runTaskHandler(w http.ResponseWriter, r *http.Request) {
	task := mux.Vars(r)["task"]
	caller, _ := CallerFrom(r.Context())

	var body RunTaskRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, tasks.Failure(body.TraceID, codeInvalidRequest, err.Error()))
		return
	}

	req := tasks.RunRequest{
		Task:          task,
		Input:         body.Input,
		UserID:        caller.UserID,
		Tier:          caller.Tier,
		TraceID:       body.TraceID,
		OutputSchema:  body.OutputSchema,
		SchemaVersion: body.SchemaVersion,
	}
	if body.Quality != "" {
		q, err := tasks.ParseQuality(body.Quality)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, tasks.Failure(body.TraceID, codeInvalidRequest, err.Error()))
			return
		}
		req.Quality = &q
	}

	res := s.engine.RunTask(r.Context(), req)
	s.log.Info(caller.UserID, res.TraceID, "task finished", map[string]interface{}{
		"task":      task,
		"ok":        res.OK,
		"reason":    res.Reason,
		"provider":  res.Provider,
		"cache_hit": res.CacheHit,
	})
	writeJSON(w, statusFor(res.OK, res.ErrorCode), res)
}

// LegacyTaskRequest is the body of POST /api/v1/legacy/{task}.
type LegacyTaskRequest struct {
	Input   any    `json:"input"`
	TraceID string `json:"trace_id,omitempty"`
}

func (s *Server) legacyTaskHandler(w http.ResponseWriter, r *http.Request) {
	task := mux.Vars(r)["task"]
	caller, _ := CallerFrom(r.Context())

	var body LegacyTaskRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, legacy.LegacyResult{
			TraceID:   body.TraceID,
			ErrorCode: codeInvalidRequest,
			Error:     err.Error(),
		})
		return
	}

	res := s.engine.RouteLegacyTask(r.Context(), task, body.Input, legacy.Context{
		UserID:  caller.UserID,
		Tier:    caller.Tier,
		TraceID: body.TraceID,
	})
	writeJSON(w, statusFor(res.Success, res.ErrorCode), res)
}

func (s *Server) listTasksHandler(w http.ResponseWriter, r *http.Request) {
	type taskInfo struct {
		Task           tasks.TaskID  `json:"task"`
		DefaultQuality tasks.Quality `json:"default_quality"`
		Cacheable      bool          `json:"cacheable"`
	}
	reg := s.engine.Registry()
	primary := make([]taskInfo, 0, len(reg.Tasks()))
	for _, id := range reg.Tasks() {
		spec, _ := reg.Lookup(string(id))
		_, cacheable := spec.CacheTTL()
		primary = append(primary, taskInfo{Task: id, DefaultQuality: spec.DefaultQuality, Cacheable: cacheable})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tasks":        primary,
		"legacy_tasks": legacy.Tasks(),
	})
}

func (s *Server) providerStatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers": s.engine.ProviderStatus(),
	})
}

func (s *Server) clearCacheHandler(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	s.engine.ClearCache(r.Context())
	s.log.Warn(caller.UserID, "", "response cache cleared", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	providers := s.engine.ProviderStatus()
	status := "healthy"
	open := 0
	for _, p := range providers {
		if p.State == circuit.StateOpen {
			open++
		}
	}
	if open > 0 {
		status = "degraded"
	}
	if open == len(providers) {
		status = "unhealthy"
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status":         status,
		"service":        serviceName,
		"timestamp":      time.Now().UTC(),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"providers":      providers,
	})
}

// statusFor maps a result's error code onto an HTTP status. The body is
// always the result itself.
func statusFor(ok bool, code string) int {
	if ok {
		return http.StatusOK
	}
	switch code {
	case tasks.ReasonDailyCap:
		return http.StatusTooManyRequests
	case tasks.ReasonUnknownTask, tasks.ReasonInputTooLarge, codeInvalidRequest:
		return http.StatusBadRequest
	case tasks.ReasonFallbackExhausted, tasks.ReasonCircuitOpen,
		tasks.ReasonProviderError, tasks.ReasonProviderTimeout, tasks.ReasonSchemaInvalid:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return errors.New("invalid request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func sendErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, errorResponse{Success: false, Error: message})
}
