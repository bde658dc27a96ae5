// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package telemetry

import (
	"context"
	"database/sql"
	"log"
	"os"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

// DefaultQueueSize bounds the number of events waiting for the database.
const DefaultQueueSize = 1024

// Event is one persisted invocation record.
type Event struct {
	TraceID   string    `json:"trace_id"`
	Task      string    `json:"task"`
	UserID    string    `json:"user_id,omitempty"`
	Tier      string    `json:"tier,omitempty"`
	OK        bool      `json:"ok"`
	Reason    string    `json:"reason,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	Model     string    `json:"model,omitempty"`
	LatencyMs int64     `json:"latency_ms"`
	CacheHit  bool      `json:"cache_hit"`
	CreatedAt time.Time `json:"created_at"`
}

// Sink receives invocation events. Enqueue must not block.
type Sink interface {
	Enqueue(ev Event) bool
}

// SchemaSQL creates the invocation table used by PostgresSink.
const SchemaSQL = `
CREATE TABLE IF NOT EXISTS task_invocations (
	id          BIGSERIAL PRIMARY KEY,
	trace_id    TEXT NOT NULL,
	task        TEXT NOT NULL,
	user_id     TEXT,
	tier        TEXT,
	ok          BOOLEAN NOT NULL,
	reason      TEXT,
	provider    TEXT,
	model       TEXT,
	latency_ms  BIGINT NOT NULL,
	cache_hit   BOOLEAN NOT NULL DEFAULT FALSE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const insertEventSQL = `
	INSERT INTO task_invocations (
		trace_id, task, user_id, tier, ok, reason,
		provider, model, latency_ms, cache_hit, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

// SinkConfig configures a PostgresSink.
type SinkConfig struct {
	QueueSize    int
	WriteTimeout time.Duration
	Logger       *log.Logger
	// OnDrop is called for every event rejected by a full queue.
	OnDrop func()
}

// PostgresSink writes invocation events to PostgreSQL from a single worker
// goroutine. Events that do not fit in the queue are dropped.
type PostgresSink struct {
	db      *sql.DB
	queue   chan Event
	timeout time.Duration
	logger  *log.Logger
	onDrop  func()

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
	mu        sync.RWMutex
	closed    bool
}

// NewPostgresSink creates a sink. Call Start to begin draining the queue.
func NewPostgresSink(db *sql.DB, cfg SinkConfig) *PostgresSink {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[TELEMETRY] ", log.LstdFlags)
	}
	return &PostgresSink{
		db:      db,
		queue:   make(chan Event, cfg.QueueSize),
		timeout: cfg.WriteTimeout,
		logger:  cfg.Logger,
		onDrop:  cfg.OnDrop,
		done:    make(chan struct{}),
	}
}

// EnsureSchema creates the invocation table if it does not exist.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, SchemaSQL)
	return err
}

// Start launches the worker goroutine.
func (s *PostgresSink) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

// Enqueue implements Sink.
func (s *PostgresSink) Enqueue(ev Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.queue <- ev:
		return true
	default:
		s.logger.Printf("Queue full, dropping invocation event (trace_id=%s task=%s)", ev.TraceID, ev.Task)
		if s.onDrop != nil {
			s.onDrop()
		}
		return false
	}
}

// Close stops accepting events and waits for the queue to drain or ctx to
// expire.
func (s *PostgresSink) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
	})
	s.Start()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *PostgresSink) run() {
	defer close(s.done)
	for ev := range s.queue {
		s.write(ev)
	}
}

func (s *PostgresSink) write(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, insertEventSQL,
		ev.TraceID, ev.Task, nullString(ev.UserID), nullString(ev.Tier), ev.OK,
		nullString(ev.Reason), nullString(ev.Provider), nullString(ev.Model),
		ev.LatencyMs, ev.CacheHit, ev.CreatedAt)
	if err != nil {
		s.logger.Printf("Failed to record invocation %s: %v", ev.TraceID, err)
	}
}

// nullString converts an empty string to NULL for database insertion
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
