// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"jobpilot/platform/shared/logger"
	"jobpilot/platform/taskengine"
	"jobpilot/platform/taskengine/admission"
	"jobpilot/platform/taskengine/cache"
	"jobpilot/platform/taskengine/circuit"
	"jobpilot/platform/taskengine/config"
	"jobpilot/platform/taskengine/llm"
	"jobpilot/platform/taskengine/llm/anthropic"
	"jobpilot/platform/taskengine/llm/bedrock"
	"jobpilot/platform/taskengine/llm/openai"
	"jobpilot/platform/taskengine/tasks"
	"jobpilot/platform/taskengine/telemetry"
	"jobpilot/platform/taskengine/tier"
)

const shutdownTimeout = 15 * time.Second

// App is a fully wired task engine service.
type App struct {
	Config   *config.Config
	Engine   *taskengine.Engine
	Server   *Server
	Registry *prometheus.Registry

	redis   *redis.Client
	db      *sql.DB
	sink    *telemetry.PostgresSink
	archive *telemetry.S3Archive
}

// Run loads configuration from the environment, starts the HTTP server and
// blocks until SIGINT or SIGTERM.
func Run() {
	log.Println("Starting JobPilot Task Engine...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()
	if cfg.NeedsSecrets() {
		sm, err := config.NewAWSSecretsManager(ctx, config.AWSSecretsManagerOptions{
			Region: cfg.Providers.Bedrock.Region,
		})
		if err != nil {
			log.Fatalf("Failed to initialize Secrets Manager: %v", err)
		}
		if err := cfg.ResolveSecrets(ctx, sm); err != nil {
			log.Fatalf("Failed to resolve provider secrets: %v", err)
		}
	}

	app, err := Build(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize task engine: %v", err)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           app.Server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Task engine listening on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down task engine...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
	app.Close(shutdownCtx)
	log.Println("Task engine stopped")
}

// Build wires every component from cfg. Redis and PostgreSQL are optional;
// without them the engine uses in-process state.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{Config: cfg, Registry: prometheus.NewRegistry()}
	app.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	structured := logger.New("task-engine")
	structured.SetLevel(logger.ParseLevel(cfg.LogLevel))

	registry, err := tasks.NewRegistryWithOverrides(cfg.Tasks)
	if err != nil {
		return nil, fmt.Errorf("task overrides: %w", err)
	}

	chain, err := buildChain(ctx, cfg)
	if err != nil {
		return nil, err
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	if cfg.RedisURL != "" {
		client, err := connectRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.Printf("Warning: %v (falling back to in-memory quota and cache)", err)
		} else {
			app.redis = client
		}
	}

	if cfg.DatabaseURL != "" {
		// Don't log DATABASE_URL contents, it may contain credentials.
		log.Printf("DATABASE_URL is set (length: %d chars)", len(cfg.DatabaseURL))
		db, err := connectPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Printf("Warning: %v (tier lookup and invocation persistence disabled)", err)
		} else {
			app.db = db
		}
	}

	var quotaStore admission.Store
	var responseCache cache.Store
	if app.redis != nil {
		quotaStore = admission.NewRedisStore(app.redis)
		responseCache = cache.NewRedisStore(app.redis, nil)
	}

	metrics := telemetry.NewMetrics(app.Registry)
	var sinks telemetry.MultiSink
	if app.db != nil && cfg.Telemetry.Persist {
		app.sink = telemetry.NewPostgresSink(app.db, telemetry.SinkConfig{
			QueueSize: cfg.Telemetry.QueueSize,
			OnDrop:    metrics.DroppedEvents.Inc,
		})
		if err := app.sink.EnsureSchema(ctx); err != nil {
			log.Printf("Warning: failed to ensure telemetry schema: %v", err)
		}
		app.sink.Start()
		sinks = append(sinks, app.sink)
	}
	if cfg.Telemetry.ArchiveBucket != "" {
		archive, err := telemetry.NewS3Archive(ctx, telemetry.ArchiveConfig{
			Bucket:          cfg.Telemetry.ArchiveBucket,
			Prefix:          cfg.Telemetry.ArchivePrefix,
			Region:          cfg.Telemetry.ArchiveRegion,
			Endpoint:        cfg.Telemetry.ArchiveEndpoint,
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			OnDrop:          metrics.DroppedEvents.Inc,
		})
		if err != nil {
			log.Printf("Warning: telemetry archive disabled: %v", err)
		} else {
			archive.Start()
			app.archive = archive
			sinks = append(sinks, archive)
		}
	}
	var sink telemetry.Sink
	if len(sinks) > 0 {
		sink = sinks
	}

	// Without a database the token's tier claim is authoritative.
	var resolver tier.Resolver
	if app.db != nil {
		resolver = tier.NewPostgresResolver(app.db, time.Minute)
	}

	breaker := circuit.NewBreaker(circuit.Config{
		FailureThreshold: cfg.Circuit.FailureThreshold,
		Cooldown:         cfg.Cooldown(),
	})

	engine, err := taskengine.New(taskengine.Options{
		Registry: registry,
		Chain:    chain,
		Admission: admission.NewController(admission.Config{
			Caps:     cfg.TierCaps(),
			Location: loc,
			Store:    quotaStore,
		}),
		Cache:   responseCache,
		Breaker: breaker,
		Telemetry: telemetry.NewRecorder(telemetry.Config{
			Breaker: breaker,
			Metrics: metrics,
			Logger:  structured,
			Sink:    sink,
		}),
		AttemptTimeout:      cfg.AttemptTimeout(),
		SkipQuotaOnCacheHit: cfg.Quota.SkipQuotaOnCacheHit,
	})
	if err != nil {
		app.Close(ctx)
		return nil, err
	}
	app.Engine = engine

	if cfg.JWTSecret == "" {
		log.Println("WARNING: JWT_SECRET is not set, trusting the X-User-ID header")
	}
	app.Server = New(Config{
		Engine:    engine,
		Resolver:  resolver,
		JWTSecret: cfg.JWTSecret,
		Gatherer:  app.Registry,
		Logger:    structured,
	})

	log.Printf("Task engine initialized (providers: %v, redis: %t, postgres: %t)",
		chain.Names(), app.redis != nil, app.db != nil)
	return app, nil
}

// Close drains telemetry and releases connections.
func (a *App) Close(ctx context.Context) {
	if a.sink != nil {
		if err := a.sink.Close(ctx); err != nil {
			log.Printf("Telemetry drain incomplete: %v", err)
		}
	}
	if a.archive != nil {
		if err := a.archive.Close(ctx); err != nil {
			log.Printf("Telemetry archive flush incomplete: %v", err)
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

// buildChain creates the provider adapters in configured order. Providers
// without credentials are skipped.
func buildChain(ctx context.Context, cfg *config.Config) (*llm.Chain, error) {
	var adapters []llm.Adapter
	for _, name := range cfg.Providers.Order {
		switch name {
		case config.ProviderOpenAI:
			p := cfg.Providers.OpenAI
			if p.APIKey == "" {
				log.Println("OpenAI API key not set, skipping provider")
				continue
			}
			a, err := openai.New(openai.Config{APIKey: p.APIKey, BaseURL: p.BaseURL, Model: p.Model})
			if err != nil {
				return nil, err
			}
			adapters = append(adapters, a)
		case config.ProviderAnthropic:
			p := cfg.Providers.Anthropic
			if p.APIKey == "" {
				log.Println("Anthropic API key not set, skipping provider")
				continue
			}
			a, err := anthropic.New(anthropic.Config{APIKey: p.APIKey, BaseURL: p.BaseURL, Model: p.Model})
			if err != nil {
				return nil, err
			}
			adapters = append(adapters, a)
		case config.ProviderBedrock:
			b := cfg.Providers.Bedrock
			if !b.Enabled {
				continue
			}
			a, err := bedrock.New(ctx, bedrock.Config{Region: b.Region, Model: b.Model})
			if err != nil {
				return nil, err
			}
			adapters = append(adapters, a)
		}
	}
	if len(adapters) == 0 {
		return nil, config.ErrNoProviders
	}
	return llm.NewChain(adapters...), nil
}

// connectRedis parses a redis:// URL and verifies the connection.
func connectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.Printf("Redis connected: %s", opts.Addr)
	return client, nil
}

func connectPostgres(ctx context.Context, dbURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	log.Println("PostgreSQL connected")
	return db, nil
}
