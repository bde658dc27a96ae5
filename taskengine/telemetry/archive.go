// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// ObjectPutter is the subset of the S3 client used by S3Archive.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ArchiveConfig configures an S3Archive.
type ArchiveConfig struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string // S3-compatible endpoint, e.g. MinIO

	AccessKeyID     string
	SecretAccessKey string

	BatchSize     int
	FlushInterval time.Duration
	MaxBuffered   int

	Client ObjectPutter
	Logger *log.Logger
	Now    func() time.Time
	OnDrop func()
}

// S3Archive batches invocation events into newline-delimited JSON objects
// under <prefix>/dt=YYYY-MM-DD/.
type S3Archive struct {
	client        ObjectPutter
	bucket        string
	prefix        string
	batchSize     int
	maxBuffered   int
	flushInterval time.Duration
	logger        *log.Logger
	now           func() time.Time
	onDrop        func()

	mu     sync.Mutex
	buf    []Event
	closed bool

	kick      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

var _ Sink = (*S3Archive)(nil)

// NewS3Archive creates an archive. When cfg.Client is nil an S3 client is
// built from the default AWS credential chain, or from static credentials
// when both keys are given.
func NewS3Archive(ctx context.Context, cfg ArchiveConfig) (*S3Archive, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.MaxBuffered < cfg.BatchSize {
		cfg.MaxBuffered = cfg.BatchSize * 8
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[TELEMETRY_ARCHIVE] ", log.LstdFlags)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	client := cfg.Client
	if client == nil {
		optFns := []func(*awsconfig.LoadOptions) error{}
		if cfg.Region != "" {
			optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
		}
		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
			optFns = append(optFns, awsconfig.WithCredentialsProvider(creds))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config for archive: %w", err)
		}
		var s3Options []func(*s3.Options)
		if cfg.Endpoint != "" {
			s3Options = append(s3Options, func(o *s3.Options) {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
				o.UsePathStyle = true
			})
		}
		client = s3.NewFromConfig(awsCfg, s3Options...)
	}

	return &S3Archive{
		client:        client,
		bucket:        cfg.Bucket,
		prefix:        cfg.Prefix,
		batchSize:     cfg.BatchSize,
		maxBuffered:   cfg.MaxBuffered,
		flushInterval: cfg.FlushInterval,
		logger:        cfg.Logger,
		now:           cfg.Now,
		onDrop:        cfg.OnDrop,
		kick:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}, nil
}

// Start launches the flush loop.
func (a *S3Archive) Start() {
	a.startOnce.Do(func() {
		go a.run()
	})
}

// Enqueue implements Sink.
func (a *S3Archive) Enqueue(ev Event) bool {
	a.mu.Lock()
	if a.closed || len(a.buf) >= a.maxBuffered {
		closed := a.closed
		a.mu.Unlock()
		if !closed {
			a.logger.Printf("Archive buffer full, dropping event (trace_id=%s)", ev.TraceID)
			if a.onDrop != nil {
				a.onDrop()
			}
		}
		return false
	}
	a.buf = append(a.buf, ev)
	full := len(a.buf) >= a.batchSize
	a.mu.Unlock()

	if full {
		select {
		case a.kick <- struct{}{}:
		default:
		}
	}
	return true
}

// Close stops the loop and uploads whatever is still buffered.
func (a *S3Archive) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		a.mu.Unlock()
		close(a.stop)
	})
	a.Start()
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *S3Archive) run() {
	defer close(a.done)
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.kick:
			a.flush()
		case <-ticker.C:
			a.flush()
		case <-a.stop:
			a.flush()
			return
		}
	}
}

func (a *S3Archive) flush() {
	a.mu.Lock()
	batch := a.buf
	a.buf = nil
	a.mu.Unlock()

	for len(batch) > 0 {
		n := a.batchSize
		if n > len(batch) {
			n = len(batch)
		}
		if err := a.upload(batch[:n]); err != nil {
			a.logger.Printf("Failed to archive %d invocation events: %v", n, err)
		}
		batch = batch[n:]
	}
}

func (a *S3Archive) upload(events []Event) error {
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}

	now := a.now().UTC()
	key := path.Join(a.prefix,
		"dt="+now.Format("2006-01-02"),
		fmt.Sprintf("%d-%s.jsonl", now.UnixNano(), uuid.NewString()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

// MultiSink fans events out to several sinks. Enqueue reports whether any
// sink accepted the event.
type MultiSink []Sink

// Enqueue implements Sink.
func (m MultiSink) Enqueue(ev Event) bool {
	accepted := false
	for _, s := range m {
		if s.Enqueue(ev) {
			accepted = true
		}
	}
	return accepted
}
