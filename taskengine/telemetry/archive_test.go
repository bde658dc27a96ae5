// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package telemetry

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPutter struct {
	mock.Mock
	mu      sync.Mutex
	objects map[string][]Event
}

func (m *mockPutter) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(aws.ToString(params.Bucket))
	if err := args.Error(1); err != nil {
		return nil, err
	}

	data, _ := io.ReadAll(params.Body)
	var events []Event
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		var ev Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err == nil {
			events = append(events, ev)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = make(map[string][]Event)
	}
	m.objects[aws.ToString(params.Key)] = events
	return args.Get(0).(*s3.PutObjectOutput), nil
}

func (m *mockPutter) snapshot() map[string][]Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]Event, len(m.objects))
	for k, v := range m.objects {
		out[k] = v
	}
	return out
}

func newTestArchive(t *testing.T, putter *mockPutter, batch int, onDrop func()) *S3Archive {
	t.Helper()
	a, err := NewS3Archive(context.Background(), ArchiveConfig{
		Bucket:        "jobpilot-telemetry",
		Prefix:        "invocations",
		BatchSize:     batch,
		MaxBuffered:   batch,
		FlushInterval: time.Hour,
		Client:        putter,
		Logger:        log.New(io.Discard, "", 0),
		Now:           func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) },
		OnDrop:        onDrop,
	})
	require.NoError(t, err)
	return a
}

func TestS3Archive_FlushesFullBatch(t *testing.T) {
	putter := new(mockPutter)
	putter.On("PutObject", "jobpilot-telemetry").Return(&s3.PutObjectOutput{}, nil)

	a := newTestArchive(t, putter, 2, nil)
	a.Start()

	assert.True(t, a.Enqueue(Event{TraceID: "t1", Task: "cover_letter", OK: true}))
	assert.True(t, a.Enqueue(Event{TraceID: "t2", Task: "cover_letter", Reason: "daily_cap"}))

	require.Eventually(t, func() bool { return len(putter.snapshot()) == 1 }, time.Second, 10*time.Millisecond)
	for key, events := range putter.snapshot() {
		assert.True(t, strings.HasPrefix(key, "invocations/dt=2025-03-01/"), key)
		assert.True(t, strings.HasSuffix(key, ".jsonl"), key)
		require.Len(t, events, 2)
		assert.Equal(t, "t1", events[0].TraceID)
		assert.Equal(t, "daily_cap", events[1].Reason)
	}

	require.NoError(t, a.Close(context.Background()))
}

func TestS3Archive_CloseFlushesRemainder(t *testing.T) {
	putter := new(mockPutter)
	putter.On("PutObject", "jobpilot-telemetry").Return(&s3.PutObjectOutput{}, nil)

	a := newTestArchive(t, putter, 10, nil)
	a.Start()
	a.Enqueue(Event{TraceID: "only"})

	require.NoError(t, a.Close(context.Background()))
	objects := putter.snapshot()
	require.Len(t, objects, 1)
	assert.False(t, a.Enqueue(Event{TraceID: "late"}))
}

func TestS3Archive_DropsWhenBufferFull(t *testing.T) {
	putter := new(mockPutter)
	putter.On("PutObject", "jobpilot-telemetry").Return(nil, errors.New("AccessDenied"))

	drops := 0
	a := newTestArchive(t, putter, 2, func() { drops++ })

	// Not started: nothing drains the buffer.
	assert.True(t, a.Enqueue(Event{TraceID: "a"}))
	assert.True(t, a.Enqueue(Event{TraceID: "b"}))
	assert.False(t, a.Enqueue(Event{TraceID: "c"}))
	assert.Equal(t, 1, drops)

	// Upload errors are logged, never surfaced.
	require.NoError(t, a.Close(context.Background()))
	assert.Empty(t, putter.snapshot())
	putter.AssertNumberOfCalls(t, "PutObject", 1)
}

func TestNewS3Archive_RequiresBucket(t *testing.T) {
	_, err := NewS3Archive(context.Background(), ArchiveConfig{Client: new(mockPutter)})
	assert.Error(t, err)
}

func TestMultiSink(t *testing.T) {
	a, b := &captureSink{}, &captureSink{}
	m := MultiSink{a, b}

	assert.True(t, m.Enqueue(Event{TraceID: "x"}))
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
	assert.False(t, MultiSink{}.Enqueue(Event{}))
}
