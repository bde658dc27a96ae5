// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors the recorder feeds.
type Metrics struct {
	Invocations   *prometheus.CounterVec
	ProviderCalls *prometheus.CounterVec
	CacheHits     *prometheus.CounterVec
	Duration      *prometheus.HistogramVec
	EstimatedCost *prometheus.CounterVec
	DroppedEvents prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg. A nil
// registerer leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Invocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskengine_invocations_total",
				Help: "Total task invocations by task and outcome",
			},
			[]string{"task", "outcome"},
		),
		ProviderCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskengine_provider_calls_total",
				Help: "Provider attempts by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskengine_cache_hits_total",
				Help: "Invocations served from the response cache",
			},
			[]string{"task"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskengine_invocation_duration_ms",
				Help:    "End-to-end invocation latency in milliseconds",
				Buckets: []float64{5, 25, 100, 250, 500, 1000, 2500, 5000, 10000, 20000, 60000},
			},
			[]string{"task"},
		),
		EstimatedCost: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskengine_estimated_cost_cents_total",
				Help: "Estimated provider spend in US cents",
			},
			[]string{"provider"},
		),
		DroppedEvents: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "taskengine_telemetry_dropped_total",
				Help: "Invocation events dropped because the sink queue was full",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Invocations, m.ProviderCalls, m.CacheHits, m.Duration, m.EstimatedCost, m.DroppedEvents)
	}
	return m
}
