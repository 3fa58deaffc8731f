// Copyright (C) 2026 Ideaplane Labs (oss@ideaplane.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the HTTP surface:
// plan-stream lifecycles, batch item outcomes, and connection health.
// Metrics are exposed via the /metrics endpoint.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace  = "ideaplane"
	pipelineSubsystem = "pipeline"
	batchSubsystem    = "batch"
)

// Metrics holds all Prometheus metrics for the orchestrator.
//
// Initialize once at startup via InitMetrics; all operations are
// thread-safe via Prometheus's internal locking.
type Metrics struct {
	// PlanRunsTotal counts pipeline runs by terminal status.
	// Labels: status (completed, aborted, error)
	PlanRunsTotal *prometheus.CounterVec

	// ActiveStreams tracks currently open progress streams.
	ActiveStreams prometheus.Gauge

	// StreamDurationSeconds measures plan-stream duration end to end.
	// Labels: status (completed, aborted, error)
	StreamDurationSeconds *prometheus.HistogramVec

	// KeepAlivesTotal counts keepalive pings sent on progress streams.
	KeepAlivesTotal prometheus.Counter

	// ClientDisconnectsTotal counts subscribers that dropped before the
	// terminal frame.
	ClientDisconnectsTotal prometheus.Counter

	// BatchItemsTotal counts processed batch items by outcome.
	// Labels: outcome (generated, failed)
	BatchItemsTotal *prometheus.CounterVec

	// BatchJobsTotal counts batch job status transitions.
	// Labels: status (generating, paused, completed, failed)
	BatchJobsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance, set by InitMetrics.
var DefaultMetrics *Metrics

// InitMetrics creates and registers all metrics. Call once at startup;
// calling twice panics on duplicate registration.
func InitMetrics() *Metrics {
	DefaultMetrics = &Metrics{
		PlanRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "runs_total",
				Help:      "Total pipeline runs by terminal status",
			},
			[]string{"status"},
		),

		ActiveStreams: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently open progress streams",
			},
		),

		StreamDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Plan stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		),

		KeepAlivesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "keepalives_total",
				Help:      "Total keepalive pings sent on progress streams",
			},
		),

		ClientDisconnectsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total subscribers that disconnected before the terminal frame",
			},
		),

		BatchItemsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: batchSubsystem,
				Name:      "items_total",
				Help:      "Total processed batch items by outcome",
			},
			[]string{"outcome"},
		),

		BatchJobsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: batchSubsystem,
				Name:      "jobs_total",
				Help:      "Total batch job status transitions",
			},
			[]string{"status"},
		),
	}
	return DefaultMetrics
}

// RecordRun records one finished plan stream.
func (m *Metrics) RecordRun(status string, seconds float64) {
	m.PlanRunsTotal.WithLabelValues(status).Inc()
	m.StreamDurationSeconds.WithLabelValues(status).Observe(seconds)
}

// StreamStarted increments the active stream gauge.
func (m *Metrics) StreamStarted() { m.ActiveStreams.Inc() }

// StreamEnded decrements the active stream gauge.
func (m *Metrics) StreamEnded() { m.ActiveStreams.Dec() }

// RecordKeepAlive counts one keepalive ping.
func (m *Metrics) RecordKeepAlive() { m.KeepAlivesTotal.Inc() }

// RecordClientDisconnect counts one early subscriber drop.
func (m *Metrics) RecordClientDisconnect() { m.ClientDisconnectsTotal.Inc() }

// RecordBatchItem counts one processed batch item.
func (m *Metrics) RecordBatchItem(success bool) {
	outcome := "generated"
	if !success {
		outcome = "failed"
	}
	m.BatchItemsTotal.WithLabelValues(outcome).Inc()
}

// RecordBatchStatus counts one job status transition.
func (m *Metrics) RecordBatchStatus(status string) {
	m.BatchJobsTotal.WithLabelValues(status).Inc()
}
