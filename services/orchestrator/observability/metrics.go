// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the validation
// engine: session counters by scope and outcome, pipeline stage
// durations, LLM budget consumption, and scheduler occupancy gauges.
//
// Metrics are exposed on /metrics. All operations are thread-safe via
// Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/parityqa/parity/services/orchestrator/datatypes"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "parity"

const validationSubsystem = "validation"

// ValidationMetrics holds all Prometheus metrics for validation
// sessions. Initialize once at startup via InitMetrics.
type ValidationMetrics struct {
	// SessionsTotal counts sessions by scope and terminal status.
	// Labels: scope, status (completed, failed, cancelled, timed-out)
	SessionsTotal *prometheus.CounterVec

	// ResultsTotal counts unified results by verdict.
	// Labels: result (approved, approved-with-warnings, rejected, error)
	ResultsTotal *prometheus.CounterVec

	// StageDurationSeconds measures per-stage pipeline latency.
	// Labels: stage (analysis, comparison, behavioral, synthesis)
	StageDurationSeconds *prometheus.HistogramVec

	// DiscrepanciesTotal counts discrepancies by category and severity.
	DiscrepanciesTotal *prometheus.CounterVec

	// TokensTotal counts LLM tokens charged to sessions.
	TokensTotal prometheus.Counter

	// CostUSD accumulates LLM spend in US dollars.
	CostUSD prometheus.Counter

	// QueueDepth tracks sessions waiting for a worker, by priority band.
	QueueDepth *prometheus.GaugeVec

	// ActiveSessions tracks sessions currently holding a worker.
	ActiveSessions prometheus.Gauge

	// AdmissionsRefusedTotal counts submissions refused under backpressure.
	AdmissionsRefusedTotal prometheus.Counter

	// ProgressSubscribers tracks open progress stream connections.
	ProgressSubscribers prometheus.Gauge

	// RequestsTotal counts API requests by route and status class.
	// Labels: route, status (2xx, 4xx, 5xx)
	RequestsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance, set by InitMetrics.
var DefaultMetrics *ValidationMetrics

// InitMetrics creates and registers all metrics against the default
// Prometheus registry. Call once at startup; a second call panics on
// duplicate registration.
func InitMetrics() *ValidationMetrics {
	DefaultMetrics = &ValidationMetrics{
		SessionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: validationSubsystem,
				Name:      "sessions_total",
				Help:      "Validation sessions by scope and terminal status",
			},
			[]string{"scope", "status"},
		),

		ResultsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: validationSubsystem,
				Name:      "results_total",
				Help:      "Unified results by verdict",
			},
			[]string{"result"},
		),

		StageDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: validationSubsystem,
				Name:      "stage_duration_seconds",
				Help:      "Pipeline stage duration in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"stage"},
		),

		DiscrepanciesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: validationSubsystem,
				Name:      "discrepancies_total",
				Help:      "Discrepancies found, by category and severity",
			},
			[]string{"category", "severity"},
		),

		TokensTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "llm",
				Name:      "tokens_total",
				Help:      "LLM tokens charged across all sessions",
			},
		),

		CostUSD: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "llm",
				Name:      "cost_usd_total",
				Help:      "LLM spend in US dollars across all sessions",
			},
		),

		QueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "scheduler",
				Name:      "queue_depth",
				Help:      "Sessions waiting for a worker, by priority band",
			},
			[]string{"priority"},
		),

		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "scheduler",
				Name:      "active_sessions",
				Help:      "Sessions currently holding a worker",
			},
		),

		AdmissionsRefusedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "scheduler",
				Name:      "admissions_refused_total",
				Help:      "Submissions refused under backpressure or caps",
			},
		),

		ProgressSubscribers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "progress",
				Name:      "subscribers",
				Help:      "Open progress stream connections",
			},
		),

		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "API requests by route and status class",
			},
			[]string{"route", "status"},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordSession records a session reaching a terminal status.
func (m *ValidationMetrics) RecordSession(scope datatypes.Scope, status datatypes.SessionStatus) {
	m.SessionsTotal.WithLabelValues(string(scope), string(status)).Inc()
}

// RecordResult records a synthesized unified result: its verdict, its
// discrepancy counts, and its budget consumption.
func (m *ValidationMetrics) RecordResult(result datatypes.UnifiedResult) {
	m.ResultsTotal.WithLabelValues(string(result.Status)).Inc()
	for _, d := range result.Discrepancies {
		m.DiscrepanciesTotal.WithLabelValues(string(d.Category), string(d.Severity)).Inc()
	}
	m.TokensTotal.Add(float64(result.TokensUsed))
	m.CostUSD.Add(result.CostUSD)
}

// RecordStageDuration records one pipeline stage's wall time.
func (m *ValidationMetrics) RecordStageDuration(stage string, seconds float64) {
	m.StageDurationSeconds.WithLabelValues(stage).Observe(seconds)
}

// RecordRequest records an API request outcome by status class.
func (m *ValidationMetrics) RecordRequest(route string, statusCode int) {
	class := "2xx"
	switch {
	case statusCode >= 500:
		class = "5xx"
	case statusCode >= 400:
		class = "4xx"
	}
	m.RequestsTotal.WithLabelValues(route, class).Inc()
}

// SetQueueDepth updates the per-band queue depth gauges.
func (m *ValidationMetrics) SetQueueDepth(interactive, batch int) {
	m.QueueDepth.WithLabelValues(string(datatypes.PriorityInteractive)).Set(float64(interactive))
	m.QueueDepth.WithLabelValues(string(datatypes.PriorityBatch)).Set(float64(batch))
}

// SubscriberConnected increments the progress subscriber gauge.
func (m *ValidationMetrics) SubscriberConnected() {
	m.ProgressSubscribers.Inc()
}

// SubscriberDisconnected decrements the progress subscriber gauge.
func (m *ValidationMetrics) SubscriberDisconnected() {
	m.ProgressSubscribers.Dec()
}
