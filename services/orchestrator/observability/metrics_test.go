// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/parityqa/parity/services/orchestrator/datatypes"
)

// ============================================================================
// Test Helper: Create isolated metrics for testing
// ============================================================================

// newTestMetrics creates a ValidationMetrics instance with a custom
// registry. This avoids conflicts with the global Prometheus registry
// and allows parallel testing.
func newTestMetrics(t *testing.T) *ValidationMetrics {
	t.Helper()

	reg := prometheus.NewRegistry()

	m := &ValidationMetrics{
		SessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace, Subsystem: validationSubsystem,
				Name: "sessions_total", Help: "test",
			},
			[]string{"scope", "status"},
		),
		ResultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace, Subsystem: validationSubsystem,
				Name: "results_total", Help: "test",
			},
			[]string{"result"},
		),
		StageDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace, Subsystem: validationSubsystem,
				Name: "stage_duration_seconds", Help: "test",
				Buckets: []float64{1, 10, 60},
			},
			[]string{"stage"},
		),
		DiscrepanciesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace, Subsystem: validationSubsystem,
				Name: "discrepancies_total", Help: "test",
			},
			[]string{"category", "severity"},
		),
		TokensTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace, Subsystem: "llm",
				Name: "tokens_total", Help: "test",
			},
		),
		CostUSD: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace, Subsystem: "llm",
				Name: "cost_usd_total", Help: "test",
			},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace, Subsystem: "scheduler",
				Name: "queue_depth", Help: "test",
			},
			[]string{"priority"},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace, Subsystem: "scheduler",
				Name: "active_sessions", Help: "test",
			},
		),
		AdmissionsRefusedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace, Subsystem: "scheduler",
				Name: "admissions_refused_total", Help: "test",
			},
		),
		ProgressSubscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace, Subsystem: "progress",
				Name: "subscribers", Help: "test",
			},
		),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace, Subsystem: "api",
				Name: "requests_total", Help: "test",
			},
			[]string{"route", "status"},
		),
	}

	reg.MustRegister(
		m.SessionsTotal, m.ResultsTotal, m.StageDurationSeconds,
		m.DiscrepanciesTotal, m.TokensTotal, m.CostUSD, m.QueueDepth,
		m.ActiveSessions, m.AdmissionsRefusedTotal, m.ProgressSubscribers,
		m.RequestsTotal,
	)

	return m
}

// ============================================================================
// InitMetrics Tests
// ============================================================================

// InitMetrics uses promauto against the default registry, so it can run
// at most once per test binary.
var initMetricsTestOnce bool

func TestInitMetrics(t *testing.T) {
	if initMetricsTestOnce {
		t.Skip("InitMetrics can only be called once per test run (promauto restriction)")
	}
	initMetricsTestOnce = true

	result := InitMetrics()
	if result == nil {
		t.Fatal("InitMetrics() returned nil")
	}
	if DefaultMetrics != result {
		t.Error("DefaultMetrics should equal the returned value")
	}
	if result.SessionsTotal == nil || result.ResultsTotal == nil ||
		result.StageDurationSeconds == nil || result.DiscrepanciesTotal == nil ||
		result.QueueDepth == nil || result.RequestsTotal == nil {
		t.Error("InitMetrics left a metric nil")
	}

	// Verify metrics can be used.
	result.RecordSession(datatypes.ScopeUI, datatypes.SessionCompleted)
	result.RecordStageDuration("analysis", 1.5)
	result.RecordRequest("/api/validate", 202)
}

func TestConstants(t *testing.T) {
	if metricsNamespace != "parity" {
		t.Errorf("metricsNamespace = %q, want %q", metricsNamespace, "parity")
	}
	if validationSubsystem != "validation" {
		t.Errorf("validationSubsystem = %q, want %q", validationSubsystem, "validation")
	}
}

// ============================================================================
// RecordSession / RecordResult Tests
// ============================================================================

func TestRecordSession(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordSession(datatypes.ScopeFull, datatypes.SessionCompleted)
	m.RecordSession(datatypes.ScopeFull, datatypes.SessionCompleted)
	m.RecordSession(datatypes.ScopeUI, datatypes.SessionFailed)

	val := testutil.ToFloat64(m.SessionsTotal.WithLabelValues("full", "completed"))
	if val != 2 {
		t.Errorf("SessionsTotal[full,completed] = %f, want 2", val)
	}
	val = testutil.ToFloat64(m.SessionsTotal.WithLabelValues("ui", "failed"))
	if val != 1 {
		t.Errorf("SessionsTotal[ui,failed] = %f, want 1", val)
	}
}

func TestRecordResult(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordResult(datatypes.UnifiedResult{
		Status: datatypes.StatusApprovedWarnings,
		Discrepancies: []datatypes.Discrepancy{
			{Category: datatypes.CategoryUI, Severity: datatypes.SeverityWarning},
			{Category: datatypes.CategoryUI, Severity: datatypes.SeverityWarning},
			{Category: datatypes.CategoryAPI, Severity: datatypes.SeverityCritical},
		},
		TokensUsed:  1200,
		CostUSD:     0.034,
		GeneratedAt: time.Now().UTC(),
	})

	val := testutil.ToFloat64(m.ResultsTotal.WithLabelValues("approved-with-warnings"))
	if val != 1 {
		t.Errorf("ResultsTotal = %f, want 1", val)
	}
	val = testutil.ToFloat64(m.DiscrepanciesTotal.WithLabelValues("ui", "warning"))
	if val != 2 {
		t.Errorf("DiscrepanciesTotal[ui,warning] = %f, want 2", val)
	}
	val = testutil.ToFloat64(m.TokensTotal)
	if val != 1200 {
		t.Errorf("TokensTotal = %f, want 1200", val)
	}
}

// ============================================================================
// Request / Scheduler Gauge Tests
// ============================================================================

func TestRecordRequestStatusClass(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordRequest("/api/validate", 202)
	m.RecordRequest("/api/validate", 400)
	m.RecordRequest("/api/validate", 404)
	m.RecordRequest("/api/validate", 500)

	if v := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/api/validate", "2xx")); v != 1 {
		t.Errorf("RequestsTotal[2xx] = %f, want 1", v)
	}
	if v := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/api/validate", "4xx")); v != 2 {
		t.Errorf("RequestsTotal[4xx] = %f, want 2", v)
	}
	if v := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/api/validate", "5xx")); v != 1 {
		t.Errorf("RequestsTotal[5xx] = %f, want 1", v)
	}
}

func TestQueueDepthGauge(t *testing.T) {
	m := newTestMetrics(t)

	m.SetQueueDepth(3, 7)

	if v := testutil.ToFloat64(m.QueueDepth.WithLabelValues("interactive")); v != 3 {
		t.Errorf("QueueDepth[interactive] = %f, want 3", v)
	}
	if v := testutil.ToFloat64(m.QueueDepth.WithLabelValues("batch")); v != 7 {
		t.Errorf("QueueDepth[batch] = %f, want 7", v)
	}
}

func TestSubscriberGauge(t *testing.T) {
	m := newTestMetrics(t)

	m.SubscriberConnected()
	m.SubscriberConnected()
	m.SubscriberDisconnected()

	if v := testutil.ToFloat64(m.ProgressSubscribers); v != 1 {
		t.Errorf("ProgressSubscribers = %f, want 1", v)
	}
}

// ============================================================================
// Concurrent Safety Tests
// ============================================================================

func TestConcurrentSafety(t *testing.T) {
	m := newTestMetrics(t)

	done := make(chan bool, 60)
	for i := 0; i < 20; i++ {
		go func() {
			m.RecordSession(datatypes.ScopeAPI, datatypes.SessionCompleted)
			done <- true
		}()
	}
	for i := 0; i < 20; i++ {
		go func() {
			m.RecordRequest("/api/validate", 202)
			done <- true
		}()
	}
	for i := 0; i < 20; i++ {
		go func() {
			m.RecordStageDuration("comparison", 0.5)
			m.AdmissionsRefusedTotal.Inc()
			done <- true
		}()
	}
	for i := 0; i < 60; i++ {
		<-done
	}

	if v := testutil.ToFloat64(m.SessionsTotal.WithLabelValues("api", "completed")); v != 20 {
		t.Errorf("SessionsTotal = %f, want 20", v)
	}
	if v := testutil.ToFloat64(m.AdmissionsRefusedTotal); v != 20 {
		t.Errorf("AdmissionsRefusedTotal = %f, want 20", v)
	}
}
