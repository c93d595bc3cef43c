// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the journal service.
//
// # Metrics Exposed
//
// Decision stream:
//   - retrospecta_stream_subscriptions_active
//   - retrospecta_stream_query_cycles_total{result}
//   - retrospecta_stream_query_cycle_duration_seconds
//   - retrospecta_stream_events_total{type}
//   - retrospecta_stream_interval_changes_total{interval}
//   - retrospecta_stream_keepalives_total
//   - retrospecta_stream_client_disconnects_total
//   - retrospecta_stream_write_failures_total
//   - retrospecta_stream_rate_limited_total
//
// Analysis:
//   - retrospecta_analysis_runs_total{outcome}
//   - retrospecta_analysis_duration_seconds
//
// # Usage
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.SubscriptionStarted()
//	defer metrics.SubscriptionEnded()
//
// All Record methods are safe on a nil *Metrics, which records nothing.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "retrospecta"

const (
	streamSubsystem   = "stream"
	analysisSubsystem = "analysis"
)

// CycleResult labels the outcome of one publisher query cycle.
type CycleResult string

const (
	CycleOK    CycleResult = "ok"
	CycleError CycleResult = "error"
)

// AnalysisOutcome labels the outcome of one analysis run.
type AnalysisOutcome string

const (
	AnalysisCompleted AnalysisOutcome = "completed"
	AnalysisFailed    AnalysisOutcome = "failed"
	AnalysisSkipped   AnalysisOutcome = "skipped"
)

// Metrics holds all journal service collectors.
type Metrics struct {
	// SubscriptionsActive tracks open decision stream subscriptions.
	SubscriptionsActive prometheus.Gauge

	// QueryCyclesTotal counts publisher query cycles.
	// Labels: result (ok, error)
	QueryCyclesTotal *prometheus.CounterVec

	// QueryCycleDurationSeconds measures store round trips per cycle.
	QueryCycleDurationSeconds prometheus.Histogram

	// EventsTotal counts emitted stream events.
	// Labels: type (pending, update, error)
	EventsTotal *prometheus.CounterVec

	// IntervalChangesTotal counts query timer replacements.
	// Labels: interval (new interval, e.g. "3s")
	IntervalChangesTotal *prometheus.CounterVec

	// KeepAlivesTotal counts keepalive comment frames.
	KeepAlivesTotal prometheus.Counter

	// ClientDisconnectsTotal counts subscriptions ended by the client.
	ClientDisconnectsTotal prometheus.Counter

	// WriteFailuresTotal counts subscriptions ended by a failed write.
	WriteFailuresTotal prometheus.Counter

	// RateLimitedTotal counts rejected subscription attempts.
	RateLimitedTotal prometheus.Counter

	// AnalysisRunsTotal counts analysis attempts.
	// Labels: outcome (completed, failed, skipped)
	AnalysisRunsTotal *prometheus.CounterVec

	// AnalysisDurationSeconds measures analyzer latency.
	AnalysisDurationSeconds prometheus.Histogram
}

// NewMetrics creates and registers all collectors with reg.
//
// # Description
//
// Pass prometheus.DefaultRegisterer in production so /metrics exposes them.
// Tests pass a fresh prometheus.NewRegistry() to stay isolated.
//
// # Limitations
//
// Registering twice with the same registerer panics, per promauto.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SubscriptionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: streamSubsystem,
			Name:      "subscriptions_active",
			Help:      "Number of open decision stream subscriptions",
		}),
		QueryCyclesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: streamSubsystem,
			Name:      "query_cycles_total",
			Help:      "Total publisher query cycles by result",
		}, []string{"result"}),
		QueryCycleDurationSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: streamSubsystem,
			Name:      "query_cycle_duration_seconds",
			Help:      "Duration of the store reads in one query cycle",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		EventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: streamSubsystem,
			Name:      "events_total",
			Help:      "Total stream events emitted by type",
		}, []string{"type"}),
		IntervalChangesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: streamSubsystem,
			Name:      "interval_changes_total",
			Help:      "Total query timer replacements by new interval",
		}, []string{"interval"}),
		KeepAlivesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: streamSubsystem,
			Name:      "keepalives_total",
			Help:      "Total keepalive frames sent",
		}),
		ClientDisconnectsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: streamSubsystem,
			Name:      "client_disconnects_total",
			Help:      "Total subscriptions closed by the client",
		}),
		WriteFailuresTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: streamSubsystem,
			Name:      "write_failures_total",
			Help:      "Total subscriptions closed by a failed write",
		}),
		RateLimitedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: streamSubsystem,
			Name:      "rate_limited_total",
			Help:      "Total subscription attempts rejected by the rate limiter",
		}),
		AnalysisRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: analysisSubsystem,
			Name:      "runs_total",
			Help:      "Total analysis runs by outcome",
		}, []string{"outcome"}),
		AnalysisDurationSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: analysisSubsystem,
			Name:      "duration_seconds",
			Help:      "Analyzer latency in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30},
		}),
	}
}

// SubscriptionStarted increments the active subscription gauge.
func (m *Metrics) SubscriptionStarted() {
	if m == nil {
		return
	}
	m.SubscriptionsActive.Inc()
}

// SubscriptionEnded decrements the active subscription gauge.
func (m *Metrics) SubscriptionEnded() {
	if m == nil {
		return
	}
	m.SubscriptionsActive.Dec()
}

// RecordCycle records one query cycle.
func (m *Metrics) RecordCycle(result CycleResult, d time.Duration) {
	if m == nil {
		return
	}
	m.QueryCyclesTotal.WithLabelValues(string(result)).Inc()
	m.QueryCycleDurationSeconds.Observe(d.Seconds())
}

// RecordEvent records one emitted stream event.
func (m *Metrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(eventType).Inc()
}

// RecordIntervalChange records a query timer replacement.
func (m *Metrics) RecordIntervalChange(interval time.Duration) {
	if m == nil {
		return
	}
	m.IntervalChangesTotal.WithLabelValues(interval.String()).Inc()
}

// RecordKeepAlive records one keepalive frame.
func (m *Metrics) RecordKeepAlive() {
	if m == nil {
		return
	}
	m.KeepAlivesTotal.Inc()
}

// RecordClientDisconnect records a subscription closed by the client.
func (m *Metrics) RecordClientDisconnect() {
	if m == nil {
		return
	}
	m.ClientDisconnectsTotal.Inc()
}

// RecordWriteFailure records a subscription closed by a failed write.
func (m *Metrics) RecordWriteFailure() {
	if m == nil {
		return
	}
	m.WriteFailuresTotal.Inc()
}

// RecordRateLimited records a rejected subscription attempt.
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}

// RecordAnalysis records one analysis run.
func (m *Metrics) RecordAnalysis(outcome AnalysisOutcome, d time.Duration) {
	if m == nil {
		return
	}
	m.AnalysisRunsTotal.WithLabelValues(string(outcome)).Inc()
	if outcome != AnalysisSkipped {
		m.AnalysisDurationSeconds.Observe(d.Seconds())
	}
}
