// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analysis drives decisions through the analysis lifecycle.
//
// The Worker claims PENDING records, moves them to PROCESSING, calls an
// Analyzer and writes the terminal COMPLETED or FAILED state. Every write
// goes through store.Update so UpdatedAt advances and connected streams see
// each transition.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/juju/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sergii-nosachenko/retrospecta/pkg/decision"
	"github.com/sergii-nosachenko/retrospecta/pkg/telemetry"
	"github.com/sergii-nosachenko/retrospecta/services/journal/observability"
	"github.com/sergii-nosachenko/retrospecta/services/journal/store"
)

// errNotClaimable aborts a claim when another writer moved the record first.
var errNotClaimable = errors.New("record is no longer pending")

// =============================================================================
// Configuration
// =============================================================================

// Config holds configuration for the analysis worker.
//
// # Fields
//
//   - Interval: Pause between cycles. Default: 5s.
//   - BatchSize: Maximum records claimed per cycle. Default: 10.
//   - Clock: Drives the cycle timer. Default: clock.WallClock.
//   - Logger: Default: slog.Default().
//   - Metrics: May be nil.
//   - Tracer: Default: global provider tracer.
type Config struct {
	Interval  time.Duration
	BatchSize int
	Clock     clock.Clock
	Logger    *slog.Logger
	Metrics   *observability.Metrics
	Tracer    trace.Tracer
}

// DefaultConfig returns the production worker configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Second,
		BatchSize: 10,
	}
}

func applyConfigDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("github.com/sergii-nosachenko/retrospecta/services/journal/analysis")
	}
	return cfg
}

// CycleResult summarizes one analysis cycle.
type CycleResult struct {
	Claimed   int
	Completed int
	Failed    int
	Skipped   int
	Duration  time.Duration
}

// =============================================================================
// Worker
// =============================================================================

// Worker runs analysis cycles in the background.
//
// # Description
//
// Uses the ticker + done channel pattern: Start launches one goroutine that
// runs a cycle immediately, then one cycle per Interval until Stop or ctx
// cancellation. Records left PROCESSING by a previous process are returned
// to PENDING on Start.
//
// # Thread Safety
//
// All public methods are safe for concurrent use.
//
// # Limitations
//
//   - Only one Worker should run against a store; claims are not leased.
type Worker struct {
	store    store.Store
	analyzer Analyzer
	cfg      Config

	mu      sync.Mutex
	running bool
	done    chan struct{}
	exited  chan struct{}
}

// NewWorker creates a worker. Start must be called to begin processing.
func NewWorker(st store.Store, analyzer Analyzer, cfg Config) *Worker {
	return &Worker{
		store:    st,
		analyzer: analyzer,
		cfg:      applyConfigDefaults(cfg),
	}
}

// Start launches the background loop.
//
// # Outputs
//
//   - error: Non-nil if the worker is already running.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("analysis worker is already running")
	}
	w.running = true
	w.done = make(chan struct{})
	w.exited = make(chan struct{})

	w.cfg.Logger.Info("analysis worker starting",
		slog.String("interval", w.cfg.Interval.String()),
		slog.Int("batch_size", w.cfg.BatchSize))

	go w.runLoop(ctx, w.done, w.exited)
	return nil
}

// Stop signals the loop and waits for the current cycle to finish.
// Safe to call multiple times.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.done)
	exited := w.exited
	w.mu.Unlock()

	<-exited
	w.cfg.Logger.Info("analysis worker stopped")
	return nil
}

// RunNow runs one cycle synchronously, independent of the schedule.
func (w *Worker) RunNow(ctx context.Context) (CycleResult, error) {
	return w.runCycle(ctx)
}

func (w *Worker) runLoop(ctx context.Context, done <-chan struct{}, exited chan<- struct{}) {
	defer close(exited)

	if n, err := w.recoverStale(ctx); err != nil {
		w.cfg.Logger.Error("analysis recovery failed", slog.String("error", err.Error()))
	} else if n > 0 {
		w.cfg.Logger.Info("requeued interrupted analyses", slog.Int("count", n))
	}

	// Run an initial cycle immediately on start
	w.executeCycle(ctx)

	timer := w.cfg.Clock.NewTimer(w.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-timer.Chan():
			w.executeCycle(ctx)
			timer.Reset(w.cfg.Interval)
		}
	}
}

func (w *Worker) executeCycle(ctx context.Context) {
	result, err := w.runCycle(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.cfg.Logger.Error("analysis cycle failed", slog.String("error", err.Error()))
		}
		return
	}
	if result.Claimed > 0 {
		w.cfg.Logger.Info("analysis cycle completed",
			slog.Int("claimed", result.Claimed),
			slog.Int("completed", result.Completed),
			slog.Int("failed", result.Failed),
			slog.Int("skipped", result.Skipped),
			slog.Int64("duration_ms", result.Duration.Milliseconds()))
	} else {
		w.cfg.Logger.Debug("analysis cycle completed (nothing pending)")
	}
}

// runCycle claims and analyzes up to BatchSize pending records, oldest first.
func (w *Worker) runCycle(ctx context.Context) (CycleResult, error) {
	start := w.cfg.Clock.Now()
	var result CycleResult

	pending, err := w.store.ListByStatus(ctx, decision.StatusPending, w.cfg.BatchSize)
	if err != nil {
		return result, fmt.Errorf("list pending: %w", err)
	}

	for _, rec := range pending {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		claimed, err := w.claim(ctx, rec)
		if err != nil {
			if errors.Is(err, errNotClaimable) || errors.Is(err, store.ErrNotFound) {
				result.Skipped++
				w.cfg.Metrics.RecordAnalysis(observability.AnalysisSkipped, 0)
				continue
			}
			return result, fmt.Errorf("claim %s: %w", rec.ID, err)
		}
		result.Claimed++

		switch w.process(ctx, claimed) {
		case observability.AnalysisCompleted:
			result.Completed++
		case observability.AnalysisFailed:
			result.Failed++
		default:
			result.Skipped++
		}
	}

	result.Duration = w.cfg.Clock.Now().Sub(start)
	return result, nil
}

func (w *Worker) claim(ctx context.Context, rec *decision.Record) (*decision.Record, error) {
	return w.store.Update(ctx, rec.UserID, rec.ID, func(r *decision.Record) error {
		if r.Status != decision.StatusPending {
			return errNotClaimable
		}
		r.Status = decision.StatusProcessing
		r.AnalysisAttempts++
		return nil
	})
}

// process analyzes a claimed record and writes its terminal state.
func (w *Worker) process(ctx context.Context, rec *decision.Record) observability.AnalysisOutcome {
	start := w.cfg.Clock.Now()
	spanCtx, span := w.cfg.Tracer.Start(ctx, "analysis.analyze",
		trace.WithAttributes(
			attribute.String("decision.id", rec.ID),
			attribute.Int("decision.attempt", rec.AnalysisAttempts)))
	defer span.End()

	logger := telemetry.LoggerWithTrace(spanCtx, w.cfg.Logger).With(
		slog.String("decision_id", rec.ID),
		slog.String("user_id", rec.UserID))

	res, analyzeErr := w.analyzer.Analyze(spanCtx, rec)
	if analyzeErr != nil {
		span.RecordError(analyzeErr)
		span.SetStatus(codes.Error, "analysis failed")
	}

	finishedAt := w.cfg.Clock.Now().UTC()
	_, err := w.store.Update(ctx, rec.UserID, rec.ID, func(r *decision.Record) error {
		if r.Status != decision.StatusProcessing {
			return errNotClaimable
		}
		r.LastAnalyzedAt = decision.TimePtr(finishedAt)
		if analyzeErr != nil {
			r.Status = decision.StatusFailed
			r.ErrorMessage = decision.StringPtr(analyzeErr.Error())
			r.DecisionType = nil
			r.Biases = []string{}
			return nil
		}
		r.Status = decision.StatusCompleted
		r.DecisionType = decision.StringPtr(res.DecisionType)
		r.Biases = append([]string{}, res.Biases...)
		r.ErrorMessage = nil
		return nil
	})
	elapsed := w.cfg.Clock.Now().Sub(start)

	switch {
	case err != nil:
		logger.Warn("analysis result discarded", slog.String("error", err.Error()))
		w.cfg.Metrics.RecordAnalysis(observability.AnalysisSkipped, elapsed)
		return observability.AnalysisSkipped
	case analyzeErr != nil:
		logger.Info("analysis failed",
			slog.Int("attempt", rec.AnalysisAttempts),
			slog.String("error", analyzeErr.Error()))
		w.cfg.Metrics.RecordAnalysis(observability.AnalysisFailed, elapsed)
		return observability.AnalysisFailed
	default:
		span.SetAttributes(
			attribute.String("decision.type", res.DecisionType),
			attribute.Int("decision.bias_count", len(res.Biases)))
		logger.Debug("analysis completed", slog.String("decision_type", res.DecisionType))
		w.cfg.Metrics.RecordAnalysis(observability.AnalysisCompleted, elapsed)
		return observability.AnalysisCompleted
	}
}

// recoverStale returns records stuck in PROCESSING to PENDING.
func (w *Worker) recoverStale(ctx context.Context) (int, error) {
	stale, err := w.store.ListByStatus(ctx, decision.StatusProcessing, 0)
	if err != nil {
		return 0, fmt.Errorf("list processing: %w", err)
	}
	n := 0
	for _, rec := range stale {
		_, err := w.store.Update(ctx, rec.UserID, rec.ID, func(r *decision.Record) error {
			if r.Status != decision.StatusProcessing {
				return errNotClaimable
			}
			r.Status = decision.StatusPending
			return nil
		})
		switch {
		case err == nil:
			n++
		case errors.Is(err, errNotClaimable), errors.Is(err, store.ErrNotFound):
		default:
			return n, err
		}
	}
	return n, nil
}
