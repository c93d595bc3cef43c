// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package publisher implements the adaptive decision event publisher.
//
// One Serve call owns one subscription: it queries the store immediately,
// then again on a timer whose period follows the owner's unfiltered pending
// backlog, and writes each result to a Sink as a Pending event followed by
// an Update event. A keepalive frame is written on an independent timer.
//
// # Thread Safety
//
// A Publisher is safe for concurrent use. Each Serve call runs entirely on
// the calling goroutine; subscriptions share no mutable state.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/sergii-nosachenko/retrospecta/pkg/decision"
	"github.com/sergii-nosachenko/retrospecta/pkg/telemetry"
	"github.com/sergii-nosachenko/retrospecta/services/journal/observability"
	"github.com/sergii-nosachenko/retrospecta/services/journal/store"
)

// QueryFailedMessage is the sanitized message sent when a cycle fails.
const QueryFailedMessage = "failed to load decisions"

// ErrStreamingUnsupported is returned when the response writer cannot flush.
var ErrStreamingUnsupported = errors.New("streaming not supported")

// Sink receives the frames of one subscription.
//
// A write error means the transport is gone; the publisher stops writing and
// ends the subscription.
type Sink interface {
	WriteEvent(ev decision.StreamEvent) error
	WriteKeepAlive() error
}

// Config tunes the adaptive schedule.
type Config struct {
	// IdleInterval is used when nothing is pending. Default 10s.
	IdleInterval time.Duration

	// ActiveInterval is used for 1..BusyThreshold pending records. Default 3s.
	ActiveInterval time.Duration

	// BusyInterval is used above BusyThreshold pending records. Default 2s.
	BusyInterval time.Duration

	// BusyThreshold is the largest pending count still treated as active. Default 5.
	BusyThreshold int

	// KeepAliveInterval is the keepalive frame period. Default 30s.
	KeepAliveInterval time.Duration

	// Clock drives both timers. Default clock.WallClock.
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics may be nil.
	Metrics *observability.Metrics

	// Tracer defaults to the global provider's tracer.
	Tracer trace.Tracer
}

// DefaultConfig returns the production schedule.
func DefaultConfig() Config {
	return Config{
		IdleInterval:      10 * time.Second,
		ActiveInterval:    3 * time.Second,
		BusyInterval:      2 * time.Second,
		BusyThreshold:     5,
		KeepAliveInterval: 30 * time.Second,
	}
}

func applyConfigDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = def.IdleInterval
	}
	if cfg.ActiveInterval <= 0 {
		cfg.ActiveInterval = def.ActiveInterval
	}
	if cfg.BusyInterval <= 0 {
		cfg.BusyInterval = def.BusyInterval
	}
	if cfg.BusyThreshold <= 0 {
		cfg.BusyThreshold = def.BusyThreshold
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = def.KeepAliveInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("github.com/sergii-nosachenko/retrospecta/services/journal/publisher")
	}
	return cfg
}

// IntervalFor maps an unfiltered pending count to a polling interval.
//
//	0                  → IdleInterval
//	1..BusyThreshold   → ActiveInterval
//	> BusyThreshold    → BusyInterval
func (c Config) IntervalFor(pending int) time.Duration {
	switch {
	case pending <= 0:
		return c.IdleInterval
	case pending <= c.BusyThreshold:
		return c.ActiveInterval
	default:
		return c.BusyInterval
	}
}

// IntervalFor applies the default schedule.
func IntervalFor(pending int) time.Duration {
	return DefaultConfig().IntervalFor(pending)
}

// Publisher serves decision stream subscriptions from a store.
type Publisher struct {
	reader store.Reader
	cfg    Config
}

// New creates a publisher reading from reader.
func New(reader store.Reader, cfg Config) *Publisher {
	return &Publisher{reader: reader, cfg: applyConfigDefaults(cfg)}
}

// Config returns the effective configuration.
func (p *Publisher) Config() Config {
	return p.cfg
}

// =============================================================================
// Subscription
// =============================================================================

// subscription is the per-connection state. It is only touched by the
// goroutine running Serve.
type subscription struct {
	id       string
	owner    string
	filter   decision.FilterSpec
	sink     Sink
	logger   *slog.Logger
	metrics  *observability.Metrics
	clock    clock.Clock
	query    clock.Timer
	keep     clock.Timer
	interval time.Duration
	closed   bool
}

// emit writes one event unless the subscription is closed.
// A failed write closes the subscription.
func (s *subscription) emit(ev decision.StreamEvent) {
	if s.closed {
		return
	}
	if err := s.sink.WriteEvent(ev); err != nil {
		s.fail(err)
		return
	}
	s.metrics.RecordEvent(string(ev.Type))
}

func (s *subscription) keepAlive() {
	if s.closed {
		return
	}
	if err := s.sink.WriteKeepAlive(); err != nil {
		s.fail(err)
		return
	}
	s.metrics.RecordKeepAlive()
}

func (s *subscription) fail(err error) {
	s.closed = true
	s.metrics.RecordWriteFailure()
	s.logger.Debug("stream write failed, closing subscription", slog.String("error", err.Error()))
}

// schedule arms the query timer for d. The timer is reused when the interval
// class is unchanged and replaced when it changes.
func (s *subscription) schedule(d time.Duration) {
	switch {
	case s.query == nil:
		s.query = s.clock.NewTimer(d)
	case d == s.interval:
		s.query.Reset(d)
	default:
		s.query.Stop()
		s.query = s.clock.NewTimer(d)
		s.metrics.RecordIntervalChange(d)
		s.logger.Debug("polling interval changed",
			slog.Int64("previous_interval_ms", s.interval.Milliseconds()),
			slog.Int64("interval_ms", d.Milliseconds()))
	}
	s.interval = d
}

func (s *subscription) stop() {
	s.closed = true
	if s.query != nil {
		s.query.Stop()
	}
	if s.keep != nil {
		s.keep.Stop()
	}
}

func (s *subscription) queryC() <-chan time.Time {
	if s.query == nil {
		return nil
	}
	return s.query.Chan()
}

// =============================================================================
// Serve
// =============================================================================

// Serve runs one subscription until ctx is cancelled or a write fails.
//
// # Description
//
// Performs a query cycle immediately, then on every query timer tick. Each
// successful cycle writes a Pending event (every non-terminal record of the
// owner, ignoring filter) then an Update event (the filtered page). A failed
// cycle writes a single Error event and keeps the current interval.
//
// # Inputs
//
//   - ctx: Subscription lifetime. Cancellation is the client disconnect.
//   - owner: Authenticated identity whose records are streamed.
//   - filter: Validated filter for the Update page.
//   - sink: Frame writer for this connection.
//
// # Outputs
//
//   - error: Non-nil only for invalid arguments. Disconnects and write
//     failures end the subscription with nil.
func (p *Publisher) Serve(ctx context.Context, owner string, filter decision.FilterSpec, sink Sink) error {
	if owner == "" {
		return errors.New("owner is required")
	}
	if sink == nil {
		return errors.New("sink is required")
	}
	if err := filter.Validate(); err != nil {
		return err
	}

	sub := &subscription{
		id:      uuid.NewString(),
		owner:   owner,
		filter:  filter,
		sink:    sink,
		metrics: p.cfg.Metrics,
		clock:   p.cfg.Clock,
	}
	sub.logger = p.cfg.Logger.With(
		slog.String("subscription_id", sub.id),
		slog.String("user_id", owner))

	p.cfg.Metrics.SubscriptionStarted()
	defer p.cfg.Metrics.SubscriptionEnded()
	defer sub.stop()

	sub.logger.Info("decision stream subscribed",
		slog.String("sort_by", string(filter.SortBy)),
		slog.Int("page", filter.Page))

	sub.keep = p.cfg.Clock.NewTimer(p.cfg.KeepAliveInterval)
	p.cycle(ctx, sub)

	for !sub.closed {
		select {
		case <-ctx.Done():
			sub.closed = true
			p.cfg.Metrics.RecordClientDisconnect()
			sub.logger.Info("decision stream closed by client")
			return nil
		case <-sub.queryC():
			p.cycle(ctx, sub)
		case <-sub.keep.Chan():
			sub.keepAlive()
			sub.keep.Reset(p.cfg.KeepAliveInterval)
		}
	}

	sub.logger.Info("decision stream closed after write failure")
	return nil
}

// cycle runs both store reads, emits the results and reschedules.
func (p *Publisher) cycle(ctx context.Context, sub *subscription) {
	if ctx.Err() != nil || sub.closed {
		return
	}
	start := p.cfg.Clock.Now()

	spanCtx, span := p.cfg.Tracer.Start(ctx, "publisher.cycle",
		trace.WithAttributes(
			attribute.String("subscription.id", sub.id),
			attribute.String("filter.sort_by", string(sub.filter.SortBy)),
			attribute.Int("filter.page", sub.filter.Page)))
	defer span.End()

	refs, page, err := p.load(spanCtx, sub)
	if ctx.Err() != nil {
		// Disconnected mid-cycle; nothing more is written.
		return
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		p.cfg.Metrics.RecordCycle(observability.CycleError, p.cfg.Clock.Now().Sub(start))
		telemetry.LoggerWithTrace(spanCtx, sub.logger).Error("decision stream query failed", slog.String("error", err.Error()))

		sub.emit(decision.NewErrorEvent(QueryFailedMessage))
		next := sub.interval
		if next == 0 {
			next = p.cfg.IdleInterval
		}
		sub.schedule(next)
		return
	}

	p.cfg.Metrics.RecordCycle(observability.CycleOK, p.cfg.Clock.Now().Sub(start))
	span.SetAttributes(
		attribute.Int("pending.count", len(refs)),
		attribute.Int("update.total_count", page.TotalCount))

	sub.emit(decision.NewPendingEvent(refs))
	sub.emit(decision.NewUpdateEvent(page, sub.filter, p.cfg.Clock.Now()))
	sub.schedule(p.cfg.IntervalFor(len(refs)))
}

// load runs the pending summary and the filtered list concurrently.
func (p *Publisher) load(ctx context.Context, sub *subscription) ([]decision.PendingRef, decision.Page, error) {
	var (
		refs []decision.PendingRef
		page decision.Page
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		refs, err = p.reader.PendingSummary(gctx, sub.owner)
		if err != nil {
			return fmt.Errorf("pending summary: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		page, err = p.reader.ListDecisions(gctx, sub.owner, sub.filter)
		if err != nil {
			return fmt.Errorf("list decisions: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, decision.Page{}, err
	}
	return refs, page, nil
}
