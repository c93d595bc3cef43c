// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package syncclient is the client half of the decision stream: an SSE
// consumer with reconnect, an optimistic update tracker, a differential
// merge and a status-transition notifier, glued together by Session.
//
// Typical use:
//
//	c, _ := syncclient.NewConsumer(syncclient.ConsumerConfig{BaseURL: url})
//	s := syncclient.NewSession()
//	go c.Run(ctx)
//	for msg := range c.Messages() {
//	    if msg.Kind == syncclient.MessageEvent {
//	        change := s.Handle(msg.Event)
//	        ...
//	    }
//	}
package syncclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/sergii-nosachenko/retrospecta/pkg/decision"
)

// StreamPath is the server route of the decision stream.
const StreamPath = "/v1/decisions/stream"

var errIdleTimeout = errors.New("stream idle timeout")

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	// BaseURL is the journal server, e.g. "http://localhost:12410". Required.
	BaseURL string

	// Token is sent as a bearer token when non-empty.
	Token string

	// Filter is the initial filter. Zero value means DefaultFilterSpec.
	Filter decision.FilterSpec

	// HTTPClient must not set a Timeout; streams are long-lived.
	// Default is a client with no timeout.
	HTTPClient *http.Client

	// Clock drives backoff and the idle timeout. Default clock.WallClock.
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Meter defaults to the global meter provider.
	Meter metric.Meter

	// IdleTimeout fails a connection that delivers no frame for this long.
	// Default 75s, covering two missed keepalives.
	IdleTimeout time.Duration
}

// MessageKind distinguishes consumer messages.
type MessageKind int

const (
	// MessageEvent carries a stream event.
	MessageEvent MessageKind = iota

	// MessageState carries a connection state change.
	MessageState
)

// Message is one item delivered by Consumer.Messages.
type Message struct {
	Kind  MessageKind
	Event decision.StreamEvent
	State State

	// Err is the transport error behind a Reconnecting or Failed state.
	Err error
}

type control struct {
	filter *decision.FilterSpec
}

type consumerMetrics struct {
	connects   metric.Int64Counter
	reconnects metric.Int64Counter
	failures   metric.Int64Counter
	events     metric.Int64Counter
}

func newConsumerMetrics(meter metric.Meter) (*consumerMetrics, error) {
	var (
		m   consumerMetrics
		err error
	)
	if m.connects, err = meter.Int64Counter("sync.connections.opened",
		metric.WithDescription("Stream connections that reached the open state")); err != nil {
		return nil, err
	}
	if m.reconnects, err = meter.Int64Counter("sync.reconnects",
		metric.WithDescription("Scheduled reconnect attempts")); err != nil {
		return nil, err
	}
	if m.failures, err = meter.Int64Counter("sync.connections.lost",
		metric.WithDescription("Connections declared lost after exhausting retries")); err != nil {
		return nil, err
	}
	if m.events, err = meter.Int64Counter("sync.events.received",
		metric.WithDescription("Stream events received by type")); err != nil {
		return nil, err
	}
	return &m, nil
}

// Consumer maintains one decision stream connection.
//
// # Description
//
// Run owns the Reconnector and at most one connection goroutine at a time.
// Each connection parses frames and forwards events in order. Transport
// failures (dial errors, non-200 responses, body EOF, idle timeout) go
// through the reconnect state machine; waits use the configured clock.
// SetFilter and Refresh tear the current connection down before the next
// one opens, so events of an old filter never follow a new connection.
//
// # Thread Safety
//
// SetFilter, Refresh and Filter are safe to call from any goroutine while
// Run is active.
type Consumer struct {
	cfg      ConsumerConfig
	endpoint *url.URL
	metrics  *consumerMetrics
	logger   *slog.Logger

	out     chan Message
	control chan control

	mu     sync.Mutex
	filter decision.FilterSpec
}

// NewConsumer validates cfg and returns a Consumer.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", base.Scheme)
	}
	endpoint := base.JoinPath(StreamPath)

	if cfg.Filter.Page == 0 && cfg.Filter.PageSize == 0 {
		cfg.Filter = decision.DefaultFilterSpec()
	}
	if err := cfg.Filter.Validate(); err != nil {
		return nil, err
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Meter == nil {
		cfg.Meter = otel.Meter("github.com/sergii-nosachenko/retrospecta/pkg/syncclient")
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 75 * time.Second
	}
	metrics, err := newConsumerMetrics(cfg.Meter)
	if err != nil {
		return nil, fmt.Errorf("create consumer metrics: %w", err)
	}

	return &Consumer{
		cfg:      cfg,
		endpoint: endpoint,
		metrics:  metrics,
		logger:   cfg.Logger.With(slog.String("endpoint", endpoint.String())),
		out:      make(chan Message, 64),
		control:  make(chan control, 1),
		filter:   cfg.Filter,
	}, nil
}

// Messages returns the delivery channel. It is closed when Run returns.
func (c *Consumer) Messages() <-chan Message {
	return c.out
}

// Filter returns the active filter.
func (c *Consumer) Filter() decision.FilterSpec {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter
}

// SetFilter replaces the filter and reconnects with the attempt counter
// reset.
func (c *Consumer) SetFilter(f decision.FilterSpec) error {
	if err := f.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.filter = f
	c.mu.Unlock()
	c.signal(control{filter: &f})
	return nil
}

// Refresh reconnects immediately with the attempt counter reset. It is the
// only way out of StateFailed.
func (c *Consumer) Refresh() {
	c.signal(control{})
}

// signal keeps only the most recent control request.
func (c *Consumer) signal(ctl control) {
	for {
		select {
		case c.control <- ctl:
			return
		default:
		}
		select {
		case <-c.control:
		default:
		}
	}
}

// Run connects and keeps the stream alive until ctx is cancelled.
//
// # Outputs
//
//   - error: Always nil after a cancellation. Terminal connection loss does
//     not end Run; it waits in StateFailed for Refresh.
func (c *Consumer) Run(ctx context.Context) error {
	defer close(c.out)
	rc := NewReconnector()
	defer rc.Close()

	for {
		if rc.State() != StateConnecting {
			if err := rc.Connect(); err != nil {
				return err
			}
		}
		c.emitState(ctx, rc, nil)

		end, streamErr := c.connection(ctx, rc)
		switch end {
		case endCancelled:
			return nil
		case endRefresh:
			continue
		}
		if !c.retry(ctx, rc, streamErr) {
			return nil
		}
	}
}

type connectionEnd int

const (
	endFailed connectionEnd = iota
	endRefresh
	endCancelled
)

// streamItem is one step of a connection in arrival order: the opened
// marker first, then each parsed event.
type streamItem struct {
	opened bool
	event  decision.StreamEvent
}

// connection runs one stream goroutine and waits for it to fail, for a
// control request or for ctx. The goroutine has exited when it returns.
//
// Only this goroutine writes to the output channel, so the Open state is
// always delivered before the events of the same connection.
func (c *Consumer) connection(ctx context.Context, rc *Reconnector) (connectionEnd, error) {
	connCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(context.Canceled)

	items := make(chan streamItem)
	done := make(chan error, 1)
	filter := c.Filter()
	go func() {
		done <- c.stream(connCtx, cancel, filter, items)
	}()

	stop := func() {
		cancel(context.Canceled)
		<-done
	}

	for {
		select {
		case <-ctx.Done():
			stop()
			return endCancelled, nil
		case it := <-items:
			if it.opened {
				if err := rc.Opened(); err == nil {
					c.metrics.connects.Add(ctx, 1)
					c.logger.Info("decision stream connected")
					c.emitState(ctx, rc, nil)
				}
				continue
			}
			if !c.send(ctx, Message{Kind: MessageEvent, Event: it.event}) {
				stop()
				return endCancelled, nil
			}
		case err := <-done:
			if ctx.Err() != nil {
				return endCancelled, nil
			}
			return endFailed, err
		case <-c.control:
			stop()
			_ = rc.Refresh()
			c.logger.Debug("decision stream refresh requested")
			return endRefresh, nil
		}
	}
}

// retry applies a transport failure and waits for the next attempt.
// It returns false when ctx is cancelled.
func (c *Consumer) retry(ctx context.Context, rc *Reconnector, cause error) bool {
	delay, ok := rc.Failed(cause)
	c.emitState(ctx, rc, rc.Err())

	var wait <-chan time.Time
	if ok {
		c.metrics.reconnects.Add(ctx, 1)
		c.logger.Warn("decision stream disconnected, retrying",
			slog.String("error", errString(cause)),
			slog.Int("attempt", rc.Attempt()),
			slog.Int64("delay_ms", delay.Milliseconds()))
		wait = c.cfg.Clock.After(delay)
	} else {
		c.metrics.failures.Add(ctx, 1)
		c.logger.Error("decision stream connection lost", slog.String("error", errString(cause)))
	}

	select {
	case <-ctx.Done():
		return false
	case <-wait:
		return true
	case <-c.control:
		_ = rc.Refresh()
		return true
	}
}

// stream runs one connection until it fails or ctx ends.
func (c *Consumer) stream(ctx context.Context, cancel context.CancelCauseFunc, filter decision.FilterSpec, items chan<- streamItem) error {
	u := *c.endpoint
	u.RawQuery = filter.Values().Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return c.cause(ctx, fmt.Errorf("connect: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if !deliver(ctx, items, streamItem{opened: true}) {
		return ctx.Err()
	}

	idle := c.cfg.Clock.AfterFunc(c.cfg.IdleTimeout, func() { cancel(errIdleTimeout) })
	defer idle.Stop()

	frames := NewFrameReader(resp.Body)
	for {
		frame, err := frames.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("stream closed by server")
			}
			return c.cause(ctx, fmt.Errorf("read stream: %w", err))
		}
		idle.Reset(c.cfg.IdleTimeout)
		if frame.Comment {
			continue
		}

		ev, err := ParseEvent(frame)
		if err != nil {
			c.logger.Warn("skipping malformed stream frame", slog.String("error", err.Error()))
			continue
		}
		c.metrics.events.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(ev.Type))))
		if !deliver(ctx, items, streamItem{event: ev}) {
			return ctx.Err()
		}
	}
}

// cause prefers the connection's cancel cause, such as the idle timeout,
// over the transport error it produced.
func (c *Consumer) cause(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return err
}

func deliver(ctx context.Context, items chan<- streamItem, it streamItem) bool {
	select {
	case items <- it:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Consumer) emitState(ctx context.Context, rc *Reconnector, err error) {
	c.send(ctx, Message{Kind: MessageState, State: rc.State(), Err: err})
}

func (c *Consumer) send(ctx context.Context, msg Message) bool {
	select {
	case c.out <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
