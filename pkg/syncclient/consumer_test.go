// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package syncclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/sergii-nosachenko/retrospecta/pkg/decision"
)

// =============================================================================
// Test Helpers
// =============================================================================

const (
	pendingFrame = "data: {\"type\":\"pending\",\"count\":0,\"decisions\":[]}\n\n"
	updateFrame  = "data: {\"type\":\"update\",\"decisions\":[],\"totalCount\":0,\"page\":1,\"pageSize\":20,\"timestamp\":\"2025-03-01T09:00:00Z\"}\n\n"
)

// streamUntilDone writes frames then holds the connection open.
func streamUntilDone(frames ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, f := range frames {
			fmt.Fprint(w, f)
		}
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}
}

type runningConsumer struct {
	c      *Consumer
	cancel context.CancelFunc
	done   chan error
}

func startConsumer(t *testing.T, cfg ConsumerConfig) *runningConsumer {
	t.Helper()
	c, err := NewConsumer(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	rc := &runningConsumer{c: c, cancel: cancel, done: make(chan error, 1)}
	go func() { rc.done <- c.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-rc.done:
		case <-time.After(5 * time.Second):
			t.Error("consumer did not stop")
		}
	})
	return rc
}

// waitFor skips messages until match returns true.
func waitFor(t *testing.T, msgs <-chan Message, match func(Message) bool) Message {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case msg, ok := <-msgs:
			require.True(t, ok, "messages channel closed")
			if match(msg) {
				return msg
			}
		case <-deadline:
			t.Fatal("timed out waiting for message")
		}
	}
}

func isState(s State) func(Message) bool {
	return func(m Message) bool { return m.Kind == MessageState && m.State == s }
}

func isEvent(typ decision.EventType) func(Message) bool {
	return func(m Message) bool { return m.Kind == MessageEvent && m.Event.Type == typ }
}

func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

// =============================================================================
// Tests
// =============================================================================

func TestNewConsumer_Validation(t *testing.T) {
	_, err := NewConsumer(ConsumerConfig{})
	assert.Error(t, err)

	_, err = NewConsumer(ConsumerConfig{BaseURL: "ftp://example.com"})
	assert.Error(t, err)

	bad := decision.DefaultFilterSpec()
	bad.PageSize = 1000
	_, err = NewConsumer(ConsumerConfig{BaseURL: "http://localhost", Filter: bad})
	assert.Error(t, err)

	c, err := NewConsumer(ConsumerConfig{BaseURL: "http://localhost:12410/"})
	require.NoError(t, err)
	assert.Equal(t, decision.DefaultFilterSpec(), c.Filter())
}

func TestConsumer_DeliversEventsInOrder(t *testing.T) {
	var gotReq atomic.Pointer[http.Request]
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReq.Store(r.Clone(context.Background()))
		streamUntilDone(pendingFrame, ": keepalive\n\n", updateFrame)(w, r)
	}))
	t.Cleanup(srv.Close)

	rc := startConsumer(t, ConsumerConfig{BaseURL: srv.URL, Token: "secret"})
	msgs := rc.c.Messages()

	first := waitFor(t, msgs, func(m Message) bool { return m.Kind == MessageEvent })
	assert.Equal(t, decision.EventPending, first.Event.Type)
	second := waitFor(t, msgs, func(m Message) bool { return m.Kind == MessageEvent })
	assert.Equal(t, decision.EventUpdate, second.Event.Type)
	assert.Equal(t, 20, second.Event.Update.PageSize)

	req := gotReq.Load()
	require.NotNil(t, req)
	assert.Equal(t, StreamPath, req.URL.Path)
	assert.Equal(t, "text/event-stream", req.Header.Get("Accept"))
	assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
	assert.Equal(t, "1", req.URL.Query().Get("page"))
	assert.Equal(t, "desc", req.URL.Query().Get("sortOrder"))
}

func TestConsumer_ReconnectsWithBackoff(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		streamUntilDone(pendingFrame)(w, r)
	}))
	t.Cleanup(srv.Close)

	clk := testclock.NewClock(time.Time{})
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")

	rc := startConsumer(t, ConsumerConfig{BaseURL: srv.URL, Clock: clk, Meter: meter})
	msgs := rc.c.Messages()

	msg := waitFor(t, msgs, isState(StateReconnecting))
	require.Error(t, msg.Err)
	assert.Contains(t, msg.Err.Error(), "503")

	require.NoError(t, clk.WaitAdvance(BaseBackoff, time.Second, 1))
	waitFor(t, msgs, isState(StateOpen))
	waitFor(t, msgs, isEvent(decision.EventPending))

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int64(1), counterValue(t, reader, "sync.reconnects"))
	assert.Equal(t, int64(1), counterValue(t, reader, "sync.connections.opened"))
}

// nextMessage returns the next message without skipping any.
func nextMessage(t *testing.T, msgs <-chan Message) Message {
	t.Helper()
	select {
	case msg, ok := <-msgs:
		require.True(t, ok, "messages channel closed")
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func describe(m Message) string {
	if m.Kind == MessageState {
		return m.State.String()
	}
	return string(m.Event.Type)
}

func TestConsumer_OpenPrecedesEventsOnEveryConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, pendingFrame)
		fmt.Fprint(w, updateFrame)
	}))
	t.Cleanup(srv.Close)

	clk := testclock.NewClock(time.Time{})
	rc := startConsumer(t, ConsumerConfig{BaseURL: srv.URL, Clock: clk})
	msgs := rc.c.Messages()

	want := []string{
		StateConnecting.String(),
		StateOpen.String(),
		string(decision.EventPending),
		string(decision.EventUpdate),
		StateReconnecting.String(),
	}
	for conn := 0; conn < 3; conn++ {
		var got []string
		for range want {
			got = append(got, describe(nextMessage(t, msgs)))
		}
		require.Equal(t, want, got, "connection %d", conn)
		require.NoError(t, clk.WaitAdvance(BaseBackoff, time.Second, 1))
	}
}

func TestConsumer_TerminalFailureThenRefresh(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	clk := testclock.NewClock(time.Time{})
	rc := startConsumer(t, ConsumerConfig{BaseURL: srv.URL, Clock: clk})
	msgs := rc.c.Messages()

	for attempt := 0; attempt < MaxRetries; attempt++ {
		waitFor(t, msgs, isState(StateReconnecting))
		require.NoError(t, clk.WaitAdvance(Backoff(attempt), time.Second, 1))
	}

	msg := waitFor(t, msgs, isState(StateFailed))
	assert.ErrorIs(t, msg.Err, ErrConnectionLost)
	assert.Equal(t, int32(MaxRetries+1), calls.Load())

	rc.c.Refresh()
	waitFor(t, msgs, isState(StateConnecting))
	waitFor(t, msgs, isState(StateReconnecting))
	assert.Equal(t, int32(MaxRetries+2), calls.Load())

	// The counter was reset: the next wait is the base delay again.
	require.NoError(t, clk.WaitAdvance(BaseBackoff, time.Second, 1))
	waitFor(t, msgs, isState(StateConnecting))
}

func TestConsumer_SetFilterReconnects(t *testing.T) {
	var (
		mu    sync.Mutex
		pages []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		pages = append(pages, r.URL.Query().Get("page"))
		mu.Unlock()
		streamUntilDone(pendingFrame)(w, r)
	}))
	t.Cleanup(srv.Close)

	rc := startConsumer(t, ConsumerConfig{BaseURL: srv.URL})
	msgs := rc.c.Messages()
	waitFor(t, msgs, isEvent(decision.EventPending))

	next := decision.DefaultFilterSpec()
	next.Page = 2
	require.NoError(t, rc.c.SetFilter(next))
	assert.Equal(t, 2, rc.c.Filter().Page)

	waitFor(t, msgs, isState(StateConnecting))
	waitFor(t, msgs, isEvent(decision.EventPending))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"1", "2"}, pages)

	invalid := decision.DefaultFilterSpec()
	invalid.Page = 0
	assert.Error(t, rc.c.SetFilter(invalid))
}

func TestConsumer_IdleTimeout(t *testing.T) {
	srv := httptest.NewServer(streamUntilDone())
	t.Cleanup(srv.Close)

	clk := testclock.NewClock(time.Time{})
	rc := startConsumer(t, ConsumerConfig{BaseURL: srv.URL, Clock: clk, IdleTimeout: time.Minute})
	msgs := rc.c.Messages()

	waitFor(t, msgs, isState(StateOpen))
	require.NoError(t, clk.WaitAdvance(time.Minute, time.Second, 1))

	msg := waitFor(t, msgs, isState(StateReconnecting))
	assert.ErrorIs(t, msg.Err, errIdleTimeout)
}

func TestConsumer_ServerCloseIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, pendingFrame)
	}))
	t.Cleanup(srv.Close)

	clk := testclock.NewClock(time.Time{})
	rc := startConsumer(t, ConsumerConfig{BaseURL: srv.URL, Clock: clk})
	msgs := rc.c.Messages()

	waitFor(t, msgs, isEvent(decision.EventPending))
	msg := waitFor(t, msgs, isState(StateReconnecting))
	assert.Contains(t, msg.Err.Error(), "closed by server")
}

func TestConsumer_MessagesClosedAfterRun(t *testing.T) {
	srv := httptest.NewServer(streamUntilDone())
	t.Cleanup(srv.Close)

	c, err := NewConsumer(ConsumerConfig{BaseURL: srv.URL})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	waitFor(t, c.Messages(), isState(StateOpen))
	cancel()
	require.NoError(t, <-done)

	for range c.Messages() {
	}
}
