// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergii-nosachenko/retrospecta/cmd/retrospecta/config"
	"github.com/sergii-nosachenko/retrospecta/pkg/decision"
	"github.com/sergii-nosachenko/retrospecta/pkg/extensions"
	"github.com/sergii-nosachenko/retrospecta/pkg/syncclient"
	"github.com/sergii-nosachenko/retrospecta/pkg/ux"
	"github.com/sergii-nosachenko/retrospecta/services/journal"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func record(id string, status decision.Status) *decision.Record {
	return &decision.Record{
		ID:        id,
		Decision:  "Took the remote offer",
		Status:    status,
		Biases:    []string{},
		IsNew:     true,
		CreatedAt: epoch,
		UpdatedAt: epoch,
	}
}

func update(records ...*decision.Record) syncclient.Message {
	ev := decision.NewUpdateEvent(decision.Page{Decisions: records, TotalCount: len(records)}, decision.DefaultFilterSpec(), epoch)
	return syncclient.Message{Kind: syncclient.MessageEvent, Event: ev}
}

func pending(refs ...decision.PendingRef) syncclient.Message {
	return syncclient.Message{Kind: syncclient.MessageEvent, Event: decision.NewPendingEvent(refs)}
}

// =============================================================================
// watcher
// =============================================================================

func TestWatcher_AnnouncesCompletion(t *testing.T) {
	var buf bytes.Buffer
	w := newWatcher(ux.NewPrinter(&buf, ux.ModePlain))

	queued := record("d1", decision.StatusPending)
	w.handle(pending(queued.Ref()))
	w.handle(update(queued))

	done := record("d1", decision.StatusCompleted)
	done.DecisionType = decision.StringPtr("career")
	done.Biases = []string{"anchoring"}
	done.UpdatedAt = epoch.Add(time.Second)
	w.handle(pending())
	w.handle(update(done))

	out := buf.String()
	assert.Contains(t, out, "1 pending\n")
	assert.Contains(t, out, "Analysis Complete: Took the remote offer; type: career; biases: anchoring\n")
	assert.Contains(t, out, "0 pending\n")
	assert.Equal(t, 1, strings.Count(out, "Analysis Complete"))
}

func TestWatcher_AnnouncesFailure(t *testing.T) {
	var buf bytes.Buffer
	w := newWatcher(ux.NewPrinter(&buf, ux.ModePlain))

	w.handle(update(record("d1", decision.StatusProcessing)))
	failed := record("d1", decision.StatusFailed)
	failed.ErrorMessage = decision.StringPtr("insufficient content")
	w.handle(update(failed))

	assert.Contains(t, buf.String(), "ERROR: analysis failed: Took the remote offer (insufficient content)\n")
}

func TestWatcher_ConnectionStates(t *testing.T) {
	var buf bytes.Buffer
	w := newWatcher(ux.NewPrinter(&buf, ux.ModePlain))

	w.handle(syncclient.Message{Kind: syncclient.MessageState, State: syncclient.StateConnecting})
	w.handle(syncclient.Message{Kind: syncclient.MessageState, State: syncclient.StateOpen})
	w.handle(syncclient.Message{Kind: syncclient.MessageState, State: syncclient.StateReconnecting, Err: errors.New("unexpected status 502")})
	w.handle(syncclient.Message{Kind: syncclient.MessageState, State: syncclient.StateConnecting})
	w.handle(syncclient.Message{Kind: syncclient.MessageState, State: syncclient.StateOpen})
	w.handle(syncclient.Message{Kind: syncclient.MessageState, State: syncclient.StateFailed, Err: syncclient.ErrConnectionLost})
	w.handle(syncclient.Message{Kind: syncclient.MessageEvent, Event: decision.NewErrorEvent("failed to load decisions")})

	assert.Equal(t, "WARN: disconnected: unexpected status 502\n"+
		"OK: reconnected\n"+
		"ERROR: connection lost, please refresh (send SIGHUP to retry)\n"+
		"WARN: server: failed to load decisions\n", buf.String())
}

// =============================================================================
// interactive watch
// =============================================================================

type fakeAPI struct {
	created *decision.Record
	err     error
	calls   []string
}

func (f *fakeAPI) Create(_ context.Context, req syncclient.CreateRequest) (*decision.Record, error) {
	f.calls = append(f.calls, "create:"+req.Situation)
	if f.err != nil {
		return nil, f.err
	}
	return f.created, nil
}

func (f *fakeAPI) Reanalyze(_ context.Context, id string) (*decision.Record, error) {
	f.calls = append(f.calls, "reanalyze:"+id)
	if f.err != nil {
		return nil, f.err
	}
	return record(id, decision.StatusPending), nil
}

func (f *fakeAPI) MarkRead(_ context.Context, id string) (*decision.Record, error) {
	f.calls = append(f.calls, "read:"+id)
	if f.err != nil {
		return nil, f.err
	}
	rec := record(id, decision.StatusCompleted)
	rec.IsNew = false
	return rec, nil
}

func (f *fakeAPI) Delete(_ context.Context, id string) error {
	f.calls = append(f.calls, "delete:"+id)
	return f.err
}

// run executes one interactive line and settles its answer.
func run(t *testing.T, w *watcher, line string) {
	t.Helper()
	results := make(chan outcome, 1)
	w.exec(context.Background(), line, results)
	select {
	case out := <-results:
		w.settle(out)
	case <-time.After(5 * time.Second):
		t.Fatal("no answer for " + line)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line    string
		want    command
		wantErr bool
	}{
		{line: "read d1", want: command{verb: verbRead, id: "d1"}},
		{line: "  REANALYZE d-2 ", want: command{verb: verbReanalyze, id: "d-2"}},
		{line: "delete d3", want: command{verb: verbDelete, id: "d3"}},
		{line: "help", want: command{verb: verbHelp}},
		{line: "new Two offers | Took the remote one", want: command{verb: verbNew,
			create: syncclient.CreateRequest{Situation: "Two offers", Decision: "Took the remote one"}}},
		{line: "new only a situation", wantErr: true},
		{line: "new | no situation", wantErr: true},
		{line: "read", wantErr: true},
		{line: "read ../etc", wantErr: true},
		{line: "archive d1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := parseCommand(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWatcher_ReanalyzeIsOptimistic(t *testing.T) {
	var buf bytes.Buffer
	api := &fakeAPI{}
	w := newWatcher(ux.NewPrinter(&buf, ux.ModePlain))
	w.api = api

	w.handle(pending())
	w.handle(update(record("d1", decision.StatusCompleted)))

	run(t, w, "reanalyze d1")
	assert.Equal(t, []string{"reanalyze:d1"}, api.calls)
	require.Len(t, w.session.Records(), 1)
	assert.Equal(t, decision.StatusProcessing, w.session.Records()[0].Status)
	assert.True(t, w.session.HasPendingPatch("d1"))
	assert.Equal(t, 1, w.session.PendingCount())

	// The stream confirms the record was queued; the patch stays until the
	// record leaves the pending states.
	w.handle(pending(record("d1", decision.StatusPending).Ref()))
	w.handle(update(record("d1", decision.StatusPending)))
	assert.Equal(t, 1, w.session.PendingCount())

	done := record("d1", decision.StatusCompleted)
	done.UpdatedAt = epoch.Add(time.Minute)
	w.handle(pending())
	w.handle(update(done))
	assert.False(t, w.session.HasPendingPatch("d1"))
	assert.Zero(t, w.session.PendingCount())

	out := buf.String()
	assert.Contains(t, out, "OK: queued d1 (PENDING)\n")
	assert.Contains(t, out, "1 pending\n")
	assert.Contains(t, out, "Analysis Complete")
}

func TestWatcher_RejectedMutationsRevert(t *testing.T) {
	var buf bytes.Buffer
	api := &fakeAPI{err: &syncclient.APIError{StatusCode: 409, Message: "analysis already in progress"}}
	refreshed := 0
	w := newWatcher(ux.NewPrinter(&buf, ux.ModePlain))
	w.api = api
	w.refresh = func() { refreshed++ }

	original := record("d1", decision.StatusCompleted)
	w.handle(update(original))

	run(t, w, "reanalyze d1")
	require.Len(t, w.session.Records(), 1)
	assert.Same(t, original, w.session.Records()[0])
	assert.False(t, w.session.HasPendingPatch("d1"))

	run(t, w, "read d1")
	assert.True(t, w.session.Records()[0].IsNew)

	run(t, w, "delete d1")
	assert.Equal(t, 1, refreshed)

	assert.Contains(t, buf.String(), "ERROR: reanalyze failed: ")
	assert.Contains(t, buf.String(), "ERROR: delete failed: ")
	assert.Zero(t, w.session.PendingCount())
}

func TestWatcher_NewInsertsServerRecord(t *testing.T) {
	var buf bytes.Buffer
	created := record("fresh", decision.StatusPending)
	api := &fakeAPI{created: created}
	w := newWatcher(ux.NewPrinter(&buf, ux.ModePlain))
	w.api = api

	w.handle(pending())
	w.handle(update(record("old", decision.StatusCompleted)))

	run(t, w, "new Two offers | Took the remote one")
	records := w.session.Records()
	require.Len(t, records, 2)
	assert.Same(t, created, records[0])
	assert.Equal(t, 1, w.session.PendingCount())
	assert.Contains(t, buf.String(), "OK: recorded fresh (PENDING)\n")

	results := make(chan outcome, 1)
	w.exec(context.Background(), "bogus", results)
	assert.Empty(t, results)
	assert.Contains(t, buf.String(), "WARN: unknown command \"bogus\"\n")
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "a b", summarize("  a\n b "))
	long := strings.Repeat("x", 80)
	assert.Equal(t, strings.Repeat("x", 57)+"...", summarize(long))
}

// =============================================================================
// config mapping
// =============================================================================

func TestJournalConfig_Mapping(t *testing.T) {
	c := config.DefaultConfig()
	c.Store.Driver = "sqlite"
	c.Store.Path = "/tmp/x.db"
	c.RateLimit.PerSecond = 2

	jc := journalConfig(c, slog.Default())
	assert.Equal(t, 12410, jc.Port)
	assert.Equal(t, journal.DriverSQLite, jc.StoreDriver)
	assert.Equal(t, "/tmp/x.db", jc.StorePath)
	assert.Equal(t, 10*time.Second, jc.Publisher.IdleInterval)
	assert.Equal(t, 5, jc.Publisher.BusyThreshold)
	assert.True(t, jc.AnalysisEnabled)
	assert.Equal(t, 10, jc.Analysis.BatchSize)
	assert.Equal(t, 2.0, jc.RateLimit.PerSecond)
}

func TestServiceOptions(t *testing.T) {
	c := config.DefaultConfig()
	opts, err := serviceOptions(c, slog.Default())
	require.NoError(t, err)
	assert.IsType(t, &extensions.NopAuthProvider{}, opts.AuthProvider)
	assert.IsType(t, &extensions.SlogAuditLogger{}, opts.AuditLogger)

	c.Auth.Tokens = map[string]string{"tok": "alice"}
	opts, err = serviceOptions(c, slog.Default())
	require.NoError(t, err)
	assert.IsType(t, &extensions.StaticTokenProvider{}, opts.AuthProvider)
}

func TestWatchFilter(t *testing.T) {
	cfg = config.DefaultConfig()
	t.Cleanup(func() {
		watchFlags.page = 1
		watchFlags.sortBy = string(decision.DefaultSortField)
		watchFlags.sortOrder = string(decision.SortDesc)
	})

	watchFlags.page = 2
	watchFlags.sortBy = string(decision.SortByStatus)
	watchFlags.sortOrder = string(decision.SortAsc)
	f, err := watchFilter()
	require.NoError(t, err)
	assert.Equal(t, 2, f.Page)
	assert.Equal(t, decision.SortByStatus, f.SortBy)
	assert.Equal(t, 20, f.PageSize)

	watchFlags.sortOrder = "sideways"
	_, err = watchFilter()
	assert.Error(t, err)
}

// =============================================================================
// commands
// =============================================================================

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() { rootCmd.SetOut(nil); rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "retrospecta dev\n", buf.String())
}

func TestDecideAgainstJournal(t *testing.T) {
	reg := prometheus.NewRegistry()
	svc, err := journal.New(journal.Config{GinMode: gin.TestMode, Registerer: reg, Gatherer: reg}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	srv := httptest.NewServer(svc.Router())
	t.Cleanup(srv.Close)

	cfg = config.DefaultConfig()
	cfg.Client.ServerURL = srv.URL

	var buf bytes.Buffer
	decideCmd.SetOut(&buf)
	decideFlags.situation = "Two offers"
	decideFlags.decision = "Took the remote one"
	t.Cleanup(func() { decideCmd.SetOut(nil); decideFlags.situation, decideFlags.decision = "", "" })

	require.NoError(t, runDecide(decideCmd, nil))
	assert.Contains(t, buf.String(), "(PENDING)")

	err = runReanalyze(decideCmd, []string{"missing"})
	assert.ErrorContains(t, err, "decision missing not found")
}
