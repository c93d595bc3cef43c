// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storetest holds the contract suite every store.Store
// implementation must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergii-nosachenko/retrospecta/pkg/decision"
	"github.com/sergii-nosachenko/retrospecta/services/journal/store"
)

// Factory opens a fresh, empty store driven by clk. The suite closes it.
type Factory func(t *testing.T, clk clock.Clock) store.Store

// Epoch is the test clock start time used by the suite.
var Epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// Run executes the contract suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	cases := []struct {
		name string
		fn   func(t *testing.T, s store.Store, clk *testclock.Clock)
	}{
		{"CreateStampsRecord", testCreateStampsRecord},
		{"CreateDuplicate", testCreateDuplicate},
		{"CreateRequiresIdentity", testCreateRequiresIdentity},
		{"GetForeignOwner", testGetForeignOwner},
		{"UpdateAdvancesUpdatedAt", testUpdateAdvancesUpdatedAt},
		{"UpdateErrorLeavesRecord", testUpdateErrorLeavesRecord},
		{"UpdateKeepsIdentity", testUpdateKeepsIdentity},
		{"UpdateMissing", testUpdateMissing},
		{"Delete", testDelete},
		{"ListFilters", testListFilters},
		{"ListSortAndPaginate", testListSortAndPaginate},
		{"ListPastLastPage", testListPastLastPage},
		{"PendingSummaryIgnoresFilter", testPendingSummary},
		{"ListByStatus", testListByStatus},
		{"ConcurrentReads", testConcurrentReads},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clk := testclock.NewClock(Epoch)
			s := newStore(t, clk)
			t.Cleanup(func() { _ = s.Close() })
			tc.fn(t, s, clk)
		})
	}
}

// =============================================================================
// Helpers
// =============================================================================

func newRecord(owner, id string) *decision.Record {
	return &decision.Record{
		ID:        id,
		UserID:    owner,
		Situation: "situation " + id,
		Decision:  "decision " + id,
	}
}

// seed creates a record and then moves it to the given analysis outcome.
func seed(t *testing.T, s store.Store, clk *testclock.Clock, owner, id string, status decision.Status, typ string, attempts int, biases ...string) *decision.Record {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newRecord(owner, id)))
	clk.Advance(time.Minute)

	rec, err := s.Update(ctx, owner, id, func(r *decision.Record) error {
		r.Status = status
		r.AnalysisAttempts = attempts
		if typ != "" {
			r.DecisionType = decision.StringPtr(typ)
		}
		r.Biases = biases
		return nil
	})
	require.NoError(t, err)
	return rec
}

func ids(records []*decision.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

// =============================================================================
// Cases
// =============================================================================

func testCreateStampsRecord(t *testing.T, s store.Store, _ *testclock.Clock) {
	ctx := context.Background()
	rec := newRecord("alice", "d1")
	rec.IsNew = false
	require.NoError(t, s.Create(ctx, rec))

	assert.Equal(t, decision.StatusPending, rec.Status)
	assert.True(t, rec.IsNew)
	assert.True(t, rec.CreatedAt.Equal(Epoch))
	assert.True(t, rec.UpdatedAt.Equal(Epoch))

	got, err := s.Get(ctx, "alice", "d1")
	require.NoError(t, err)
	assert.Equal(t, "situation d1", got.Situation)
	assert.Equal(t, decision.StatusPending, got.Status)
	assert.True(t, got.IsNew)
	assert.Nil(t, got.DecisionType)
	assert.Nil(t, got.LastAnalyzedAt)
	assert.Empty(t, got.Biases)
}

func testCreateDuplicate(t *testing.T, s store.Store, _ *testclock.Clock) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newRecord("alice", "d1")))
	err := s.Create(ctx, newRecord("alice", "d1"))
	assert.True(t, errors.Is(err, store.ErrExists), "got %v", err)
}

func testCreateRequiresIdentity(t *testing.T, s store.Store, _ *testclock.Clock) {
	assert.Error(t, s.Create(context.Background(), newRecord("", "d1")))
	assert.Error(t, s.Create(context.Background(), newRecord("alice", "")))
}

func testGetForeignOwner(t *testing.T, s store.Store, _ *testclock.Clock) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newRecord("alice", "d1")))

	_, err := s.Get(ctx, "mallory", "d1")
	assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)
	_, err = s.Update(ctx, "mallory", "d1", func(r *decision.Record) error { return nil })
	assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)
	assert.True(t, errors.Is(s.Delete(ctx, "mallory", "d1"), store.ErrNotFound))
}

func testUpdateAdvancesUpdatedAt(t *testing.T, s store.Store, _ *testclock.Clock) {
	ctx := context.Background()
	rec := newRecord("alice", "d1")
	require.NoError(t, s.Create(ctx, rec))

	// The clock does not move, yet each write must still advance UpdatedAt.
	prev := rec.UpdatedAt
	for i := 0; i < 3; i++ {
		got, err := s.Update(ctx, "alice", "d1", func(r *decision.Record) error {
			r.IsNew = false
			return nil
		})
		require.NoError(t, err)
		assert.True(t, got.UpdatedAt.After(prev), "update %d: %v not after %v", i, got.UpdatedAt, prev)
		prev = got.UpdatedAt
	}

	got, err := s.Get(ctx, "alice", "d1")
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(prev))
	assert.False(t, got.IsNew)
}

func testUpdateErrorLeavesRecord(t *testing.T, s store.Store, _ *testclock.Clock) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newRecord("alice", "d1")))

	boom := errors.New("boom")
	_, err := s.Update(ctx, "alice", "d1", func(r *decision.Record) error {
		r.Status = decision.StatusFailed
		return boom
	})
	assert.True(t, errors.Is(err, boom))

	got, err := s.Get(ctx, "alice", "d1")
	require.NoError(t, err)
	assert.Equal(t, decision.StatusPending, got.Status)
}

func testUpdateKeepsIdentity(t *testing.T, s store.Store, _ *testclock.Clock) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newRecord("alice", "d1")))

	got, err := s.Update(ctx, "alice", "d1", func(r *decision.Record) error {
		r.ID = "other"
		r.UserID = "mallory"
		r.CreatedAt = time.Time{}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "d1", got.ID)
	assert.Equal(t, "alice", got.UserID)
	assert.True(t, got.CreatedAt.Equal(Epoch))

	_, err = s.Get(ctx, "mallory", "other")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func testUpdateMissing(t *testing.T, s store.Store, _ *testclock.Clock) {
	_, err := s.Update(context.Background(), "alice", "nope", func(r *decision.Record) error { return nil })
	assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)
}

func testDelete(t *testing.T, s store.Store, _ *testclock.Clock) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newRecord("alice", "d1")))
	require.NoError(t, s.Delete(ctx, "alice", "d1"))

	_, err := s.Get(ctx, "alice", "d1")
	assert.True(t, errors.Is(err, store.ErrNotFound))
	assert.True(t, errors.Is(s.Delete(ctx, "alice", "d1"), store.ErrNotFound))
}

func testListFilters(t *testing.T, s store.Store, clk *testclock.Clock) {
	ctx := context.Background()
	seed(t, s, clk, "alice", "d1", decision.StatusCompleted, "career", 1, "anchoring", "sunk-cost")
	seed(t, s, clk, "alice", "d2", decision.StatusCompleted, "finance", 1, "overconfidence")
	seed(t, s, clk, "alice", "d3", decision.StatusPending, "", 0)
	seed(t, s, clk, "bob", "d4", decision.StatusCompleted, "career", 1, "anchoring")

	all, err := s.ListDecisions(ctx, "alice", decision.DefaultFilterSpec())
	require.NoError(t, err)
	assert.Equal(t, 3, all.TotalCount)
	assert.Equal(t, []string{"d3", "d2", "d1"}, ids(all.Decisions))

	f := decision.DefaultFilterSpec()
	f.DecisionTypes = []string{"career", "health"}
	got, err := s.ListDecisions(ctx, "alice", f)
	require.NoError(t, err)
	assert.Equal(t, []string{"d1"}, ids(got.Decisions))
	assert.Equal(t, []string{"anchoring", "sunk-cost"}, got.Decisions[0].Biases)
	require.NotNil(t, got.Decisions[0].DecisionType)
	assert.Equal(t, "career", *got.Decisions[0].DecisionType)

	f = decision.DefaultFilterSpec()
	f.Biases = []string{"overconfidence", "sunk-cost"}
	got, err = s.ListDecisions(ctx, "alice", f)
	require.NoError(t, err)
	assert.Equal(t, []string{"d2", "d1"}, ids(got.Decisions))

	// seed advances the clock one minute per record: d1 at Epoch, d2 at +1m.
	from := Epoch.Add(30 * time.Second)
	to := Epoch.Add(90 * time.Second)
	f = decision.DefaultFilterSpec()
	f.DateFrom = &from
	f.DateTo = &to
	got, err = s.ListDecisions(ctx, "alice", f)
	require.NoError(t, err)
	assert.Equal(t, []string{"d2"}, ids(got.Decisions))
	assert.Equal(t, 1, got.TotalCount)

	exact := Epoch
	f = decision.DefaultFilterSpec()
	f.DateFrom = &exact
	f.DateTo = &exact
	got, err = s.ListDecisions(ctx, "alice", f)
	require.NoError(t, err)
	assert.Equal(t, []string{"d1"}, ids(got.Decisions), "date bounds are inclusive")
}

func testListSortAndPaginate(t *testing.T, s store.Store, clk *testclock.Clock) {
	ctx := context.Background()
	for i := 1; i <= 7; i++ {
		seed(t, s, clk, "alice", fmt.Sprintf("d%d", i), decision.StatusCompleted, "career", i%3)
	}

	f := decision.DefaultFilterSpec()
	f.SortBy = decision.SortByAnalysisAttempts
	f.SortOrder = decision.SortAsc
	f.PageSize = 3

	// attempts: d3,d6 → 0; d1,d4,d7 → 1; d2,d5 → 2. Ties break on id.
	want := [][]string{{"d3", "d6", "d1"}, {"d4", "d7", "d2"}, {"d5"}}
	for i, page := range want {
		f.Page = i + 1
		got, err := s.ListDecisions(ctx, "alice", f)
		require.NoError(t, err)
		assert.Equal(t, 7, got.TotalCount)
		assert.Equal(t, page, ids(got.Decisions), "page %d", f.Page)
	}

	f = decision.DefaultFilterSpec()
	f.SortBy = decision.SortByUpdatedAt
	f.SortOrder = decision.SortAsc
	f.PageSize = 2
	got, err := s.ListDecisions(ctx, "alice", f)
	require.NoError(t, err)
	assert.Equal(t, []string{"d1", "d2"}, ids(got.Decisions))
}

func testListPastLastPage(t *testing.T, s store.Store, clk *testclock.Clock) {
	seed(t, s, clk, "alice", "d1", decision.StatusPending, "", 0)

	f := decision.DefaultFilterSpec()
	f.Page = 5
	got, err := s.ListDecisions(context.Background(), "alice", f)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalCount)
	assert.NotNil(t, got.Decisions)
	assert.Empty(t, got.Decisions)

	empty, err := s.ListDecisions(context.Background(), "nobody", decision.DefaultFilterSpec())
	require.NoError(t, err)
	assert.Equal(t, 0, empty.TotalCount)
	assert.Empty(t, empty.Decisions)
}

func testPendingSummary(t *testing.T, s store.Store, clk *testclock.Clock) {
	ctx := context.Background()
	seed(t, s, clk, "alice", "d1", decision.StatusPending, "", 0)
	seed(t, s, clk, "alice", "d2", decision.StatusProcessing, "", 1)
	seed(t, s, clk, "alice", "d3", decision.StatusCompleted, "career", 1)
	seed(t, s, clk, "alice", "d4", decision.StatusFailed, "", 1)
	seed(t, s, clk, "bob", "d5", decision.StatusPending, "", 0)

	refs, err := s.PendingSummary(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "d2", refs[0].ID)
	assert.Equal(t, decision.StatusProcessing, refs[0].Status)
	assert.Equal(t, "d1", refs[1].ID)

	stored, err := s.Get(ctx, "alice", "d2")
	require.NoError(t, err)
	assert.True(t, refs[0].UpdatedAt.Equal(stored.UpdatedAt))

	none, err := s.PendingSummary(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testListByStatus(t *testing.T, s store.Store, clk *testclock.Clock) {
	ctx := context.Background()
	seed(t, s, clk, "alice", "d1", decision.StatusPending, "", 0)
	seed(t, s, clk, "bob", "d2", decision.StatusPending, "", 0)
	seed(t, s, clk, "alice", "d3", decision.StatusCompleted, "career", 1)
	seed(t, s, clk, "carol", "d4", decision.StatusPending, "", 0)

	got, err := s.ListByStatus(ctx, decision.StatusPending, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"d1", "d2"}, ids(got))
	assert.Equal(t, "bob", got[1].UserID)

	got, err = s.ListByStatus(ctx, decision.StatusPending, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"d1", "d2", "d4"}, ids(got))
}

func testConcurrentReads(t *testing.T, s store.Store, clk *testclock.Clock) {
	for i := 0; i < 5; i++ {
		seed(t, s, clk, "alice", fmt.Sprintf("d%d", i), decision.StatusPending, "", 0)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ListDecisions(context.Background(), "alice", decision.DefaultFilterSpec()); err != nil {
				errs <- err
			}
			if _, err := s.PendingSummary(context.Background(), "alice"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent read: %v", err)
	}
}
