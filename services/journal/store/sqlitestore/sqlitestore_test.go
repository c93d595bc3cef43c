// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sqlitestore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergii-nosachenko/retrospecta/pkg/decision"
	"github.com/sergii-nosachenko/retrospecta/services/journal/store"
	"github.com/sergii-nosachenko/retrospecta/services/journal/store/storetest"
)

func TestSQLiteStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T, clk clock.Clock) store.Store {
		s, err := Open(MemoryPath, clk)
		require.NoError(t, err)
		return s
	})
}

func TestSQLiteStore_FileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	s, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, &decision.Record{ID: "d1", UserID: "alice", Reasoning: "gut feeling"}))
	require.NoError(t, s.Close())

	s, err = Open(path, nil)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, "alice", "d1")
	require.NoError(t, err)
	assert.Equal(t, "gut feeling", got.Reasoning)
}

func TestSQLiteStore_NullableRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := Open(MemoryPath, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Create(ctx, &decision.Record{ID: "d1", UserID: "alice"}))
	analyzed := time.Date(2025, 4, 1, 10, 0, 0, 123456789, time.UTC)
	_, err = s.Update(ctx, "alice", "d1", func(r *decision.Record) error {
		r.Status = decision.StatusFailed
		r.ErrorMessage = decision.StringPtr("analyzer timeout")
		r.LastAnalyzedAt = &analyzed
		return nil
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, "alice", "d1")
	require.NoError(t, err)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "analyzer timeout", *got.ErrorMessage)
	require.NotNil(t, got.LastAnalyzedAt)
	assert.True(t, got.LastAnalyzedAt.Equal(analyzed))
	assert.Nil(t, got.DecisionType)
}

func TestSQLiteStore_Closed(t *testing.T) {
	s, err := Open(MemoryPath, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.ListDecisions(context.Background(), "alice", decision.DefaultFilterSpec())
	assert.True(t, errors.Is(err, store.ErrClosed), "got %v", err)
}

func TestWhereClause(t *testing.T) {
	f := decision.DefaultFilterSpec()
	f.DecisionTypes = []string{"career", "finance"}
	f.Biases = []string{"anchoring"}

	where, args := whereClause("alice", f)
	assert.Equal(t,
		"user_id = ? AND decision_type IN (?, ?) AND EXISTS (SELECT 1 FROM json_each(decisions.biases) WHERE json_each.value IN (?))",
		where)
	assert.Equal(t, []any{"alice", "career", "finance", "anchoring"}, args)
}

func TestNanos_Clamps(t *testing.T) {
	assert.Equal(t, int64(0), nanos(time.Unix(0, 0)))
	assert.Less(t, nanos(time.Time{}), int64(0))
}
