// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package badgerstore

import (
	"context"
	"errors"
	"testing"

	"github.com/juju/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergii-nosachenko/retrospecta/pkg/decision"
	"github.com/sergii-nosachenko/retrospecta/services/journal/store"
	"github.com/sergii-nosachenko/retrospecta/services/journal/store/storetest"
)

func TestBadgerStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T, clk clock.Clock) store.Store {
		cfg := InMemoryConfig()
		cfg.Clock = clk
		s, err := Open(cfg)
		require.NoError(t, err)
		return s
	})
}

func TestBadgerStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	cfg := DefaultConfig(dir)
	cfg.GCInterval = 0
	s, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, &decision.Record{ID: "d1", UserID: "alice", Situation: "move cities"}))
	require.NoError(t, s.Close())

	s, err = Open(cfg)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, "alice", "d1")
	require.NoError(t, err)
	assert.Equal(t, "move cities", got.Situation)
}

func TestBadgerStore_OwnerPrefixIsExact(t *testing.T) {
	ctx := context.Background()
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Create(ctx, &decision.Record{ID: "d1", UserID: "al"}))
	require.NoError(t, s.Create(ctx, &decision.Record{ID: "d2", UserID: "alice"}))

	page, err := s.ListDecisions(ctx, "al", decision.DefaultFilterSpec())
	require.NoError(t, err)
	assert.Equal(t, 1, page.TotalCount)
}

func TestBadgerStore_RejectsSlashInKey(t *testing.T) {
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer s.Close()

	assert.Error(t, s.Create(context.Background(), &decision.Record{ID: "a/b", UserID: "alice"}))
}

func TestBadgerStore_ClosedStore(t *testing.T) {
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.PendingSummary(context.Background(), "alice")
	assert.True(t, errors.Is(err, store.ErrClosed), "got %v", err)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}
