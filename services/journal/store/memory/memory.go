// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memory is the in-process reference decision store.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/juju/clock"

	"github.com/sergii-nosachenko/retrospecta/pkg/decision"
	"github.com/sergii-nosachenko/retrospecta/services/journal/store"
)

// Store keeps records in a map guarded by a RWMutex.
//
// Records are stored by owner then id. Every value handed out is a clone.
type Store struct {
	mu      sync.RWMutex
	clock   clock.Clock
	byOwner map[string]map[string]*decision.Record
	closed  bool
}

var _ store.Store = (*Store)(nil)

// New returns an empty store. A nil clock uses the wall clock.
func New(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Store{
		clock:   clk,
		byOwner: make(map[string]map[string]*decision.Record),
	}
}

func (s *Store) Create(ctx context.Context, rec *decision.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := store.PrepareCreate(rec, s.clock.Now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	owned := s.byOwner[c.UserID]
	if owned == nil {
		owned = make(map[string]*decision.Record)
		s.byOwner[c.UserID] = owned
	}
	if _, ok := owned[c.ID]; ok {
		return fmt.Errorf("create decision %s: %w", c.ID, store.ErrExists)
	}
	owned[c.ID] = c
	*rec = *c.Clone()
	return nil
}

func (s *Store) Get(ctx context.Context, owner, id string) (*decision.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	rec, ok := s.byOwner[owner][id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *Store) Update(ctx context.Context, owner, id string, fn store.UpdateFunc) (*decision.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	current, ok := s.byOwner[owner][id]
	if !ok {
		return nil, store.ErrNotFound
	}
	next, err := store.ApplyUpdate(current, fn, s.clock.Now())
	if err != nil {
		return nil, err
	}
	s.byOwner[owner][id] = next
	return next.Clone(), nil
}

func (s *Store) Delete(ctx context.Context, owner, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	if _, ok := s.byOwner[owner][id]; !ok {
		return store.ErrNotFound
	}
	delete(s.byOwner[owner], id)
	return nil
}

func (s *Store) ListDecisions(ctx context.Context, owner string, filter decision.FilterSpec) (decision.Page, error) {
	if err := ctx.Err(); err != nil {
		return decision.Page{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return decision.Page{}, store.ErrClosed
	}
	return store.Query(s.ownedLocked(owner), filter), nil
}

func (s *Store) PendingSummary(ctx context.Context, owner string) ([]decision.PendingRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	return store.PendingRefs(s.ownedLocked(owner)), nil
}

func (s *Store) ListByStatus(ctx context.Context, status decision.Status, limit int) ([]*decision.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	var all []*decision.Record
	for owner := range s.byOwner {
		all = append(all, s.ownedLocked(owner)...)
	}
	return store.OldestWithStatus(all, status, limit), nil
}

// Close marks the store closed. Subsequent calls return store.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) ownedLocked(owner string) []*decision.Record {
	owned := s.byOwner[owner]
	out := make([]*decision.Record, 0, len(owned))
	for _, r := range owned {
		out = append(out, r)
	}
	return out
}
