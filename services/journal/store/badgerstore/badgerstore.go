// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badgerstore persists decisions in an embedded BadgerDB.
//
// # Key Layout
//
//	decision/<owner>/<id> → JSON-encoded decision.Record
//
// Owner-scoped reads are prefix scans; filtering, sorting and pagination
// happen in process via store.Query.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/juju/clock"

	"github.com/sergii-nosachenko/retrospecta/pkg/decision"
	"github.com/sergii-nosachenko/retrospecta/services/journal/store"
)

const (
	keyPrefix = "decision/"

	// maxConflictRetries bounds optimistic transaction retries on Update.
	maxConflictRetries = 3
)

// Config configures the BadgerDB-backed store.
type Config struct {
	// Path is the database directory. Required unless InMemory is set.
	Path string

	// InMemory runs without touching disk. Used by tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration

	// GCDiscardRatio is passed to RunValueLogGC.
	GCDiscardRatio float64

	// Logger receives badger's internal logs. Nil silences them.
	Logger *slog.Logger

	// Clock stamps CreatedAt/UpdatedAt. Nil uses the wall clock.
	Clock clock.Clock
}

// DefaultConfig returns production defaults for a persistent store.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for an ephemeral store.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// Store implements store.Store on BadgerDB.
//
// # Thread Safety
//
// Safe for concurrent use. Reads use read-only transactions; Update retries
// on badger.ErrConflict.
type Store struct {
	db     *badger.DB
	clock  clock.Clock
	logger *slog.Logger
	stopGC chan struct{}
	gcDone chan struct{}
}

var _ store.Store = (*Store)(nil)

// Open opens or creates the database described by cfg.
//
// # Outputs
//
//   - *Store: Ready store. Call Close to release the database.
//   - error: Non-nil if the path is missing or badger fails to open.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &Store{
		db:     db,
		clock:  cfg.Clock,
		logger: cfg.Logger,
	}
	if s.clock == nil {
		s.clock = clock.WallClock
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

func (s *Store) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}

// Close stops GC and closes the database.
func (s *Store) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.gcDone
		s.stopGC = nil
	}
	if s.db.IsClosed() {
		return nil
	}
	return s.db.Close()
}

// =============================================================================
// Keys and codec
// =============================================================================

func ownerPrefix(owner string) []byte {
	return []byte(keyPrefix + owner + "/")
}

func recordKey(owner, id string) []byte {
	return []byte(keyPrefix + owner + "/" + id)
}

func readRecord(item *badger.Item) (*decision.Record, error) {
	var rec decision.Record
	err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", item.Key(), err)
	}
	return &rec, nil
}

func writeRecord(txn *badger.Txn, rec *decision.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode decision %s: %w", rec.ID, err)
	}
	return txn.Set(recordKey(rec.UserID, rec.ID), data)
}

func scan(txn *badger.Txn, prefix []byte, keep func(*decision.Record) bool) ([]*decision.Record, error) {
	it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 100, Prefix: prefix})
	defer it.Close()

	var out []*decision.Record
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		rec, err := readRecord(it.Item())
		if err != nil {
			return nil, err
		}
		if keep == nil || keep(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *Store) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return store.ErrClosed
	}
	return s.db.View(fn)
}

func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return store.ErrClosed
	}
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.logger.Debug("badger transaction conflict, retrying", slog.Int("attempt", attempt+1))
	}
	return err
}

// =============================================================================
// store.Store
// =============================================================================

func (s *Store) Create(ctx context.Context, rec *decision.Record) error {
	c, err := store.PrepareCreate(rec, s.clock.Now())
	if err != nil {
		return err
	}
	if strings.Contains(c.UserID, "/") || strings.Contains(c.ID, "/") {
		return fmt.Errorf("create decision: id and owner must not contain '/'")
	}

	err = s.update(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(recordKey(c.UserID, c.ID))
		if err == nil {
			return fmt.Errorf("create decision %s: %w", c.ID, store.ErrExists)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return writeRecord(txn, c)
	})
	if err != nil {
		return err
	}
	*rec = *c
	return nil
}

func (s *Store) Get(ctx context.Context, owner, id string) (*decision.Record, error) {
	var rec *decision.Record
	err := s.view(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(owner, id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		rec, err = readRecord(item)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) Update(ctx context.Context, owner, id string, fn store.UpdateFunc) (*decision.Record, error) {
	var next *decision.Record
	err := s.update(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(owner, id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		current, err := readRecord(item)
		if err != nil {
			return err
		}
		next, err = store.ApplyUpdate(current, fn, s.clock.Now())
		if err != nil {
			return err
		}
		return writeRecord(txn, next)
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

func (s *Store) Delete(ctx context.Context, owner, id string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		key := recordKey(owner, id)
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return store.ErrNotFound
			}
			return err
		}
		return txn.Delete(key)
	})
}

func (s *Store) ListDecisions(ctx context.Context, owner string, filter decision.FilterSpec) (decision.Page, error) {
	var page decision.Page
	err := s.view(ctx, func(txn *badger.Txn) error {
		records, err := scan(txn, ownerPrefix(owner), filter.Matches)
		if err != nil {
			return err
		}
		page = store.Query(records, filter)
		return nil
	})
	if err != nil {
		return decision.Page{}, fmt.Errorf("list decisions: %w", err)
	}
	return page, nil
}

func (s *Store) PendingSummary(ctx context.Context, owner string) ([]decision.PendingRef, error) {
	var refs []decision.PendingRef
	err := s.view(ctx, func(txn *badger.Txn) error {
		records, err := scan(txn, ownerPrefix(owner), func(r *decision.Record) bool {
			return r.Status.IsPending()
		})
		if err != nil {
			return err
		}
		refs = store.PendingRefs(records)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pending summary: %w", err)
	}
	return refs, nil
}

func (s *Store) ListByStatus(ctx context.Context, status decision.Status, limit int) ([]*decision.Record, error) {
	var out []*decision.Record
	err := s.view(ctx, func(txn *badger.Txn) error {
		records, err := scan(txn, []byte(keyPrefix), func(r *decision.Record) bool {
			return r.Status == status
		})
		if err != nil {
			return err
		}
		out = store.OldestWithStatus(records, status, limit)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list by status: %w", err)
	}
	return out, nil
}
