// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store defines the decision store adapter used by the journal
// service and its publisher.
//
// Three implementations live in subpackages: memory (reference, tests),
// badgerstore (embedded KV) and sqlitestore (embedded SQL). All of them pass
// the shared contract suite in storetest.
package store

import (
	"context"
	"errors"

	"github.com/sergii-nosachenko/retrospecta/pkg/decision"
)

var (
	// ErrNotFound is returned when a record does not exist or belongs to
	// another owner. The two cases are indistinguishable to callers.
	ErrNotFound = errors.New("decision not found")

	// ErrExists is returned by Create when the id is already taken.
	ErrExists = errors.New("decision already exists")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store closed")
)

// Reader is the read side consumed by the publisher.
//
// # Description
//
// Both methods are called once per query cycle for every open subscription,
// possibly concurrently from many goroutines. Implementations must be safe
// for concurrent use.
type Reader interface {
	// ListDecisions returns the filtered, sorted page of the owner's records
	// along with the total number of matching records before pagination.
	ListDecisions(ctx context.Context, owner string, filter decision.FilterSpec) (decision.Page, error)

	// PendingSummary returns every PENDING or PROCESSING record of the owner,
	// ignoring any filter, newest first.
	PendingSummary(ctx context.Context, owner string) ([]decision.PendingRef, error)
}

// UpdateFunc mutates a record copy in place. Returning an error aborts the
// update and the error is returned unchanged from Update.
type UpdateFunc func(rec *decision.Record) error

// Store is the full decision store adapter.
//
// # Description
//
// Mutations enforce the UpdatedAt invariant: Create stamps CreatedAt and
// UpdatedAt, Update advances UpdatedAt strictly past its previous value via
// decision.NextUpdatedAt. ID and UserID cannot be changed by an UpdateFunc.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Store interface {
	Reader

	// Create inserts a new record. rec.ID and rec.UserID must be set.
	Create(ctx context.Context, rec *decision.Record) error

	// Get returns a copy of one record.
	Get(ctx context.Context, owner, id string) (*decision.Record, error)

	// Update applies fn to a copy of the record and persists the result.
	Update(ctx context.Context, owner, id string, fn UpdateFunc) (*decision.Record, error)

	// Delete removes a record.
	Delete(ctx context.Context, owner, id string) error

	// ListByStatus returns up to limit records with the given status across
	// all owners, oldest first. Used by the analysis worker.
	ListByStatus(ctx context.Context, status decision.Status, limit int) ([]*decision.Record, error)

	// Close releases underlying resources.
	Close() error
}
