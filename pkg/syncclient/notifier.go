// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package syncclient

import (
	"github.com/sergii-nosachenko/retrospecta/pkg/decision"
)

// NotificationKind is the kind of background status transition.
type NotificationKind string

const (
	// NotifyCompleted fires on PENDING or PROCESSING → COMPLETED.
	NotifyCompleted NotificationKind = "completed"

	// NotifyFailed fires on any non-FAILED status → FAILED.
	NotifyFailed NotificationKind = "failed"
)

// Notification is one background status transition.
type Notification struct {
	Kind   NotificationKind
	ID     string
	Record *decision.Record
}

// Notifier detects analysis status transitions across merged snapshots.
//
// # Description
//
// Keeps the last observed status per id. A transition is only reported when
// the previous status is known, so a record seen for the first time never
// notifies. Transitions of records with an outstanding optimistic patch are
// suppressed, but the side table is updated either way.
//
// Ids absent from an observed collection are evicted, bounding the table
// to the size of the current view. A record that leaves the view and comes
// back is treated as first seen.
type Notifier struct {
	last map[string]decision.Status
}

// NewNotifier returns an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{last: make(map[string]decision.Status)}
}

// Observe compares records against the side table and returns the
// transitions to announce, in collection order. hasPendingPatch may be nil.
func (n *Notifier) Observe(records []*decision.Record, hasPendingPatch func(id string) bool) []Notification {
	var out []Notification
	seen := make(map[string]struct{}, len(records))

	for _, rec := range records {
		seen[rec.ID] = struct{}{}
		prev, known := n.last[rec.ID]
		n.last[rec.ID] = rec.Status

		if !known || (hasPendingPatch != nil && hasPendingPatch(rec.ID)) {
			continue
		}
		switch {
		case rec.Status == decision.StatusCompleted && prev.IsPending():
			out = append(out, Notification{Kind: NotifyCompleted, ID: rec.ID, Record: rec})
		case rec.Status == decision.StatusFailed && prev != decision.StatusFailed:
			out = append(out, Notification{Kind: NotifyFailed, ID: rec.ID, Record: rec})
		}
	}

	for id := range n.last {
		if _, ok := seen[id]; !ok {
			delete(n.last, id)
		}
	}
	return out
}

// Len returns the number of tracked ids.
func (n *Notifier) Len() int {
	return len(n.last)
}
