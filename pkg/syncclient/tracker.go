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
	"slices"

	"github.com/sergii-nosachenko/retrospecta/pkg/decision"
)

// Patch is a speculative change to a record. Nil fields are untouched.
type Patch struct {
	Status *decision.Status
	IsNew  *bool
}

// StatusPatch returns a patch setting only the status.
func StatusPatch(s decision.Status) Patch {
	return Patch{Status: &s}
}

// ReadPatch returns a patch clearing the unread flag.
func ReadPatch() Patch {
	isNew := false
	return Patch{IsNew: &isNew}
}

// apply writes the patched fields onto rec.
func (p Patch) apply(rec *decision.Record) {
	if p.Status != nil {
		rec.Status = *p.Status
	}
	if p.IsNew != nil {
		rec.IsNew = *p.IsNew
	}
}

// matchedBy reports whether every patched field equals rec's value.
func (p Patch) matchedBy(rec *decision.Record) bool {
	if p.Status != nil && rec.Status != *p.Status {
		return false
	}
	if p.IsNew != nil && rec.IsNew != *p.IsNew {
		return false
	}
	return true
}

// combine overlays later onto p.
func (p Patch) combine(later Patch) Patch {
	if later.Status != nil {
		p.Status = later.Status
	}
	if later.IsNew != nil {
		p.IsNew = later.IsNew
	}
	return p
}

func (p Patch) pendingStatus() bool {
	return p.Status != nil && p.Status.IsPending()
}

type patchEntry struct {
	patch Patch

	// original is the record before the first patch, nil for inserts.
	original *decision.Record
}

// Tracker records optimistic patches and the local pending counter.
//
// # Description
//
// Mutations return a new collection and never modify records in place.
// The pending counter follows two rules:
//
//   - Locally, a status patch increments it only on a non-pending to
//     pending transition, and removing a pending record decrements it,
//     floored at zero.
//   - Once a server pending summary has been observed, the counter is the
//     server count plus outstanding pending-status patches the server did
//     not list, minus removed records it still lists.
//
// # Thread Safety
//
// Not safe for concurrent use; owned by a Session.
type Tracker struct {
	patches map[string]*patchEntry
	removed map[string]struct{}
	server  *serverPending
	pending int
}

type serverPending struct {
	count int
	ids   map[string]struct{}
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		patches: make(map[string]*patchEntry),
		removed: make(map[string]struct{}),
	}
}

// PendingCount returns the local pending counter.
func (t *Tracker) PendingCount() int {
	return t.pending
}

// HasPendingPatch reports whether id has an unconfirmed patch.
func (t *Tracker) HasPendingPatch(id string) bool {
	_, ok := t.patches[id]
	return ok
}

// ApplyPatch records patch for id and returns records with a new patched
// object in its place. Records is returned unchanged when id is absent.
func (t *Tracker) ApplyPatch(records []*decision.Record, id string, patch Patch) []*decision.Record {
	i := indexOf(records, id)
	if i < 0 {
		return records
	}
	prev := records[i]
	patched := prev.Clone()
	patch.apply(patched)

	if entry, ok := t.patches[id]; ok {
		entry.patch = entry.patch.combine(patch)
	} else {
		t.patches[id] = &patchEntry{patch: patch, original: prev}
	}

	if patch.Status != nil && !prev.Status.IsPending() && patched.Status.IsPending() {
		t.pending++
	}

	out := slices.Clone(records)
	out[i] = patched
	return out
}

// Insert prepends an optimistically created record and tracks its status.
func (t *Tracker) Insert(records []*decision.Record, rec *decision.Record) []*decision.Record {
	t.patches[rec.ID] = &patchEntry{patch: StatusPatch(rec.Status)}
	if rec.Status.IsPending() {
		t.pending++
	}
	out := make([]*decision.Record, 0, len(records)+1)
	out = append(out, rec)
	for _, r := range records {
		if r.ID != rec.ID {
			out = append(out, r)
		}
	}
	return out
}

// Remove drops id from records after an optimistic delete.
func (t *Tracker) Remove(records []*decision.Record, id string) []*decision.Record {
	i := indexOf(records, id)
	if i < 0 {
		delete(t.patches, id)
		return records
	}
	if records[i].Status.IsPending() {
		t.decrement()
		t.removed[id] = struct{}{}
	}
	delete(t.patches, id)
	return slices.Delete(slices.Clone(records), i, i+1)
}

// Revert undoes the patch for id after its mutation request failed.
//
// Patched records are restored to their state before the first patch;
// inserted records are removed.
func (t *Tracker) Revert(records []*decision.Record, id string) []*decision.Record {
	entry, ok := t.patches[id]
	if !ok {
		t.forgetRemoval(id)
		return records
	}
	delete(t.patches, id)

	i := indexOf(records, id)
	if entry.original == nil {
		if i >= 0 && records[i].Status.IsPending() {
			t.decrement()
		}
		if i >= 0 {
			records = slices.Delete(slices.Clone(records), i, i+1)
		}
		t.recompute()
		return records
	}

	if i >= 0 {
		if records[i].Status.IsPending() && !entry.original.Status.IsPending() {
			t.decrement()
		}
		records = slices.Clone(records)
		records[i] = entry.original
	}
	t.recompute()
	return records
}

// Reconcile clears patches confirmed by incoming records.
//
// A patch is cleared when every patched field matches the incoming record,
// or when the incoming status is terminal regardless of match. Returns the
// cleared ids in incoming order.
//
// A terminal incoming record also leaves the last server pending summary,
// which predates it.
func (t *Tracker) Reconcile(incoming []*decision.Record) []string {
	var cleared []string
	changed := false
	for _, rec := range incoming {
		if rec.Status.IsTerminal() && t.server != nil {
			if _, listed := t.server.ids[rec.ID]; listed {
				delete(t.server.ids, rec.ID)
				t.server.count = max(t.server.count-1, 0)
				changed = true
			}
		}
		entry, ok := t.patches[rec.ID]
		if !ok {
			continue
		}
		if rec.Status.IsTerminal() || entry.patch.matchedBy(rec) {
			delete(t.patches, rec.ID)
			cleared = append(cleared, rec.ID)
			changed = true
		}
	}
	if changed {
		t.recompute()
	}
	return cleared
}

// Overlay returns incoming with outstanding patches applied to copies of
// the affected records. Incoming is returned as-is when nothing applies.
func (t *Tracker) Overlay(incoming []*decision.Record) []*decision.Record {
	var out []*decision.Record
	for i, rec := range incoming {
		entry, ok := t.patches[rec.ID]
		if !ok || entry.patch.matchedBy(rec) {
			continue
		}
		if out == nil {
			out = slices.Clone(incoming)
		}
		patched := rec.Clone()
		entry.patch.apply(patched)
		out[i] = patched
	}
	if out == nil {
		return incoming
	}
	return out
}

// ObservePending folds a server pending summary into the counter.
func (t *Tracker) ObservePending(ev *decision.PendingEvent) {
	ids := make(map[string]struct{}, len(ev.Decisions))
	for _, ref := range ev.Decisions {
		ids[ref.ID] = struct{}{}
	}
	for id := range t.removed {
		if _, listed := ids[id]; !listed {
			delete(t.removed, id)
		}
	}
	t.server = &serverPending{count: ev.Count, ids: ids}
	t.recompute()
}

func (t *Tracker) recompute() {
	if t.server == nil {
		return
	}
	n := t.server.count
	for id := range t.removed {
		if _, listed := t.server.ids[id]; listed {
			n--
		}
	}
	for id, entry := range t.patches {
		if _, listed := t.server.ids[id]; !listed && entry.patch.pendingStatus() {
			n++
		}
	}
	t.pending = max(n, 0)
}

// forgetRemoval undoes the counter effect of a rejected Remove. The record
// itself comes back with the next update.
func (t *Tracker) forgetRemoval(id string) {
	if _, ok := t.removed[id]; !ok {
		return
	}
	delete(t.removed, id)
	if t.server == nil {
		t.pending++
		return
	}
	t.recompute()
}

func (t *Tracker) decrement() {
	if t.pending > 0 {
		t.pending--
	}
}

func indexOf(records []*decision.Record, id string) int {
	return slices.IndexFunc(records, func(r *decision.Record) bool { return r.ID == id })
}
