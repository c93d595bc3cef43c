// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/sergii-nosachenko/retrospecta/pkg/decision"
)

// Query filters, sorts and paginates an owner's records in process.
//
// # Description
//
// Used by stores that cannot push the query down (memory, badger). The
// input slice is not modified; returned records are clones.
//
// # Inputs
//
//   - records: All records of one owner, in any order.
//   - filter: A validated FilterSpec.
//
// # Outputs
//
//   - decision.Page: The requested page and the total match count.
func Query(records []*decision.Record, filter decision.FilterSpec) decision.Page {
	matched := make([]*decision.Record, 0, len(records))
	for _, r := range records {
		if filter.Matches(r) {
			matched = append(matched, r)
		}
	}
	slices.SortFunc(matched, filter.Compare)

	page := decision.Page{TotalCount: len(matched), Decisions: []*decision.Record{}}
	start := filter.Offset()
	if start >= len(matched) {
		return page
	}
	end := min(start+filter.PageSize, len(matched))
	for _, r := range matched[start:end] {
		page.Decisions = append(page.Decisions, r.Clone())
	}
	return page
}

// PendingRefs projects the PENDING/PROCESSING subset of records to refs,
// newest first with ties broken on ID.
func PendingRefs(records []*decision.Record) []decision.PendingRef {
	pending := make([]*decision.Record, 0)
	for _, r := range records {
		if r.Status.IsPending() {
			pending = append(pending, r)
		}
	}
	slices.SortFunc(pending, newestFirst)

	refs := make([]decision.PendingRef, 0, len(pending))
	for _, r := range pending {
		refs = append(refs, r.Ref())
	}
	return refs
}

// OldestWithStatus returns up to limit clones with status, oldest first.
// A non-positive limit means no limit.
func OldestWithStatus(records []*decision.Record, status decision.Status, limit int) []*decision.Record {
	out := make([]*decision.Record, 0)
	for _, r := range records {
		if r.Status == status {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b *decision.Record) int { return -newestFirst(a, b) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i, r := range out {
		out[i] = r.Clone()
	}
	return out
}

func newestFirst(a, b *decision.Record) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(b.ID, a.ID)
}

// PrepareCreate validates a new record and stamps its timestamps.
//
// Status defaults to PENDING and IsNew is forced on so a freshly created
// record always enters the analysis queue as unread.
func PrepareCreate(rec *decision.Record, now time.Time) (*decision.Record, error) {
	if rec == nil || rec.ID == "" || rec.UserID == "" {
		return nil, fmt.Errorf("create decision: id and user id are required")
	}
	c := rec.Clone()
	if c.Status == "" {
		c.Status = decision.StatusPending
	}
	if !c.Status.Valid() {
		return nil, fmt.Errorf("create decision: invalid status %q", c.Status)
	}
	if c.Biases == nil {
		c.Biases = []string{}
	}
	c.IsNew = true
	now = now.UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	return c, nil
}

// ApplyUpdate runs fn on a clone of current and enforces the identity and
// UpdatedAt invariants on the result.
func ApplyUpdate(current *decision.Record, fn UpdateFunc, now time.Time) (*decision.Record, error) {
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if !next.Status.Valid() {
		return nil, fmt.Errorf("update decision %s: invalid status %q", current.ID, next.Status)
	}
	next.ID = current.ID
	next.UserID = current.UserID
	next.CreatedAt = current.CreatedAt
	if next.Biases == nil {
		next.Biases = []string{}
	}
	next.UpdatedAt = decision.NextUpdatedAt(current.UpdatedAt, now)
	return next, nil
}
