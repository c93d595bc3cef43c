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
	"time"

	"github.com/sergii-nosachenko/retrospecta/pkg/decision"
)

// HasDecisionChanged reports whether a and b differ in any tracked field.
//
// Tracked: Status, DecisionType, AnalysisAttempts, ErrorMessage, IsNew,
// Biases (element-wise), UpdatedAt and LastAnalyzedAt (as instants). Every
// other field, including the journal text, is ignored.
func HasDecisionChanged(a, b *decision.Record) bool {
	if a == nil || b == nil {
		return a != b
	}
	return a.Status != b.Status ||
		!equalStringPtr(a.DecisionType, b.DecisionType) ||
		a.AnalysisAttempts != b.AnalysisAttempts ||
		!equalStringPtr(a.ErrorMessage, b.ErrorMessage) ||
		a.IsNew != b.IsNew ||
		!slices.Equal(a.Biases, b.Biases) ||
		!a.UpdatedAt.Equal(b.UpdatedAt) ||
		!equalTimePtr(a.LastAnalyzedAt, b.LastAnalyzedAt)
}

// Merge folds an incoming snapshot into the previous collection.
//
// # Description
//
// Returns previous itself when incoming has the same members in the same
// order with no tracked-field change. Otherwise returns a new slice in
// incoming order where unchanged members (matched by id) keep their
// previous pointer and changed or new members use the incoming pointer.
// A pure reorder returns a new slice of old pointers.
func Merge(previous, incoming []*decision.Record) []*decision.Record {
	byID := make(map[string]*decision.Record, len(previous))
	for _, rec := range previous {
		byID[rec.ID] = rec
	}

	changed := len(previous) != len(incoming)
	merged := make([]*decision.Record, len(incoming))
	for i, rec := range incoming {
		old, ok := byID[rec.ID]
		if ok && !HasDecisionChanged(old, rec) {
			merged[i] = old
			if i >= len(previous) || previous[i] != old {
				changed = true
			}
			continue
		}
		merged[i] = rec
		changed = true
	}

	if !changed {
		return previous
	}
	return merged
}

// SameCollection reports whether a and b are the same slice: equal length
// and the same backing array start. Two empty slices are the same.
func SameCollection(a, b []*decision.Record) bool {
	if len(a) != len(b) {
		return false
	}
	return len(a) == 0 || &a[0] == &b[0]
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
