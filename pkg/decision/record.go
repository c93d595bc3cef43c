// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package decision defines the data model shared by the journal service and
// its sync client: decision records, list filters and the typed
// stream events exchanged over the decision event stream.
//
// # Wire Compatibility
//
// JSON field names are camelCase and match the event stream payloads
// consumed by browser and CLI clients. Changing a tag is a protocol change.
package decision

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Status
// =============================================================================

// Status is the analysis lifecycle state of a decision.
//
// # Description
//
// The lifecycle is PENDING → PROCESSING → {COMPLETED, FAILED}. A re-analysis
// request moves a terminal record back to PENDING.
//
//   - PENDING, PROCESSING: non-terminal, counted as "pending" by the UI
//   - COMPLETED, FAILED: terminal, no further automatic transition expected
type Status string

const (
	// StatusPending means the record is queued for analysis.
	StatusPending Status = "PENDING"

	// StatusProcessing means an analyzer has claimed the record.
	StatusProcessing Status = "PROCESSING"

	// StatusCompleted means analysis succeeded; DecisionType and Biases are set.
	StatusCompleted Status = "COMPLETED"

	// StatusFailed means analysis failed; ErrorMessage is set.
	StatusFailed Status = "FAILED"
)

// IsTerminal reports whether no further automatic transition is expected.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsPending reports whether the status counts toward the pending backlog.
func (s Status) IsPending() bool {
	return s == StatusPending || s == StatusProcessing
}

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// ParseStatus parses a status name case-insensitively.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown decision status %q", raw)
	}
	return s, nil
}

// =============================================================================
// Record
// =============================================================================

// Record is a single journal entry and the unit of synchronization.
//
// # Description
//
// Only a subset of fields participates in change detection on the client
// (see syncclient.HasDecisionChanged). UpdatedAt strictly increases with every
// meaningful mutation and is the primary change signal; stores enforce this.
//
// # Fields
//
//   - ID: Opaque identifier, stable for the record lifetime.
//   - UserID: Owner identity. Records are only visible to their owner.
//   - Situation, Decision, Reasoning: Free-text journal content.
//   - Status: Analysis lifecycle state.
//   - DecisionType: Classification, set only on COMPLETED.
//   - Biases: Ordered detected biases, meaningful only on COMPLETED.
//   - AnalysisAttempts: Monotonically non-decreasing attempt counter.
//   - LastAnalyzedAt: Time of the last finished analysis, nil if never.
//   - ErrorMessage: Failure reason, set only on FAILED.
//   - IsNew: Unread flag, cleared by "mark read".
//   - CreatedAt, UpdatedAt: Timestamps (UTC).
type Record struct {
	ID               string     `json:"id"`
	UserID           string     `json:"userId"`
	Situation        string     `json:"situation"`
	Decision         string     `json:"decision"`
	Reasoning        string     `json:"reasoning,omitempty"`
	Status           Status     `json:"status"`
	DecisionType     *string    `json:"decisionType"`
	Biases           []string   `json:"biases"`
	AnalysisAttempts int        `json:"analysisAttempts"`
	LastAnalyzedAt   *time.Time `json:"lastAnalyzedAt"`
	ErrorMessage     *string    `json:"errorMessage"`
	IsNew            bool       `json:"isNew"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Clone returns a deep copy of the record.
//
// Pointer and slice fields are copied so the clone can be mutated without
// affecting the original. Clients rely on this to keep object identity
// meaningful for change detection.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.DecisionType != nil {
		v := *r.DecisionType
		c.DecisionType = &v
	}
	if r.ErrorMessage != nil {
		v := *r.ErrorMessage
		c.ErrorMessage = &v
	}
	if r.LastAnalyzedAt != nil {
		v := *r.LastAnalyzedAt
		c.LastAnalyzedAt = &v
	}
	if r.Biases != nil {
		c.Biases = append([]string(nil), r.Biases...)
	}
	return &c
}

// Ref returns the lightweight projection used by pending events.
func (r *Record) Ref() PendingRef {
	return PendingRef{ID: r.ID, Status: r.Status, UpdatedAt: r.UpdatedAt}
}

// PendingRef is the id/status/updatedAt subset carried by pending events.
type PendingRef struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Page is one filtered, paginated slice of an owner's decisions.
type Page struct {
	Decisions  []*Record
	TotalCount int
}

// StringPtr returns a pointer to s. Convenience for nullable fields.
func StringPtr(s string) *string {
	return &s
}

// TimePtr returns a pointer to t. Convenience for nullable fields.
func TimePtr(t time.Time) *time.Time {
	return &t
}

// NextUpdatedAt returns a timestamp strictly after prev, preferring now.
//
// # Description
//
// Stores call this on every mutation so UpdatedAt strictly increases even
// when two writes land within the clock resolution.
func NextUpdatedAt(prev, now time.Time) time.Time {
	now = now.UTC()
	if !now.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return now
}
