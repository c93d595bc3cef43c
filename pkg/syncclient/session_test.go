// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package syncclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergii-nosachenko/retrospecta/pkg/decision"
)

func updateEvent(records ...*decision.Record) decision.StreamEvent {
	if records == nil {
		records = []*decision.Record{}
	}
	page := decision.Page{Decisions: records, TotalCount: len(records)}
	return decision.NewUpdateEvent(page, decision.DefaultFilterSpec(), baseTime)
}

func TestSession_EndToEndCreateToCompletion(t *testing.T) {
	s := NewSession()

	// Connected with nothing pending.
	s.Handle(decision.NewPendingEvent(nil))
	s.Handle(updateEvent())
	require.Zero(t, s.PendingCount())

	// User creates a decision; optimistic insert.
	created := rec("d1", decision.StatusPending)
	change := s.Create(created)
	assert.True(t, change.Records)
	assert.True(t, change.Pending)
	assert.Equal(t, 1, s.PendingCount())
	assert.Empty(t, change.Notifications)

	// Server summary lists the same id while the patch is outstanding.
	change = s.Handle(decision.NewPendingEvent([]decision.PendingRef{created.Ref()}))
	assert.False(t, change.Pending)
	assert.Equal(t, 1, s.PendingCount())

	// Server reports the record completed.
	completed := rec("d1", decision.StatusCompleted)
	completed.DecisionType = decision.StringPtr("career")
	completed.AnalysisAttempts = 1
	completed.UpdatedAt = baseTime.Add(2 * time.Second)

	change = s.Handle(updateEvent(completed))
	assert.False(t, s.HasPendingPatch("d1"))
	require.Len(t, change.Notifications, 1)
	assert.Equal(t, NotifyCompleted, change.Notifications[0].Kind)
	assert.Equal(t, "d1", change.Notifications[0].ID)
	assert.Zero(t, s.PendingCount())
	assert.Equal(t, decision.StatusCompleted, s.Records()[0].Status)

	// A repeat of the same update changes nothing and notifies nobody.
	change = s.Handle(updateEvent(completed))
	assert.False(t, change.Records)
	assert.Empty(t, change.Notifications)
}

func TestSession_ServerCycleOrder(t *testing.T) {
	s := NewSession()
	s.Handle(decision.NewPendingEvent(nil))
	s.Handle(updateEvent())

	s.Create(rec("d1", decision.StatusPending))

	// The next cycle reports nothing pending because analysis already
	// finished, then the completed record.
	s.Handle(decision.NewPendingEvent(nil))
	assert.Equal(t, 1, s.PendingCount())

	completed := rec("d1", decision.StatusCompleted)
	change := s.Handle(updateEvent(completed))
	require.Len(t, change.Notifications, 1)
	assert.Zero(t, s.PendingCount())
}

func TestSession_ReanalyzeKeepsSpeculativeState(t *testing.T) {
	s := NewSession()
	s.Handle(updateEvent(rec("a", decision.StatusCompleted)))

	s.Reanalyze("a")
	assert.Equal(t, decision.StatusProcessing, s.Records()[0].Status)
	assert.Equal(t, 1, s.PendingCount())

	// The server has only reset the record to PENDING; the speculative
	// PROCESSING stays visible.
	queued := rec("a", decision.StatusPending)
	queued.UpdatedAt = baseTime.Add(time.Second)
	change := s.Handle(updateEvent(queued))
	assert.Empty(t, change.Notifications)
	assert.Equal(t, decision.StatusProcessing, s.Records()[0].Status)
	assert.True(t, s.HasPendingPatch("a"))

	// A terminal status clears the patch even though it never matched.
	done := rec("a", decision.StatusCompleted)
	done.UpdatedAt = baseTime.Add(3 * time.Second)
	change = s.Handle(updateEvent(done))
	assert.False(t, s.HasPendingPatch("a"))
	assert.Equal(t, decision.StatusCompleted, s.Records()[0].Status)
	require.Len(t, change.Notifications, 1)
	assert.Equal(t, NotifyCompleted, change.Notifications[0].Kind)
}

func TestSession_MarkReadAndRevert(t *testing.T) {
	s := NewSession()
	s.Handle(updateEvent(rec("a", decision.StatusCompleted)))

	s.MarkRead("a")
	assert.False(t, s.Records()[0].IsNew)

	change := s.Revert("a")
	assert.True(t, change.Records)
	assert.True(t, s.Records()[0].IsNew)
	assert.False(t, s.HasPendingPatch("a"))
}

func TestSession_DeleteAndErrors(t *testing.T) {
	s := NewSession()
	s.Handle(updateEvent(rec("a", decision.StatusPending), rec("b", decision.StatusCompleted)))
	page, size := s.Page()
	assert.Equal(t, 1, page)
	assert.Equal(t, decision.DefaultFilterSpec().PageSize, size)
	assert.Equal(t, 2, s.TotalCount())

	s.Delete("a")
	require.Len(t, s.Records(), 1)
	assert.Equal(t, "b", s.Records()[0].ID)

	change := s.Handle(decision.NewErrorEvent("failed to load decisions"))
	assert.Equal(t, "failed to load decisions", change.Error)
	assert.Equal(t, "failed to load decisions", s.LastError())
	require.Len(t, s.Records(), 1, "an error keeps the current collection")

	s.Handle(updateEvent(rec("b", decision.StatusCompleted)))
	assert.Empty(t, s.LastError())
}

func TestSession_BackgroundFailureNotifies(t *testing.T) {
	s := NewSession()
	s.Handle(updateEvent(rec("a", decision.StatusProcessing)))

	failed := rec("a", decision.StatusFailed)
	failed.ErrorMessage = decision.StringPtr("analysis failed")
	change := s.Handle(updateEvent(failed))
	require.Len(t, change.Notifications, 1)
	assert.Equal(t, NotifyFailed, change.Notifications[0].Kind)
}
