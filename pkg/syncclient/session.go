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

// Change describes the effect of one event or mutation on a Session.
type Change struct {
	// Records is true when the collection identity changed.
	Records bool

	// Pending is true when the pending counter changed.
	Pending bool

	// Notifications are the status transitions to announce.
	Notifications []Notification

	// Error is the server message of an Error event.
	Error string
}

// Session is the client view of one decision stream.
//
// # Description
//
// Owns the merged collection, the optimistic tracker and the notifier.
// Stream events and local mutations both flow through it:
//
//	Pending → tracker.ObservePending
//	Update  → tracker.Reconcile → tracker.Overlay → Merge → notifier.Observe
//	Error   → LastError
//
// # Thread Safety
//
// Not safe for concurrent use. Drive it from the goroutine reading
// Consumer.Messages.
type Session struct {
	records  []*decision.Record
	total    int
	page     int
	pageSize int
	lastErr  string

	tracker  *Tracker
	notifier *Notifier
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{
		records:  []*decision.Record{},
		tracker:  NewTracker(),
		notifier: NewNotifier(),
	}
}

// Records returns the current collection. Callers must not modify it.
func (s *Session) Records() []*decision.Record { return s.records }

// TotalCount returns the server total for the current filter.
func (s *Session) TotalCount() int { return s.total }

// Page returns the page and page size of the last update.
func (s *Session) Page() (page, pageSize int) { return s.page, s.pageSize }

// PendingCount returns the local pending counter.
func (s *Session) PendingCount() int { return s.tracker.PendingCount() }

// LastError returns the message of the last Error event, cleared by the
// next Update.
func (s *Session) LastError() string { return s.lastErr }

// HasPendingPatch reports whether id has an unconfirmed local mutation.
func (s *Session) HasPendingPatch(id string) bool { return s.tracker.HasPendingPatch(id) }

// Handle applies one stream event.
func (s *Session) Handle(ev decision.StreamEvent) Change {
	switch ev.Type {
	case decision.EventPending:
		if ev.Pending == nil {
			return Change{}
		}
		before := s.tracker.PendingCount()
		s.tracker.ObservePending(ev.Pending)
		return Change{Pending: before != s.tracker.PendingCount()}

	case decision.EventUpdate:
		if ev.Update == nil {
			return Change{}
		}
		before := s.tracker.PendingCount()
		incoming := ev.Update.Decisions
		if incoming == nil {
			incoming = []*decision.Record{}
		}

		s.tracker.Reconcile(incoming)
		change := s.replace(Merge(s.records, s.tracker.Overlay(incoming)))
		change.Pending = before != s.tracker.PendingCount()

		s.total = ev.Update.TotalCount
		s.page = ev.Update.Page
		s.pageSize = ev.Update.PageSize
		s.lastErr = ""
		return change

	case decision.EventError:
		if ev.Error == nil {
			return Change{}
		}
		s.lastErr = ev.Error.Message
		return Change{Error: ev.Error.Message}
	}
	return Change{}
}

// MarkRead optimistically clears the unread flag of id.
func (s *Session) MarkRead(id string) Change {
	return s.mutate(func(records []*decision.Record) []*decision.Record {
		return s.tracker.ApplyPatch(records, id, ReadPatch())
	})
}

// Reanalyze optimistically moves id to PROCESSING.
func (s *Session) Reanalyze(id string) Change {
	return s.mutate(func(records []*decision.Record) []*decision.Record {
		return s.tracker.ApplyPatch(records, id, StatusPatch(decision.StatusProcessing))
	})
}

// Create inserts rec, typically the record returned by the create request,
// ahead of the next update that lists it.
func (s *Session) Create(rec *decision.Record) Change {
	return s.mutate(func(records []*decision.Record) []*decision.Record {
		return s.tracker.Insert(records, rec)
	})
}

// Delete optimistically removes id.
func (s *Session) Delete(id string) Change {
	return s.mutate(func(records []*decision.Record) []*decision.Record {
		return s.tracker.Remove(records, id)
	})
}

// Revert undoes the local mutation of id after its request failed.
func (s *Session) Revert(id string) Change {
	return s.mutate(func(records []*decision.Record) []*decision.Record {
		return s.tracker.Revert(records, id)
	})
}

func (s *Session) mutate(fn func([]*decision.Record) []*decision.Record) Change {
	before := s.tracker.PendingCount()
	change := s.replace(fn(s.records))
	change.Pending = before != s.tracker.PendingCount()
	return change
}

// replace installs next and runs the notifier over it. The notifier sees
// optimistic states too, so a later confirmed transition has a known
// previous status.
func (s *Session) replace(next []*decision.Record) Change {
	change := Change{Records: !SameCollection(s.records, next)}
	s.records = next
	change.Notifications = s.notifier.Observe(next, s.tracker.HasPendingPatch)
	return change
}
