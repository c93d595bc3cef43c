// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package decision

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType discriminates stream event payloads.
type EventType string

const (
	// EventPending carries the owner's unfiltered non-terminal backlog.
	EventPending EventType = "pending"

	// EventUpdate carries one filtered, paginated result set.
	EventUpdate EventType = "update"

	// EventError reports a failed query cycle. The stream stays open.
	EventError EventType = "error"
)

// PendingEvent lists every non-terminal record of the owner, ignoring filters.
type PendingEvent struct {
	Count     int          `json:"count"`
	Decisions []PendingRef `json:"decisions"`
}

// UpdateEvent is the filtered page for the subscription's FilterSpec.
type UpdateEvent struct {
	Decisions  []*Record `json:"decisions"`
	TotalCount int       `json:"totalCount"`
	Page       int       `json:"page"`
	PageSize   int       `json:"pageSize"`
	Timestamp  time.Time `json:"timestamp"`
}

// ErrorEvent carries a sanitized, human-readable failure message.
type ErrorEvent struct {
	Message string `json:"message"`
}

// StreamEvent is the discriminated union sent on the decision stream.
//
// # Description
//
// Exactly one of Pending, Update or Error is set, matching Type. The JSON
// form is flat, with "type" alongside the payload fields:
//
//	{"type":"pending","count":1,"decisions":[{"id":"d1","status":"PENDING","updatedAt":"..."}]}
//	{"type":"update","decisions":[...],"totalCount":1,"page":1,"pageSize":10,"timestamp":"..."}
//	{"type":"error","message":"failed to load decisions"}
type StreamEvent struct {
	Type    EventType
	Pending *PendingEvent
	Update  *UpdateEvent
	Error   *ErrorEvent
}

// NewPendingEvent builds a pending event from the backlog refs.
func NewPendingEvent(refs []PendingRef) StreamEvent {
	if refs == nil {
		refs = []PendingRef{}
	}
	return StreamEvent{Type: EventPending, Pending: &PendingEvent{Count: len(refs), Decisions: refs}}
}

// NewUpdateEvent builds an update event for one page.
func NewUpdateEvent(page Page, filter FilterSpec, at time.Time) StreamEvent {
	decisions := page.Decisions
	if decisions == nil {
		decisions = []*Record{}
	}
	return StreamEvent{Type: EventUpdate, Update: &UpdateEvent{
		Decisions:  decisions,
		TotalCount: page.TotalCount,
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		Timestamp:  at.UTC(),
	}}
}

// NewErrorEvent builds an error event.
func NewErrorEvent(message string) StreamEvent {
	return StreamEvent{Type: EventError, Error: &ErrorEvent{Message: message}}
}

// MarshalJSON flattens the payload next to the type discriminator.
func (e StreamEvent) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventPending:
		if e.Pending == nil {
			return nil, fmt.Errorf("pending event without payload")
		}
		return json.Marshal(struct {
			Type EventType `json:"type"`
			*PendingEvent
		}{e.Type, e.Pending})
	case EventUpdate:
		if e.Update == nil {
			return nil, fmt.Errorf("update event without payload")
		}
		return json.Marshal(struct {
			Type       EventType `json:"type"`
			Decisions  []*Record `json:"decisions"`
			TotalCount int       `json:"totalCount"`
			Page       int       `json:"page"`
			PageSize   int       `json:"pageSize"`
			Timestamp  string    `json:"timestamp"`
		}{
			Type:       e.Type,
			Decisions:  e.Update.Decisions,
			TotalCount: e.Update.TotalCount,
			Page:       e.Update.Page,
			PageSize:   e.Update.PageSize,
			Timestamp:  e.Update.Timestamp.UTC().Format(time.RFC3339Nano),
		})
	case EventError:
		if e.Error == nil {
			return nil, fmt.Errorf("error event without payload")
		}
		return json.Marshal(struct {
			Type EventType `json:"type"`
			*ErrorEvent
		}{e.Type, e.Error})
	default:
		return nil, fmt.Errorf("unknown stream event type %q", e.Type)
	}
}

// UnmarshalJSON decodes the payload selected by the "type" field.
func (e *StreamEvent) UnmarshalJSON(data []byte) error {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}

	out := StreamEvent{Type: head.Type}
	switch head.Type {
	case EventPending:
		out.Pending = &PendingEvent{}
		if err := json.Unmarshal(data, out.Pending); err != nil {
			return fmt.Errorf("decode pending event: %w", err)
		}
	case EventUpdate:
		out.Update = &UpdateEvent{}
		if err := json.Unmarshal(data, out.Update); err != nil {
			return fmt.Errorf("decode update event: %w", err)
		}
	case EventError:
		out.Error = &ErrorEvent{}
		if err := json.Unmarshal(data, out.Error); err != nil {
			return fmt.Errorf("decode error event: %w", err)
		}
	default:
		return fmt.Errorf("unknown stream event type %q", head.Type)
	}

	*e = out
	return nil
}
