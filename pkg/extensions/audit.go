// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent records one decision mutation.
type AuditEvent struct {
	// Action is one of "create", "reanalyze", "mark_read", "delete".
	Action string

	// Timestamp is when the mutation was accepted.
	Timestamp time.Time

	// UserID is the caller.
	UserID string

	// DecisionID is the affected record.
	DecisionID string

	// Outcome is "success" or "failure".
	Outcome string
}

// AuditLogger receives decision mutation events.
//
// Log must not block request handling for long; implementations that ship
// events remotely should buffer.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
}

// NopAuditLogger discards all events.
type NopAuditLogger struct{}

func (l *NopAuditLogger) Log(context.Context, AuditEvent) error {
	return nil
}

// SlogAuditLogger writes audit events as structured log records.
type SlogAuditLogger struct {
	Logger *slog.Logger
}

func (l *SlogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "audit",
		slog.String("action", event.Action),
		slog.String("user_id", event.UserID),
		slog.String("decision_id", event.DecisionID),
		slog.String("outcome", event.Outcome),
		slog.Time("timestamp", event.Timestamp))
	return nil
}

var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*SlogAuditLogger)(nil)
)
