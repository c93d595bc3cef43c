// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/sergii-nosachenko/retrospecta/pkg/decision"
	"github.com/sergii-nosachenko/retrospecta/pkg/extensions"
	"github.com/sergii-nosachenko/retrospecta/pkg/validation"
	"github.com/sergii-nosachenko/retrospecta/services/journal/middleware"
	"github.com/sergii-nosachenko/retrospecta/services/journal/store"
)

// Audit actions.
const (
	ActionCreate    = "create"
	ActionReanalyze = "reanalyze"
	ActionMarkRead  = "mark_read"
	ActionDelete    = "delete"
)

var errAlreadyQueued = errors.New("decision is already queued for analysis")

// CreateDecisionRequest is the body of POST /v1/decisions.
type CreateDecisionRequest struct {
	Situation string `json:"situation" binding:"required,max=5000"`
	Decision  string `json:"decision" binding:"required,max=5000"`
	Reasoning string `json:"reasoning" binding:"max=5000"`
}

// ListDecisionsResponse is the body of GET /v1/decisions.
type ListDecisionsResponse struct {
	Decisions  []*decision.Record `json:"decisions"`
	TotalCount int                `json:"totalCount"`
	Page       int                `json:"page"`
	PageSize   int                `json:"pageSize"`
}

// DecisionHandler serves the decision REST endpoints.
//
// # Description
//
// Every handler scopes reads and writes to the identity resolved by the auth
// middleware. Records of other owners are reported as 404. Each mutation
// produces one audit event, success or failure.
//
// # Thread Safety
//
// Safe for concurrent use; all state lives in the store.
type DecisionHandler struct {
	store  store.Store
	audit  extensions.AuditLogger
	clock  clock.Clock
	logger *slog.Logger
	newID  func() string
}

// NewDecisionHandler creates a handler. A nil audit logger discards events
// and a nil clock uses the wall clock.
func NewDecisionHandler(st store.Store, audit extensions.AuditLogger, clk clock.Clock) *DecisionHandler {
	if audit == nil {
		audit = &extensions.NopAuditLogger{}
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &DecisionHandler{
		store:  st,
		audit:  audit,
		clock:  clk,
		logger: slog.Default(),
		newID:  uuid.NewString,
	}
}

// List serves GET /v1/decisions with the same query parameters as the stream.
func (h *DecisionHandler) List(c *gin.Context) {
	owner := middleware.UserID(c)
	filter, err := decision.ParseFilterSpec(c.Request.URL.Query())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	page, err := h.store.ListDecisions(c.Request.Context(), owner, filter)
	if err != nil {
		h.respondStoreError(c, "list", err)
		return
	}
	if page.Decisions == nil {
		page.Decisions = []*decision.Record{}
	}
	c.JSON(http.StatusOK, ListDecisionsResponse{
		Decisions:  page.Decisions,
		TotalCount: page.TotalCount,
		Page:       filter.Page,
		PageSize:   filter.PageSize,
	})
}

// Create serves POST /v1/decisions. The new record starts PENDING and unread.
func (h *DecisionHandler) Create(c *gin.Context) {
	owner := middleware.UserID(c)
	var req CreateDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	rec := &decision.Record{
		ID:        h.newID(),
		UserID:    owner,
		Situation: req.Situation,
		Decision:  req.Decision,
		Reasoning: req.Reasoning,
		Status:    decision.StatusPending,
		IsNew:     true,
	}
	err := h.store.Create(c.Request.Context(), rec)
	h.record(c, ActionCreate, rec.ID, err)
	if err != nil {
		h.respondStoreError(c, ActionCreate, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// Reanalyze serves POST /v1/decisions/:id/reanalyze.
//
// A terminal record is reset to PENDING with its analysis results cleared.
// AnalysisAttempts is kept. A record already PENDING or PROCESSING yields 409.
func (h *DecisionHandler) Reanalyze(c *gin.Context) {
	owner := middleware.UserID(c)
	id, ok := pathID(c)
	if !ok {
		return
	}

	rec, err := h.store.Update(c.Request.Context(), owner, id, func(r *decision.Record) error {
		if r.Status.IsPending() {
			return errAlreadyQueued
		}
		r.Status = decision.StatusPending
		r.DecisionType = nil
		r.Biases = []string{}
		r.ErrorMessage = nil
		return nil
	})
	h.record(c, ActionReanalyze, id, err)
	if err != nil {
		h.respondStoreError(c, ActionReanalyze, err)
		return
	}
	c.JSON(http.StatusAccepted, rec)
}

// MarkRead serves POST /v1/decisions/:id/read.
func (h *DecisionHandler) MarkRead(c *gin.Context) {
	owner := middleware.UserID(c)
	id, ok := pathID(c)
	if !ok {
		return
	}

	rec, err := h.store.Update(c.Request.Context(), owner, id, func(r *decision.Record) error {
		r.IsNew = false
		return nil
	})
	h.record(c, ActionMarkRead, id, err)
	if err != nil {
		h.respondStoreError(c, ActionMarkRead, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Delete serves DELETE /v1/decisions/:id.
func (h *DecisionHandler) Delete(c *gin.Context) {
	owner := middleware.UserID(c)
	id, ok := pathID(c)
	if !ok {
		return
	}

	err := h.store.Delete(c.Request.Context(), owner, id)
	h.record(c, ActionDelete, id, err)
	if err != nil {
		h.respondStoreError(c, ActionDelete, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// =============================================================================
// Helper Functions
// =============================================================================

// pathID returns the :id parameter. A malformed id cannot name a stored
// record and is answered with 404.
func pathID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if err := validation.ValidateDecisionID(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "decision not found"})
		return "", false
	}
	return id, true
}

func (h *DecisionHandler) record(c *gin.Context, action, id string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	event := extensions.AuditEvent{
		Action:     action,
		Timestamp:  h.clock.Now().UTC(),
		UserID:     middleware.UserID(c),
		DecisionID: id,
		Outcome:    outcome,
	}
	if auditErr := h.audit.Log(c.Request.Context(), event); auditErr != nil {
		h.logger.Warn("audit log failed",
			slog.String("action", action),
			slog.String("decision_id", id),
			slog.String("error", auditErr.Error()))
	}
}

func (h *DecisionHandler) respondStoreError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "decision not found"})
	case errors.Is(err, errAlreadyQueued):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrExists):
		c.JSON(http.StatusConflict, gin.H{"error": "decision already exists"})
	default:
		h.logger.Error("decision store operation failed",
			slog.String("op", op),
			slog.String("user_id", middleware.UserID(c)),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
