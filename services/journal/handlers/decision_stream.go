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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sergii-nosachenko/retrospecta/pkg/decision"
	"github.com/sergii-nosachenko/retrospecta/services/journal/middleware"
	"github.com/sergii-nosachenko/retrospecta/services/journal/publisher"
)

// StreamDecisions serves GET /v1/decisions/stream.
//
// # Description
//
// Decodes the FilterSpec from the query string, switches the response to an
// event stream and hands the connection to the publisher until the client
// disconnects. The request context is the subscription lifetime.
//
// # Outputs
//
//   - 400 for malformed filter parameters
//   - 401 when no identity was resolved
//   - 500 when the writer cannot stream
//   - 200 text/event-stream otherwise
func StreamDecisions(pub *publisher.Publisher) gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := middleware.UserID(c)
		if owner == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		filter, err := decision.ParseFilterSpec(c.Request.URL.Query())
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		writer, err := NewSSEWriter(c.Writer)
		if err != nil {
			slog.Error("decision stream unavailable", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
			return
		}

		SetSSEHeaders(c.Writer)
		c.Status(http.StatusOK)
		c.Writer.Flush()

		if err := pub.Serve(c.Request.Context(), owner, filter, writer); err != nil {
			slog.Error("decision stream rejected", slog.String("user_id", owner), slog.String("error", err.Error()))
		}
	}
}
