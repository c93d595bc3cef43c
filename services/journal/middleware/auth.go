// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides gin middleware for the journal API.
package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sergii-nosachenko/retrospecta/pkg/extensions"
)

const authInfoKey = "retrospecta_auth_info"

// accessTokenParam carries the token for clients that cannot set headers,
// such as browser EventSource.
const accessTokenParam = "access_token"

// SetAuthInfo stores the resolved identity on the gin context.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo returns the identity set by AuthMiddleware, or nil.
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*extensions.AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// UserID returns the authenticated user id, or "" when unauthenticated.
func UserID(c *gin.Context) string {
	if info := GetAuthInfo(c); info != nil {
		return info.UserID
	}
	return ""
}

// AuthMiddleware validates the bearer token and stores the identity.
//
// # Description
//
// The token is read from the Authorization header, falling back to the
// access_token query parameter. Requests that fail validation are aborted
// with 401 and never reach the handler.
//
// # Inputs
//
//   - provider: Token validator. Must not be nil.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware for a route group.
func AuthMiddleware(provider extensions.AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" {
			token = c.Query(accessTokenParam)
		}

		authInfo, err := provider.Validate(c.Request.Context(), token)
		if err != nil || authInfo == nil || authInfo.UserID == "" {
			if err != nil && !errors.Is(err, extensions.ErrUnauthorized) {
				slog.Warn("auth provider failed", slog.String("error", err.Error()))
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		SetAuthInfo(c, authInfo)
		c.Next()
	}
}

func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
