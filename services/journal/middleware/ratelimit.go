// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/sergii-nosachenko/retrospecta/services/journal/observability"
)

// RateLimitConfig bounds how often one identity may open subscriptions.
type RateLimitConfig struct {
	// PerSecond is the sustained rate. Zero disables limiting.
	PerSecond float64

	// Burst is the bucket size. Default 5.
	Burst int

	// IdleTTL drops limiters not used for this long. Default 10m.
	IdleTTL time.Duration
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IdentityLimiter keeps one token bucket per user id.
//
// # Thread Safety
//
// Safe for concurrent use.
type IdentityLimiter struct {
	cfg     RateLimitConfig
	now     func() time.Time
	mu      sync.Mutex
	entries map[string]*limiterEntry
}

// NewIdentityLimiter creates a limiter with defaults applied.
func NewIdentityLimiter(cfg RateLimitConfig) *IdentityLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	return &IdentityLimiter{
		cfg:     cfg,
		now:     time.Now,
		entries: make(map[string]*limiterEntry),
	}
}

// Allow reports whether identity may proceed now.
func (l *IdentityLimiter) Allow(identity string) bool {
	if l.cfg.PerSecond <= 0 {
		return true
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.evictLocked(now)
	e, ok := l.entries[identity]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(l.cfg.PerSecond), l.cfg.Burst)}
		l.entries[identity] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Len returns the number of tracked identities.
func (l *IdentityLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *IdentityLimiter) evictLocked(now time.Time) {
	for id, e := range l.entries {
		if now.Sub(e.lastSeen) > l.cfg.IdleTTL {
			delete(l.entries, id)
		}
	}
}

// RateLimitMiddleware rejects requests over the identity's budget with 429.
//
// Must run after AuthMiddleware; unauthenticated requests share the ""
// bucket.
func RateLimitMiddleware(limiter *IdentityLimiter, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(UserID(c)) {
			metrics.RecordRateLimited()
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many subscription attempts"})
			return
		}
		c.Next()
	}
}
