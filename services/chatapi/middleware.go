// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chatapi

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianDocChat/pkg/chatstore"
	"github.com/AleutianAI/AleutianDocChat/pkg/observability"
	"github.com/AleutianAI/AleutianDocChat/pkg/persistence"
	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

const scopeKey = "docchat_scope"

// requireScope reads the caller scope from headers and rejects requests
// without one.
func requireScope() gin.HandlerFunc {
	return func(c *gin.Context) {
		scope := chatstore.Scope{
			OrganizationID: strings.TrimSpace(c.GetHeader(persistence.HeaderOrganizationID)),
			UserID:         strings.TrimSpace(c.GetHeader(persistence.HeaderUserID)),
		}
		if err := scope.Validate(); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing organization or user"})
			return
		}
		c.Set(scopeKey, scope)
		c.Next()
	}
}

func scopeFrom(c *gin.Context) chatstore.Scope {
	v, _ := c.Get(scopeKey)
	scope, _ := v.(chatstore.Scope)
	return scope
}

// maxTrackedOrgs bounds how many organizations keep a token bucket. The
// least recently seen organization loses its bucket first and starts again
// with a full one.
const maxTrackedOrgs = 4096

// orgLimiter keeps one token bucket per organization.
type orgLimiter struct {
	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
	metrics  *observability.APIMetrics
}

func newOrgLimiter(perSecond float64, burst, maxOrgs int, metrics *observability.APIMetrics) *orgLimiter {
	if burst <= 0 {
		burst = 1
	}
	if maxOrgs <= 0 {
		maxOrgs = maxTrackedOrgs
	}
	limiters, err := lru.New[string, *rate.Limiter](maxOrgs)
	if err != nil {
		// Only returned for a non-positive size.
		panic(err)
	}
	return &orgLimiter{
		limiters: limiters,
		limit:    rate.Limit(perSecond),
		burst:    burst,
		metrics:  metrics,
	}
}

func (l *orgLimiter) get(org string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters.Get(org)
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters.Add(org, lim)
	}
	return lim
}

func (l *orgLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.limit <= 0 {
			c.Next()
			return
		}
		if !l.get(scopeFrom(c).OrganizationID).Allow() {
			l.metrics.RateLimited(routeLabel(c))
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// requestMetrics records count and latency per route template.
func requestMetrics(metrics *observability.APIMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		metrics.Request(routeLabel(c), strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

func routeLabel(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return c.Request.Method + " " + route
	}
	return "unmatched"
}
