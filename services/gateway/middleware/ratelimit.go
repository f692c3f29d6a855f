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

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiter applies a per-tenant token bucket to incoming requests.
//
// # Description
//
// Each tenant gets its own rate.Limiter, created on first use. Requests
// with no resolved tenant (this middleware placed before auth, or on
// unauthenticated routes) are bucketed by client IP instead.
//
// # Thread Safety
//
// Safe for concurrent use; the limiter map is guarded by a mutex.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewRateLimiter creates a limiter allowing rps requests per second with
// the given burst per tenant. Non-positive values disable limiting.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Middleware returns the Gin handler enforcing the limit.
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if r.rps <= 0 || r.burst <= 0 {
			c.Next()
			return
		}

		bucket := c.ClientIP()
		if tenant := GetTenant(c); tenant != nil {
			bucket = tenant.ID
		}

		if !r.limiterFor(bucket).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

func (r *RateLimiter) limiterFor(bucket string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	limiter, ok := r.limiters[bucket]
	if !ok {
		limiter = rate.NewLimiter(r.rps, r.burst)
		r.limiters[bucket] = limiter
	}
	return limiter
}
