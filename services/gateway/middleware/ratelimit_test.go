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
	"net/http/httptest"
	"testing"

	"github.com/AleutianAI/AleutianGateway/services/gateway/credentials"
	"github.com/gin-gonic/gin"
)

func newRateLimitedRouter(limiter *RateLimiter, tenantID string) *gin.Engine {
	router := gin.New()
	handlers := []gin.HandlerFunc{}
	if tenantID != "" {
		handlers = append(handlers, func(c *gin.Context) {
			SetTenant(c, &credentials.TenantInfo{ID: tenantID, Active: true})
		})
	}
	handlers = append(handlers, limiter.Middleware(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	router.GET("/limited", handlers...)
	return router
}

func hit(router *gin.Engine) int {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/limited", nil))
	return w.Code
}

func TestRateLimiterThrottlesPerTenant(t *testing.T) {
	t.Parallel()

	limiter := NewRateLimiter(0.001, 2)
	router := newRateLimitedRouter(limiter, "tenant-1")

	for i := 0; i < 2; i++ {
		if code := hit(router); code != http.StatusOK {
			t.Fatalf("request %d within burst: expected 200, got %d", i+1, code)
		}
	}
	if code := hit(router); code != http.StatusTooManyRequests {
		t.Errorf("expected 429 after burst exhaustion, got %d", code)
	}
}

func TestRateLimiterIsolatesTenants(t *testing.T) {
	t.Parallel()

	limiter := NewRateLimiter(0.001, 1)
	first := newRateLimitedRouter(limiter, "tenant-a")
	second := newRateLimitedRouter(limiter, "tenant-b")

	if code := hit(first); code != http.StatusOK {
		t.Fatalf("tenant-a first request: expected 200, got %d", code)
	}
	if code := hit(first); code != http.StatusTooManyRequests {
		t.Errorf("tenant-a second request: expected 429, got %d", code)
	}
	// A different tenant has its own bucket.
	if code := hit(second); code != http.StatusOK {
		t.Errorf("tenant-b first request: expected 200, got %d", code)
	}
}

func TestRateLimiterDisabledPassesThrough(t *testing.T) {
	t.Parallel()

	limiter := NewRateLimiter(0, 0)
	router := newRateLimitedRouter(limiter, "tenant-1")

	for i := 0; i < 10; i++ {
		if code := hit(router); code != http.StatusOK {
			t.Fatalf("disabled limiter must pass everything, got %d", code)
		}
	}
}
