// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the gateway service.
//
// # Authentication Flow
//
// The auth middleware extracts an API key from the X-API-Key header (or a
// bearer token as a fallback), resolves it to a tenant profile via the
// credential store, and stores the profile in the Gin context for
// downstream handlers.
//
//	Request
//	   │
//	   ▼
//	AuthMiddleware
//	   │
//	   ├─► Extract key from "X-API-Key: <key>"
//	   │
//	   ├─► resolver.Resolve(ctx, key)
//	   │
//	   └─► Store TenantInfo in context
//	           │
//	           ▼
//	       Handler (retrieves via GetTenant)
//
// Unknown, missing, and deactivated keys all produce the same 401 body so
// callers cannot probe for key existence.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianGateway/pkg/extensions"
	"github.com/AleutianAI/AleutianGateway/services/gateway/credentials"
	"github.com/gin-gonic/gin"
)

// =============================================================================
// Context Keys
// =============================================================================

// tenantInfoKey is the context key for storing the resolved tenant.
// Using a typed key prevents collisions with other context values.
const tenantInfoKey = "aleutian_tenant_info"

// =============================================================================
// Tenant Resolution
// =============================================================================

// TenantResolver maps a presented API key to its tenant profile.
//
// Implementations return extensions.ErrUnauthorized (or a wrap of it) for
// unknown and deactivated keys.
type TenantResolver interface {
	Resolve(ctx context.Context, apiKey string) (*credentials.TenantInfo, error)
}

// SetTenant stores the resolved tenant in the Gin context.
//
// Called by AuthMiddleware after successful resolution; the stored profile
// can be retrieved by handlers via GetTenant.
func SetTenant(c *gin.Context, info *credentials.TenantInfo) {
	c.Set(tenantInfoKey, info)
}

// GetTenant retrieves the resolved tenant from the Gin context.
//
// Returns nil if the request was not authenticated or the stored value has
// the wrong type.
func GetTenant(c *gin.Context) *credentials.TenantInfo {
	if info, exists := c.Get(tenantInfoKey); exists {
		if tenant, ok := info.(*credentials.TenantInfo); ok {
			return tenant
		}
	}
	return nil
}

// =============================================================================
// Auth Middleware
// =============================================================================

// AuthMiddleware creates a Gin middleware that authenticates requests by
// API key.
//
// # Description
//
// Extracts the key from the X-API-Key header (falling back to
// "Authorization: Bearer <key>"), resolves it via the TenantResolver, and
// stores the tenant profile in the context. Failed resolutions are
// audit-logged and answered with 401.
//
// # Inputs
//
//   - resolver: Maps keys to tenants. Must not be nil.
//   - audit: Receives auth.failed events. May be nil.
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func AuthMiddleware(resolver TenantResolver, audit extensions.AuditLogger) gin.HandlerFunc {
	if audit == nil {
		audit = &extensions.NopAuditLogger{}
	}
	return func(c *gin.Context) {
		key := extractAPIKey(c)

		tenant, err := resolver.Resolve(c.Request.Context(), key)
		if err != nil {
			_ = audit.Log(c.Request.Context(), extensions.AuditEvent{
				EventType:    "auth.failed",
				Timestamp:    time.Now().UTC(),
				UserID:       "anonymous",
				Action:       "resolve",
				ResourceType: "api_key",
				Outcome:      "failure",
				Metadata: map[string]any{
					"ip_address": c.ClientIP(),
					"path":       c.FullPath(),
				},
			})

			// Same body for unknown, missing, and deactivated keys.
			if errors.Is(err, extensions.ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "unauthorized",
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication failed",
			})
			return
		}

		SetTenant(c, tenant)
		c.Next()
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// extractAPIKey pulls the API key from the request.
//
// X-API-Key wins; "Authorization: Bearer <key>" is accepted for clients
// that only speak bearer auth. The Bearer prefix is case-insensitive per
// RFC 7235. Returns empty string if neither header carries a key.
func extractAPIKey(c *gin.Context) string {
	if key := strings.TrimSpace(c.GetHeader("X-API-Key")); key != "" {
		return key
	}

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
