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
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/AleutianAI/AleutianGateway/pkg/extensions"
	"github.com/gin-gonic/gin"
)

// AdminAuth guards the key management routes.
//
// # Description
//
// Compares "Authorization: Bearer <token>" against the configured admin
// token in constant time. When that fails and a token provider is
// configured, the bearer token is handed to it instead; the caller is
// admitted only if validation succeeds and the identity carries the
// "admin" role. With neither a token nor a provider the admin API is
// disabled; route setup should not mount the admin group at all in that
// case.
func AdminAuth(adminToken string, provider extensions.AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminToken == "" && provider == nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "admin API is disabled",
			})
			return
		}

		presented := extractAdminToken(c)
		if adminToken != "" &&
			subtle.ConstantTimeCompare([]byte(presented), []byte(adminToken)) == 1 {
			c.Next()
			return
		}

		if provider != nil && presented != "" {
			info, err := provider.Validate(c.Request.Context(), presented)
			if err == nil && info.HasRole("admin") {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "unauthorized",
		})
	}
}

func extractAdminToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
