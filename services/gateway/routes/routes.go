// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/AleutianAI/AleutianGateway/pkg/extensions"
	"github.com/AleutianAI/AleutianGateway/services/gateway/handlers"
	"github.com/AleutianAI/AleutianGateway/services/gateway/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options carries the wiring SetupRoutes needs beyond the handlers.
type Options struct {
	// Resolver authenticates API keys on the chat routes.
	Resolver middleware.TenantResolver

	// Audit receives auth and key management events.
	Audit extensions.AuditLogger

	// RateLimiter throttles authenticated chat traffic. May be nil.
	RateLimiter *middleware.RateLimiter

	// AdminToken guards the key management routes.
	AdminToken string

	// AuthProvider additionally validates admin bearer tokens, for
	// deployments backed by an external identity provider. May be nil.
	// The admin group is unmounted when both this and AdminToken are
	// unset.
	AuthProvider extensions.AuthProvider

	// AuthRequireForHealth puts /health behind API-key auth as well.
	AuthRequireForHealth bool
}

// SetupRoutes mounts every gateway endpoint on the router.
func SetupRoutes(router *gin.Engine, chat *handlers.ChatHandler,
	health *handlers.HealthHandler, keys *handlers.APIKeyHandler, opts Options) {

	auth := middleware.AuthMiddleware(opts.Resolver, opts.Audit)

	if opts.AuthRequireForHealth {
		router.GET("/health", auth, health.HandleHealth)
	} else {
		router.GET("/health", health.HandleHealth)
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(auth)
	if opts.RateLimiter != nil {
		v1.Use(opts.RateLimiter.Middleware())
	}
	{
		v1.POST("/chat", chat.HandleChat)
	}

	// Key administration routes, bearer-token guarded.
	if (opts.AdminToken != "" || opts.AuthProvider != nil) && keys != nil {
		admin := router.Group("/admin")
		admin.Use(middleware.AdminAuth(opts.AdminToken, opts.AuthProvider))
		{
			admin.POST("/keys", keys.HandleCreate)
			admin.GET("/keys", keys.HandleList)
			admin.GET("/keys/:id", keys.HandleStatus)
			admin.DELETE("/keys/:id", keys.HandleDeactivate)
		}
	}
}
