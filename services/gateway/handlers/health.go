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
	"context"
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianGateway/services/gateway/vector"
	"github.com/AleutianAI/AleutianGateway/services/llm"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

// healthCheckTimeout bounds the combined dependency probes.
const healthCheckTimeout = 5 * time.Second

// HealthHandler serves GET /health by probing the gateway's dependencies.
type HealthHandler struct {
	client   llm.LLMClient
	provider vector.ContextProvider
}

// NewHealthHandler creates the health endpoint handler.
func NewHealthHandler(client llm.LLMClient, provider vector.ContextProvider) *HealthHandler {
	return &HealthHandler{client: client, provider: provider}
}

// HandleHealth probes the LLM backend and the vector store in parallel.
//
// Returns 200 with per-component status when both respond, 503 naming the
// failing component otherwise.
func (h *HealthHandler) HandleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	llmStatus := "ok"
	vectorStatus := "ok"

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := h.client.Verify(gctx); err != nil {
			llmStatus = err.Error()
		}
		return nil
	})
	g.Go(func() error {
		if err := h.provider.Ready(gctx); err != nil {
			vectorStatus = err.Error()
		}
		return nil
	})
	_ = g.Wait()

	status := http.StatusOK
	overall := "ok"
	if llmStatus != "ok" || vectorStatus != "ok" {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}

	c.JSON(status, gin.H{
		"status": overall,
		"llm":    llmStatus,
		"vector": vectorStatus,
	})
}
