// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the gateway's HTTP endpoints.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianGateway/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianGateway/services/gateway/middleware"
	"github.com/AleutianAI/AleutianGateway/services/gateway/observability"
	"github.com/AleutianAI/AleutianGateway/services/gateway/pipeline"
	"github.com/gin-gonic/gin"
)

// keepAliveInterval paces SSE comment pings during quiet stretches of a
// stream, so idle-timeout proxies keep the connection open while the model
// is still working on the first token.
const keepAliveInterval = 15 * time.Second

// ChatHandler serves POST /v1/chat in single-shot and streaming modes.
type ChatHandler struct {
	pipeline *pipeline.Pipeline
}

// NewChatHandler creates the chat endpoint handler.
func NewChatHandler(p *pipeline.Pipeline) *ChatHandler {
	return &ChatHandler{pipeline: p}
}

// HandleChat processes one chat turn.
//
// # Description
//
// Validates the request, builds the pipeline request from the
// authenticated tenant, and dispatches to the single-shot or streaming
// path. Streaming is selected by `"stream": true` in the body or an
// `Accept: text/event-stream` header; both paths produce byte-identical
// answers.
//
// # Outputs
//
//   - 200 {"response": "..."} on success, including guardrail refusals.
//   - 200 SSE frames ending with {"text":"","done":true} when streaming.
//   - 400 on validation failure, 500 on pipeline failure.
func (h *ChatHandler) HandleChat(c *gin.Context) {
	var req datatypes.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		recordError(observability.EndpointChat, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		recordError(observability.EndpointChat, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tenant := middleware.GetTenant(c)
	if tenant == nil {
		recordError(observability.EndpointChat, observability.ErrorCodeAuthorization)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	preq := &pipeline.Request{
		Message:           req.Message,
		Tenant:            tenant.ID,
		Collection:        tenant.Collection,
		ClientIP:          c.ClientIP(),
		ThresholdOverride: tenant.Threshold,
	}

	if req.Stream || wantsEventStream(c) {
		h.streamChat(c, preq)
		return
	}
	h.singleChat(c, preq)
}

func (h *ChatHandler) singleChat(c *gin.Context, preq *pipeline.Request) {
	start := time.Now()

	result, err := h.pipeline.Handle(c.Request.Context(), preq)
	if err != nil {
		slog.Error("Chat request failed", "tenant", preq.Tenant, "error", err)
		recordError(observability.EndpointChat, errorCode(err))
		recordRequest(observability.EndpointChat, false, time.Since(start))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Error processing chat message",
		})
		return
	}

	recordRequest(observability.EndpointChat, true, time.Since(start))
	c.JSON(http.StatusOK, datatypes.ChatResponse{Response: result.Answer})
}

func (h *ChatHandler) streamChat(c *gin.Context, preq *pipeline.Request) {
	writer, err := newSSEWriter(c)
	if err != nil {
		recordError(observability.EndpointChatStream, observability.ErrorCodeInternal)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted()
		defer m.StreamEnded()
	}

	keepAliveStop := make(chan struct{})
	keepAliveDone := make(chan struct{})
	go func() {
		defer close(keepAliveDone)
		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := writer.WriteKeepAlive(); err != nil {
					return
				}
			case <-keepAliveStop:
				return
			}
		}
	}()
	// The pinger must be fully stopped before the handler returns and gin
	// recycles the response writer.
	defer func() {
		close(keepAliveStop)
		<-keepAliveDone
	}()

	start := time.Now()
	sawFirstToken := false

	emit := func(delta string) error {
		if !sawFirstToken {
			sawFirstToken = true
			if m := observability.DefaultMetrics; m != nil {
				m.RecordTimeToFirstToken(observability.EndpointChatStream,
					time.Since(start).Seconds())
			}
		}
		return writer.WriteFrame(datatypes.StreamFrame{Text: delta, Done: false})
	}

	_, err = h.pipeline.HandleStream(c.Request.Context(), preq, emit)
	if err != nil {
		slog.Error("Streaming chat request failed", "tenant", preq.Tenant, "error", err)
		recordError(observability.EndpointChatStream, errorCode(err))
		recordRequest(observability.EndpointChatStream, false, time.Since(start))
		if !writer.Started() {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Error processing chat message",
			})
		}
		// Mid-stream failures end the connection without a done frame; the
		// client treats the missing terminal frame as an aborted answer.
		return
	}

	if err := writer.WriteFrame(datatypes.StreamFrame{Text: "", Done: true}); err != nil {
		slog.Warn("Failed to write terminal stream frame", "error", err)
		recordError(observability.EndpointChatStream, observability.ErrorCodeClientDisconnect)
		recordRequest(observability.EndpointChatStream, false, time.Since(start))
		return
	}
	recordRequest(observability.EndpointChatStream, true, time.Since(start))
}

// wantsEventStream reports whether the Accept header asks for SSE.
func wantsEventStream(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), "text/event-stream")
}

// errorCode maps a pipeline error to its metrics category.
func errorCode(err error) observability.ErrorCode {
	switch {
	case errors.Is(err, context.Canceled):
		return observability.ErrorCodeClientDisconnect
	case pipeline.IsRetrievalTransportError(err):
		return observability.ErrorCodeRetrievalTransport
	case pipeline.IsGenerationError(err):
		return observability.ErrorCodeGeneration
	default:
		var transportErr *pipeline.SafetyTransportError
		if errors.As(err, &transportErr) {
			return observability.ErrorCodeSafetyTransport
		}
		return observability.ErrorCodeInternal
	}
}

func recordError(endpoint observability.Endpoint, code observability.ErrorCode) {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordError(endpoint, code)
	}
}

func recordRequest(endpoint observability.Endpoint, success bool, elapsed time.Duration) {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordRequest(endpoint, success)
		m.RecordStreamDuration(endpoint, elapsed.Seconds(), success)
	}
}
