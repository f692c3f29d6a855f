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
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/AleutianAI/AleutianGateway/services/gateway/datatypes"
	"github.com/gin-gonic/gin"
)

// sseWriter emits answer frames over Server-Sent Events.
//
// # Wire Format
//
// Every frame is one SSE data line carrying a JSON object:
//
//	data: {"text":"Hello","done":false}
//
//	data: {"text":"","done":true}
//
// Headers are written lazily on the first frame, so a pipeline failure
// before any token still gets a plain JSON error response.
//
// # Thread Safety
//
// Safe for concurrent writes; frames are serialized by a mutex.
type sseWriter struct {
	mu      sync.Mutex
	c       *gin.Context
	flusher http.Flusher
	started bool
}

// newSSEWriter wraps the request's response writer.
//
// Returns an error when the underlying writer cannot flush, which would
// make streaming silently buffer until the handler returns.
func newSSEWriter(c *gin.Context) (*sseWriter, error) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	return &sseWriter{c: c, flusher: flusher}, nil
}

// Started reports whether any frame has been written. Once true, the
// response is committed as an event stream and errors can no longer be
// reported as JSON.
func (w *sseWriter) Started() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

// WriteFrame sends one frame and flushes it to the client.
func (w *sseWriter) WriteFrame(frame datatypes.StreamFrame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to encode stream frame: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.ensureHeaders()

	if _, err := fmt.Fprintf(w.c.Writer, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("failed to write stream frame: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// WriteKeepAlive sends an SSE comment to hold the connection open through
// idle proxies.
func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ensureHeaders()

	if _, err := fmt.Fprint(w.c.Writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("failed to write keep-alive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// ensureHeaders writes the event-stream headers once. Callers hold w.mu.
func (w *sseWriter) ensureHeaders() {
	if w.started {
		return
	}
	header := w.c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	// Disables response buffering in nginx-style reverse proxies.
	header.Set("X-Accel-Buffering", "no")
	w.c.Writer.WriteHeader(http.StatusOK)
	w.started = true
}
