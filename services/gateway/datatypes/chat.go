// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the gateway service.
//
// This file contains request and response types for the chat endpoint.
// For retrieval and conversation types, see rag.go.
package datatypes

import (
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants for Security Compliance
// =============================================================================

const (
	// MaxMessageBytes is the maximum size of a single chat message.
	// Checks byte length (not rune count) to bound memory per request.
	MaxMessageBytes = 32 * 1024 // 32KB
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes validates that a string field does not exceed MaxMessageBytes.
func validateMaxBytes(fl validator.FieldLevel) bool {
	content := fl.Field().String()
	return len(content) <= MaxMessageBytes
}

// =============================================================================
// Chat Request / Response Types
// =============================================================================

// ChatRequest is the body of POST /chat.
//
// # Description
//
// Carries a single user message through the gateway pipeline. Streaming is
// selected either by the Stream field or by an Accept: text/event-stream
// header; the handler honors whichever asks for a stream.
//
// # Validation
//
//   - Message: required, non-empty, max 32KB (maxbytes custom validator)
type ChatRequest struct {
	Message string `json:"message" validate:"required,min=1,maxbytes"`
	Stream  bool   `json:"stream"`
}

// Validate validates the ChatRequest fields.
func (r *ChatRequest) Validate() error {
	return chatValidate.Struct(r)
}

// ChatResponse is the single-shot response body of POST /chat.
type ChatResponse struct {
	Response string `json:"response"`
}

// StreamFrame is one SSE data payload in a streamed chat response.
//
// # Description
//
// Each frame carries a delta of normalized answer text. The terminal frame
// has empty Text and Done=true. Concatenating the Text of every frame yields
// exactly the single-shot answer for the same request.
//
// # Wire Format
//
//	data: {"text":"Hello, wo","done":false}\n\n
//	data: {"text":"rld.","done":false}\n\n
//	data: {"text":"","done":true}\n\n
type StreamFrame struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}
