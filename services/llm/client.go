// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import "context"

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// StreamCallback receives one raw chunk of generated text. Returning a
// non-nil error aborts the stream.
type StreamCallback func(chunk string) error

// LLMClient defines the standard interface for any LLM backend.
//
// # Description
//
// GenerateStream is the canonical generation path; Generate is equivalent to
// streaming with an accumulating callback and returning the joined text.
// Verify is called once at startup and must fail fast when the backend is
// unreachable or the configured model is missing.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
	GenerateStream(ctx context.Context, prompt string, params GenerationParams,
		callback StreamCallback) error
	Verify(ctx context.Context) error
	Name() string
}

// EmbeddingClient produces dense vectors for retrieval backends that do not
// embed server-side (Qdrant).
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
