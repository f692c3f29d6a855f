// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianGateway/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianGateway/services/llm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var engineTracer = otel.Tracer("aleutian.gateway.pipeline.engine")

// EngineConfig holds generation settings.
//
// # Fields
//
//   - FallbackParametric: When the context bundle is empty, send the bare
//     query to the model instead of returning the no-results message.
//   - VerboseTiming: Log time-to-first-token per request.
type EngineConfig struct {
	FallbackParametric bool
	VerboseTiming      bool
}

// Engine turns a query and its context bundle into a normalized answer.
//
// # Description
//
// Streaming is the canonical path: Generate always runs the stream and the
// single-shot answer is the concatenation of every emitted delta. Emitted
// deltas are prefix extensions of the normalized accumulated text, so the
// stream and the final answer are byte-identical by construction.
type Engine struct {
	client   llm.LLMClient
	fallback *FallbackMessage
	cfg      EngineConfig
}

// NewEngine creates a generation engine.
func NewEngine(client llm.LLMClient, fallback *FallbackMessage, cfg EngineConfig) *Engine {
	return &Engine{client: client, fallback: fallback, cfg: cfg}
}

// Backend names the underlying LLM for conversation records.
func (e *Engine) Backend() string {
	return e.client.Name()
}

// Generate produces the answer for a query, emitting normalized deltas.
//
// # Inputs
//
//   - query: The user message.
//   - bundle: Gated (and possibly reranked) context. May be empty.
//   - emit: Receives each normalized answer delta. May be nil for
//     single-shot callers that only want the returned answer.
//
// # Outputs
//
//   - string: The full normalized answer. Equals the concatenation of all
//     emitted deltas.
//   - error: *GenerationError on LLM failure.
func (e *Engine) Generate(ctx context.Context, query string,
	bundle *datatypes.ContextBundle, emit func(delta string) error) (string, error) {

	ctx, span := engineTracer.Start(ctx, "Engine.Generate")
	defer span.End()
	span.SetAttributes(attribute.Bool("engine.empty_bundle", bundle.Empty()))

	if emit == nil {
		emit = func(string) error { return nil }
	}

	if bundle.Empty() && !e.cfg.FallbackParametric {
		// No grounding context: serve the configured message without
		// invoking the model.
		answer := Normalize(e.fallback.Get())
		if err := emit(answer); err != nil {
			return "", &GenerationError{Backend: e.client.Name(), Err: err}
		}
		return answer, nil
	}

	prompt := e.buildPrompt(query, bundle)
	span.SetAttributes(attribute.Int("engine.prompt_length", len(prompt)))

	acc := &streamAccumulator{emit: emit}
	start := time.Now()
	firstToken := time.Duration(0)

	err := e.client.GenerateStream(ctx, prompt, llm.GenerationParams{}, func(chunk string) error {
		if firstToken == 0 {
			firstToken = time.Since(start)
		}
		return acc.push(chunk)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", &GenerationError{Backend: e.client.Name(), Err: err}
	}

	answer, err := acc.finish()
	if err != nil {
		return "", &GenerationError{Backend: e.client.Name(), Err: err}
	}

	if e.cfg.VerboseTiming && firstToken > 0 {
		slog.Info("Generation timing",
			"time_to_first_token_ms", firstToken.Milliseconds(),
			"total_ms", time.Since(start).Milliseconds())
	}
	span.SetAttributes(attribute.Int("engine.answer_length", len(answer)))
	return answer, nil
}

// buildPrompt assembles the grounded prompt, or the bare query when running
// parametric with an empty bundle.
func (e *Engine) buildPrompt(query string, bundle *datatypes.ContextBundle) string {
	if bundle.Empty() {
		return query
	}

	var sb strings.Builder
	sb.WriteString("Answer the question using only the provided context. ")
	sb.WriteString("If the context does not contain the answer, say so.\n\n")
	sb.WriteString("Context:\n")
	for i, item := range bundle.Items {
		fmt.Fprintf(&sb, "[%d] (source: %s)\n%s\n\n", i+1, item.Source, item.Content)
	}
	sb.WriteString("Question: ")
	sb.WriteString(query)
	sb.WriteString("\n\nAnswer:")
	return sb.String()
}

// =============================================================================
// Stream Accumulator
// =============================================================================

// streamAccumulator folds raw model chunks into normalized prefix deltas.
//
// # Invariant
//
// emitted is always a prefix of Normalize(raw). Because Normalize never ends
// output with whitespace and appended chunks can only alter the whitespace
// region past the last non-space character, already-emitted text is never
// rewritten. If a chunk would violate the prefix (which the normalization
// rules do not produce), emission is held until the text stabilizes.
type streamAccumulator struct {
	raw     strings.Builder
	emitted string
	emit    func(delta string) error
}

func (a *streamAccumulator) push(chunk string) error {
	a.raw.WriteString(chunk)
	normalized := Normalize(a.raw.String())
	if !strings.HasPrefix(normalized, a.emitted) {
		return nil
	}
	delta := normalized[len(a.emitted):]
	if delta == "" {
		return nil
	}
	if err := a.emit(delta); err != nil {
		return err
	}
	a.emitted = normalized
	return nil
}

// finish emits any remaining tail and returns the full normalized answer.
func (a *streamAccumulator) finish() (string, error) {
	final := Normalize(a.raw.String())
	if !strings.HasPrefix(final, a.emitted) {
		// Should not happen with the current normalization rules; give the
		// caller a consistent answer rather than a corrupted stream.
		return final, fmt.Errorf("stream accumulator lost prefix consistency")
	}
	if delta := final[len(a.emitted):]; delta != "" {
		if err := a.emit(delta); err != nil {
			return final, err
		}
		a.emitted = final
	}
	return final, nil
}
