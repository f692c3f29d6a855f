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
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianGateway/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianGateway/services/llm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var rerankerTracer = otel.Tracer("aleutian.gateway.pipeline.reranker")

// Reranker reorders a context bundle by relevance to the query.
//
// When reranking is disabled the pipeline holds no Reranker at all and the
// stage is skipped entirely; implementations never see disabled traffic.
type Reranker interface {
	Rerank(ctx context.Context, query string, bundle *datatypes.ContextBundle) (*datatypes.ContextBundle, error)
}

// LLMReranker scores candidates with a single LLM call and keeps the TopN.
//
// # Description
//
// The model is asked for one integer relevance score (0-10) per candidate.
// Sorting is stable: candidates with equal scores keep their original
// retrieval order. If the model's reply cannot be parsed the bundle is
// returned unchanged rather than failing the request; reranking is an
// optimization, not a correctness stage.
type LLMReranker struct {
	client llm.LLMClient
	topN   int
}

// NewLLMReranker creates a reranker that keeps the best topN candidates.
// A topN <= 0 defaults to 4.
func NewLLMReranker(client llm.LLMClient, topN int) *LLMReranker {
	if topN <= 0 {
		topN = 4
	}
	return &LLMReranker{client: client, topN: topN}
}

// Rerank implements the Reranker interface.
func (r *LLMReranker) Rerank(ctx context.Context, query string,
	bundle *datatypes.ContextBundle) (*datatypes.ContextBundle, error) {

	ctx, span := rerankerTracer.Start(ctx, "LLMReranker.Rerank")
	defer span.End()
	span.SetAttributes(attribute.Int("rerank.candidates", len(bundle.Items)))

	if len(bundle.Items) <= 1 {
		return bundle, nil
	}

	scores, err := r.scoreCandidates(ctx, query, bundle.Items)
	if err != nil {
		slog.Warn("Reranker scoring failed, keeping retrieval order", "error", err)
		span.SetAttributes(attribute.Bool("rerank.fallback", true))
		return r.truncate(bundle), nil
	}

	type scored struct {
		item  datatypes.ContextItem
		score int
	}
	ranked := make([]scored, len(bundle.Items))
	for i, item := range bundle.Items {
		ranked[i] = scored{item: item, score: scores[i]}
	}

	// Stable: equal scores keep original retrieval order.
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	out := &datatypes.ContextBundle{Items: make([]datatypes.ContextItem, 0, len(ranked))}
	for _, s := range ranked {
		out.Items = append(out.Items, s.item)
	}
	return r.truncate(out), nil
}

// truncate keeps at most topN items.
func (r *LLMReranker) truncate(bundle *datatypes.ContextBundle) *datatypes.ContextBundle {
	if len(bundle.Items) > r.topN {
		bundle.Items = bundle.Items[:r.topN]
	}
	return bundle
}

// scoreCandidates asks the model for one relevance score per candidate.
func (r *LLMReranker) scoreCandidates(ctx context.Context, query string,
	items []datatypes.ContextItem) ([]int, error) {

	var sb strings.Builder
	sb.WriteString("Score each passage for relevance to the question on a 0-10 integer scale.\n")
	sb.WriteString("Reply with ONLY a JSON array of integers, one per passage, in order.\n\n")
	sb.WriteString("Question: ")
	sb.WriteString(query)
	sb.WriteString("\n\n")
	for i, item := range items {
		fmt.Fprintf(&sb, "Passage %d:\n%s\n\n", i+1, item.Content)
	}

	lowTemp := float32(0.0)
	raw, err := r.client.Generate(ctx, sb.String(), llm.GenerationParams{Temperature: &lowTemp})
	if err != nil {
		return nil, fmt.Errorf("rerank scoring call failed: %w", err)
	}

	// Models sometimes wrap the array in prose or code fences.
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in rerank reply")
	}

	var scores []int
	if err := json.Unmarshal([]byte(raw[start:end+1]), &scores); err != nil {
		return nil, fmt.Errorf("failed to parse rerank scores: %w", err)
	}
	if len(scores) != len(items) {
		return nil, fmt.Errorf("rerank returned %d scores for %d passages", len(scores), len(items))
	}
	return scores, nil
}

// Compile-time interface compliance check.
var _ Reranker = (*LLMReranker)(nil)
