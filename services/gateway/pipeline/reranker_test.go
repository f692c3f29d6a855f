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
	"testing"

	"github.com/AleutianAI/AleutianGateway/services/gateway/datatypes"
)

func bundleOf(contents ...string) *datatypes.ContextBundle {
	b := &datatypes.ContextBundle{}
	for _, c := range contents {
		b.Items = append(b.Items, datatypes.ContextItem{Content: c, Score: 0.9})
	}
	return b
}

func contentsOf(b *datatypes.ContextBundle) []string {
	out := make([]string, 0, len(b.Items))
	for _, item := range b.Items {
		out = append(out, item.Content)
	}
	return out
}

func TestRerankOrdersByScore(t *testing.T) {
	t.Parallel()

	client := &fakeLLM{response: "[2, 9, 5]"}
	r := NewLLMReranker(client, 4)

	out, err := r.Rerank(context.Background(), "query", bundleOf("a", "b", "c"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := contentsOf(out)
	want := []string{"b", "c", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestRerankTruncatesToTopN(t *testing.T) {
	t.Parallel()

	client := &fakeLLM{response: "[1, 4, 3, 2]"}
	r := NewLLMReranker(client, 2)

	out, err := r.Rerank(context.Background(), "query", bundleOf("a", "b", "c", "d"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := contentsOf(out)
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("expected top-2 [b c], got %v", got)
	}
}

func TestRerankStableOnEqualScores(t *testing.T) {
	t.Parallel()

	client := &fakeLLM{response: "[5, 5, 5]"}
	r := NewLLMReranker(client, 4)

	out, err := r.Rerank(context.Background(), "query", bundleOf("a", "b", "c"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := contentsOf(out)
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("equal scores must keep retrieval order, got %v", got)
		}
	}
}

func TestRerankParseFailureKeepsRetrievalOrder(t *testing.T) {
	t.Parallel()

	client := &fakeLLM{response: "I think the second passage is most relevant."}
	r := NewLLMReranker(client, 2)

	out, err := r.Rerank(context.Background(), "query", bundleOf("a", "b", "c"))
	if err != nil {
		t.Fatalf("parse failure must not fail the request: %v", err)
	}
	got := contentsOf(out)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("expected truncated retrieval order [a b], got %v", got)
	}
}

func TestRerankScoreCountMismatchKeepsRetrievalOrder(t *testing.T) {
	t.Parallel()

	client := &fakeLLM{response: "[9, 1]"}
	r := NewLLMReranker(client, 4)

	out, err := r.Rerank(context.Background(), "query", bundleOf("a", "b", "c"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := contentsOf(out)
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("score mismatch must keep retrieval order, got %v", got)
		}
	}
}

func TestRerankSingleItemSkipsModel(t *testing.T) {
	t.Parallel()

	client := &fakeLLM{response: "[10]"}
	r := NewLLMReranker(client, 4)

	out, err := r.Rerank(context.Background(), "query", bundleOf("only"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Items) != 1 {
		t.Fatalf("expected passthrough, got %d items", len(out.Items))
	}
	if gen, _ := client.calls(); gen != 0 {
		t.Errorf("single-item bundle must not invoke the model, got %d calls", gen)
	}
}

func TestRerankExtractsArrayFromProse(t *testing.T) {
	t.Parallel()

	client := &fakeLLM{response: "Sure! Here are the scores:\n```json\n[1, 8]\n```"}
	r := NewLLMReranker(client, 4)

	out, err := r.Rerank(context.Background(), "query", bundleOf("a", "b"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := contentsOf(out)
	if got[0] != "b" || got[1] != "a" {
		t.Errorf("expected [b a] after extracting fenced array, got %v", got)
	}
}
