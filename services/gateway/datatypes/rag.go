// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Retrieval Types
// =============================================================================

// ContextItem is one retrieved chunk of grounding context.
//
// # Fields
//
//   - Content: The chunk text.
//   - Source: Origin of the chunk (file path, URL, document id).
//   - Score: Backend confidence in [0, 1]. Weaviate certainty or Qdrant
//     cosine similarity, normalized by the provider.
type ContextItem struct {
	Content string  `json:"content"`
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
}

// ContextBundle is the ordered set of context items that survived the
// confidence gate. An empty bundle is a valid outcome, distinct from a
// retrieval transport failure.
type ContextBundle struct {
	Items []ContextItem `json:"items"`
}

// Empty reports whether the bundle has no items.
func (b *ContextBundle) Empty() bool {
	return b == nil || len(b.Items) == 0
}

// =============================================================================
// Safety Types
// =============================================================================

// SafetyVerdict is the outcome of a guardrail check.
//
// # Fields
//
//   - Allowed: Whether the message may proceed to retrieval and generation.
//   - Reason: Human-readable reason, populated when blocked or when the
//     verdict was resolved by policy (timeout fail-open/fail-closed).
//   - Source: Which checker produced the verdict: "strict", "fuzzy",
//     "disabled", or "timeout_policy".
type SafetyVerdict struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Source  string `json:"source"`
}

// =============================================================================
// Conversation Logging Types
// =============================================================================

// ConversationRecord is one completed (or blocked) chat turn queued for the
// logging sink.
type ConversationRecord struct {
	RecordID   string `json:"record_id"`
	Question   string `json:"question"`
	Answer     string `json:"answer"`
	Tenant     string `json:"tenant"`
	Collection string `json:"collection"`
	ClientIP   string `json:"client_ip"`
	Backend    string `json:"backend"`
	Blocked    bool   `json:"blocked"`
	Timestamp  int64  `json:"timestamp"`
}

// NewConversationRecord creates a record with a generated ID and current
// timestamp.
func NewConversationRecord(question, answer string) *ConversationRecord {
	return &ConversationRecord{
		RecordID:  uuid.New().String(),
		Question:  question,
		Answer:    answer,
		Timestamp: time.Now().UnixMilli(),
	}
}

// ConversationProperties is the typed property set for creating a
// Conversation object in Weaviate.
type ConversationProperties struct {
	RecordID   string `json:"record_id"`
	Question   string `json:"question"`
	Answer     string `json:"answer"`
	Tenant     string `json:"tenant"`
	Collection string `json:"collection"`
	ClientIP   string `json:"client_ip"`
	Backend    string `json:"backend"`
	Blocked    bool   `json:"blocked"`
	Timestamp  int64  `json:"timestamp"`
}

// ToMap converts ConversationProperties to the map format required by
// Weaviate's WithProperties() method.
func (p *ConversationProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"record_id":  p.RecordID,
		"question":   p.Question,
		"answer":     p.Answer,
		"tenant":     p.Tenant,
		"collection": p.Collection,
		"client_ip":  p.ClientIP,
		"backend":    p.Backend,
		"blocked":    p.Blocked,
		"timestamp":  p.Timestamp,
	}
}
