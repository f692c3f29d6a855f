// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline implements the gateway's request pipeline: safety
// guardrail, confidence-gated retrieval, optional reranking, generation,
// and fire-and-forget conversation logging.
//
// # Request States
//
//	Received → SafetyChecked → Blocked
//	                         → Retrieved → Reranked → Generating → Completed
//	any stage failure        → Failed
//
// Streaming is the canonical execution path; the single-shot answer is the
// concatenation of the streamed deltas for the same request.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/AleutianAI/AleutianGateway/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianGateway/services/gateway/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var pipelineTracer = otel.Tracer("aleutian.gateway.pipeline")

// RefusalMessage is returned (with HTTP 200) when the guardrail blocks a
// message.
const RefusalMessage = "I'm sorry, but I can't help with that request."

// =============================================================================
// Request States
// =============================================================================

// State is the pipeline position a request last reached.
type State string

const (
	StateReceived      State = "received"
	StateSafetyChecked State = "safety_checked"
	StateBlocked       State = "blocked"
	StateRetrieved     State = "retrieved"
	StateReranked      State = "reranked"
	StateGenerating    State = "generating"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
)

// =============================================================================
// Request / Result
// =============================================================================

// Request is one chat turn entering the pipeline, already authenticated.
type Request struct {
	Message           string
	Tenant            string
	Collection        string
	ClientIP          string
	ThresholdOverride float64
}

// Result is the pipeline outcome for a request that did not fail.
type Result struct {
	Answer      string
	Blocked     bool
	BlockReason string
	State       State
	ContextUsed int
}

// =============================================================================
// Pipeline
// =============================================================================

// Pipeline wires the stages together.
//
// # Thread Safety
//
// Safe for concurrent use; all fields are read-only after construction.
type Pipeline struct {
	guardrail  *Guardrail
	gate       *RetrievalGate
	reranker   Reranker // nil when reranking is disabled; the stage is skipped
	engine     *Engine
	dispatcher *Dispatcher
}

// NewPipeline assembles the stages. reranker may be nil to disable the
// rerank stage entirely; dispatcher may be nil to disable logging.
func NewPipeline(guardrail *Guardrail, gate *RetrievalGate, reranker Reranker,
	engine *Engine, dispatcher *Dispatcher) *Pipeline {
	return &Pipeline{
		guardrail:  guardrail,
		gate:       gate,
		reranker:   reranker,
		engine:     engine,
		dispatcher: dispatcher,
	}
}

// Handle runs the pipeline single-shot.
//
// The answer equals the concatenation of the deltas a streaming caller
// would have received; both paths share HandleStream.
func (p *Pipeline) Handle(ctx context.Context, req *Request) (*Result, error) {
	return p.HandleStream(ctx, req, nil)
}

// HandleStream runs the pipeline, emitting normalized answer deltas.
//
// # Description
//
// Stages short-circuit per the state machine: a blocked request never
// reaches retrieval or generation, a retrieval transport failure never
// reaches generation. On completion or block the conversation record is
// dispatched to the sink without blocking the response.
//
// # Inputs
//
//   - emit: Receives each answer delta. May be nil (single-shot).
//
// # Outputs
//
//   - *Result: Outcome including the full answer. Non-nil iff err is nil.
//   - error: One of the pipeline error types; the request reached
//     StateFailed.
func (p *Pipeline) HandleStream(ctx context.Context, req *Request,
	emit func(delta string) error) (*Result, error) {

	ctx, span := pipelineTracer.Start(ctx, "Pipeline.HandleStream")
	defer span.End()
	span.SetAttributes(attribute.String("pipeline.tenant", req.Tenant))
	span.SetAttributes(attribute.String("pipeline.collection", req.Collection))

	// --- Safety ---
	verdict, err := p.guardrail.Check(ctx, req.Message)
	if err != nil {
		p.recordStage("safety", "failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.AddEvent("safety_checked", attributeVerdict(verdict))

	if !verdict.Allowed {
		p.recordStage("safety", "blocked")
		slog.Info("Request blocked by guardrail",
			"tenant", req.Tenant,
			"reason", verdict.Reason,
			"source", verdict.Source)

		if emit != nil {
			if err := emit(RefusalMessage); err != nil {
				return nil, err
			}
		}
		p.dispatch(ctx, req, RefusalMessage, true)
		return &Result{
			Answer:      RefusalMessage,
			Blocked:     true,
			BlockReason: verdict.Reason,
			State:       StateBlocked,
		}, nil
	}
	p.recordStage("safety", "allowed")

	// --- Retrieval ---
	bundle, err := p.gate.Retrieve(ctx, req.Collection, req.Message, req.ThresholdOverride)
	if err != nil {
		p.recordStage("retrieval", "failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if bundle.Empty() {
		p.recordStage("retrieval", "empty_bundle")
	} else {
		p.recordStage("retrieval", "retrieved")
	}
	span.AddEvent("retrieved", otelIntAttr("context_items", len(bundle.Items)))

	// --- Rerank (skipped entirely when disabled) ---
	if p.reranker != nil && !bundle.Empty() {
		bundle, err = p.reranker.Rerank(ctx, req.Message, bundle)
		if err != nil {
			p.recordStage("rerank", "failed")
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		p.recordStage("rerank", "reranked")
		span.AddEvent("reranked", otelIntAttr("context_items", len(bundle.Items)))
	}

	// --- Generation ---
	answer, err := p.engine.Generate(ctx, req.Message, bundle, emit)
	if err != nil {
		p.recordStage("generation", "failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	p.recordStage("generation", "completed")

	// --- Logging (fire-and-forget) ---
	p.dispatch(ctx, req, answer, false)

	return &Result{
		Answer:      answer,
		State:       StateCompleted,
		ContextUsed: len(bundle.Items),
	}, nil
}

// dispatch queues the conversation record. Never blocks the response and
// never returns an error: logging failures stay inside the sink.
func (p *Pipeline) dispatch(ctx context.Context, req *Request, answer string, blocked bool) {
	if p.dispatcher == nil {
		return
	}
	record := datatypes.NewConversationRecord(req.Message, answer)
	record.Tenant = req.Tenant
	record.Collection = req.Collection
	record.ClientIP = req.ClientIP
	record.Backend = p.engine.Backend()
	record.Blocked = blocked
	p.dispatcher.Dispatch(ctx, record)
}

func (p *Pipeline) recordStage(stage, outcome string) {
	if observability.DefaultMetrics != nil {
		observability.DefaultMetrics.RecordStageOutcome(stage, outcome)
	}
}

func attributeVerdict(v *datatypes.SafetyVerdict) trace.EventOption {
	return trace.WithAttributes(
		attribute.Bool("safety.allowed", v.Allowed),
		attribute.String("safety.source", v.Source),
	)
}

func otelIntAttr(key string, value int) trace.EventOption {
	return trace.WithAttributes(attribute.Int(key, value))
}
