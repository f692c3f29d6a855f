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
	"log/slog"

	"github.com/AleutianAI/AleutianGateway/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianGateway/services/gateway/vector"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var retrieverTracer = otel.Tracer("aleutian.gateway.pipeline.retriever")

// DefaultConfidenceThreshold gates which retrieval candidates may ground an
// answer. Tenants can override it per key.
const DefaultConfidenceThreshold = 0.85

// RetrievalGate wraps a ContextProvider with the confidence gate.
//
// # Description
//
// Candidates below the threshold are discarded; survivors keep the
// provider's original order. Gating to an empty bundle is a normal outcome
// (nil error). Only a backend failure produces a *RetrievalTransportError.
type RetrievalGate struct {
	provider  vector.ContextProvider
	threshold float64
	limit     int
}

// NewRetrievalGate creates a gate over the given provider. A zero or
// negative threshold falls back to DefaultConfidenceThreshold; a zero limit
// defaults to 8.
func NewRetrievalGate(provider vector.ContextProvider, threshold float64, limit int) *RetrievalGate {
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	if limit <= 0 {
		limit = 8
	}
	return &RetrievalGate{
		provider:  provider,
		threshold: threshold,
		limit:     limit,
	}
}

// Retrieve queries the backend and applies the confidence gate.
//
// # Inputs
//
//   - collection: Tenant collection to search.
//   - query: The user message.
//   - thresholdOverride: Per-tenant threshold; <= 0 uses the gate default.
//
// # Outputs
//
//   - *datatypes.ContextBundle: Surviving candidates, possibly empty.
//   - error: *RetrievalTransportError on backend failure, nil otherwise.
func (g *RetrievalGate) Retrieve(ctx context.Context, collection, query string,
	thresholdOverride float64) (*datatypes.ContextBundle, error) {

	ctx, span := retrieverTracer.Start(ctx, "RetrievalGate.Retrieve")
	defer span.End()

	threshold := g.threshold
	if thresholdOverride > 0 {
		threshold = thresholdOverride
	}
	span.SetAttributes(attribute.Float64("retrieval.threshold", threshold))
	span.SetAttributes(attribute.String("retrieval.collection", collection))

	candidates, err := g.provider.Query(ctx, collection, query, g.limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &RetrievalTransportError{Backend: g.provider.Name(), Err: err}
	}

	// Filter by threshold, preserving provider order.
	bundle := &datatypes.ContextBundle{}
	for _, candidate := range candidates {
		if candidate.Score >= threshold {
			bundle.Items = append(bundle.Items, candidate)
		}
	}

	span.SetAttributes(attribute.Int("retrieval.candidates", len(candidates)))
	span.SetAttributes(attribute.Int("retrieval.survivors", len(bundle.Items)))
	slog.Debug("Retrieval gate applied",
		"candidates", len(candidates),
		"survivors", len(bundle.Items),
		"threshold", threshold)

	return bundle, nil
}
