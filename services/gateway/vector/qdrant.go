// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianGateway/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianGateway/services/llm"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var qdrantTracer = otel.Tracer("aleutian.gateway.vector.qdrant")

// QdrantProvider retrieves context chunks from Qdrant collections.
//
// # Description
//
// Qdrant does not embed queries server-side, so the provider embeds the
// query text via an EmbeddingClient and runs the Query API against the
// tenant's collection. With cosine distance the returned score is a
// similarity in [0, 1] and is used directly as the candidate score.
type QdrantProvider struct {
	client   *qdrant.Client
	embedder llm.EmbeddingClient
}

// NewQdrantProvider connects to Qdrant over gRPC.
func NewQdrantProvider(host string, port int, embedder llm.EmbeddingClient) (*QdrantProvider, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}
	slog.Info("Qdrant provider initialized", "host", host, "port", port)
	return &QdrantProvider{client: client, embedder: embedder}, nil
}

func (p *QdrantProvider) Name() string {
	return "qdrant"
}

// Query implements ContextProvider.
func (p *QdrantProvider) Query(ctx context.Context, collection, query string,
	limit int) ([]datatypes.ContextItem, error) {

	ctx, span := qdrantTracer.Start(ctx, "QdrantProvider.Query")
	defer span.End()
	span.SetAttributes(attribute.String("vector.collection", collection))
	span.SetAttributes(attribute.Int("vector.limit", limit))

	vec, err := p.embedder.Embed(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	queryLimit := uint64(limit)
	results, err := p.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          &queryLimit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("qdrant query failed: %w", err)
	}

	items := make([]datatypes.ContextItem, 0, len(results))
	for _, result := range results {
		if result.Payload == nil {
			continue
		}
		contentValue, ok := result.Payload["content"]
		if !ok || contentValue.GetStringValue() == "" {
			continue
		}
		source := ""
		if sourceValue, ok := result.Payload["source"]; ok {
			source = sourceValue.GetStringValue()
		}
		items = append(items, datatypes.ContextItem{
			Content: contentValue.GetStringValue(),
			Source:  source,
			Score:   float64(result.Score),
		})
	}

	span.SetAttributes(attribute.Int("vector.candidates", len(items)))
	return items, nil
}

// Ready implements ContextProvider.
func (p *QdrantProvider) Ready(ctx context.Context) error {
	if _, err := p.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant health check failed: %w", err)
	}
	return nil
}

// Compile-time interface compliance check.
var _ ContextProvider = (*QdrantProvider)(nil)
