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
	"net/url"
	"strings"

	"github.com/AleutianAI/AleutianGateway/services/gateway/datatypes"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var weaviateTracer = otel.Tracer("aleutian.gateway.vector.weaviate")

// WeaviateProvider retrieves context chunks from a Weaviate Document class.
//
// # Description
//
// Runs a nearText query scoped to a collection via the data_space filter and
// maps Weaviate certainty to the candidate score. Certainty is already in
// [0, 1] so no rescaling is needed.
type WeaviateProvider struct {
	client *weaviate.Client
}

// NewWeaviateProvider creates a provider from a Weaviate URL and ensures the
// gateway schema exists.
func NewWeaviateProvider(ctx context.Context, weaviateURL string) (*WeaviateProvider, error) {
	weaviateURL = strings.Trim(weaviateURL, "\"' ")
	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid Weaviate URL: %s", weaviateURL)
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Weaviate client: %w", err)
	}

	if err := datatypes.EnsureWeaviateSchema(ctx, client); err != nil {
		return nil, err
	}
	slog.Info("Weaviate provider initialized", "url", weaviateURL)

	return &WeaviateProvider{client: client}, nil
}

// Client exposes the underlying Weaviate client so the conversation sink can
// share one connection.
func (p *WeaviateProvider) Client() *weaviate.Client {
	return p.client
}

func (p *WeaviateProvider) Name() string {
	return "weaviate"
}

// Query implements ContextProvider.
func (p *WeaviateProvider) Query(ctx context.Context, collection, query string,
	limit int) ([]datatypes.ContextItem, error) {

	ctx, span := weaviateTracer.Start(ctx, "WeaviateProvider.Query")
	defer span.End()
	span.SetAttributes(attribute.String("vector.collection", collection))
	span.SetAttributes(attribute.Int("vector.limit", limit))

	nearText := p.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	where := filters.Where().
		WithPath([]string{"data_space"}).
		WithOperator(filters.Equal).
		WithValueString(collection)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "certainty"},
		}},
	}

	resp, err := p.client.GraphQL().Get().
		WithClassName("Document").
		WithNearText(nearText).
		WithWhere(where).
		WithFields(fields...).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("weaviate query failed: %w", err)
	}
	if len(resp.Errors) > 0 {
		err := fmt.Errorf("weaviate query returned errors: %s", resp.Errors[0].Message)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.DocumentQueryResponse](resp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to parse weaviate response: %w", err)
	}

	items := make([]datatypes.ContextItem, 0, len(parsed.Get.Document))
	for _, doc := range parsed.Get.Document {
		score := 0.0
		if doc.Additional.Certainty != nil {
			score = float64(*doc.Additional.Certainty)
		}
		items = append(items, datatypes.ContextItem{
			Content: doc.Content,
			Source:  doc.Source,
			Score:   score,
		})
	}

	span.SetAttributes(attribute.Int("vector.candidates", len(items)))
	return items, nil
}

// Ready implements ContextProvider.
func (p *WeaviateProvider) Ready(ctx context.Context) error {
	ready, err := p.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate readiness check failed: %w", err)
	}
	if !ready {
		return fmt.Errorf("weaviate is not ready")
	}
	return nil
}

// Compile-time interface compliance check.
var _ ContextProvider = (*WeaviateProvider)(nil)
