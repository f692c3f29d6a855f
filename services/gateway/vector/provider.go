// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vector provides retrieval backends for the gateway.
//
// A ContextProvider answers a tenant-scoped similarity query and returns
// candidates with backend-normalized confidence scores in [0, 1]. The
// confidence gate above this package decides which candidates survive;
// providers only fetch and score.
package vector

import (
	"context"

	"github.com/AleutianAI/AleutianGateway/services/gateway/datatypes"
)

// ContextProvider is the retrieval backend contract.
//
// # Description
//
// Query returns up to limit candidates for the given collection, ordered by
// descending backend score. A transport or backend failure is returned as an
// error; a query that matches nothing returns an empty slice and nil error.
// The two outcomes are intentionally distinct.
//
// Ready reports whether the backend is reachable, for startup verification
// and health probes.
type ContextProvider interface {
	Query(ctx context.Context, collection, query string, limit int) ([]datatypes.ContextItem, error)
	Ready(ctx context.Context) error
	Name() string
}
