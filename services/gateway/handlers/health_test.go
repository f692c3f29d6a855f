// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AleutianAI/AleutianGateway/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianGateway/services/llm"
	"github.com/gin-gonic/gin"
)

// failingLLM reports a broken generation backend.
type failingLLM struct {
	verifyErr error
}

func (f *failingLLM) Generate(_ context.Context, _ string, _ llm.GenerationParams) (string, error) {
	return "", nil
}

func (f *failingLLM) GenerateStream(_ context.Context, _ string, _ llm.GenerationParams,
	_ llm.StreamCallback) error {
	return nil
}

func (f *failingLLM) Verify(_ context.Context) error { return f.verifyErr }
func (f *failingLLM) Name() string                   { return "failing" }

// failingProvider reports a broken vector backend.
type failingProvider struct {
	readyErr error
}

func (f *failingProvider) Query(_ context.Context, _, _ string, _ int) ([]datatypes.ContextItem, error) {
	return nil, nil
}

func (f *failingProvider) Ready(_ context.Context) error { return f.readyErr }
func (f *failingProvider) Name() string                  { return "failing-vector" }

func getHealth(h *HealthHandler) *httptest.ResponseRecorder {
	router := gin.New()
	router.GET("/health", h.HandleHealth)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	return w
}

func TestHandleHealthAllOK(t *testing.T) {
	t.Parallel()

	w := getHealth(NewHealthHandler(&stubLLM{}, &stubProvider{}))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse body: %v", err)
	}
	if body["status"] != "ok" || body["llm"] != "ok" || body["vector"] != "ok" {
		t.Errorf("unexpected health body: %v", body)
	}
}

func TestHandleHealthDegradedLLM(t *testing.T) {
	t.Parallel()

	w := getHealth(NewHealthHandler(
		&failingLLM{verifyErr: errors.New("model not loaded")},
		&stubProvider{},
	))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse body: %v", err)
	}
	if body["llm"] != "model not loaded" {
		t.Errorf("expected LLM error in body, got %q", body["llm"])
	}
	if body["vector"] != "ok" {
		t.Errorf("vector should still report ok, got %q", body["vector"])
	}
}

func TestHandleHealthDegradedVector(t *testing.T) {
	t.Parallel()

	w := getHealth(NewHealthHandler(
		&stubLLM{},
		&failingProvider{readyErr: errors.New("connection refused")},
	))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse body: %v", err)
	}
	if body["vector"] != "connection refused" {
		t.Errorf("expected vector error in body, got %q", body["vector"])
	}
}
