// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// Mock Server Helpers
// =============================================================================

// newMockOllamaServer creates a test server that returns streaming NDJSON.
func newMockOllamaServer(handler http.HandlerFunc) *httptest.Server {
	return httptest.NewServer(handler)
}

// newTestOllamaClient creates an OllamaClient pointing to a test server.
func newTestOllamaClient(baseURL, model string) *OllamaClient {
	return &OllamaClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		model:      model,
	}
}

// writeChunk writes one NDJSON stream line.
func writeChunk(w http.ResponseWriter, response string, done bool) {
	fmt.Fprintf(w, `{"model":"test-model","response":%q,"done":%t}`+"\n", response, done)
}

// =============================================================================
// Generate Tests
// =============================================================================

func TestGenerateReturnsResponse(t *testing.T) {
	t.Parallel()

	server := newMockOllamaServer(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req ollamaGenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if req.Stream {
			t.Error("single-shot generate must not request streaming")
		}
		if req.Model != "test-model" {
			t.Errorf("unexpected model: %s", req.Model)
		}
		_ = json.NewEncoder(w).Encode(ollamaGenerateResponse{
			Model:    "test-model",
			Response: "generated text",
			Done:     true,
		})
	})
	defer server.Close()

	client := newTestOllamaClient(server.URL, "test-model")
	got, err := client.Generate(context.Background(), "a prompt", GenerationParams{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "generated text" {
		t.Errorf("expected %q, got %q", "generated text", got)
	}
}

func TestGeneratePassesParams(t *testing.T) {
	t.Parallel()

	server := newMockOllamaServer(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaGenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if temp, ok := req.Options["temperature"].(float64); !ok || temp != 0 {
			t.Errorf("expected temperature 0, got %v", req.Options["temperature"])
		}
		if stop, ok := req.Options["stop"].([]interface{}); !ok || len(stop) != 1 {
			t.Errorf("expected one stop sequence, got %v", req.Options["stop"])
		}
		_ = json.NewEncoder(w).Encode(ollamaGenerateResponse{Response: "ok", Done: true})
	})
	defer server.Close()

	client := newTestOllamaClient(server.URL, "test-model")
	temp := float32(0.0)
	_, err := client.Generate(context.Background(), "a prompt", GenerationParams{
		Temperature: &temp,
		Stop:        []string{"\n\n"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGenerateModelNotFound(t *testing.T) {
	t.Parallel()

	server := newMockOllamaServer(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"model 'missing-model' not found"}`)
	})
	defer server.Close()

	client := newTestOllamaClient(server.URL, "missing-model")
	_, err := client.Generate(context.Background(), "a prompt", GenerationParams{})
	if err == nil {
		t.Fatal("expected an error for a missing model")
	}
	if !strings.Contains(err.Error(), "ollama pull missing-model") {
		t.Errorf("expected pull hint in error, got: %v", err)
	}
}

// =============================================================================
// GenerateStream Tests
// =============================================================================

func TestGenerateStreamDeliversChunks(t *testing.T) {
	t.Parallel()

	server := newMockOllamaServer(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaGenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if !req.Stream {
			t.Error("streaming generate must request streaming")
		}
		writeChunk(w, "Hello", false)
		writeChunk(w, " world", false)
		writeChunk(w, "", true)
	})
	defer server.Close()

	client := newTestOllamaClient(server.URL, "test-model")
	var chunks []string
	err := client.GenerateStream(context.Background(), "a prompt", GenerationParams{},
		func(chunk string) error {
			chunks = append(chunks, chunk)
			return nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.Join(chunks, ""); got != "Hello world" {
		t.Errorf("expected %q, got %q", "Hello world", got)
	}
}

func TestGenerateStreamCallbackAborts(t *testing.T) {
	t.Parallel()

	server := newMockOllamaServer(func(w http.ResponseWriter, _ *http.Request) {
		for i := 0; i < 100; i++ {
			writeChunk(w, "token ", false)
		}
		writeChunk(w, "", true)
	})
	defer server.Close()

	client := newTestOllamaClient(server.URL, "test-model")
	abort := errors.New("client hung up")
	count := 0
	err := client.GenerateStream(context.Background(), "a prompt", GenerationParams{},
		func(_ string) error {
			count++
			if count >= 3 {
				return abort
			}
			return nil
		})
	if err == nil {
		t.Fatal("expected the callback error to propagate")
	}
	if !errors.Is(err, abort) {
		t.Errorf("expected wrapped callback error, got: %v", err)
	}
	if count != 3 {
		t.Errorf("expected the stream to stop after 3 chunks, got %d", count)
	}
}

func TestGenerateStreamMidStreamError(t *testing.T) {
	t.Parallel()

	server := newMockOllamaServer(func(w http.ResponseWriter, _ *http.Request) {
		writeChunk(w, "partial", false)
		fmt.Fprintln(w, `{"error":"model crashed"}`)
	})
	defer server.Close()

	client := newTestOllamaClient(server.URL, "test-model")
	err := client.GenerateStream(context.Background(), "a prompt", GenerationParams{},
		func(_ string) error { return nil })
	if err == nil {
		t.Fatal("expected a stream error")
	}
	if !strings.Contains(err.Error(), "model crashed") {
		t.Errorf("expected the server error message, got: %v", err)
	}
}

func TestGenerateStreamMalformedChunk(t *testing.T) {
	t.Parallel()

	server := newMockOllamaServer(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `not valid json`)
	})
	defer server.Close()

	client := newTestOllamaClient(server.URL, "test-model")
	err := client.GenerateStream(context.Background(), "a prompt", GenerationParams{},
		func(_ string) error { return nil })
	if err == nil {
		t.Fatal("expected a parse error")
	}
}

// =============================================================================
// Verify Tests
// =============================================================================

func TestVerifyFindsModel(t *testing.T) {
	t.Parallel()

	server := newMockOllamaServer(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"models":[{"name":"other-model"},{"name":"test-model:latest"}]}`)
	})
	defer server.Close()

	client := newTestOllamaClient(server.URL, "test-model")
	if err := client.Verify(context.Background()); err != nil {
		t.Errorf("expected verify to accept the :latest tag, got: %v", err)
	}
}

func TestVerifyMissingModel(t *testing.T) {
	t.Parallel()

	server := newMockOllamaServer(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"models":[{"name":"other-model"}]}`)
	})
	defer server.Close()

	client := newTestOllamaClient(server.URL, "test-model")
	err := client.Verify(context.Background())
	if err == nil {
		t.Fatal("expected an error for a model that is not pulled")
	}
	if !strings.Contains(err.Error(), "ollama pull test-model") {
		t.Errorf("expected pull hint in error, got: %v", err)
	}
}

func TestVerifyUnreachableServer(t *testing.T) {
	t.Parallel()

	server := newMockOllamaServer(func(_ http.ResponseWriter, _ *http.Request) {})
	url := server.URL
	server.Close()

	client := newTestOllamaClient(url, "test-model")
	if err := client.Verify(context.Background()); err == nil {
		t.Error("expected an error for an unreachable server")
	}
}
