// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command gateway starts the retrieval-augmented chat gateway HTTP server.
//
// This is the main entry point for the containerized gateway service.
// It reads configuration from environment variables and starts the server.
//
// # Environment Variables
//
//   - GATEWAY_PORT: HTTP server port (default: 8000)
//   - LLM_BACKEND: Generation provider - ollama, openai (default: ollama)
//   - VECTOR_BACKEND: Retrieval provider - weaviate, qdrant (default: weaviate)
//   - WEAVIATE_SERVICE_URL: Weaviate vector DB URL
//   - QDRANT_HOST / QDRANT_PORT: Qdrant gRPC endpoint (default port: 6334)
//   - SAFETY_MODE: strict, fuzzy, disabled (default: strict)
//   - SAFETY_SERVICE_URL: Fuzzy classifier URL (required for fuzzy mode)
//   - SAFETY_ALLOW_ON_TIMEOUT: Fail open when the classifier is down (default: false)
//   - CONFIDENCE_THRESHOLD: Minimum retrieval score (default: 0.85)
//   - RETRIEVAL_LIMIT: Candidates fetched per query (default: 8)
//   - RERANK_ENABLED / RERANK_TOP_N: LLM reranking stage (default: off, 4)
//   - FALLBACK_PARAMETRIC: Answer from the model when retrieval is empty (default: false)
//   - NO_RESULTS_MESSAGE_PATH: Hot-reloaded no-results message file
//   - SINK_QUEUE_SIZE / SINK_POLICY: Conversation logging queue (default: 256, drop-oldest)
//   - KEYSTORE_PATH: API key store directory (default: /data/keys)
//   - ADMIN_TOKEN: Bearer token for the key management API (empty disables it)
//   - AUTH_REQUIRE_FOR_HEALTH: Put /health behind API-key auth (default: false)
//   - RATE_LIMIT_RPS / RATE_LIMIT_BURST: Per-tenant throttle (default: 10, 20)
//   - VERBOSE_TIMING: Log time-to-first-token per request (default: false)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: aleutian-otel-collector:4317)
//
// # Usage
//
//	# Build
//	go build -o gateway ./cmd/gateway
//
//	# Run
//	./gateway
//
//	# Or via container
//	podman-compose up gateway
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/AleutianAI/AleutianGateway/services/gateway"
	"github.com/joho/godotenv"
)

func main() {
	// Local development convenience; the container sets real env vars.
	_ = godotenv.Load()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Build configuration from environment variables
	cfg := gateway.Config{
		Port:                 getEnvInt("GATEWAY_PORT", 8000),
		LLMBackend:           getEnvString("LLM_BACKEND", "ollama"),
		VectorBackend:        getEnvString("VECTOR_BACKEND", "weaviate"),
		WeaviateURL:          os.Getenv("WEAVIATE_SERVICE_URL"),
		QdrantHost:           os.Getenv("QDRANT_HOST"),
		QdrantPort:           getEnvInt("QDRANT_PORT", 6334),
		SafetyMode:           getEnvString("SAFETY_MODE", "strict"),
		SafetyServiceURL:     os.Getenv("SAFETY_SERVICE_URL"),
		SafetyMaxRetries:     getEnvInt("SAFETY_MAX_RETRIES", 3),
		SafetyRetryDelay:     getEnvDuration("SAFETY_RETRY_DELAY", time.Second),
		SafetyRequestTimeout: getEnvDuration("SAFETY_REQUEST_TIMEOUT", 15*time.Second),
		SafetyAllowOnTimeout: getEnvBool("SAFETY_ALLOW_ON_TIMEOUT", false),
		ConfidenceThreshold:  getEnvFloat("CONFIDENCE_THRESHOLD", 0.85),
		RetrievalLimit:       getEnvInt("RETRIEVAL_LIMIT", 8),
		RerankEnabled:        getEnvBool("RERANK_ENABLED", false),
		RerankTopN:           getEnvInt("RERANK_TOP_N", 4),
		FallbackParametric:   getEnvBool("FALLBACK_PARAMETRIC", false),
		NoResultsMessagePath: os.Getenv("NO_RESULTS_MESSAGE_PATH"),
		SinkQueueSize:        getEnvInt("SINK_QUEUE_SIZE", 256),
		SinkPolicy:           getEnvString("SINK_POLICY", "drop-oldest"),
		KeystorePath:         getEnvString("KEYSTORE_PATH", "/data/keys"),
		AdminToken:           os.Getenv("ADMIN_TOKEN"),
		AuthRequireForHealth: getEnvBool("AUTH_REQUIRE_FOR_HEALTH", false),
		RateLimitRPS:         getEnvFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:       getEnvInt("RATE_LIMIT_BURST", 20),
		VerboseTiming:        getEnvBool("VERBOSE_TIMING", false),
		OTelEndpoint:         getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "aleutian-otel-collector:4317"),
	}

	slog.Info("Starting gateway",
		"port", cfg.Port,
		"llm_backend", cfg.LLMBackend,
		"vector_backend", cfg.VectorBackend,
		"safety_mode", cfg.SafetyMode,
	)

	// Create gateway with default extension options.
	// Enterprise builds will pass custom ServiceOptions here.
	svc, err := gateway.New(cfg, nil)
	if err != nil {
		log.Fatalf("Failed to create gateway: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Gateway error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns the environment variable as float64 or a default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvBool returns the environment variable as bool or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvDuration returns the environment variable as a duration or a default.
// Accepts Go duration strings ("1s", "500ms").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
