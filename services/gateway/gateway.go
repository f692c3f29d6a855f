// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gateway provides the retrieval-augmented chat gateway service.
//
// The gateway fronts a vector store and an LLM backend with a single chat
// API: requests are authenticated by API key, screened by a safety
// guardrail, grounded with confidence-gated retrieval, optionally
// reranked, answered single-shot or as an SSE stream, and logged to a
// conversation sink off the request path.
//
// # Enterprise Integration
//
// The gateway supports dependency injection via extensions.ServiceOptions,
// enabling enterprise deployments to provide custom implementations of:
//   - AuthProvider: Custom authentication backends
//   - AuditLogger: Compliance audit logging
//
// # Usage
//
//	cfg := gateway.Config{Port: 8000, LLMBackend: "ollama"}
//	svc, err := gateway.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianGateway/pkg/extensions"
	"github.com/AleutianAI/AleutianGateway/services/gateway/credentials"
	"github.com/AleutianAI/AleutianGateway/services/gateway/handlers"
	"github.com/AleutianAI/AleutianGateway/services/gateway/middleware"
	"github.com/AleutianAI/AleutianGateway/services/gateway/observability"
	"github.com/AleutianAI/AleutianGateway/services/gateway/pipeline"
	"github.com/AleutianAI/AleutianGateway/services/gateway/routes"
	"github.com/AleutianAI/AleutianGateway/services/gateway/vector"
	"github.com/AleutianAI/AleutianGateway/services/llm"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the gateway service.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and should
// only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for testing.
	//
	// Callers must not modify routes after construction.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds gateway configuration options.
//
// All fields are optional; zero values use the defaults applied by New().
type Config struct {
	// Port is the HTTP server port. Default: 8000
	Port int

	// GinMode sets the Gin framework mode ("debug", "release", "test").
	// Default: uses GIN_MODE env var or "debug".
	GinMode string

	// LLMBackend selects the generation provider.
	// Valid values: "ollama", "openai". Default: "ollama"
	LLMBackend string

	// VectorBackend selects the retrieval provider.
	// Valid values: "weaviate", "qdrant". Default: "weaviate"
	VectorBackend string

	// WeaviateURL is the Weaviate endpoint, e.g. "http://localhost:8080".
	// Required when VectorBackend is "weaviate"; also enables conversation
	// logging when set.
	WeaviateURL string

	// QdrantHost and QdrantPort locate the Qdrant gRPC endpoint.
	// Used when VectorBackend is "qdrant". Default port: 6334
	QdrantHost string
	QdrantPort int

	// SafetyMode selects the guardrail: "strict", "fuzzy", "disabled".
	// Default: "strict"
	SafetyMode string

	// SafetyServiceURL is the fuzzy classifier base URL.
	// Required when SafetyMode is "fuzzy".
	SafetyServiceURL string

	// SafetyMaxRetries, SafetyRetryDelay, and SafetyRequestTimeout control
	// the fuzzy classifier retry loop. The delay is fixed, not a backoff
	// base. Defaults: 3 attempts, 1s delay, 15s per-attempt timeout.
	SafetyMaxRetries     int
	SafetyRetryDelay     time.Duration
	SafetyRequestTimeout time.Duration

	// SafetyAllowOnTimeout fails open when the classifier is unreachable.
	// Default: false (fail closed)
	SafetyAllowOnTimeout bool

	// ConfidenceThreshold is the minimum retrieval score for a context
	// item to reach the prompt. Default: 0.85
	ConfidenceThreshold float64

	// RetrievalLimit caps the candidates fetched per query. Default: 8
	RetrievalLimit int

	// RerankEnabled turns on the LLM reranking stage. Default: false
	RerankEnabled bool

	// RerankTopN is how many items survive reranking. Default: 4
	RerankTopN int

	// FallbackParametric sends the bare query to the model when retrieval
	// finds nothing, instead of the no-results message. Default: false
	FallbackParametric bool

	// NoResultsMessagePath points at a hot-reloaded file overriding the
	// built-in no-results message. Empty uses the default text.
	NoResultsMessagePath string

	// SinkQueueSize bounds the conversation logging queue. Default: 256
	SinkQueueSize int

	// SinkPolicy resolves a full logging queue: "drop-oldest" or "block".
	// Default: "drop-oldest"
	SinkPolicy string

	// KeystorePath is the BadgerDB directory for API keys.
	// Default: "/data/keys"
	KeystorePath string

	// AdminToken guards the key management API. Empty disables it.
	AdminToken string

	// AuthRequireForHealth puts /health behind API-key auth.
	// Default: false
	AuthRequireForHealth bool

	// RateLimitRPS and RateLimitBurst throttle chat traffic per tenant.
	// Defaults: 10 rps, burst 20. Non-positive values disable limiting.
	RateLimitRPS   float64
	RateLimitBurst int

	// VerboseTiming logs time-to-first-token per request. Default: false
	VerboseTiming bool

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "aleutian-otel-collector:4317"
	OTelEndpoint string

	// EnableMetrics enables the Prometheus /metrics endpoint.
	// Default: true
	EnableMetrics bool
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
type service struct {
	config        Config
	opts          extensions.ServiceOptions
	router        *gin.Engine
	llmClient     llm.LLMClient
	provider      vector.ContextProvider
	store         *credentials.Store
	fallback      *pipeline.FallbackMessage
	dispatcher    *pipeline.Dispatcher
	pipeline      *pipeline.Pipeline
	tracerCleanup func(context.Context)
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a gateway Service with the given configuration.
//
// # Description
//
// New initializes all gateway components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing and Prometheus metrics
//  3. Initializes the LLM client, vector provider, and credential store
//     in parallel; the LLM backend is verified and startup fails if it is
//     unreachable or the model is missing
//  4. Assembles the guardrail, retrieval gate, optional reranker, engine,
//     and conversation sink into the request pipeline
//  5. Sets up HTTP routes with extension options
//
// If opts is nil, DefaultOptions() is used.
//
// # Outputs
//
//   - Service: Ready-to-run gateway service
//   - error: Non-nil if initialization fails
func New(cfg Config, opts *extensions.ServiceOptions) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	if opts != nil {
		s.opts = *opts
	} else {
		s.opts = extensions.DefaultOptions()
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	if s.config.EnableMetrics {
		observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics")
	}

	// Independent backends come up in parallel; any failure aborts startup.
	initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(initCtx)
	g.Go(func() error { return s.initLLMClient(gctx) })
	g.Go(func() error { return s.initVectorProvider(gctx) })
	g.Go(func() error { return s.initStore() })
	if err := g.Wait(); err != nil {
		s.cleanup()
		return nil, err
	}

	if err := s.initPipeline(); err != nil {
		s.cleanup()
		return nil, err
	}

	s.initRouter()
	s.logStartupSummary()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
// Cleanup is automatic on return.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting gateway server", "port", s.config.Port)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "ollama"
	}
	if cfg.VectorBackend == "" {
		cfg.VectorBackend = "weaviate"
	}
	if cfg.QdrantPort == 0 {
		cfg.QdrantPort = 6334
	}
	if cfg.SafetyMode == "" {
		cfg.SafetyMode = string(pipeline.SafetyModeStrict)
	}
	if cfg.ConfidenceThreshold == 0 {
		cfg.ConfidenceThreshold = pipeline.DefaultConfidenceThreshold
	}
	if cfg.RetrievalLimit == 0 {
		cfg.RetrievalLimit = 8
	}
	if cfg.RerankTopN == 0 {
		cfg.RerankTopN = 4
	}
	if cfg.SinkQueueSize == 0 {
		cfg.SinkQueueSize = 256
	}
	if cfg.SinkPolicy == "" {
		cfg.SinkPolicy = string(pipeline.SinkPolicyDropOldest)
	}
	if cfg.KeystorePath == "" {
		cfg.KeystorePath = "/data/keys"
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 10
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 20
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "aleutian-otel-collector:4317"
	}
	cfg.EnableMetrics = true

	return cfg
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// Uses an insecure gRPC connection, appropriate for internal networks.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("gateway-service")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initLLMClient creates the generation client and verifies it is usable.
//
// Verification is mandatory: a gateway that cannot generate answers should
// fail at startup, not on the first request.
func (s *service) initLLMClient(ctx context.Context) error {
	var err error

	switch s.config.LLMBackend {
	case "ollama":
		s.llmClient, err = llm.NewOllamaClient()
		slog.Info("Using Ollama LLM backend")
	case "openai":
		s.llmClient, err = llm.NewOpenAIClient()
		slog.Info("Using OpenAI LLM backend")
	default:
		return fmt.Errorf("unknown LLM backend: %q", s.config.LLMBackend)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	if err := s.llmClient.Verify(ctx); err != nil {
		return fmt.Errorf("LLM backend verification failed: %w", err)
	}
	return nil
}

// initVectorProvider creates the retrieval backend.
func (s *service) initVectorProvider(ctx context.Context) error {
	switch s.config.VectorBackend {
	case "weaviate":
		provider, err := vector.NewWeaviateProvider(ctx, s.config.WeaviateURL)
		if err != nil {
			return fmt.Errorf("failed to initialize Weaviate provider: %w", err)
		}
		s.provider = provider
		slog.Info("Using Weaviate vector backend", "url", s.config.WeaviateURL)
	case "qdrant":
		embedder, err := llm.NewOllamaEmbedder()
		if err != nil {
			return fmt.Errorf("failed to initialize embedder for Qdrant: %w", err)
		}
		provider, err := vector.NewQdrantProvider(s.config.QdrantHost, s.config.QdrantPort, embedder)
		if err != nil {
			return fmt.Errorf("failed to initialize Qdrant provider: %w", err)
		}
		s.provider = provider
		slog.Info("Using Qdrant vector backend",
			"host", s.config.QdrantHost, "port", s.config.QdrantPort)
	default:
		return fmt.Errorf("unknown vector backend: %q", s.config.VectorBackend)
	}
	return nil
}

// initStore opens the API key store.
func (s *service) initStore() error {
	store, err := credentials.NewStore(s.config.KeystorePath)
	if err != nil {
		return fmt.Errorf("failed to open key store: %w", err)
	}
	s.store = store
	return nil
}

// initPipeline assembles the stages into the request pipeline.
func (s *service) initPipeline() error {
	guardrail, err := pipeline.NewGuardrail(pipeline.GuardrailConfig{
		Mode:           pipeline.SafetyMode(s.config.SafetyMode),
		ServiceURL:     s.config.SafetyServiceURL,
		MaxRetries:     s.config.SafetyMaxRetries,
		RetryDelay:     s.config.SafetyRetryDelay,
		RequestTimeout: s.config.SafetyRequestTimeout,
		AllowOnTimeout: s.config.SafetyAllowOnTimeout,
	}, s.opts.AuditLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize guardrail: %w", err)
	}

	s.fallback, err = pipeline.NewFallbackMessage(s.config.NoResultsMessagePath)
	if err != nil {
		return fmt.Errorf("failed to load no-results message: %w", err)
	}

	gate := pipeline.NewRetrievalGate(s.provider, s.config.ConfidenceThreshold,
		s.config.RetrievalLimit)

	// A disabled reranker stays nil so the stage is never entered.
	var reranker pipeline.Reranker
	if s.config.RerankEnabled {
		reranker = pipeline.NewLLMReranker(s.llmClient, s.config.RerankTopN)
	}

	engine := pipeline.NewEngine(s.llmClient, s.fallback, pipeline.EngineConfig{
		FallbackParametric: s.config.FallbackParametric,
		VerboseTiming:      s.config.VerboseTiming,
	})

	var sink pipeline.ConversationSink = &pipeline.NopSink{}
	if wp, ok := s.provider.(*vector.WeaviateProvider); ok {
		sink = pipeline.NewWeaviateSink(wp.Client())
	} else {
		slog.Warn("Conversation logging disabled: no Weaviate client available",
			"vector_backend", s.config.VectorBackend)
	}
	s.dispatcher = pipeline.NewDispatcher(sink, s.config.SinkQueueSize,
		pipeline.SinkPolicy(s.config.SinkPolicy))

	s.pipeline = pipeline.NewPipeline(guardrail, gate, reranker, engine, s.dispatcher)
	return nil
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("gateway-service"))

	chat := handlers.NewChatHandler(s.pipeline)
	health := handlers.NewHealthHandler(s.llmClient, s.provider)
	keys := handlers.NewAPIKeyHandler(s.store, s.opts.AuditLogger)

	routes.SetupRoutes(s.router, chat, health, keys, routes.Options{
		Resolver:             s.store,
		Audit:                s.opts.AuditLogger,
		RateLimiter:          middleware.NewRateLimiter(s.config.RateLimitRPS, s.config.RateLimitBurst),
		AdminToken:           s.config.AdminToken,
		AuthProvider:         s.opts.AuthProvider,
		AuthRequireForHealth: s.config.AuthRequireForHealth,
	})
}

// logStartupSummary records the effective configuration, with loud warnings
// for settings that weaken the pipeline's guarantees.
func (s *service) logStartupSummary() {
	slog.Info("Gateway configuration",
		"port", s.config.Port,
		"llm_backend", s.llmClient.Name(),
		"vector_backend", s.config.VectorBackend,
		"safety_mode", s.config.SafetyMode,
		"confidence_threshold", s.config.ConfidenceThreshold,
		"retrieval_limit", s.config.RetrievalLimit,
		"rerank_enabled", s.config.RerankEnabled,
		"fallback_parametric", s.config.FallbackParametric,
		"sink_policy", s.config.SinkPolicy,
		"admin_api", s.config.AdminToken != "")

	if s.config.SafetyMode == string(pipeline.SafetyModeDisabled) {
		slog.Warn("Running with safety checks disabled")
	}
}

// cleanup releases all resources held by the service.
//
// Called when Run() exits or on initialization failure. Tolerates partially
// initialized state.
func (s *service) cleanup() {
	if s.dispatcher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.dispatcher.Close(ctx); err != nil {
			slog.Warn("Conversation sink close error", "error", err)
		}
		cancel()
	}

	if s.fallback != nil {
		if err := s.fallback.Close(); err != nil {
			slog.Warn("Fallback message watcher close error", "error", err)
		}
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Warn("Key store close error", "error", err)
		}
	}

	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
