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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianGateway/pkg/extensions"
	"github.com/AleutianAI/AleutianGateway/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianGateway/services/gateway/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var guardrailTracer = otel.Tracer("aleutian.gateway.pipeline.guardrail")

// =============================================================================
// Safety Modes
// =============================================================================

// SafetyMode selects the guardrail backend.
type SafetyMode string

const (
	// SafetyModeStrict checks messages against local embedded patterns.
	SafetyModeStrict SafetyMode = "strict"

	// SafetyModeFuzzy calls a remote classifier service over HTTP.
	SafetyModeFuzzy SafetyMode = "fuzzy"

	// SafetyModeDisabled allows everything. Startup logs this loudly.
	SafetyModeDisabled SafetyMode = "disabled"
)

// =============================================================================
// Configuration
// =============================================================================

// GuardrailConfig holds the safety check configuration.
//
// # Fields
//
//   - Mode: strict, fuzzy, or disabled. Default: strict.
//   - ServiceURL: Remote classifier base URL. Required for fuzzy mode.
//   - MaxRetries: Attempts against the remote classifier. Default: 3.
//   - RetryDelay: FIXED delay between attempts. Not a backoff base; every
//     gap between attempts is exactly this long. Default: 1s.
//   - RequestTimeout: Per-attempt timeout. Default: 15s.
//   - AllowOnTimeout: Outcome when all attempts fail. false = fail closed.
type GuardrailConfig struct {
	Mode           SafetyMode
	ServiceURL     string
	MaxRetries     int
	RetryDelay     time.Duration
	RequestTimeout time.Duration
	AllowOnTimeout bool
}

// ApplyDefaults fills in zero-valued fields.
func (c GuardrailConfig) ApplyDefaults() GuardrailConfig {
	if c.Mode == "" {
		c.Mode = SafetyModeStrict
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 15 * time.Second
	}
	return c
}

// =============================================================================
// Guardrail
// =============================================================================

// Guardrail produces a SafetyVerdict for each incoming message before it can
// reach retrieval or generation.
//
// # Thread Safety
//
// Safe for concurrent use. The strict checker and HTTP client are read-only
// after construction.
type Guardrail struct {
	cfg        GuardrailConfig
	strict     *StrictChecker
	httpClient *http.Client
	audit      extensions.AuditLogger
}

// NewGuardrail constructs a guardrail for the configured mode.
//
// Strict mode compiles the embedded patterns at construction so a malformed
// pattern file fails startup, not the first request. Disabled mode logs a
// prominent warning.
func NewGuardrail(cfg GuardrailConfig, audit extensions.AuditLogger) (*Guardrail, error) {
	cfg = cfg.ApplyDefaults()
	if audit == nil {
		audit = &extensions.NopAuditLogger{}
	}

	g := &Guardrail{
		cfg:   cfg,
		audit: audit,
	}

	switch cfg.Mode {
	case SafetyModeStrict:
		strict, err := NewStrictChecker()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize strict safety checker: %w", err)
		}
		g.strict = strict
	case SafetyModeFuzzy:
		if cfg.ServiceURL == "" {
			return nil, fmt.Errorf("fuzzy safety mode requires a classifier service URL")
		}
		g.httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	case SafetyModeDisabled:
		slog.Warn("SAFETY CHECKS ARE DISABLED - every message will be allowed",
			"mode", string(cfg.Mode))
	default:
		return nil, fmt.Errorf("unknown safety mode: %q", cfg.Mode)
	}

	if cfg.AllowOnTimeout {
		slog.Warn("Safety allow_on_timeout is enabled - unreachable classifier fails open")
	}

	return g, nil
}

// Check evaluates a message and returns the verdict.
//
// # Description
//
// Disabled mode always allows. Strict mode is a local pattern scan and
// cannot fail. Fuzzy mode calls the remote classifier with the configured
// retry policy; if every attempt fails, the verdict is resolved by
// AllowOnTimeout and the resolution is audit-logged with its reason.
func (g *Guardrail) Check(ctx context.Context, message string) (*datatypes.SafetyVerdict, error) {
	ctx, span := guardrailTracer.Start(ctx, "Guardrail.Check")
	defer span.End()
	span.SetAttributes(attribute.String("safety.mode", string(g.cfg.Mode)))

	switch g.cfg.Mode {
	case SafetyModeDisabled:
		return &datatypes.SafetyVerdict{Allowed: true, Source: "disabled"}, nil

	case SafetyModeStrict:
		if name := g.strict.Classify(message); name != "" {
			slog.Info("Message blocked by strict safety check", "classification", name)
			span.SetAttributes(attribute.String("safety.classification", name))
			return &datatypes.SafetyVerdict{
				Allowed: false,
				Reason:  name,
				Source:  "strict",
			}, nil
		}
		return &datatypes.SafetyVerdict{Allowed: true, Source: "strict"}, nil

	case SafetyModeFuzzy:
		return g.checkFuzzy(ctx, message)
	}

	return nil, fmt.Errorf("unknown safety mode: %q", g.cfg.Mode)
}

// fuzzyRequest is the payload sent to the remote classifier.
type fuzzyRequest struct {
	Message string `json:"message"`
}

// fuzzyResponse is the remote classifier's reply.
type fuzzyResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// checkFuzzy calls the remote classifier with fixed-delay retries.
func (g *Guardrail) checkFuzzy(ctx context.Context, message string) (*datatypes.SafetyVerdict, error) {
	var lastErr error

	for attempt := 1; attempt <= g.cfg.MaxRetries; attempt++ {
		verdict, err := g.classifyOnce(ctx, message)
		if err == nil {
			return verdict, nil
		}
		lastErr = err
		slog.Warn("Safety classifier attempt failed",
			"attempt", attempt,
			"max_retries", g.cfg.MaxRetries,
			"error", err)
		if observability.DefaultMetrics != nil {
			observability.DefaultMetrics.SafetyRetriesTotal.Inc()
		}

		if attempt < g.cfg.MaxRetries {
			// Fixed delay between attempts, interruptible by the request context.
			select {
			case <-time.After(g.cfg.RetryDelay):
			case <-ctx.Done():
				return g.resolveTransportFailure(ctx, &SafetyTransportError{
					Attempts: attempt,
					Err:      ctx.Err(),
				})
			}
		}
	}

	return g.resolveTransportFailure(ctx, &SafetyTransportError{
		Attempts: g.cfg.MaxRetries,
		Err:      lastErr,
	})
}

// classifyOnce makes one classifier call bounded by the per-attempt timeout.
func (g *Guardrail) classifyOnce(ctx context.Context, message string) (*datatypes.SafetyVerdict, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	defer cancel()

	reqBodyBytes, err := json.Marshal(fuzzyRequest{Message: message})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal classifier request: %w", err)
	}

	req, err := http.NewRequestWithContext(attemptCtx, "POST",
		g.cfg.ServiceURL+"/classify", bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classifier call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("classifier returned status %d: %s", resp.StatusCode, string(body))
	}

	var fuzzyResp fuzzyResponse
	if err := json.NewDecoder(resp.Body).Decode(&fuzzyResp); err != nil {
		return nil, fmt.Errorf("failed to parse classifier response: %w", err)
	}

	return &datatypes.SafetyVerdict{
		Allowed: fuzzyResp.Allowed,
		Reason:  fuzzyResp.Reason,
		Source:  "fuzzy",
	}, nil
}

// resolveTransportFailure applies the allow-on-timeout policy to an
// exhausted retry loop and records the resolution for audit.
func (g *Guardrail) resolveTransportFailure(ctx context.Context,
	transportErr *SafetyTransportError) (*datatypes.SafetyVerdict, error) {

	outcome := "blocked"
	reason := fmt.Sprintf("safety classifier unreachable after %d attempts, failing closed",
		transportErr.Attempts)
	if g.cfg.AllowOnTimeout {
		outcome = "success"
		reason = fmt.Sprintf("safety classifier unreachable after %d attempts, failing open per allow_on_timeout",
			transportErr.Attempts)
	}

	slog.Error("Safety check transport failure",
		"attempts", transportErr.Attempts,
		"allow_on_timeout", g.cfg.AllowOnTimeout,
		"error", transportErr.Err)

	if err := g.audit.Log(ctx, extensions.AuditEvent{
		EventType:    "safety.transport_failure",
		Timestamp:    time.Now().UTC(),
		UserID:       "system",
		Action:       "classify",
		ResourceType: "message",
		Outcome:      outcome,
		Metadata: map[string]any{
			"reason":   reason,
			"error":    transportErr.Err.Error(),
			"attempts": transportErr.Attempts,
		},
	}); err != nil {
		slog.Warn("Failed to write safety audit event", "error", err)
	}

	return &datatypes.SafetyVerdict{
		Allowed: g.cfg.AllowOnTimeout,
		Reason:  reason,
		Source:  "timeout_policy",
	}, nil
}
