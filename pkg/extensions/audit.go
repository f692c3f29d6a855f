// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent represents a security-relevant event for compliance logging.
//
// # Event Categories
//
// Events are categorized by type for filtering and alerting:
//   - Authentication: "auth.key_issued", "auth.key_deactivated", "auth.failed"
//   - Safety: "safety.blocked", "safety.transport_failure"
//   - System: "system.start", "system.stop"
//
// For regulatory compliance, always populate UserID and Timestamp.
type AuditEvent struct {
	// EventType categorizes the event for filtering and alerting.
	// Format: "category.action" (e.g., "auth.failed", "safety.blocked")
	EventType string

	// Timestamp is when the event occurred (always use UTC).
	// If zero, implementations should set it to time.Now().UTC().
	Timestamp time.Time

	// UserID identifies who performed the action.
	// Use "system" for automated actions, "anonymous" if unknown.
	UserID string

	// Action describes what operation was attempted.
	// Common values: "create", "read", "delete", "classify"
	Action string

	// ResourceType is the category of resource involved.
	// Examples: "message", "api_key", "tenant"
	ResourceType string

	// ResourceID is the specific resource instance (optional).
	ResourceID string

	// Outcome indicates the result of the action.
	// Values: "success", "failure", "blocked", "error"
	Outcome string

	// Metadata holds additional event-specific data, e.g. "error",
	// "ip_address", "attempts".
	Metadata map[string]any
}

// AuditLogger records security-relevant events for compliance and analysis.
//
// Implementations must be safe for concurrent use by multiple goroutines
// and should return quickly; the request path calls Log inline.
//
// The open source default is SlogAuditLogger, which writes events to the
// service's structured logs. Enterprise versions send events to SIEM
// systems (Splunk, Datadog, ELK) or compliance databases.
type AuditLogger interface {
	// Log records a security-relevant event.
	//
	// Implementations should set Timestamp if zero and persist or
	// transmit the event. A non-nil error means the event was lost.
	Log(ctx context.Context, event AuditEvent) error

	// Flush ensures all buffered events are persisted.
	//
	// Call this before shutdown to prevent event loss. Synchronous
	// implementations may treat this as a no-op.
	Flush(ctx context.Context) error
}

// SlogAuditLogger writes audit events to structured logs.
//
// This is the open source default: events are durable as long as log
// collection is, with no extra infrastructure.
//
// Thread-safe: slog handlers are safe for concurrent use.
type SlogAuditLogger struct{}

// Log writes the event as a structured log record. Never fails.
func (l *SlogAuditLogger) Log(_ context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	slog.Info("audit",
		"event_type", event.EventType,
		"timestamp", event.Timestamp,
		"user_id", event.UserID,
		"action", event.Action,
		"resource_type", event.ResourceType,
		"resource_id", event.ResourceID,
		"outcome", event.Outcome,
		"metadata", event.Metadata)
	return nil
}

// Flush is a no-op; slog writes synchronously.
func (l *SlogAuditLogger) Flush(_ context.Context) error {
	return nil
}

// NopAuditLogger discards all events. Useful in tests.
type NopAuditLogger struct{}

// Log discards the event without recording it.
func (l *NopAuditLogger) Log(_ context.Context, _ AuditEvent) error {
	return nil
}

// Flush is a no-op since nothing is buffered.
func (l *NopAuditLogger) Flush(_ context.Context) error {
	return nil
}

// Compile-time interface compliance checks.
var (
	_ AuditLogger = (*SlogAuditLogger)(nil)
	_ AuditLogger = (*NopAuditLogger)(nil)
)
