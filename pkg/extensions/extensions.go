// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines injection points for enterprise functionality.
//
// The open source gateway ships with working defaults for every extension
// point: API keys are resolved by the embedded credential store, and audit
// events go to structured logs. Enterprise deployments replace these with
// their own identity providers and SIEM sinks by injecting implementations
// via ServiceOptions.
//
// # Extension Categories
//
//   - auth.go: Authentication (AuthProvider)
//   - audit.go: Compliance audit logging (AuditLogger)
//
// # Thread Safety
//
// All interface implementations must be safe for concurrent use.
// Multiple goroutines may call methods simultaneously.
package extensions

// ServiceOptions groups all extension points for service configuration.
//
// Pass this to service constructors to enable enterprise features.
// All fields are optional; nil values are replaced with defaults when
// DefaultOptions() is called or when services check for nil.
type ServiceOptions struct {
	// AuthProvider validates bearer tokens on the admin routes, in addition
	// to the static admin token.
	// Default: nil (only the static admin token is accepted)
	AuthProvider AuthProvider

	// AuditLogger records security-relevant events.
	// Default: SlogAuditLogger (writes events to structured logs)
	AuditLogger AuditLogger
}

// DefaultOptions returns ServiceOptions with open-source defaults.
//
// No token provider is configured, so admin access is governed solely by
// the static admin token; audit events land in the service's structured
// logs rather than an external system.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthProvider: nil,
		AuditLogger:  &SlogAuditLogger{},
	}
}

// WithAuth returns a copy of opts with the given AuthProvider.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}

// WithAudit returns a copy of opts with the given AuditLogger.
func (opts ServiceOptions) WithAudit(logger AuditLogger) ServiceOptions {
	opts.AuditLogger = logger
	return opts
}
