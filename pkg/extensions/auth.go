// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"errors"
)

// ErrUnauthorized is returned when authentication or authorization fails.
// Implementations should wrap this error with additional context:
//
//	return nil, fmt.Errorf("unknown API key: %w", extensions.ErrUnauthorized)
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo contains identity information returned after successful
// authentication.
type AuthInfo struct {
	// UserID is the unique identifier for the authenticated principal.
	// This is the only required field and must never be empty.
	UserID string

	// Email is the principal's email address. May be empty.
	Email string

	// Roles contains role memberships for authorization decisions.
	// Common roles: "admin", "analyst", "viewer"
	Roles []string
}

// HasRole checks if the principal has a specific role.
func (a *AuthInfo) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider validates authentication tokens and returns the caller's
// identity.
//
// Implementations must be safe for concurrent use by multiple goroutines.
// The gateway consults the provider for bearer tokens on the admin routes;
// enterprise versions validate tokens against identity providers like
// Okta, Auth0, or Azure AD. NopAuthProvider accepts everything and suits
// single-user local deployments only.
type AuthProvider interface {
	// Validate checks if the token is valid and returns the identity.
	//
	// The token format is implementation-specific (JWT, API key, session
	// ID). Returns ErrUnauthorized (or a wrap of it) when the token is
	// invalid; other errors indicate provider failure.
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider accepts every token.
//
// It always returns a valid local user with admin privileges. The token
// is ignored, including the empty string. Intended for single-user
// deployments without authentication infrastructure; never wire it into
// an internet-facing gateway.
type NopAuthProvider struct{}

// Validate always returns a valid local user with admin privileges.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{
		UserID: "local-user",
		Email:  "",
		Roles:  []string{"admin"},
	}, nil
}

// Compile-time interface compliance check.
var _ AuthProvider = (*NopAuthProvider)(nil)
