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
	"errors"
	"fmt"
)

// =============================================================================
// Error Taxonomy
// =============================================================================

// SafetyTransportError indicates the fuzzy guardrail backend could not be
// reached after the configured retries. It does not by itself decide the
// request outcome; the guardrail resolves it via the allow-on-timeout policy
// and records the resolution.
type SafetyTransportError struct {
	Attempts int
	Err      error
}

func (e *SafetyTransportError) Error() string {
	return fmt.Sprintf("safety check failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *SafetyTransportError) Unwrap() error {
	return e.Err
}

// RetrievalTransportError indicates the vector backend call itself failed.
// It is deliberately distinct from an empty context bundle, which is a valid
// retrieval outcome and carries no error.
type RetrievalTransportError struct {
	Backend string
	Err     error
}

func (e *RetrievalTransportError) Error() string {
	return fmt.Sprintf("retrieval via %s failed: %v", e.Backend, e.Err)
}

func (e *RetrievalTransportError) Unwrap() error {
	return e.Err
}

// GenerationError indicates the LLM call or stream failed after the request
// had already passed safety and retrieval.
type GenerationError struct {
	Backend string
	Err     error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation via %s failed: %v", e.Backend, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// IsRetrievalTransportError reports whether err is (or wraps) a
// *RetrievalTransportError.
func IsRetrievalTransportError(err error) bool {
	var target *RetrievalTransportError
	return errors.As(err, &target)
}

// IsGenerationError reports whether err is (or wraps) a *GenerationError.
func IsGenerationError(err error) bool {
	var target *GenerationError
	return errors.As(err, &target)
}
