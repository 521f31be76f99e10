// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"errors"
	"time"
)

// =============================================================================
// Error Taxonomy
// =============================================================================

// ErrorCode is a stable, machine-readable error category. Codes are part
// of the API contract and never change meaning across releases.
type ErrorCode string

const (
	CodeValidationInput     ErrorCode = "validation-input"
	CodeAuth                ErrorCode = "auth"
	CodeNotFound            ErrorCode = "not-found"
	CodeConflict            ErrorCode = "conflict"
	CodeOverloaded          ErrorCode = "overloaded"
	CodeProviderUnavailable ErrorCode = "provider-unavailable"
	CodeBudgetExhausted     ErrorCode = "budget-exhausted"
	CodeDeadlineExceeded    ErrorCode = "deadline-exceeded"
	CodeResponseUnparseable ErrorCode = "response-unparseable"
	CodeProberFailure       ErrorCode = "prober-failure"
	CodeInternal            ErrorCode = "internal"
)

// Sentinel errors for the taxonomy. Services wrap these with
// fmt.Errorf("...: %w", ...) so callers can classify with errors.Is.
var (
	ErrValidationInput     = errors.New("invalid validation input")
	ErrAuth                = errors.New("authentication failed")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrOverloaded          = errors.New("system overloaded")
	ErrProviderUnavailable = errors.New("no language model provider available")
	ErrBudgetExhausted     = errors.New("session budget exhausted")
	ErrDeadlineExceeded    = errors.New("deadline exceeded")
	ErrResponseUnparseable = errors.New("model response unparseable")
	ErrProberFailure       = errors.New("behavioral prober failure")
)

// CodeOf maps an error chain to its taxonomy code. Unrecognized errors
// classify as internal.
func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidationInput):
		return CodeValidationInput
	case errors.Is(err, ErrAuth):
		return CodeAuth
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrOverloaded):
		return CodeOverloaded
	case errors.Is(err, ErrProviderUnavailable):
		return CodeProviderUnavailable
	case errors.Is(err, ErrBudgetExhausted):
		return CodeBudgetExhausted
	case errors.Is(err, ErrDeadlineExceeded):
		return CodeDeadlineExceeded
	case errors.Is(err, ErrResponseUnparseable):
		return CodeResponseUnparseable
	case errors.Is(err, ErrProberFailure):
		return CodeProberFailure
	default:
		return CodeInternal
	}
}

// =============================================================================
// API Error Envelope
// =============================================================================

// APIError is the wire form of an error, rendered by the HTTP layer as
// {"error": {...}}.
type APIError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Details   any       `json:"details,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewAPIError builds the envelope for an error chain. Internal errors get
// a generic message so implementation details never leak to clients.
func NewAPIError(err error, requestID string) APIError {
	code := CodeOf(err)
	msg := "internal error"
	if code != CodeInternal && err != nil {
		msg = err.Error()
	}
	return APIError{
		Code:      code,
		Message:   msg,
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
	}
}
