// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm provides the model provider adapters and the dispatcher
// that fronts them with failover, rate limiting, retries, circuit
// breaking, caching, and per-session budget accounting.
//
// # Architecture
//
//	caller ──► Dispatcher.Ask
//	              │  cache (low temperature band only)
//	              │  singleflight
//	              ▼
//	        provider chain ──► [breaker] ──► [limiter] ──► adapter
//
// Providers are tried in configured order. A provider whose circuit
// breaker is open is skipped without consuming its rate budget.
package llm

import (
	"context"
	"errors"

	"github.com/parityqa/parity/services/orchestrator/datatypes"
)

// Provider is one model backend adapter. Implementations must be safe
// for concurrent use.
type Provider interface {
	// Name identifies the provider for logging, metrics, and breakers.
	Name() string

	// Models lists the model identifiers this provider can serve. Used
	// for model pinning; an empty list means the provider accepts any
	// model name.
	Models() []string

	// Complete executes one completion. Transient failures (rate limits,
	// 5xx, network) must be wrapped with MarkTransient so the dispatcher
	// knows they are retryable.
	Complete(ctx context.Context, req datatypes.LLMRequest) (datatypes.LLMResponse, error)
}

// Serves reports whether provider p can serve the pinned model. An empty
// pin matches every provider.
func Serves(p Provider, model string) bool {
	if model == "" {
		return true
	}
	models := p.Models()
	if len(models) == 0 {
		return true
	}
	for _, m := range models {
		if m == model {
			return true
		}
	}
	return false
}

// =============================================================================
// Transient error marking
// =============================================================================

// transientError marks an error as retryable.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// MarkTransient wraps err so IsTransient reports true. Adapters use it
// for rate-limit responses, 5xx statuses, and network failures.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err is worth retrying against the same
// provider. Context cancellation and deadline expiry are never transient.
func IsTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var te *transientError
	return errors.As(err, &te)
}

// =============================================================================
// Price table
// =============================================================================

// ModelPrice is USD per 1K tokens for one model.
type ModelPrice struct {
	InputPer1K  float64
	OutputPer1K float64
}

// PriceTable estimates call cost for budget accounting. Unknown models
// use the Default entry.
type PriceTable struct {
	Models  map[string]ModelPrice
	Default ModelPrice
}

// DefaultPriceTable covers the models the engine commonly dispatches to.
// Local models cost nothing.
func DefaultPriceTable() PriceTable {
	return PriceTable{
		Models: map[string]ModelPrice{
			"gpt-4o":                     {InputPer1K: 0.0025, OutputPer1K: 0.01},
			"gpt-4o-mini":                {InputPer1K: 0.00015, OutputPer1K: 0.0006},
			"claude-3-5-sonnet-20240620": {InputPer1K: 0.003, OutputPer1K: 0.015},
			"claude-3-5-haiku-20241022":  {InputPer1K: 0.0008, OutputPer1K: 0.004},
		},
		Default: ModelPrice{InputPer1K: 0.001, OutputPer1K: 0.002},
	}
}

// Cost computes the estimated USD cost of one call.
func (t PriceTable) Cost(model string, promptTokens, completionTokens int) float64 {
	price, ok := t.Models[model]
	if !ok {
		price = t.Default
	}
	return float64(promptTokens)/1000*price.InputPer1K +
		float64(completionTokens)/1000*price.OutputPer1K
}
