// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/parityqa/parity/services/orchestrator/datatypes"
)

// Breaker trip policy: five consecutive failures inside the rolling
// window open the circuit for the cool-off period, after which a single
// half-open probe decides between closing and re-opening.
const (
	breakerFailureThreshold = 5
	breakerWindow           = 60 * time.Second
	breakerCoolOff          = 30 * time.Second
)

// breakerProvider wraps a Provider with a sony/gobreaker circuit.
type breakerProvider struct {
	inner   Provider
	breaker *gobreaker.CircuitBreaker
}

// withBreaker wraps p. Context cancellation and deadline expiry do not
// count as provider failures.
func withBreaker(p Provider, logger *slog.Logger) *breakerProvider {
	settings := gobreaker.Settings{
		Name:        p.Name(),
		MaxRequests: 1, // one half-open probe
		Interval:    breakerWindow,
		Timeout:     breakerCoolOff,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// The caller running out of time says nothing about the
			// provider's health.
			return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("provider circuit state change",
				"provider", name, "from", from.String(), "to", to.String())
		},
	}
	return &breakerProvider{
		inner:   p,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (b *breakerProvider) Name() string     { return b.inner.Name() }
func (b *breakerProvider) Models() []string { return b.inner.Models() }

// Open reports whether the circuit currently refuses calls. The
// dispatcher skips open providers without consuming their rate budget.
func (b *breakerProvider) Open() bool {
	return b.breaker.State() == gobreaker.StateOpen
}

// Complete implements Provider, routing the call through the circuit.
func (b *breakerProvider) Complete(ctx context.Context, req datatypes.LLMRequest) (datatypes.LLMResponse, error) {
	result, err := b.breaker.Execute(func() (any, error) {
		return b.inner.Complete(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return datatypes.LLMResponse{}, MarkTransient(err)
		}
		return datatypes.LLMResponse{}, err
	}
	return result.(datatypes.LLMResponse), nil
}
