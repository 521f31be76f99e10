// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/parityqa/parity/services/orchestrator/datatypes"
)

// BudgetConfig caps what one validation session may spend on model
// calls. Zero values mean unlimited.
type BudgetConfig struct {
	MaxTokensPerSession int64
	MaxCostUSDPerSess   float64
}

// DefaultBudgetConfig allows a generous but bounded spend per run.
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		MaxTokensPerSession: 2_000_000,
		MaxCostUSDPerSess:   10.0,
	}
}

type sessionUsage struct {
	tokens atomic.Int64
	// costMicroUSD stores cost in millionths of a dollar so the hot
	// path stays integer-atomic.
	costMicroUSD atomic.Int64
}

// Budget tracks per-session token and cost consumption.
//
// # Thread Safety
//
// Safe for concurrent use; counters are atomic.
type Budget struct {
	cfg      BudgetConfig
	mu       sync.Mutex
	sessions map[string]*sessionUsage
}

// NewBudget creates an empty budget tracker.
func NewBudget(cfg BudgetConfig) *Budget {
	return &Budget{cfg: cfg, sessions: make(map[string]*sessionUsage)}
}

func (b *Budget) usage(sessionID string) *sessionUsage {
	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.sessions[sessionID]
	if !ok {
		u = &sessionUsage{}
		b.sessions[sessionID] = u
	}
	return u
}

// Check returns ErrBudgetExhausted when the session has no remaining
// allowance. Sessions with an empty ID are not budget-tracked.
func (b *Budget) Check(sessionID string) error {
	if sessionID == "" {
		return nil
	}
	u := b.usage(sessionID)
	if b.cfg.MaxTokensPerSession > 0 && u.tokens.Load() >= b.cfg.MaxTokensPerSession {
		return fmt.Errorf("%w: session %s spent %d tokens (cap %d)",
			datatypes.ErrBudgetExhausted, sessionID, u.tokens.Load(), b.cfg.MaxTokensPerSession)
	}
	if b.cfg.MaxCostUSDPerSess > 0 &&
		float64(u.costMicroUSD.Load())/1e6 >= b.cfg.MaxCostUSDPerSess {
		return fmt.Errorf("%w: session %s spent $%.4f (cap $%.2f)",
			datatypes.ErrBudgetExhausted, sessionID,
			float64(u.costMicroUSD.Load())/1e6, b.cfg.MaxCostUSDPerSess)
	}
	return nil
}

// Charge records consumption after a completed call. Cached responses
// are never charged.
func (b *Budget) Charge(sessionID string, resp datatypes.LLMResponse) {
	if sessionID == "" || resp.FromCache {
		return
	}
	u := b.usage(sessionID)
	u.tokens.Add(int64(resp.TotalTokens()))
	u.costMicroUSD.Add(int64(resp.CostUSD * 1e6))
}

// Spent reports the session's consumption so far.
func (b *Budget) Spent(sessionID string) (tokens int64, costUSD float64) {
	u := b.usage(sessionID)
	return u.tokens.Load(), float64(u.costMicroUSD.Load()) / 1e6
}

// Release drops the session's counters once its run is finished.
func (b *Budget) Release(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, sessionID)
}
