// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/parityqa/parity/services/fingerprint"
	"github.com/parityqa/parity/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("parity.llm")

// =============================================================================
// Configuration
// =============================================================================

// Config tunes the dispatcher's retry, rate-limit, and reformat policy.
type Config struct {
	// MaxAttempts is per provider, including the first try.
	MaxAttempts int

	// BackoffBase and BackoffCap bound the exponential backoff. Each
	// sleep is a full-jitter draw from [0, min(cap, base*2^attempt)].
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// RatePerSecond and Burst shape each provider's token bucket.
	RatePerSecond float64
	Burst         int

	// ReformatAttempts is how many times a non-JSON answer is sent back
	// with a reformat instruction before giving up.
	ReformatAttempts int
}

// DefaultConfig returns the production dispatch policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:      3,
		BackoffBase:      250 * time.Millisecond,
		BackoffCap:       4 * time.Second,
		RatePerSecond:    2,
		Burst:            4,
		ReformatAttempts: 2,
	}
}

// =============================================================================
// Dispatcher
// =============================================================================

// Dispatcher fronts an ordered provider chain with failover, per-provider
// rate limiting and circuit breaking, bounded retries, response caching
// for the low temperature band, and per-session budget accounting.
//
// # Thread Safety
//
// Safe for concurrent use.
type Dispatcher struct {
	cfg      Config
	chain    []*breakerProvider
	limiters map[string]*rate.Limiter
	cache    *fingerprint.Cache
	budget   *Budget
	group    singleflight.Group
	logger   *slog.Logger
}

// NewDispatcher builds a dispatcher over providers in failover order.
// cache may be nil (caching disabled); budget may be nil (unlimited).
func NewDispatcher(cfg Config, providers []Provider, cache *fingerprint.Cache, budget *Budget, logger *slog.Logger) (*Dispatcher, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if budget == nil {
		budget = NewBudget(BudgetConfig{})
	}

	d := &Dispatcher{
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter, len(providers)),
		cache:    cache,
		budget:   budget,
		logger:   logger,
	}
	for _, p := range providers {
		d.chain = append(d.chain, withBreaker(p, logger))
		d.limiters[p.Name()] = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst)
	}
	return d, nil
}

// Providers lists the chain's provider names in failover order.
func (d *Dispatcher) Providers() []string {
	names := make([]string, 0, len(d.chain))
	for _, p := range d.chain {
		names = append(names, p.Name())
	}
	return names
}

// Budget exposes the dispatcher's budget tracker.
func (d *Dispatcher) Budget() *Budget { return d.budget }

// Ask executes one completion with the full dispatch policy. Identical
// concurrent cacheable requests are coalesced into a single upstream
// call.
func (d *Dispatcher) Ask(ctx context.Context, req datatypes.LLMRequest) (datatypes.LLMResponse, error) {
	ctx, span := tracer.Start(ctx, "Dispatcher.Ask")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.band", string(req.Band())),
		attribute.Bool("llm.want_json", req.WantJSON),
	)

	if err := d.budget.Check(req.SessionID); err != nil {
		return datatypes.LLMResponse{}, err
	}

	if d.cache == nil || !req.Band().Cacheable() {
		return d.dispatch(ctx, req)
	}

	key := fingerprint.LLM(req)
	if raw, found := d.cache.Get(ctx, key); found {
		var resp datatypes.LLMResponse
		if err := json.Unmarshal(raw, &resp); err == nil {
			resp.FromCache = true
			span.SetAttributes(attribute.Bool("llm.cache_hit", true))
			return resp, nil
		}
		d.logger.Warn("discarding undecodable cache entry", "key", key)
	}

	v, err, _ := d.group.Do(key, func() (any, error) {
		resp, err := d.dispatch(ctx, req)
		if err != nil {
			return nil, err
		}
		if raw, merr := json.Marshal(resp); merr == nil {
			d.cache.Put(ctx, key, raw)
		}
		return resp, nil
	})
	if err != nil {
		return datatypes.LLMResponse{}, err
	}
	return v.(datatypes.LLMResponse), nil
}

// dispatch walks the provider chain.
func (d *Dispatcher) dispatch(ctx context.Context, req datatypes.LLMRequest) (datatypes.LLMResponse, error) {
	var lastErr error

	for _, p := range d.chain {
		if !Serves(p, req.Model) {
			continue
		}
		if p.Open() {
			d.logger.Debug("skipping provider with open circuit", "provider", p.Name())
			continue
		}

		if err := d.limiters[p.Name()].Wait(ctx); err != nil {
			// Wait fails when the reservation cannot complete before the
			// deadline; the whole dispatch is out of time.
			return datatypes.LLMResponse{}, fmt.Errorf("%w: rate limit wait: %v",
				datatypes.ErrDeadlineExceeded, err)
		}

		resp, err := d.tryProvider(ctx, p, req)
		if err == nil {
			d.budget.Charge(req.SessionID, resp)
			return resp, nil
		}
		if ctx.Err() != nil {
			return datatypes.LLMResponse{}, fmt.Errorf("%w: %v",
				datatypes.ErrDeadlineExceeded, ctx.Err())
		}
		if isUnparseable(err) {
			// The provider answered; its answer just is not JSON. Moving
			// to another provider would spend budget on the same prompt.
			return datatypes.LLMResponse{}, err
		}
		lastErr = err
		d.logger.Warn("provider failed, trying next",
			"provider", p.Name(), "error", err)
	}

	if lastErr != nil {
		return datatypes.LLMResponse{}, fmt.Errorf("%w: %v",
			datatypes.ErrProviderUnavailable, lastErr)
	}
	return datatypes.LLMResponse{}, datatypes.ErrProviderUnavailable
}

// tryProvider runs the bounded retry loop against one provider.
func (d *Dispatcher) tryProvider(ctx context.Context, p Provider, req datatypes.LLMRequest) (datatypes.LLMResponse, error) {
	var lastErr error
	for attempt := 0; attempt < d.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := d.backoff(ctx, attempt); err != nil {
				return datatypes.LLMResponse{}, err
			}
		}

		start := time.Now()
		resp, err := p.Complete(ctx, req)
		if err != nil {
			lastErr = err
			if !IsTransient(err) {
				return datatypes.LLMResponse{}, err
			}
			continue
		}

		if req.WantJSON {
			resp, err = d.assertJSON(ctx, p, req, resp)
			if err != nil {
				return datatypes.LLMResponse{}, err
			}
		}
		resp.LatencyMS = time.Since(start).Milliseconds()
		return resp, nil
	}
	return datatypes.LLMResponse{}, lastErr
}

// assertJSON verifies the response parses as JSON, sending reformat
// requests when it does not.
func (d *Dispatcher) assertJSON(ctx context.Context, p Provider, req datatypes.LLMRequest, resp datatypes.LLMResponse) (datatypes.LLMResponse, error) {
	for reformat := 0; ; reformat++ {
		if cleaned, ok := ExtractJSON(resp.Text); ok {
			resp.Text = cleaned
			return resp, nil
		}
		if reformat >= d.cfg.ReformatAttempts {
			return datatypes.LLMResponse{}, fmt.Errorf(
				"%w: provider %s after %d reformat attempts",
				datatypes.ErrResponseUnparseable, p.Name(), reformat)
		}

		d.logger.Debug("response not valid JSON, requesting reformat",
			"provider", p.Name(), "attempt", reformat+1)
		retry := req
		retry.History = append(append([]datatypes.Message{}, req.History...),
			datatypes.Message{Role: "assistant", Content: resp.Text},
			datatypes.Message{Role: "user", Content: "Your previous answer was not valid JSON. Respond again with only the JSON document, no prose and no code fences."},
		)
		var err error
		resp, err = p.Complete(ctx, retry)
		if err != nil {
			return datatypes.LLMResponse{}, err
		}
	}
}

// backoff sleeps a full-jitter exponential interval or returns when the
// context expires first.
func (d *Dispatcher) backoff(ctx context.Context, attempt int) error {
	ceiling := d.cfg.BackoffBase << (attempt - 1)
	if ceiling > d.cfg.BackoffCap {
		ceiling = d.cfg.BackoffCap
	}
	delay := time.Duration(rand.Int63n(int64(ceiling) + 1))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", datatypes.ErrDeadlineExceeded, ctx.Err())
	}
}

func isUnparseable(err error) bool {
	return err != nil && datatypes.CodeOf(err) == datatypes.CodeResponseUnparseable
}

// ExtractJSON locates the JSON document inside a model answer, tolerating
// surrounding prose and markdown code fences. The second return is false
// when no valid document is present.
func ExtractJSON(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)

	// Strip a ```json ... ``` fence if present.
	if strings.HasPrefix(trimmed, "```") {
		if idx := strings.Index(trimmed, "\n"); idx >= 0 {
			trimmed = trimmed[idx+1:]
		}
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}

	if json.Valid([]byte(trimmed)) {
		return trimmed, true
	}

	// Fall back to the outermost brace or bracket span.
	for _, pair := range [][2]byte{{'{', '}'}, {'[', ']'}} {
		start := strings.IndexByte(trimmed, pair[0])
		end := strings.LastIndexByte(trimmed, pair[1])
		if start >= 0 && end > start {
			candidate := trimmed[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, true
			}
		}
	}
	return "", false
}
