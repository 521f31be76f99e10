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
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parityqa/parity/services/fingerprint"
	"github.com/parityqa/parity/services/orchestrator/datatypes"
)

// fakeProvider scripts responses for dispatcher tests.
type fakeProvider struct {
	name    string
	models  []string
	calls   atomic.Int32
	respond func(call int, req datatypes.LLMRequest) (datatypes.LLMResponse, error)
}

func (f *fakeProvider) Name() string     { return f.name }
func (f *fakeProvider) Models() []string { return f.models }

func (f *fakeProvider) Complete(_ context.Context, req datatypes.LLMRequest) (datatypes.LLMResponse, error) {
	call := int(f.calls.Add(1))
	return f.respond(call, req)
}

func okProvider(name, text string) *fakeProvider {
	return &fakeProvider{
		name: name,
		respond: func(_ int, _ datatypes.LLMRequest) (datatypes.LLMResponse, error) {
			return datatypes.LLMResponse{
				Text: text, Provider: name, Model: "m",
				PromptTokens: 10, CompletionTokens: 5, CostUSD: 0.001,
			}, nil
		},
	}
}

func failingProvider(name string, err error) *fakeProvider {
	return &fakeProvider{
		name: name,
		respond: func(_ int, _ datatypes.LLMRequest) (datatypes.LLMResponse, error) {
			return datatypes.LLMResponse{}, err
		},
	}
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffCap = 2 * time.Millisecond
	cfg.RatePerSecond = 10_000
	cfg.Burst = 10_000
	return cfg
}

func newTestDispatcher(t *testing.T, providers ...Provider) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(fastConfig(), providers, nil, nil, slog.Default())
	require.NoError(t, err)
	return d
}

func TestDispatcherFailover(t *testing.T) {
	t.Run("first healthy provider serves", func(t *testing.T) {
		d := newTestDispatcher(t, okProvider("a", "from-a"), okProvider("b", "from-b"))
		resp, err := d.Ask(context.Background(), datatypes.LLMRequest{User: "hi", Temperature: 0.5})
		require.NoError(t, err)
		assert.Equal(t, "from-a", resp.Text)
	})

	t.Run("permanent failure falls through to next provider", func(t *testing.T) {
		d := newTestDispatcher(t,
			failingProvider("a", errors.New("invalid api key")),
			okProvider("b", "from-b"))
		resp, err := d.Ask(context.Background(), datatypes.LLMRequest{User: "hi", Temperature: 0.5})
		require.NoError(t, err)
		assert.Equal(t, "from-b", resp.Text)
	})

	t.Run("all providers failing yields provider-unavailable", func(t *testing.T) {
		d := newTestDispatcher(t,
			failingProvider("a", errors.New("down")),
			failingProvider("b", errors.New("also down")))
		_, err := d.Ask(context.Background(), datatypes.LLMRequest{User: "hi", Temperature: 0.5})
		require.Error(t, err)
		assert.ErrorIs(t, err, datatypes.ErrProviderUnavailable)
	})

	t.Run("model pinning skips providers that cannot serve", func(t *testing.T) {
		a := okProvider("a", "from-a")
		a.models = []string{"model-a"}
		b := okProvider("b", "from-b")
		b.models = []string{"model-b"}
		d := newTestDispatcher(t, a, b)

		resp, err := d.Ask(context.Background(),
			datatypes.LLMRequest{User: "hi", Model: "model-b", Temperature: 0.5})
		require.NoError(t, err)
		assert.Equal(t, "from-b", resp.Text)
		assert.Equal(t, int32(0), a.calls.Load())
	})
}

func TestDispatcherRetries(t *testing.T) {
	t.Run("transient errors retry up to the attempt cap", func(t *testing.T) {
		p := &fakeProvider{
			name: "flaky",
			respond: func(call int, _ datatypes.LLMRequest) (datatypes.LLMResponse, error) {
				if call < 3 {
					return datatypes.LLMResponse{}, MarkTransient(errors.New("429"))
				}
				return datatypes.LLMResponse{Text: "recovered"}, nil
			},
		}
		d := newTestDispatcher(t, p)
		resp, err := d.Ask(context.Background(), datatypes.LLMRequest{User: "hi", Temperature: 0.5})
		require.NoError(t, err)
		assert.Equal(t, "recovered", resp.Text)
		assert.Equal(t, int32(3), p.calls.Load())
	})

	t.Run("permanent error does not retry same provider", func(t *testing.T) {
		p := failingProvider("p", errors.New("bad request"))
		d := newTestDispatcher(t, p)
		_, err := d.Ask(context.Background(), datatypes.LLMRequest{User: "hi", Temperature: 0.5})
		require.Error(t, err)
		assert.Equal(t, int32(1), p.calls.Load())
	})
}

func TestDispatcherJSONAssertion(t *testing.T) {
	t.Run("reformat retry recovers valid JSON", func(t *testing.T) {
		p := &fakeProvider{
			name: "p",
			respond: func(call int, _ datatypes.LLMRequest) (datatypes.LLMResponse, error) {
				if call == 1 {
					return datatypes.LLMResponse{Text: "Sure! Here is prose."}, nil
				}
				return datatypes.LLMResponse{Text: `{"ok": true}`}, nil
			},
		}
		d := newTestDispatcher(t, p)
		resp, err := d.Ask(context.Background(),
			datatypes.LLMRequest{User: "hi", WantJSON: true, Temperature: 0.5})
		require.NoError(t, err)
		assert.JSONEq(t, `{"ok": true}`, resp.Text)
	})

	t.Run("persistent prose is response-unparseable", func(t *testing.T) {
		p := okProvider("p", "never json")
		d := newTestDispatcher(t, p, okProvider("backup", `{"x":1}`))
		_, err := d.Ask(context.Background(),
			datatypes.LLMRequest{User: "hi", WantJSON: true, Temperature: 0.5})
		require.Error(t, err)
		assert.ErrorIs(t, err, datatypes.ErrResponseUnparseable)
	})
}

func TestDispatcherCaching(t *testing.T) {
	t.Run("low band caches, second ask is served from cache", func(t *testing.T) {
		p := okProvider("p", `{"a":1}`)
		cache := fingerprint.NewCache(fingerprint.NewMemoryStore(), slog.Default())
		d, err := NewDispatcher(fastConfig(), []Provider{p}, cache, nil, slog.Default())
		require.NoError(t, err)

		req := datatypes.LLMRequest{User: "compare", Temperature: 0.1}
		first, err := d.Ask(context.Background(), req)
		require.NoError(t, err)
		assert.False(t, first.FromCache)

		second, err := d.Ask(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, second.FromCache)
		assert.Equal(t, int32(1), p.calls.Load())
	})

	t.Run("high band never caches", func(t *testing.T) {
		p := okProvider("p", "creative")
		cache := fingerprint.NewCache(fingerprint.NewMemoryStore(), slog.Default())
		d, err := NewDispatcher(fastConfig(), []Provider{p}, cache, nil, slog.Default())
		require.NoError(t, err)

		req := datatypes.LLMRequest{User: "write", Temperature: 0.9}
		_, err = d.Ask(context.Background(), req)
		require.NoError(t, err)
		_, err = d.Ask(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, int32(2), p.calls.Load())
	})
}

func TestDispatcherBudget(t *testing.T) {
	budget := NewBudget(BudgetConfig{MaxTokensPerSession: 20})
	p := okProvider("p", "text") // 15 tokens per call
	d, err := NewDispatcher(fastConfig(), []Provider{p}, nil, budget, slog.Default())
	require.NoError(t, err)

	req := datatypes.LLMRequest{User: "hi", SessionID: "s1", Temperature: 0.5}

	_, err = d.Ask(context.Background(), req)
	require.NoError(t, err)
	_, err = d.Ask(context.Background(), req) // 15 < 20, still admitted
	require.NoError(t, err)

	_, err = d.Ask(context.Background(), req) // 30 >= 20, refused
	require.Error(t, err)
	assert.ErrorIs(t, err, datatypes.ErrBudgetExhausted)

	tokens, cost := budget.Spent("s1")
	assert.Equal(t, int64(30), tokens)
	assert.InDelta(t, 0.002, cost, 1e-9)

	// Other sessions are unaffected.
	other := req
	other.SessionID = "s2"
	_, err = d.Ask(context.Background(), other)
	assert.NoError(t, err)
}

func TestBreakerOpensAndSkips(t *testing.T) {
	down := failingProvider("down", MarkTransient(errors.New("503")))
	backup := okProvider("backup", "ok")
	d := newTestDispatcher(t, down, backup)

	// Drive enough failures through the first provider to trip its
	// breaker (3 attempts per ask).
	for i := 0; i < 3; i++ {
		_, err := d.Ask(context.Background(),
			datatypes.LLMRequest{User: fmt.Sprintf("q%d", i), Temperature: 0.5})
		require.NoError(t, err, "backup should serve")
	}

	assert.True(t, d.chain[0].Open(), "breaker should be open after consecutive failures")

	before := down.calls.Load()
	_, err := d.Ask(context.Background(), datatypes.LLMRequest{User: "more", Temperature: 0.5})
	require.NoError(t, err)
	assert.Equal(t, before, down.calls.Load(), "open circuit must be skipped without a call")
}

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, true},
		{"bare array", `[1,2]`, `[1,2]`, true},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`, true},
		{"prose wrapped", `Here you go: {"a":1} hope that helps`, `{"a":1}`, true},
		{"no json", "just words", "", false},
		{"broken json", `{"a":`, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractJSON(tc.in)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestAskRecordsObservedLatency(t *testing.T) {
	slow := &fakeProvider{
		name: "slow",
		respond: func(_ int, _ datatypes.LLMRequest) (datatypes.LLMResponse, error) {
			time.Sleep(5 * time.Millisecond)
			return datatypes.LLMResponse{Text: "ok", Provider: "slow"}, nil
		},
	}
	d := newTestDispatcher(t, slow)

	resp, err := d.Ask(context.Background(), datatypes.LLMRequest{User: "hi", Temperature: 0.5})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, resp.LatencyMS, int64(5))
}
