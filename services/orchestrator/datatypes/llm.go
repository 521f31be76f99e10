// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// =============================================================================
// LLM envelope
// =============================================================================

// Message is a single chat message in provider-neutral form.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// TemperatureBand discretizes sampling temperature for cache keying.
// Only low-band responses are cacheable; higher bands are intentionally
// non-deterministic.
type TemperatureBand string

const (
	TempBandLow    TemperatureBand = "low"    // t <= 0.2
	TempBandMedium TemperatureBand = "medium" // 0.2 < t <= 0.7
	TempBandHigh   TemperatureBand = "high"   // t > 0.7
)

// BandForTemperature maps a sampling temperature to its band.
func BandForTemperature(t float64) TemperatureBand {
	switch {
	case t <= 0.2:
		return TempBandLow
	case t <= 0.7:
		return TempBandMedium
	default:
		return TempBandHigh
	}
}

// Cacheable reports whether responses in this band may be served from
// and written to the response cache.
func (b TemperatureBand) Cacheable() bool {
	return b == TempBandLow
}

// LLMRequest is a provider-neutral completion request.
type LLMRequest struct {
	// Model pins a specific model; empty means the provider's default.
	Model string `json:"model,omitempty"`

	System  string    `json:"system,omitempty"`
	User    string    `json:"user"`
	History []Message `json:"history,omitempty"`

	// Context is supplemental grounding material (code excerpts, element
	// listings) appended to the user turn. It participates in the cache
	// fingerprint.
	Context string `json:"context,omitempty"`

	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty"`

	// WantJSON asserts that the response must parse as a JSON document;
	// the dispatcher retries with a reformat instruction when it does not.
	WantJSON bool `json:"want_json,omitempty"`

	// SessionID attributes token and cost accounting to a validation run.
	SessionID string `json:"session_id,omitempty"`
}

// Band returns the request's temperature band.
func (r LLMRequest) Band() TemperatureBand {
	return BandForTemperature(r.Temperature)
}

// LLMResponse is a provider-neutral completion result.
type LLMResponse struct {
	Text  string `json:"text"`
	Model string `json:"model"`

	// Provider names the adapter that served the request.
	Provider string `json:"provider"`

	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`

	// CostUSD is the estimated cost of the call from the provider's
	// per-token price table.
	CostUSD float64 `json:"cost_usd"`

	// LatencyMS is the observed wall-clock latency of the upstream
	// call in milliseconds. Cache hits keep the latency of the call
	// that populated the entry.
	LatencyMS int64 `json:"latency_ms"`

	// FromCache marks responses served from the fingerprint cache.
	FromCache bool `json:"from_cache,omitempty"`
}

// TotalTokens returns prompt plus completion tokens.
func (r LLMResponse) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}
