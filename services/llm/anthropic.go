// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/parityqa/parity/services/orchestrator/datatypes"
)

const (
	anthropicAPIVersion = "2023-06-01"
	anthropicBaseURL    = "https://api.anthropic.com/v1/messages"
	anthropicDefault    = "claude-3-5-sonnet-20240620"
)

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID      string             `json:"id"`
	Content []anthropicContent `json:"content"`
	Usage   anthropicUsage     `json:"usage"`
	Error   *anthropicAPIError `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicAPIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// AnthropicProvider serves completions through the Anthropic messages
// API over plain HTTP.
type AnthropicProvider struct {
	httpClient *http.Client
	apiKey     string
	models     []string
	prices     PriceTable
}

// NewAnthropicProvider reads ANTHROPIC_API_KEY (falling back to the
// container secret path) and builds the adapter.
func NewAnthropicProvider(prices PriceTable) (*AnthropicProvider, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		if content, err := os.ReadFile("/run/secrets/anthropic_api_key"); err == nil {
			apiKey = strings.TrimSpace(string(content))
			slog.Info("Read the Anthropic API key from container secrets")
		}
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is missing")
	}

	models := []string{anthropicDefault, "claude-3-5-haiku-20241022"}
	if pin := os.Getenv("CLAUDE_MODEL"); pin != "" {
		models = append(models, pin)
	}

	return &AnthropicProvider{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		apiKey:     apiKey,
		models:     models,
		prices:     prices,
	}, nil
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Models implements Provider.
func (p *AnthropicProvider) Models() []string { return p.models }

// Complete implements Provider.
func (p *AnthropicProvider) Complete(ctx context.Context, req datatypes.LLMRequest) (datatypes.LLMResponse, error) {
	ctx, span := tracer.Start(ctx, "AnthropicProvider.Complete")
	defer span.End()

	model := req.Model
	if model == "" {
		model = anthropicDefault
	}
	span.SetAttributes(attribute.String("llm.model", model))

	var apiMessages []anthropicMessage
	for _, m := range buildMessages(req) {
		if m.Role == "system" {
			continue // system goes top-level
		}
		apiMessages = append(apiMessages, anthropicMessage{Role: m.Role, Content: m.Content})
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	temp := req.Temperature
	payload := anthropicRequest{
		Model:       model,
		Messages:    apiMessages,
		System:      req.System,
		MaxTokens:   maxTokens,
		Temperature: &temp,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return datatypes.LLMResponse{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", anthropicBaseURL, bytes.NewBuffer(body))
	if err != nil {
		return datatypes.LLMResponse{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
	httpReq.Header.Set("content-type", "application/json")

	slog.Debug("Dispatching to Anthropic", "model", model)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() != nil {
			return datatypes.LLMResponse{}, ctx.Err()
		}
		return datatypes.LLMResponse{}, MarkTransient(fmt.Errorf("anthropic HTTP request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("anthropic API returned status %d: %s", resp.StatusCode, string(respBody))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return datatypes.LLMResponse{}, MarkTransient(err)
		}
		return datatypes.LLMResponse{}, err
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return datatypes.LLMResponse{}, fmt.Errorf("failed to parse anthropic response: %w", err)
	}
	if apiResp.Error != nil {
		return datatypes.LLMResponse{}, fmt.Errorf("anthropic API error: %s - %s",
			apiResp.Error.Type, apiResp.Error.Message)
	}

	var text strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return datatypes.LLMResponse{}, fmt.Errorf("anthropic returned no text content")
	}

	return datatypes.LLMResponse{
		Text:             text.String(),
		Model:            model,
		Provider:         p.Name(),
		PromptTokens:     apiResp.Usage.InputTokens,
		CompletionTokens: apiResp.Usage.OutputTokens,
		CostUSD:          p.prices.Cost(model, apiResp.Usage.InputTokens, apiResp.Usage.OutputTokens),
	}, nil
}
