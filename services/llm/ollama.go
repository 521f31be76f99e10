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

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []datatypes.Message `json:"messages"`
	Stream   bool                `json:"stream"`
	Format   string              `json:"format,omitempty"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message         datatypes.Message `json:"message"`
	Done            bool              `json:"done"`
	PromptEvalCount int               `json:"prompt_eval_count"`
	EvalCount       int               `json:"eval_count"`
}

// OllamaProvider serves completions from a local Ollama instance. It is
// the zero-cost fallback at the end of the provider chain.
type OllamaProvider struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

// NewOllamaProvider reads OLLAMA_BASE_URL and OLLAMA_MODEL.
func NewOllamaProvider() (*OllamaProvider, error) {
	baseURL := os.Getenv("OLLAMA_BASE_URL")
	if baseURL == "" {
		return nil, fmt.Errorf("OLLAMA_BASE_URL environment variable not set")
	}
	model := os.Getenv("OLLAMA_MODEL")
	if model == "" {
		model = "llama3.1"
		slog.Warn("OLLAMA_MODEL not set, defaulting", "model", model)
	}
	return &OllamaProvider{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      model,
	}, nil
}

// Name implements Provider.
func (p *OllamaProvider) Name() string { return "ollama" }

// Models implements Provider. Empty: a local instance serves whatever
// model is pulled, so pinning is not enforced here.
func (p *OllamaProvider) Models() []string { return nil }

// Complete implements Provider.
func (p *OllamaProvider) Complete(ctx context.Context, req datatypes.LLMRequest) (datatypes.LLMResponse, error) {
	ctx, span := tracer.Start(ctx, "OllamaProvider.Complete")
	defer span.End()

	model := req.Model
	if model == "" {
		model = p.model
	}
	span.SetAttributes(attribute.String("llm.model", model))

	options := map[string]any{
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	payload := ollamaChatRequest{
		Model:    model,
		Messages: buildMessages(req),
		Stream:   false,
		Options:  options,
	}
	if req.WantJSON {
		payload.Format = "json"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return datatypes.LLMResponse{}, fmt.Errorf("failed to marshal chat request to Ollama: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/api/chat", bytes.NewBuffer(body))
	if err != nil {
		return datatypes.LLMResponse{}, fmt.Errorf("failed to create chat request to Ollama: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() != nil {
			return datatypes.LLMResponse{}, ctx.Err()
		}
		return datatypes.LLMResponse{}, MarkTransient(fmt.Errorf("ollama API call failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNotFound {
			var errResp struct {
				Error string `json:"error"`
			}
			if json.Unmarshal(respBody, &errResp) == nil &&
				strings.Contains(errResp.Error, "model") &&
				strings.Contains(errResp.Error, "not found") {
				return datatypes.LLMResponse{}, fmt.Errorf(
					"model %q not found, run: ollama pull %s", model, model)
			}
		}
		err := fmt.Errorf("ollama failed with status %d: %s", resp.StatusCode, string(respBody))
		if resp.StatusCode >= 500 {
			return datatypes.LLMResponse{}, MarkTransient(err)
		}
		return datatypes.LLMResponse{}, err
	}

	var chatResp ollamaChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		slog.Error("Failed to parse JSON chat response from Ollama",
			"error", err, "response", string(respBody))
		return datatypes.LLMResponse{}, fmt.Errorf("failed to parse ollama response: %w", err)
	}

	return datatypes.LLMResponse{
		Text:             chatResp.Message.Content,
		Model:            model,
		Provider:         p.Name(),
		PromptTokens:     chatResp.PromptEvalCount,
		CompletionTokens: chatResp.EvalCount,
		CostUSD:          0, // local inference
	}, nil
}
