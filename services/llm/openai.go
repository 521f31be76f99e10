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
	"net/http"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/parityqa/parity/services/orchestrator/datatypes"
)

// OpenAIProvider serves completions through the OpenAI chat API.
type OpenAIProvider struct {
	client *openai.Client
	models []string
	prices PriceTable
}

// NewOpenAIProvider reads OPENAI_API_KEY (falling back to the container
// secret path) and builds the adapter.
func NewOpenAIProvider(prices PriceTable) (*OpenAIProvider, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		if content, err := os.ReadFile("/run/secrets/openai_api_key"); err == nil {
			apiKey = strings.TrimSpace(string(content))
			slog.Info("Read the OpenAI API key from container secrets")
		}
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is missing")
	}

	models := []string{"gpt-4o", "gpt-4o-mini"}
	if pin := os.Getenv("OPENAI_MODEL"); pin != "" {
		models = append(models, pin)
	}

	return &OpenAIProvider{
		client: openai.NewClient(apiKey),
		models: models,
		prices: prices,
	}, nil
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// Models implements Provider.
func (p *OpenAIProvider) Models() []string { return p.models }

// Complete implements Provider.
func (p *OpenAIProvider) Complete(ctx context.Context, req datatypes.LLMRequest) (datatypes.LLMResponse, error) {
	ctx, span := tracer.Start(ctx, "OpenAIProvider.Complete")
	defer span.End()

	model := req.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	span.SetAttributes(attribute.String("llm.model", model))

	messages := buildMessages(req)
	apiMessages := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		apiMessages = append(apiMessages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	apiReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    apiMessages,
		Temperature: float32(req.Temperature),
	}
	if req.MaxTokens > 0 {
		apiReq.MaxCompletionTokens = req.MaxTokens
	}
	if req.WantJSON {
		apiReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	slog.Debug("Dispatching to OpenAI", "model", model)
	resp, err := p.client.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return datatypes.LLMResponse{}, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return datatypes.LLMResponse{}, MarkTransient(fmt.Errorf("openai returned no choices"))
	}

	return datatypes.LLMResponse{
		Text:             resp.Choices[0].Message.Content,
		Model:            model,
		Provider:         p.Name(),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		CostUSD:          p.prices.Cost(model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
	}, nil
}

// classifyOpenAIError marks rate limits, 5xx, and network failures as
// transient; auth and request errors stay permanent.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests,
			apiErr.HTTPStatusCode >= 500:
			return MarkTransient(fmt.Errorf("openai API call failed: %w", err))
		default:
			return fmt.Errorf("openai API call failed: %w", err)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	// Anything else at this layer is a transport failure.
	return MarkTransient(fmt.Errorf("openai API call failed: %w", err))
}

// buildMessages flattens the provider-neutral request into a chat
// transcript, appending the grounding context to the user turn.
func buildMessages(req datatypes.LLMRequest) []datatypes.Message {
	var messages []datatypes.Message
	if req.System != "" {
		messages = append(messages, datatypes.Message{Role: "system", Content: req.System})
	}
	messages = append(messages, req.History...)

	user := req.User
	if req.Context != "" {
		user = user + "\n\n" + req.Context
	}
	messages = append(messages, datatypes.Message{Role: "user", Content: user})
	return messages
}
