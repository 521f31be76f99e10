// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/parityqa/parity/services/llm"
	"github.com/parityqa/parity/services/orchestrator/datatypes"
)

const summarizeSystemPrompt = `You summarize business logic for migration review. For each function you are shown, produce a one-sentence summary of what it does in domain terms (validations, calculations, side effects), not how it is coded.

Respond with only a JSON object: {"summaries": {"functionName": "summary", ...}}`

// chunk ceiling keeps each summarization call well inside context
// windows; overlap preserves functions that straddle a boundary.
const (
	summarizeChunkSize    = 6000
	summarizeChunkOverlap = 400
)

// Summarizer fills in LogicSummary for extracted functions by showing
// the model the surrounding source. Large files are chunked with a
// recursive character splitter before dispatch.
type Summarizer struct {
	dispatcher *llm.Dispatcher
	splitter   textsplitter.RecursiveCharacter
	logger     *slog.Logger
}

// NewSummarizer builds the summarizer.
func NewSummarizer(dispatcher *llm.Dispatcher, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{
		dispatcher: dispatcher,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(summarizeChunkSize),
			textsplitter.WithChunkOverlap(summarizeChunkOverlap),
		),
		logger: logger,
	}
}

// Summarize annotates functions lacking a LogicSummary. Failures are
// logged and leave the summaries empty; the business-rules comparison
// then falls back to structural evidence alone.
func (s *Summarizer) Summarize(ctx context.Context, file datatypes.CodeFile, functions []datatypes.BackendFunction, sessionID string) []datatypes.BackendFunction {
	var missing []string
	for _, fn := range functions {
		if fn.LogicSummary == "" {
			missing = append(missing, fn.Name)
		}
	}
	if len(missing) == 0 {
		return functions
	}

	chunks, err := s.splitter.SplitText(string(file.Content))
	if err != nil {
		s.logger.Warn("failed to split source for summarization",
			"file", file.Path, "error", err)
		return functions
	}

	summaries := make(map[string]string)
	for _, chunk := range chunks {
		got, err := s.summarizeChunk(ctx, chunk, missing, sessionID)
		if err != nil {
			s.logger.Warn("logic summarization failed for chunk",
				"file", file.Path, "error", err)
			continue
		}
		for name, summary := range got {
			if _, dup := summaries[name]; !dup {
				summaries[name] = summary
			}
		}
	}

	out := make([]datatypes.BackendFunction, len(functions))
	copy(out, functions)
	for i := range out {
		if out[i].LogicSummary == "" {
			if summary, ok := summaries[out[i].Name]; ok {
				out[i].LogicSummary = summary
			}
		}
	}
	return out
}

func (s *Summarizer) summarizeChunk(ctx context.Context, chunk string, names []string, sessionID string) (map[string]string, error) {
	req := datatypes.LLMRequest{
		System: summarizeSystemPrompt,
		User: fmt.Sprintf("Summarize these functions: %s",
			strings.Join(names, ", ")),
		Context:     chunk,
		Temperature: 0.0,
		WantJSON:    true,
		SessionID:   sessionID,
	}
	resp, err := s.dispatcher.Ask(ctx, req)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Summaries map[string]string `json:"summaries"`
	}
	if err := json.Unmarshal([]byte(resp.Text), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", datatypes.ErrResponseUnparseable, err)
	}
	return parsed.Summaries, nil
}
