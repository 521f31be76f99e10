// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package comparator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/parityqa/parity/services/llm"
	"github.com/parityqa/parity/services/orchestrator/datatypes"
)

const pairingSystemPrompt = `You match program elements across a code migration. Given two lists of element names from the source and target systems, identify which target element corresponds to each source element despite renaming.

Respond with only a JSON object:
{"pairs": [{"source": "name-from-source-list", "target": "name-from-target-list", "similarity": 0.0}]}

similarity is your confidence in [0,1] that the two names denote the same element. Omit source elements with no plausible counterpart. Never pair one target element twice.`

const logicSystemPrompt = `You compare business logic across a code migration. Given two descriptions of the same function (source and target), judge whether the target preserves the source behavior: validations, calculations, side effects, edge cases.

Respond with only a JSON object:
{"similarity": 0.0, "diagnosis": "one sentence naming the behavioral difference, or empty if equivalent"}`

// SemanticMatcher answers the comparator's two LLM questions: which
// leftover elements correspond despite renaming, and whether paired
// functions preserve behavior. All calls run in the low temperature
// band so the dispatcher can cache and single-flight them.
type SemanticMatcher struct {
	dispatcher *llm.Dispatcher
}

// NewSemanticMatcher builds the matcher.
func NewSemanticMatcher(dispatcher *llm.Dispatcher) *SemanticMatcher {
	return &SemanticMatcher{dispatcher: dispatcher}
}

// matchFn adapts the matcher to the pairing procedure for one category.
func (m *SemanticMatcher) matchFn(category datatypes.Category, sessionID string) semanticMatchFn {
	return func(ctx context.Context, source, target []pairItem) ([]pairing, error) {
		return m.match(ctx, category, source, target, sessionID)
	}
}

func (m *SemanticMatcher) match(ctx context.Context, category datatypes.Category, source, target []pairItem, sessionID string) ([]pairing, error) {
	srcNames := make([]string, len(source))
	for i, s := range source {
		srcNames[i] = s.Name
	}
	dstNames := make([]string, len(target))
	for i, t := range target {
		dstNames[i] = t.Name
	}

	req := datatypes.LLMRequest{
		System: pairingSystemPrompt,
		User:   fmt.Sprintf("Category: %s", category),
		Context: fmt.Sprintf("source: [%s]\ntarget: [%s]",
			strings.Join(srcNames, ", "), strings.Join(dstNames, ", ")),
		Temperature: 0.0,
		WantJSON:    true,
		SessionID:   sessionID,
	}
	resp, err := m.dispatcher.Ask(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("semantic pairing for %s: %w", category, err)
	}

	var parsed struct {
		Pairs []struct {
			Source     string  `json:"source"`
			Target     string  `json:"target"`
			Similarity float64 `json:"similarity"`
		} `json:"pairs"`
	}
	if err := json.Unmarshal([]byte(resp.Text), &parsed); err != nil {
		return nil, fmt.Errorf("%w: semantic pairing: %v", datatypes.ErrResponseUnparseable, err)
	}

	srcIndex := make(map[string]int, len(source))
	for i, s := range source {
		srcIndex[s.Name] = i
	}
	dstIndex := make(map[string]int, len(target))
	for i, t := range target {
		dstIndex[t.Name] = i
	}

	var out []pairing
	for _, p := range parsed.Pairs {
		si, okS := srcIndex[p.Source]
		ti, okT := dstIndex[p.Target]
		if !okS || !okT {
			continue // hallucinated name, drop
		}
		out = append(out, pairing{Source: si, Target: ti, Similarity: p.Similarity})
	}
	return out, nil
}

// logicVerdict is the result of one business-logic comparison.
type logicVerdict struct {
	Similarity float64 `json:"similarity"`
	Diagnosis  string  `json:"diagnosis"`
}

// CompareLogic judges whether the target function preserves the source
// function's behavior.
func (m *SemanticMatcher) CompareLogic(ctx context.Context, name, sourceSummary, targetSummary, sessionID string) (logicVerdict, error) {
	req := datatypes.LLMRequest{
		System: logicSystemPrompt,
		User:   fmt.Sprintf("Function: %s", name),
		Context: fmt.Sprintf("source behavior: %s\ntarget behavior: %s",
			sourceSummary, targetSummary),
		Temperature: 0.0,
		WantJSON:    true,
		SessionID:   sessionID,
	}
	resp, err := m.dispatcher.Ask(ctx, req)
	if err != nil {
		return logicVerdict{}, fmt.Errorf("logic comparison of %s: %w", name, err)
	}

	var verdict logicVerdict
	if err := json.Unmarshal([]byte(resp.Text), &verdict); err != nil {
		return logicVerdict{}, fmt.Errorf("%w: logic comparison: %v",
			datatypes.ErrResponseUnparseable, err)
	}
	return verdict, nil
}
