// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analysis

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/parityqa/parity/services/llm"
	"github.com/parityqa/parity/services/orchestrator/datatypes"
)

const visualSystemPrompt = `You are a UI inventory extractor. Given a screenshot of an application page, list every visible interface element.

Respond with only a JSON object of this shape:
{"elements": [{"kind": "input|button|select|textarea|checkbox|radio|link|label|table|image|form", "id": "best stable identifier or empty", "text": "visible text or empty", "attributes": {"key": "value"}}]}

List elements top-to-bottom, left-to-right. Do not invent elements that are not visible.`

// visualElements is the wire shape the vision model answers with.
type visualElements struct {
	Elements []struct {
		Kind       string            `json:"kind"`
		ID         string            `json:"id"`
		Text       string            `json:"text"`
		Attributes map[string]string `json:"attributes"`
	} `json:"elements"`
}

// VisualAnalyzer turns screenshots into UI element inventories through a
// vision-capable model behind the dispatcher.
type VisualAnalyzer struct {
	dispatcher *llm.Dispatcher

	// Model pins a vision-capable model; empty uses the chain default.
	Model string
}

// NewVisualAnalyzer builds the analyzer.
func NewVisualAnalyzer(dispatcher *llm.Dispatcher) *VisualAnalyzer {
	return &VisualAnalyzer{dispatcher: dispatcher, Model: "gpt-4o"}
}

// AnalyzeScreenshot extracts UI elements from one capture. The image is
// carried base64-encoded in the request context, which also keys the
// response cache, so re-submitting an identical screenshot costs
// nothing.
func (a *VisualAnalyzer) AnalyzeScreenshot(ctx context.Context, shot datatypes.Screenshot, sessionID string) (datatypes.Representation, error) {
	req := datatypes.LLMRequest{
		Model:       a.Model,
		System:      visualSystemPrompt,
		User:        fmt.Sprintf("Extract the UI elements from screenshot %q.", shot.Path),
		Context:     "image/base64: " + base64.StdEncoding.EncodeToString(shot.Content),
		Temperature: 0.0,
		WantJSON:    true,
		SessionID:   sessionID,
	}

	resp, err := a.dispatcher.Ask(ctx, req)
	if err != nil {
		return datatypes.Representation{}, fmt.Errorf("visual analysis of %s: %w", shot.Path, err)
	}

	var parsed visualElements
	if err := json.Unmarshal([]byte(resp.Text), &parsed); err != nil {
		return datatypes.Representation{}, fmt.Errorf(
			"%w: visual analysis of %s: %v", datatypes.ErrResponseUnparseable, shot.Path, err)
	}

	var rep datatypes.Representation
	for _, el := range parsed.Elements {
		rep.UIElements = append(rep.UIElements, datatypes.UIElement{
			Kind:           el.Kind,
			ID:             el.ID,
			Text:           el.Text,
			Attributes:     el.Attributes,
			AnalysisMethod: MethodVision,
		})
	}
	return rep, nil
}
