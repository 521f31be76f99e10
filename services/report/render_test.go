// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package report

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parityqa/parity/services/orchestrator/datatypes"
)

func sampleResult() datatypes.UnifiedResult {
	return datatypes.UnifiedResult{
		RequestID:  "req-1",
		Status:     datatypes.StatusApprovedWarnings,
		Kind:       datatypes.ResultStaticOnly,
		Score:      0.875,
		Scope:      datatypes.ScopeBackendLogic,
		SourceTech: datatypes.TechnologyContext{Name: "python-flask"},
		TargetTech: datatypes.TechnologyContext{Name: "go-gin"},
		Stages: []datatypes.StageResult{{
			Stage:            datatypes.StageStatic,
			Status:           datatypes.StageCompleted,
			Score:            0.875,
			ElementsCompared: 4,
		}},
		Discrepancies: []datatypes.Discrepancy{
			{
				Category:    datatypes.CategoryBusinessRules,
				Kind:        "logic_divergence",
				Severity:    datatypes.SeverityWarning,
				Element:     "calculate_total",
				Description: "discount rule differs",
				SourceValue: "apply discount\nthen add tax",
				TargetValue: "add tax\nthen apply discount",
			},
			{
				Category:    datatypes.CategoryBackendLogic,
				Kind:        "missing_element",
				Severity:    datatypes.SeverityCritical,
				Element:     "audit_log",
				Description: "function audit_log has no target counterpart",
			},
		},
		Summary:         "1 critical and 1 warning finding across 4 elements.",
		Recommendations: []string{"Restore audit_log in the target."},
		TokensUsed:      340,
		CostUSD:         0.0051,
		GeneratedAt:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestParseFormat(t *testing.T) {
	for input, want := range map[string]Format{
		"":         FormatJSON,
		"json":     FormatJSON,
		"html":     FormatHTML,
		"md":       FormatMarkdown,
		"markdown": FormatMarkdown,
	} {
		got, err := ParseFormat(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := ParseFormat("pdf")
	assert.ErrorIs(t, err, datatypes.ErrValidationInput)
}

func TestRenderJSONRoundTrip(t *testing.T) {
	r := NewRenderer(nil)
	result := sampleResult()

	out, err := r.Render(result, FormatJSON)
	require.NoError(t, err)

	var parsed datatypes.UnifiedResult
	require.NoError(t, json.Unmarshal(out, &parsed))
	assert.Equal(t, result.RequestID, parsed.RequestID)
	assert.Equal(t, result.Score, parsed.Score)
	assert.Len(t, parsed.Discrepancies, 2)
	// The renderer attaches a diff for divergent two-sided values.
	assert.Contains(t, parsed.Discrepancies[0].Diff, "-apply discount")
	assert.Contains(t, parsed.Discrepancies[0].Diff, "+then apply discount")
}

func TestRenderMarkdown(t *testing.T) {
	r := NewRenderer(nil)

	out, err := r.Render(sampleResult(), FormatMarkdown)
	require.NoError(t, err)
	md := string(out)

	assert.Contains(t, md, "# Migration Validation Report")
	assert.Contains(t, md, "python-flask → go-gin")
	assert.Contains(t, md, "approved-with-warnings")
	assert.Contains(t, md, "| critical | backend-logic | missing_element | audit_log |")
	assert.Contains(t, md, "```diff")
	assert.Contains(t, md, "Restore audit_log in the target.")
}

func TestRenderHTML(t *testing.T) {
	r := NewRenderer(nil)

	out, err := r.Render(sampleResult(), FormatHTML)
	require.NoError(t, err)
	html := string(out)

	assert.Contains(t, html, "<!DOCTYPE html>")
	assert.Contains(t, html, "verdict-approved-with-warnings")
	assert.Contains(t, html, "calculate_total")
	assert.Contains(t, html, `class="sev-critical"`)
}

func TestRenderMarkdownEscapesTableCells(t *testing.T) {
	r := NewRenderer(nil)
	result := sampleResult()
	result.Discrepancies[1].Description = "breaks | tables\nand lines"

	out, err := r.Render(result, FormatMarkdown)
	require.NoError(t, err)
	assert.Contains(t, string(out), `breaks \| tables and lines`)
}

func TestUnifiedDiff(t *testing.T) {
	t.Run("identical returns empty", func(t *testing.T) {
		assert.Empty(t, unifiedDiff("f", "same", "same"))
	})

	t.Run("line changes", func(t *testing.T) {
		d := unifiedDiff("f", "a\nb\nc", "a\nx\nc")
		assert.Contains(t, d, "--- source/f")
		assert.Contains(t, d, "+++ target/f")
		assert.Contains(t, d, " a")
		assert.Contains(t, d, "-b")
		assert.Contains(t, d, "+x")
		assert.True(t, strings.Contains(d, "@@"))
	})

	t.Run("pure addition", func(t *testing.T) {
		d := unifiedDiff("f", "", "new line")
		assert.Contains(t, d, "+new line")
	})
}
