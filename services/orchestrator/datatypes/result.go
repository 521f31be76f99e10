// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// =============================================================================
// Discrepancies
// =============================================================================

// Severity classifies how badly a discrepancy degrades fidelity.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// MassWeight returns the discrepancy-mass contribution of one finding at
// this severity: critical 1.0, warning 0.25, info 0.05.
func (s Severity) MassWeight() float64 {
	switch s {
	case SeverityCritical:
		return 1.0
	case SeverityWarning:
		return 0.25
	case SeverityInfo:
		return 0.05
	default:
		return 0
	}
}

// Category identifies which comparison axis produced a discrepancy.
type Category string

const (
	CategoryUI            Category = "ui"
	CategoryBackendLogic  Category = "backend-logic"
	CategoryDataStructure Category = "data-structure"
	CategoryAPI           Category = "api"
	CategoryBusinessRules Category = "business-rules"
	CategoryBehavioral    Category = "behavioral"
)

// Discrepancy is one observed difference between source and target.
type Discrepancy struct {
	Category Category `json:"category"`

	// Kind is the change kind, e.g. "missing-element",
	// "additional-element", "renamed", "type-mismatch",
	// "constraint-change", "logic-divergence", "step-outcome-mismatch".
	Kind string `json:"kind"`

	Severity Severity `json:"severity"`

	// Element identifies the affected element (function name, field path,
	// endpoint, UI key, scenario/step).
	Element string `json:"element"`

	Description string `json:"description"`

	// SourceValue/TargetValue carry the differing values when meaningful.
	SourceValue string `json:"source_value,omitempty"`
	TargetValue string `json:"target_value,omitempty"`

	// Recommendation is a short textual remediation hint.
	Recommendation string `json:"recommendation,omitempty"`

	// Confidence is the reporter's certainty in [0,1] that the
	// discrepancy is real. Structural findings carry 1.0; semantic
	// layers supply their own value.
	Confidence float64 `json:"confidence"`

	// ValidationContext carries free-form detail about how the
	// discrepancy was established, e.g. the matcher's similarity.
	ValidationContext map[string]any `json:"validation_context,omitempty"`

	// Diff optionally carries a unified diff of the differing logic.
	Diff string `json:"diff,omitempty"`
}

// DefaultConfidence fills the confidence floor in place: findings that
// did not supply a value carry full confidence.
func DefaultConfidence(discs []Discrepancy) {
	for i := range discs {
		if discs[i].Confidence == 0 {
			discs[i].Confidence = 1
		}
	}
}

// =============================================================================
// Stage results
// =============================================================================

// StageKind names a pipeline stage.
type StageKind string

const (
	StageStatic     StageKind = "static"
	StageBehavioral StageKind = "behavioral"
)

// StageStatus records how a stage finished.
type StageStatus string

const (
	StageCompleted StageStatus = "completed"
	StagePartial   StageStatus = "partial"
	StageErrored   StageStatus = "error"
	StageSkipped   StageStatus = "skipped"
)

// StageResult is the outcome of one pipeline stage.
type StageResult struct {
	Stage  StageKind   `json:"stage"`
	Status StageStatus `json:"status"`

	// Score is the stage fidelity in [0,1], rounded to 4 decimals.
	Score float64 `json:"score"`

	Discrepancies []Discrepancy `json:"discrepancies,omitempty"`

	// ElementsCompared is paired+unpaired for static, total steps for
	// behavioral.
	ElementsCompared int `json:"elements_compared"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Error is the stage-level failure message when Status is error.
	Error string `json:"error,omitempty"`
}

// CountBySeverity tallies the stage's discrepancies per severity.
func (r StageResult) CountBySeverity() map[Severity]int {
	counts := make(map[Severity]int, 3)
	for _, d := range r.Discrepancies {
		counts[d.Severity]++
	}
	return counts
}

// =============================================================================
// Unified result
// =============================================================================

// ResultStatus is the overall verdict projected from the unified score.
type ResultStatus string

const (
	StatusApproved         ResultStatus = "approved"
	StatusApprovedWarnings ResultStatus = "approved-with-warnings"
	StatusRejected         ResultStatus = "rejected"
	StatusError            ResultStatus = "error"
)

// ResultKind records which stages contributed to the unified score.
type ResultKind string

const (
	ResultStaticOnly     ResultKind = "static-only"
	ResultBehavioralOnly ResultKind = "behavioral-only"
	ResultHybrid         ResultKind = "hybrid"
)

// UnifiedResult is the final synthesized outcome of a validation session.
type UnifiedResult struct {
	RequestID string       `json:"request_id"`
	Status    ResultStatus `json:"status"`
	Kind      ResultKind   `json:"kind"`

	// Score is the weighted unified fidelity in [0,1], 4 decimals.
	Score float64 `json:"score"`

	Scope      Scope             `json:"scope"`
	SourceTech TechnologyContext `json:"source_technology"`
	TargetTech TechnologyContext `json:"target_technology"`

	Stages []StageResult `json:"stages"`

	// Discrepancies is the merged, severity-ordered list across stages.
	Discrepancies []Discrepancy `json:"discrepancies"`

	// Summary is a short human-readable synthesis of the outcome.
	Summary string `json:"summary,omitempty"`

	Recommendations []string `json:"recommendations,omitempty"`

	// TokensUsed and CostUSD report LLM budget consumption for the run.
	TokensUsed int     `json:"tokens_used"`
	CostUSD    float64 `json:"cost_usd"`

	GeneratedAt time.Time `json:"generated_at"`
}

// Criticals returns the unified result's critical discrepancies.
func (u UnifiedResult) Criticals() []Discrepancy {
	var out []Discrepancy
	for _, d := range u.Discrepancies {
		if d.Severity == SeverityCritical {
			out = append(out, d)
		}
	}
	return out
}
