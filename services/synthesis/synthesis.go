// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package synthesis folds the per-stage results of a validation run
// into one unified fidelity verdict.
package synthesis

import (
	"fmt"
	"sort"
	"time"

	"github.com/parityqa/parity/services/orchestrator/datatypes"
)

// Default stage weights when both stages ran.
const (
	DefaultStaticWeight     = 0.6
	DefaultBehavioralWeight = 0.4
)

// Status projection thresholds.
const (
	ApprovedFloor = 0.95
	WarningsFloor = 0.80
)

// StageWeights overrides the static/behavioral split. Zero values fall
// back to the defaults.
type StageWeights struct {
	Static     float64
	Behavioral float64
}

func (w StageWeights) orDefault() StageWeights {
	if w.Static <= 0 && w.Behavioral <= 0 {
		return StageWeights{Static: DefaultStaticWeight, Behavioral: DefaultBehavioralWeight}
	}
	return w
}

// Input carries everything the synthesizer needs about one run.
type Input struct {
	RequestID  string
	Scope      datatypes.Scope
	SourceTech datatypes.TechnologyContext
	TargetTech datatypes.TechnologyContext

	Static     *datatypes.StageResult
	Behavioral *datatypes.StageResult

	// Weights optionally overrides the stage split.
	Weights *StageWeights

	TokensUsed int
	CostUSD    float64
}

// Synthesize produces the unified result from whichever stages ran.
func Synthesize(in Input) datatypes.UnifiedResult {
	result := datatypes.UnifiedResult{
		RequestID:   in.RequestID,
		Scope:       in.Scope,
		SourceTech:  in.SourceTech,
		TargetTech:  in.TargetTech,
		TokensUsed:  in.TokensUsed,
		CostUSD:     in.CostUSD,
		GeneratedAt: time.Now().UTC(),
	}

	staticOK := salvageable(in.Static)
	behavioralOK := salvageable(in.Behavioral)

	for _, stage := range []*datatypes.StageResult{in.Static, in.Behavioral} {
		if stage != nil {
			result.Stages = append(result.Stages, *stage)
			result.Discrepancies = append(result.Discrepancies, stage.Discrepancies...)
		}
	}
	sortBySeverity(result.Discrepancies)

	switch {
	case staticOK && behavioralOK:
		result.Kind = datatypes.ResultHybrid
		weights := StageWeights{}
		if in.Weights != nil {
			weights = *in.Weights
		}
		weights = weights.orDefault()
		total := weights.Static + weights.Behavioral
		result.Score = round4((weights.Static*in.Static.Score + weights.Behavioral*in.Behavioral.Score) / total)

	case staticOK:
		result.Kind = datatypes.ResultStaticOnly
		result.Score = in.Static.Score

	case behavioralOK:
		result.Kind = datatypes.ResultBehavioralOnly
		result.Score = in.Behavioral.Score

	default:
		result.Kind = datatypes.ResultStaticOnly
		result.Status = datatypes.StatusError
		result.Summary = "no stage produced a usable score"
		return result
	}

	result.Status = projectStatus(result.Score, hasCritical(result.Discrepancies))

	// A stage that errored with nothing salvageable degrades the verdict:
	// rejected, unless the surviving stage is approved, which demotes to
	// approved-with-warnings with the error noted.
	var errorNote string
	if erroredStage(in.Static) || erroredStage(in.Behavioral) {
		if erroredStage(in.Static) {
			errorNote = fmt.Sprintf("; static stage errored: %s", in.Static.Error)
		} else {
			errorNote = fmt.Sprintf("; behavioral stage errored: %s", in.Behavioral.Error)
		}
		if result.Status == datatypes.StatusApproved {
			result.Status = datatypes.StatusApprovedWarnings
		} else if result.Status == datatypes.StatusApprovedWarnings {
			result.Status = datatypes.StatusRejected
		}
	}

	result.Summary = buildSummary(result) + errorNote
	result.Recommendations = buildRecommendations(result)
	return result
}

// salvageable reports whether a stage ran and produced a usable score.
func salvageable(stage *datatypes.StageResult) bool {
	if stage == nil {
		return false
	}
	return stage.Status == datatypes.StageCompleted || stage.Status == datatypes.StagePartial
}

func erroredStage(stage *datatypes.StageResult) bool {
	return stage != nil && stage.Status == datatypes.StageErrored
}

func hasCritical(discs []datatypes.Discrepancy) bool {
	for _, d := range discs {
		if d.Severity == datatypes.SeverityCritical {
			return true
		}
	}
	return false
}

func projectStatus(score float64, critical bool) datatypes.ResultStatus {
	switch {
	case critical:
		return datatypes.StatusRejected
	case score >= ApprovedFloor:
		return datatypes.StatusApproved
	case score >= WarningsFloor:
		return datatypes.StatusApprovedWarnings
	default:
		return datatypes.StatusRejected
	}
}

func sortBySeverity(discs []datatypes.Discrepancy) {
	rank := map[datatypes.Severity]int{
		datatypes.SeverityCritical: 0,
		datatypes.SeverityWarning:  1,
		datatypes.SeverityInfo:     2,
	}
	sort.SliceStable(discs, func(i, j int) bool {
		return rank[discs[i].Severity] < rank[discs[j].Severity]
	})
}

func buildSummary(r datatypes.UnifiedResult) string {
	counts := map[datatypes.Severity]int{}
	for _, d := range r.Discrepancies {
		counts[d.Severity]++
	}
	return fmt.Sprintf("fidelity %.4f (%s): %d critical, %d warning, %d info findings",
		r.Score, r.Status,
		counts[datatypes.SeverityCritical],
		counts[datatypes.SeverityWarning],
		counts[datatypes.SeverityInfo])
}

func buildRecommendations(r datatypes.UnifiedResult) []string {
	var out []string
	seen := map[string]bool{}
	for _, d := range r.Discrepancies {
		if d.Severity != datatypes.SeverityCritical || d.Recommendation == "" {
			continue
		}
		if !seen[d.Recommendation] {
			seen[d.Recommendation] = true
			out = append(out, d.Recommendation)
		}
	}
	switch r.Status {
	case datatypes.StatusRejected:
		out = append(out, "resolve all critical findings and re-run the validation")
	case datatypes.StatusApprovedWarnings:
		out = append(out, "review warning-level findings before cutover")
	}
	return out
}

func round4(v float64) float64 {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return float64(int(v*10000+0.5)) / 10000
}
