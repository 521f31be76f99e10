// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package behavioral

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/parityqa/parity/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("parity.behavioral")

// Discrepancy kinds emitted by trace comparison.
const (
	KindNavigationDivergence = "navigation_divergence"
	KindValidationAsymmetry  = "validation_asymmetry"
	KindMessageTextChanged   = "message_text_changed"
	KindTimingDivergence     = "timing_divergence"
	KindScenarioError        = "error"
	KindScenarioTimeout      = "scenario_timeout"
)

// timingFactor is the duration ratio beyond which a matched step still
// earns an info finding.
const timingFactor = 2.0

// criticalPenalty is subtracted from a scenario score per critical
// divergence.
const criticalPenalty = 0.2

// RunnerConfig tunes the behavioral stage.
type RunnerConfig struct {
	// DefaultScenarioTimeout applies when a scenario declares none.
	DefaultScenarioTimeout time.Duration
}

// DefaultRunnerConfig returns the stage defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{DefaultScenarioTimeout: 2 * time.Minute}
}

// Runner executes scenarios against both sides and scores the traces.
// Scenarios run sequentially; the source/target pair of one scenario
// runs in parallel.
type Runner struct {
	cfg    RunnerConfig
	prober Prober
	logger *slog.Logger
}

// NewRunner builds the stage runner.
func NewRunner(cfg RunnerConfig, prober Prober, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultScenarioTimeout <= 0 {
		cfg.DefaultScenarioTimeout = DefaultRunnerConfig().DefaultScenarioTimeout
	}
	return &Runner{cfg: cfg, prober: prober, logger: logger}
}

// Probe runs every scenario and returns the behavioral stage result.
// Per-scenario failures score 0 and the stage continues; only context
// cancellation aborts the stage.
func (r *Runner) Probe(ctx context.Context, behavioral datatypes.BehavioralConfig, creds *Credentials) (datatypes.StageResult, error) {
	ctx, span := tracer.Start(ctx, "Behavioral.Probe")
	defer span.End()
	span.SetAttributes(attribute.Int("behavioral.scenarios", len(behavioral.Scenarios)))

	started := time.Now().UTC()
	result := datatypes.StageResult{
		Stage:     datatypes.StageBehavioral,
		Status:    datatypes.StageCompleted,
		StartedAt: started,
	}

	var scoreSum float64
	var errored int
	for _, scenario := range behavioral.Scenarios {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("behavioral stage: %w", datatypes.ErrDeadlineExceeded)
		}

		outcome := r.runScenario(ctx, behavioral, scenario, creds)
		scoreSum += outcome.score
		result.Discrepancies = append(result.Discrepancies, outcome.discrepancies...)
		result.ElementsCompared += outcome.steps
		if outcome.errored {
			errored++
		}
	}

	if n := len(behavioral.Scenarios); n > 0 {
		result.Score = round4(scoreSum / float64(n))
	} else {
		result.Score = 1
	}
	if errored > 0 && errored < len(behavioral.Scenarios) {
		result.Status = datatypes.StagePartial
	} else if errored > 0 {
		result.Status = datatypes.StageErrored
		result.Error = "all scenarios failed to execute"
	}
	datatypes.DefaultConfidence(result.Discrepancies)
	result.FinishedAt = time.Now().UTC()
	return result, nil
}

type scenarioOutcome struct {
	score         float64
	steps         int
	discrepancies []datatypes.Discrepancy
	errored       bool
}

func (r *Runner) runScenario(ctx context.Context, behavioral datatypes.BehavioralConfig, scenario datatypes.Scenario, creds *Credentials) scenarioOutcome {
	timeout := scenario.Timeout
	if timeout <= 0 {
		timeout = r.cfg.DefaultScenarioTimeout
	}
	scenarioCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var sourceTrace, targetTrace Trace
	g, groupCtx := errgroup.WithContext(scenarioCtx)
	g.Go(func() error {
		var err error
		sourceTrace, err = r.prober.Run(groupCtx, behavioral.SourceURL, scenario, creds)
		if err != nil {
			return fmt.Errorf("source side: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		targetTrace, err = r.prober.Run(groupCtx, behavioral.TargetURL, scenario, creds)
		if err != nil {
			return fmt.Errorf("target side: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		kind := KindScenarioError
		description := fmt.Sprintf("scenario %q could not run: %v", scenario.Name, err)
		if scenarioCtx.Err() == context.DeadlineExceeded {
			kind = KindScenarioTimeout
			description = fmt.Sprintf("scenario %q exceeded its %s deadline", scenario.Name, timeout)
		}
		r.logger.Warn("scenario failed", "scenario", scenario.Name, "error", err)
		return scenarioOutcome{
			errored: true,
			discrepancies: []datatypes.Discrepancy{{
				Category:    datatypes.CategoryBehavioral,
				Kind:        kind,
				Severity:    datatypes.SeverityCritical,
				Element:     scenario.Name,
				Description: description,
			}},
		}
	}

	return compareTraces(scenario.Name, sourceTrace, targetTrace)
}

// compareTraces walks both traces pairwise and scores the scenario as
// matched/total with a penalty per critical divergence, clipped to
// [0,1].
func compareTraces(scenario string, source, target Trace) scenarioOutcome {
	total := len(source.Steps)
	if len(target.Steps) > total {
		total = len(target.Steps)
	}
	out := scenarioOutcome{steps: total}
	if total == 0 {
		out.score = 1
		return out
	}

	matched := 0
	criticals := 0
	for i := 0; i < total; i++ {
		element := fmt.Sprintf("%s/step-%d", scenario, i+1)

		if i >= len(source.Steps) || i >= len(target.Steps) {
			criticals++
			out.discrepancies = append(out.discrepancies, datatypes.Discrepancy{
				Category:    datatypes.CategoryBehavioral,
				Kind:        KindNavigationDivergence,
				Severity:    datatypes.SeverityCritical,
				Element:     element,
				Description: "one side executed fewer steps than the other",
			})
			continue
		}

		s, t := source.Steps[i], target.Steps[i]
		if d, sev := compareStep(element, s, t); d != nil {
			out.discrepancies = append(out.discrepancies, *d)
			if sev == datatypes.SeverityCritical {
				criticals++
			} else {
				// Non-critical divergences still count the step as
				// matched for scoring.
				matched++
			}
			continue
		}
		matched++
	}

	out.score = clip01(float64(matched)/float64(total) - criticalPenalty*float64(criticals))
	return out
}

func compareStep(element string, s, t TraceStep) (*datatypes.Discrepancy, datatypes.Severity) {
	sVal := s.Outcome == OutcomeValidationError
	tVal := t.Outcome == OutcomeValidationError
	if sVal != tVal {
		return &datatypes.Discrepancy{
			Category: datatypes.CategoryBehavioral,
			Kind:     KindValidationAsymmetry,
			Severity: datatypes.SeverityCritical,
			Element:  element,
			Description: fmt.Sprintf("validation error on one side only (source %q, target %q)",
				s.Outcome, t.Outcome),
			SourceValue: s.Message, TargetValue: t.Message,
		}, datatypes.SeverityCritical
	}

	if s.Outcome != t.Outcome || s.StateFingerprint != t.StateFingerprint {
		return &datatypes.Discrepancy{
			Category: datatypes.CategoryBehavioral,
			Kind:     KindNavigationDivergence,
			Severity: datatypes.SeverityCritical,
			Element:  element,
			Description: fmt.Sprintf("page state diverged after %s (source %q, target %q)",
				s.Action, s.Outcome, t.Outcome),
			SourceValue: s.StateFingerprint, TargetValue: t.StateFingerprint,
		}, datatypes.SeverityCritical
	}

	if s.Message != t.Message {
		return &datatypes.Discrepancy{
			Category:    datatypes.CategoryBehavioral,
			Kind:        KindMessageTextChanged,
			Severity:    datatypes.SeverityWarning,
			Element:     element,
			Description: "message wording differs but the state class matches",
			SourceValue: s.Message, TargetValue: t.Message,
		}, datatypes.SeverityWarning
	}

	if slower(s.Duration, t.Duration) {
		return &datatypes.Discrepancy{
			Category: datatypes.CategoryBehavioral,
			Kind:     KindTimingDivergence,
			Severity: datatypes.SeverityInfo,
			Element:  element,
			Description: fmt.Sprintf("step timing differs by more than %.0fx (source %s, target %s)",
				timingFactor, s.Duration, t.Duration),
		}, datatypes.SeverityInfo
	}

	return nil, ""
}

func slower(a, b time.Duration) bool {
	if a <= 0 || b <= 0 {
		return false
	}
	ratio := float64(a) / float64(b)
	if ratio < 1 {
		ratio = 1 / ratio
	}
	return ratio > timingFactor
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round4(v float64) float64 {
	return float64(int(v*10000+0.5)) / 10000
}
