// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package orchestrator assembles the validation service: the stage
// pipeline executed per session and the HTTP server wiring everything
// together.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/parityqa/parity/services/analysis"
	"github.com/parityqa/parity/services/behavioral"
	"github.com/parityqa/parity/services/comparator"
	"github.com/parityqa/parity/services/llm"
	"github.com/parityqa/parity/services/orchestrator/datatypes"
	"github.com/parityqa/parity/services/orchestrator/observability"
	"github.com/parityqa/parity/services/session"
	"github.com/parityqa/parity/services/synthesis"
)

// Progress checkpoints reported while a session moves through the
// pipeline. Analysis and comparison split the static stage's share.
const (
	progressAnalysis   = 10
	progressComparison = 40
	progressBehavioral = 70
	progressSynthesis  = 95
)

// Pipeline runs the validation stages for one session: static analysis
// and comparison, the optional behavioral probe, and synthesis. It
// implements the scheduler's pipeline contract.
type Pipeline struct {
	store      *session.Store
	analyzer   *analysis.StageRunner
	comparator *comparator.Comparator
	behavioral *behavioral.Runner
	vault      *behavioral.Vault
	budget     *llm.Budget
	metrics    *observability.ValidationMetrics
	logger     *slog.Logger
}

// NewPipeline wires the stage services. budget and metrics may be nil.
func NewPipeline(
	store *session.Store,
	analyzer *analysis.StageRunner,
	cmp *comparator.Comparator,
	runner *behavioral.Runner,
	vault *behavioral.Vault,
	budget *llm.Budget,
	metrics *observability.ValidationMetrics,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:      store,
		analyzer:   analyzer,
		comparator: cmp,
		behavioral: runner,
		vault:      vault,
		budget:     budget,
		metrics:    metrics,
		logger:     logger,
	}
}

// Run executes the stages in order and folds their results into the
// unified verdict. Stage failures degrade the run; only context
// cancellation aborts it.
func (p *Pipeline) Run(ctx context.Context, sess *datatypes.Session) (*datatypes.UnifiedResult, error) {
	id := sess.RequestID

	// Credentials leave the vault exactly once per run and die with it.
	creds := p.vault.Take(id)
	if creds != nil {
		defer creds.Destroy()
	}
	if p.budget != nil {
		defer p.budget.Release(id)
	}

	var static, behavioralResult *datatypes.StageResult

	if sess.Scope.IncludesStatic() {
		result, err := p.runStatic(ctx, sess)
		if err != nil {
			return nil, err
		}
		static = result
	}

	if sess.Behavioral != nil {
		result, err := p.runBehavioral(ctx, sess, creds)
		if err != nil {
			return nil, err
		}
		behavioralResult = result
	}

	p.advance(ctx, id, "synthesis", progressSynthesis)

	var tokens int64
	var cost float64
	if p.budget != nil {
		tokens, cost = p.budget.Spent(id)
	}

	result := synthesis.Synthesize(synthesis.Input{
		RequestID:  id,
		Scope:      sess.Scope,
		SourceTech: sess.SourceTech,
		TargetTech: sess.TargetTech,
		Static:     static,
		Behavioral: behavioralResult,
		TokensUsed: int(tokens),
		CostUSD:    cost,
	})

	if p.metrics != nil {
		p.metrics.RecordResult(result)
	}
	p.logger.Info("pipeline finished",
		"request_id", id,
		"status", result.Status,
		"score", result.Score,
		"discrepancies", len(result.Discrepancies))

	return &result, nil
}

// runStatic analyzes both bundles and compares the representations. An
// analysis failure yields an errored stage rather than aborting the
// run, so a behavioral-capable session can still produce a partial
// verdict.
func (p *Pipeline) runStatic(ctx context.Context, sess *datatypes.Session) (*datatypes.StageResult, error) {
	id := sess.RequestID
	p.advance(ctx, id, "analysis", progressAnalysis)

	started := time.Now().UTC()
	source, target, err := p.analyzer.AnalyzeBoth(ctx, sess)
	p.recordDuration("analysis", started)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Error("static analysis failed", "request_id", id, "error", err)
		p.log(ctx, id, "error", "analysis", "static analysis failed: "+err.Error())
		return &datatypes.StageResult{
			Stage:      datatypes.StageStatic,
			Status:     datatypes.StageErrored,
			StartedAt:  started,
			FinishedAt: time.Now().UTC(),
			Error:      err.Error(),
		}, nil
	}
	p.log(ctx, id, "info", "analysis", "both bundles analyzed")

	p.advance(ctx, id, "comparison", progressComparison)
	compareStarted := time.Now().UTC()
	result := p.comparator.Compare(ctx, source, target, sess.Scope, id)
	p.recordDuration("comparison", compareStarted)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	p.log(ctx, id, "info", "comparison", "static comparison finished")
	return &result, nil
}

// runBehavioral probes both live systems with the session's scenarios.
func (p *Pipeline) runBehavioral(ctx context.Context, sess *datatypes.Session, creds *behavioral.Credentials) (*datatypes.StageResult, error) {
	id := sess.RequestID
	p.advance(ctx, id, "behavioral", progressBehavioral)

	started := time.Now().UTC()
	result, err := p.behavioral.Probe(ctx, *sess.Behavioral, creds)
	p.recordDuration("behavioral", started)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		p.logger.Error("behavioral stage failed", "request_id", id, "error", err)
		p.log(ctx, id, "error", "behavioral", "behavioral probing failed: "+err.Error())
		return &datatypes.StageResult{
			Stage:      datatypes.StageBehavioral,
			Status:     datatypes.StageErrored,
			StartedAt:  started,
			FinishedAt: time.Now().UTC(),
			Error:      err.Error(),
		}, nil
	}
	p.log(ctx, id, "info", "behavioral", "behavioral probing finished")
	return &result, nil
}

// advance moves the session's phase marker. Progress failures are
// cosmetic and only logged.
func (p *Pipeline) advance(ctx context.Context, requestID, phase string, percent int) {
	if err := p.store.UpdateProgress(ctx, requestID, phase, percent); err != nil {
		p.logger.Warn("progress update failed",
			"request_id", requestID, "phase", phase, "error", err)
	}
}

// log appends a session log entry, best effort.
func (p *Pipeline) log(ctx context.Context, requestID, level, phase, message string) {
	entry := datatypes.LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Phase:     phase,
		Message:   message,
	}
	if err := p.store.AppendLog(ctx, requestID, entry); err != nil {
		p.logger.Warn("session log append failed",
			"request_id", requestID, "error", err)
	}
}

func (p *Pipeline) recordDuration(stage string, started time.Time) {
	if p.metrics != nil {
		p.metrics.RecordStageDuration(stage, time.Since(started).Seconds())
	}
}
