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
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/parityqa/parity/services/fingerprint"
	"github.com/parityqa/parity/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("parity.analysis")

// perSideParallelism bounds concurrent artifact analysis within one side.
const perSideParallelism = 4

// Config tunes the stage runner.
type Config struct {
	// Parallelism is the per-side concurrent artifact bound.
	Parallelism int

	// SummarizeScopes enables logic summarization for these scopes.
	SummarizeScopes []datatypes.Scope
}

// DefaultConfig returns the production analysis policy.
func DefaultConfig() Config {
	return Config{
		Parallelism: perSideParallelism,
		SummarizeScopes: []datatypes.Scope{
			datatypes.ScopeBusinessRules, datatypes.ScopeBackendLogic, datatypes.ScopeFull,
		},
	}
}

// StageRunner executes the static analysis stage: every artifact routed
// through the registry, results cached by content fingerprint, merged in
// input order.
type StageRunner struct {
	cfg        Config
	registry   *Registry
	cache      *fingerprint.Cache
	visual     *VisualAnalyzer
	summarizer *Summarizer
	logger     *slog.Logger
}

// NewStageRunner builds the runner. cache, visual, and summarizer may be
// nil, disabling the respective feature.
func NewStageRunner(cfg Config, registry *Registry, cache *fingerprint.Cache, visual *VisualAnalyzer, summarizer *Summarizer, logger *slog.Logger) *StageRunner {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = perSideParallelism
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StageRunner{
		cfg:        cfg,
		registry:   registry,
		cache:      cache,
		visual:     visual,
		summarizer: summarizer,
		logger:     logger,
	}
}

// AnalyzeBoth runs source and target analysis in parallel.
func (r *StageRunner) AnalyzeBoth(ctx context.Context, session *datatypes.Session) (source, target datatypes.Representation, err error) {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		source, err = r.AnalyzeBundle(ctx, "source", session.Source, session.Scope, session.RequestID)
		return err
	})
	g.Go(func() error {
		var err error
		target, err = r.AnalyzeBundle(ctx, "target", session.Target, session.Scope, session.RequestID)
		return err
	})
	err = g.Wait()
	return source, target, err
}

// AnalyzeBundle analyzes every artifact of one side with bounded
// parallelism. Individual artifact failures are logged and mark the
// result partial; the bundle fails only when every artifact fails.
func (r *StageRunner) AnalyzeBundle(ctx context.Context, side string, bundle datatypes.InputBundle, scope datatypes.Scope, sessionID string) (datatypes.Representation, error) {
	ctx, span := tracer.Start(ctx, "StageRunner.AnalyzeBundle")
	defer span.End()
	span.SetAttributes(
		attribute.String("analysis.side", side),
		attribute.Int("analysis.files", len(bundle.Files)),
		attribute.Int("analysis.screenshots", len(bundle.Screenshots)),
	)

	total := len(bundle.Files) + len(bundle.Screenshots)
	if total == 0 {
		return datatypes.Representation{}, nil
	}

	// Results keep input positions so the merged representation is
	// deterministic regardless of completion order.
	fileReps := make([]*datatypes.Representation, len(bundle.Files))
	shotReps := make([]*datatypes.Representation, len(bundle.Screenshots))
	var mu sync.Mutex
	var failures int

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Parallelism)

	for i := range bundle.Files {
		i := i
		g.Go(func() error {
			rep, err := r.analyzeFile(gctx, bundle.Files[i], scope, sessionID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				r.logger.Warn("artifact analysis failed",
					"side", side, "path", bundle.Files[i].Path, "error", err)
				return nil // per-file errors are not fatal
			}
			fileReps[i] = &rep
			return nil
		})
	}

	for i := range bundle.Screenshots {
		i := i
		g.Go(func() error {
			if r.visual == nil {
				mu.Lock()
				failures++
				mu.Unlock()
				r.logger.Warn("no visual analyzer configured, skipping screenshot",
					"side", side, "path", bundle.Screenshots[i].Path)
				return nil
			}
			rep, err := r.visual.AnalyzeScreenshot(gctx, bundle.Screenshots[i], sessionID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				r.logger.Warn("screenshot analysis failed",
					"side", side, "path", bundle.Screenshots[i].Path, "error", err)
				return nil
			}
			shotReps[i] = &rep
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return datatypes.Representation{}, err
	}

	if failures == total {
		return datatypes.Representation{}, fmt.Errorf(
			"all %d artifacts failed analysis for %s side", total, side)
	}

	var merged datatypes.Representation
	for _, rep := range fileReps {
		if rep != nil {
			merged.Merge(*rep)
		}
	}
	for _, rep := range shotReps {
		if rep != nil {
			merged.Merge(*rep)
		}
	}
	merged.Partial = failures > 0
	return merged, nil
}

// analyzeFile runs one artifact through the registry, consulting the
// fingerprint cache first.
func (r *StageRunner) analyzeFile(ctx context.Context, file datatypes.CodeFile, scope datatypes.Scope, sessionID string) (datatypes.Representation, error) {
	if file.Language == "" {
		file.Language = DetectLanguage(file.Path)
	}
	if file.Hash == "" {
		file.Hash = fingerprint.File(file.Path, file.Language, file.Content)
	}

	compute := func(ctx context.Context) ([]byte, error) {
		analyzer := r.registry.ForLanguage(file.Language)
		rep, err := analyzer.Analyze(ctx, file, scope)
		if err != nil {
			return nil, err
		}
		if r.summarizer != nil && r.shouldSummarize(scope) && len(rep.Functions) > 0 {
			rep.Functions = r.summarizer.Summarize(ctx, file, rep.Functions, sessionID)
		}
		return json.Marshal(rep)
	}

	var raw []byte
	var err error
	if r.cache != nil {
		key := fingerprint.Analysis(file.Hash, scope)
		raw, _, err = r.cache.GetOrCompute(ctx, key, compute)
	} else {
		raw, err = compute(ctx)
	}
	if err != nil {
		return datatypes.Representation{}, err
	}

	var rep datatypes.Representation
	if err := json.Unmarshal(raw, &rep); err != nil {
		return datatypes.Representation{}, fmt.Errorf("decode cached analysis: %w", err)
	}
	return rep, nil
}

func (r *StageRunner) shouldSummarize(scope datatypes.Scope) bool {
	for _, s := range r.cfg.SummarizeScopes {
		if s == scope {
			return true
		}
	}
	return false
}
