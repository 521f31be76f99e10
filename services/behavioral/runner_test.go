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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parityqa/parity/services/orchestrator/datatypes"
)

// stubProber replays canned traces keyed by URL, or fails for URLs
// listed in failing.
type stubProber struct {
	traces  map[string]Trace
	failing map[string]bool

	mu    sync.Mutex
	calls []string
}

func (p *stubProber) Run(ctx context.Context, baseURL string, scenario datatypes.Scenario, creds *Credentials) (Trace, error) {
	p.mu.Lock()
	p.calls = append(p.calls, baseURL)
	p.mu.Unlock()
	if p.failing[baseURL] {
		return Trace{}, fmt.Errorf("%w: browser crashed", datatypes.ErrProberFailure)
	}
	return p.traces[baseURL], nil
}

func step(outcome, fingerprint, message string) TraceStep {
	return TraceStep{Action: "click", Outcome: outcome, StateFingerprint: fingerprint, Message: message}
}

func config(scenarios ...datatypes.Scenario) datatypes.BehavioralConfig {
	return datatypes.BehavioralConfig{
		SourceURL: "http://source",
		TargetURL: "http://target",
		Scenarios: scenarios,
	}
}

func TestProbeIdenticalTraces(t *testing.T) {
	trace := Trace{Steps: []TraceStep{step(OutcomeOK, "abc", ""), step(OutcomeNavigated, "def", "")}}
	prober := &stubProber{traces: map[string]Trace{"http://source": trace, "http://target": trace}}
	runner := NewRunner(DefaultRunnerConfig(), prober, nil)

	result, err := runner.Probe(context.Background(), config(datatypes.Scenario{Name: "login"}), nil)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StageCompleted, result.Status)
	assert.InDelta(t, 1.0, result.Score, 1e-9)
	assert.Empty(t, result.Discrepancies)
	assert.Equal(t, 2, result.ElementsCompared)
	// Both sides probed.
	assert.Len(t, prober.calls, 2)
}

func TestProbeProberErrorScoresZeroAndContinues(t *testing.T) {
	good := Trace{Steps: []TraceStep{step(OutcomeOK, "abc", "")}}
	prober := &stubProber{
		traces:  map[string]Trace{"http://source": good, "http://target": good},
		failing: map[string]bool{},
	}
	failing := &flakyProber{inner: prober, failScenario: "broken"}
	result, err := NewRunner(DefaultRunnerConfig(), failing, nil).
		Probe(context.Background(), config(
			datatypes.Scenario{Name: "broken"},
			datatypes.Scenario{Name: "works"},
		), nil)
	require.NoError(t, err)

	assert.Equal(t, datatypes.StagePartial, result.Status)
	// Mean of 0 (errored) and 1 (clean).
	assert.InDelta(t, 0.5, result.Score, 1e-9)
	require.NotEmpty(t, result.Discrepancies)
	assert.Equal(t, KindScenarioError, result.Discrepancies[0].Kind)
	assert.Equal(t, datatypes.SeverityCritical, result.Discrepancies[0].Severity)
}

type flakyProber struct {
	inner        Prober
	failScenario string
}

func (p *flakyProber) Run(ctx context.Context, baseURL string, scenario datatypes.Scenario, creds *Credentials) (Trace, error) {
	if scenario.Name == p.failScenario {
		return Trace{}, fmt.Errorf("%w: no browser", datatypes.ErrProberFailure)
	}
	return p.inner.Run(ctx, baseURL, scenario, creds)
}

func TestCompareTracesValidationAsymmetry(t *testing.T) {
	source := Trace{Steps: []TraceStep{step(OutcomeOK, "abc", "")}}
	target := Trace{Steps: []TraceStep{step(OutcomeValidationError, "abc", "field required")}}

	out := compareTraces("signup", source, target)

	require.Len(t, out.discrepancies, 1)
	assert.Equal(t, KindValidationAsymmetry, out.discrepancies[0].Kind)
	assert.Equal(t, datatypes.SeverityCritical, out.discrepancies[0].Severity)
	// 0 matched of 1, minus the critical penalty, clipped.
	assert.InDelta(t, 0.0, out.score, 1e-9)
}

func TestCompareTracesNavigationDivergence(t *testing.T) {
	source := Trace{Steps: []TraceStep{step(OutcomeNavigated, "aaa", "")}}
	target := Trace{Steps: []TraceStep{step(OutcomeNavigated, "bbb", "")}}

	out := compareTraces("checkout", source, target)

	require.Len(t, out.discrepancies, 1)
	assert.Equal(t, KindNavigationDivergence, out.discrepancies[0].Kind)
	assert.Equal(t, datatypes.SeverityCritical, out.discrepancies[0].Severity)
}

func TestCompareTracesMessageTextWarningStillMatches(t *testing.T) {
	source := Trace{Steps: []TraceStep{step(OutcomeValidationError, "abc", "Email is required")}}
	target := Trace{Steps: []TraceStep{step(OutcomeValidationError, "abc", "Please enter an email")}}

	out := compareTraces("signup", source, target)

	require.Len(t, out.discrepancies, 1)
	assert.Equal(t, KindMessageTextChanged, out.discrepancies[0].Kind)
	assert.Equal(t, datatypes.SeverityWarning, out.discrepancies[0].Severity)
	assert.InDelta(t, 1.0, out.score, 1e-9)
}

func TestCompareTracesTimingInfo(t *testing.T) {
	s := step(OutcomeOK, "abc", "")
	s.Duration = 100 * time.Millisecond
	tt := step(OutcomeOK, "abc", "")
	tt.Duration = 300 * time.Millisecond

	out := compareTraces("browse", Trace{Steps: []TraceStep{s}}, Trace{Steps: []TraceStep{tt}})

	require.Len(t, out.discrepancies, 1)
	assert.Equal(t, KindTimingDivergence, out.discrepancies[0].Kind)
	assert.Equal(t, datatypes.SeverityInfo, out.discrepancies[0].Severity)
	assert.InDelta(t, 1.0, out.score, 1e-9)
}

func TestCompareTracesLengthMismatch(t *testing.T) {
	source := Trace{Steps: []TraceStep{step(OutcomeOK, "a", ""), step(OutcomeOK, "b", "")}}
	target := Trace{Steps: []TraceStep{step(OutcomeOK, "a", "")}}

	out := compareTraces("flow", source, target)

	assert.Equal(t, 2, out.steps)
	require.Len(t, out.discrepancies, 1)
	assert.Equal(t, datatypes.SeverityCritical, out.discrepancies[0].Severity)
	// 1 matched of 2, minus one critical penalty.
	assert.InDelta(t, 0.3, out.score, 1e-9)
}

func TestScenarioScorePenalty(t *testing.T) {
	// 5 steps, 1 critical: 4/5 - 0.2 = 0.6.
	steps := func(fps ...string) Trace {
		var tr Trace
		for _, fp := range fps {
			tr.Steps = append(tr.Steps, step(OutcomeOK, fp, ""))
		}
		return tr
	}
	out := compareTraces("flow",
		steps("a", "b", "c", "d", "e"),
		steps("a", "b", "c", "d", "X"))
	assert.InDelta(t, 0.6, out.score, 1e-9)
}

// =============================================================================
// Credentials
// =============================================================================

func TestCredentialsRedaction(t *testing.T) {
	creds := NewCredentials("alice", "s3cret")
	defer creds.Destroy()

	assert.NotContains(t, creds.String(), "s3cret")
	assert.Contains(t, creds.String(), "alice")
	assert.Equal(t, "[REDACTED]", redactInput(PlaceholderPassword))
	assert.Equal(t, "plain", redactInput("plain"))
}

func TestCredentialsSubstitution(t *testing.T) {
	creds := NewCredentials("alice", "s3cret")
	defer creds.Destroy()

	var got string
	err := creds.substitute("user={username} pass={password}", func(resolved string) error {
		got = resolved
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "user=alice pass=s3cret", got)

	err = creds.substitute("no placeholders", func(resolved string) error {
		got = resolved
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "no placeholders", got)
}

func TestNilCredentialsSubstitution(t *testing.T) {
	var creds *Credentials
	var got string
	err := creds.substitute("user={username}", func(resolved string) error {
		got = resolved
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "user=", got)
}

// =============================================================================
// Templates
// =============================================================================

func TestDeriveStepsLogin(t *testing.T) {
	steps := DeriveSteps(datatypes.Scenario{Name: "Login flow"})
	require.NotEmpty(t, steps)
	assert.Equal(t, "navigate", steps[0].Action)
	var sawPassword bool
	for _, s := range steps {
		if s.Input == PlaceholderPassword {
			sawPassword = true
		}
	}
	assert.True(t, sawPassword, "login template should fill the password placeholder")
}

func TestDeriveStepsDefaultSmoke(t *testing.T) {
	steps := DeriveSteps(datatypes.Scenario{Name: "homepage"})
	require.Len(t, steps, 2)
	assert.Equal(t, "navigate", steps[0].Action)
	assert.Equal(t, "assert", steps[1].Action)
}

func TestResolveURL(t *testing.T) {
	assert.Equal(t, "http://a/login", resolveURL("http://a/", "/login"))
	assert.Equal(t, "http://a/login", resolveURL("http://a", "login"))
	assert.Equal(t, "http://b/x", resolveURL("http://a", "http://b/x"))
	assert.Equal(t, "http://a", resolveURL("http://a", ""))
}
