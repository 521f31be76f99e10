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
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/parityqa/parity/services/orchestrator/datatypes"
)

// Prober executes one scenario against one live URL and returns the
// interaction trace.
type Prober interface {
	Run(ctx context.Context, baseURL string, scenario datatypes.Scenario, creds *Credentials) (Trace, error)
}

// ProberConfig holds browser configuration for the rod prober.
type ProberConfig struct {
	// DebuggerURL attaches to an already running Chrome; empty launches
	// a headless instance.
	DebuggerURL string

	Headless          bool
	ViewportWidth     int
	ViewportHeight    int
	NavigationTimeout time.Duration
	StepTimeout       time.Duration

	Logger *slog.Logger
}

// DefaultProberConfig returns sensible defaults.
func DefaultProberConfig() ProberConfig {
	return ProberConfig{
		Headless:          true,
		ViewportWidth:     1920,
		ViewportHeight:    1080,
		NavigationTimeout: 30 * time.Second,
		StepTimeout:       10 * time.Second,
	}
}

// validationSelector matches the common spellings of inline validation
// and alert messages.
const validationSelector = `.error, .errors, .invalid-feedback, .validation-error, [role="alert"], .alert-danger`

// RodProber drives a shared headless Chrome; each Run gets its own
// incognito context and page.
type RodProber struct {
	cfg    ProberConfig
	logger *slog.Logger

	mu      sync.Mutex
	browser *rod.Browser
}

// NewRodProber builds the prober. The browser launches lazily on the
// first Run.
func NewRodProber(cfg ProberConfig) *RodProber {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RodProber{cfg: cfg, logger: logger}
}

func (p *RodProber) ensureBrowser(ctx context.Context) (*rod.Browser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.browser != nil {
		if _, err := p.browser.Version(); err == nil {
			return p.browser, nil
		}
		p.logger.Warn("stale browser connection, relaunching")
		_ = p.browser.Close()
		p.browser = nil
	}

	controlURL := p.cfg.DebuggerURL
	if controlURL == "" {
		u, err := launcher.New().Headless(p.cfg.Headless).Launch()
		if err != nil {
			return nil, fmt.Errorf("%w: launch chrome: %v", datatypes.ErrProberFailure, err)
		}
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("%w: connect to chrome: %v", datatypes.ErrProberFailure, err)
	}
	p.browser = browser
	return browser, nil
}

// Shutdown closes the shared browser.
func (p *RodProber) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.browser == nil {
		return nil
	}
	err := p.browser.Close()
	p.browser = nil
	return err
}

// Run executes the scenario's steps in order, capturing a state
// fingerprint after each one. Step-level failures are recorded in the
// trace and do not abort the run; only browser-level failures return an
// error.
func (p *RodProber) Run(ctx context.Context, baseURL string, scenario datatypes.Scenario, creds *Credentials) (Trace, error) {
	browser, err := p.ensureBrowser(context.WithoutCancel(ctx))
	if err != nil {
		return Trace{}, err
	}

	incognito, err := browser.Incognito()
	if err != nil {
		return Trace{}, fmt.Errorf("%w: incognito context: %v", datatypes.ErrProberFailure, err)
	}
	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		return Trace{}, fmt.Errorf("%w: create page: %v", datatypes.ErrProberFailure, err)
	}
	defer page.Close()

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             p.cfg.ViewportWidth,
		Height:            p.cfg.ViewportHeight,
		DeviceScaleFactor: 1.0,
	}).Call(page); err != nil {
		p.logger.Warn("viewport override failed", "error", err)
	}

	steps := scenario.Steps
	if len(steps) == 0 {
		steps = DeriveSteps(scenario)
	}

	trace := Trace{Scenario: scenario.Name, URL: baseURL, Steps: make([]TraceStep, 0, len(steps))}
	for _, step := range steps {
		select {
		case <-ctx.Done():
			return trace, fmt.Errorf("%w: scenario %q", datatypes.ErrDeadlineExceeded, scenario.Name)
		default:
		}
		trace.Steps = append(trace.Steps, p.runStep(ctx, page, baseURL, step, creds))
	}
	return trace, nil
}

func (p *RodProber) runStep(ctx context.Context, page *rod.Page, baseURL string, step datatypes.ScenarioStep, creds *Credentials) TraceStep {
	started := time.Now()
	recorded := TraceStep{
		Action:   step.Action,
		Selector: step.Selector,
		Input:    redactInput(step.Input),
	}

	outcome, err := p.execute(ctx, page, baseURL, step, creds)
	if err != nil {
		p.logger.Debug("step failed", "action", step.Action, "selector", step.Selector, "error", err)
		if outcome == "" {
			outcome = OutcomeElementMissing
		}
	}

	state := p.observe(page)
	if outcome == OutcomeOK && state.ValidationCount > 0 {
		outcome = OutcomeValidationError
	}

	recorded.Outcome = outcome
	recorded.Message = state.Message
	recorded.StateFingerprint = state.Fingerprint()
	recorded.Duration = time.Since(started)
	return recorded
}

func (p *RodProber) execute(ctx context.Context, page *rod.Page, baseURL string, step datatypes.ScenarioStep, creds *Credentials) (string, error) {
	timed := page.Context(ctx).Timeout(p.cfg.StepTimeout)

	switch step.Action {
	case "navigate":
		target := resolveURL(baseURL, step.Input)
		if err := timed.Timeout(p.cfg.NavigationTimeout).Navigate(target); err != nil {
			return OutcomeElementMissing, err
		}
		if err := timed.WaitLoad(); err != nil {
			return OutcomeNavigated, err
		}
		return OutcomeNavigated, nil

	case "click", "submit":
		selector := step.Selector
		if selector == "" && step.Action == "submit" {
			selector = `[type="submit"]`
		}
		el, err := timed.Element(selector)
		if err != nil {
			return OutcomeElementMissing, err
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return OutcomeElementMissing, err
		}
		_ = timed.WaitLoad()
		return OutcomeOK, nil

	case "fill":
		el, err := timed.Element(step.Selector)
		if err != nil {
			return OutcomeElementMissing, err
		}
		err = creds.substitute(step.Input, func(resolved string) error {
			if err := el.SelectAllText(); err == nil {
				_ = el.Input("")
			}
			return el.Input(resolved)
		})
		if err != nil {
			return OutcomeElementMissing, err
		}
		return OutcomeOK, nil

	case "assert":
		el, err := timed.Element(step.Selector)
		if err != nil {
			return OutcomeAssertFailed, err
		}
		if step.Expect != "" {
			text, terr := el.Text()
			if terr != nil || !strings.Contains(text, step.Expect) {
				return OutcomeAssertFailed, fmt.Errorf("expected %q", step.Expect)
			}
		}
		return OutcomeOK, nil

	default:
		return OutcomeElementMissing, fmt.Errorf("unknown action %q", step.Action)
	}
}

// observe captures the page state class after a step. Failures degrade
// to an empty state rather than aborting the scenario.
func (p *RodProber) observe(page *rod.Page) pageState {
	var state pageState
	if info, err := page.Info(); err == nil {
		if u, perr := url.Parse(info.URL); perr == nil {
			state.Path = u.Path
		}
		state.Title = info.Title
	}
	if els, err := page.Elements(validationSelector); err == nil {
		state.ValidationCount = len(els)
		for _, el := range els {
			if text, terr := el.Text(); terr == nil && strings.TrimSpace(text) != "" {
				state.Message = strings.TrimSpace(text)
				break
			}
		}
	}
	return state
}

// resolveURL joins a step path onto the side's base URL; absolute
// inputs pass through.
func resolveURL(baseURL, input string) string {
	if input == "" {
		return baseURL
	}
	if strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://") {
		return input
	}
	return strings.TrimSuffix(baseURL, "/") + "/" + strings.TrimPrefix(input, "/")
}
