// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package behavioral drives both migration sides of a live application
// through the same interaction scenarios and compares the resulting
// traces step by step.
package behavioral

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Step outcomes recorded while executing a scenario.
const (
	OutcomeOK              = "ok"
	OutcomeNavigated       = "navigated"
	OutcomeValidationError = "validation-error"
	OutcomeElementMissing  = "element-missing"
	OutcomeAssertFailed    = "assert-failed"
)

// TraceStep is one executed action with its observed result.
type TraceStep struct {
	Action   string `json:"action"`
	Selector string `json:"selector,omitempty"`

	// Input is the typed value, already redacted for secrets.
	Input string `json:"input,omitempty"`

	// Outcome classifies what happened; Message carries any visible
	// validation or status text observed after the step.
	Outcome string `json:"outcome"`
	Message string `json:"message,omitempty"`

	// StateFingerprint condenses the page state after the step: URL
	// path, title, and the validation-message census.
	StateFingerprint string `json:"state_fingerprint"`

	Duration time.Duration `json:"duration"`
}

// Trace is the ordered record of one scenario run against one side.
type Trace struct {
	Scenario string      `json:"scenario"`
	URL      string      `json:"url"`
	Steps    []TraceStep `json:"steps"`
}

// pageState is the observable page condition a fingerprint condenses.
type pageState struct {
	Path            string
	Title           string
	ValidationCount int
	Message         string
}

// Fingerprint hashes the state class. Message text is deliberately
// excluded: differing wording with the same state class is a warning,
// not a state divergence.
func (s pageState) Fingerprint() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%d",
		strings.ToLower(s.Path), strings.ToLower(s.Title), s.ValidationCount)))
	return hex.EncodeToString(sum[:8])
}
