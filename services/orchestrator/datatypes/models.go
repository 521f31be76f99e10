// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the shared data model for the migration
// validation engine: technology contexts, validation scopes, the unified
// abstract representation extracted from a system, and the discrepancy
// and result types produced by the pipeline.
//
// Everything in this package is a plain value type. Behavior lives in the
// services that operate on these types (analysis, comparator, behavioral,
// synthesis, session).
package datatypes

import (
	"fmt"
	"time"
)

// =============================================================================
// Technology & Scope
// =============================================================================

// TechnologyContext identifies one side of a migration (source or target).
type TechnologyContext struct {
	// Name is the technology identifier, e.g. "python-flask", "go-gin".
	Name string `json:"name"`

	// Version is the optional technology/framework version.
	Version string `json:"version,omitempty"`

	// Framework carries optional framework metadata (router, ORM, etc.).
	Framework map[string]string `json:"framework,omitempty"`
}

// Scope selects which axes of the migration a validation exercises.
type Scope string

const (
	ScopeUI            Scope = "ui"
	ScopeBackendLogic  Scope = "backend-logic"
	ScopeDataStructure Scope = "data-structure"
	ScopeAPI           Scope = "api"
	ScopeBusinessRules Scope = "business-rules"
	ScopeBehavioral    Scope = "behavioral"
	ScopeFull          Scope = "full"
)

// AllScopes lists every supported validation scope.
var AllScopes = []Scope{
	ScopeUI, ScopeBackendLogic, ScopeDataStructure, ScopeAPI,
	ScopeBusinessRules, ScopeBehavioral, ScopeFull,
}

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	for _, known := range AllScopes {
		if s == known {
			return true
		}
	}
	return false
}

// RequiresBehavioral reports whether the scope mandates a behavioral stage.
//
// Sessions with a behavioral-requiring scope must carry at least one
// scenario and both live URLs; for all other scopes URLs are optional.
func (s Scope) RequiresBehavioral() bool {
	return s == ScopeBehavioral || s == ScopeFull
}

// IncludesStatic reports whether the scope runs the static stage at all.
func (s Scope) IncludesStatic() bool {
	return s != ScopeBehavioral
}

// =============================================================================
// Input bundle
// =============================================================================

// Input bundle ceilings. A file at exactly the ceiling is accepted; one
// byte over is rejected.
const (
	MaxBundleBytes = 100 << 20 // 100 MiB total per side
	MaxFileBytes   = 10 << 20  // 10 MiB per file
	MaxBundleFiles = 50
)

// CodeFile is one source artifact in an input bundle.
type CodeFile struct {
	Path     string `json:"path"`
	Language string `json:"language"`
	Content  []byte `json:"-"`

	// Hash is the content fingerprint, filled by the fingerprint service.
	Hash string `json:"hash,omitempty"`
}

// Screenshot is one UI capture in an input bundle.
type Screenshot struct {
	Path    string `json:"path"`
	Content []byte `json:"-"`
	Hash    string `json:"hash,omitempty"`
}

// InputBundle holds the artifacts supplied for one side of the migration.
// A bundle may mix code files, screenshots, and a live URL.
type InputBundle struct {
	Files       []CodeFile   `json:"files,omitempty"`
	Screenshots []Screenshot `json:"screenshots,omitempty"`
	URL         string       `json:"url,omitempty"`
}

// Empty reports whether the bundle carries no analyzable artifacts.
func (b InputBundle) Empty() bool {
	return len(b.Files) == 0 && len(b.Screenshots) == 0 && b.URL == ""
}

// Validate enforces the bundle ceilings.
func (b InputBundle) Validate() error {
	if len(b.Files) > MaxBundleFiles {
		return fmt.Errorf("%w: bundle has %d files, limit is %d",
			ErrValidationInput, len(b.Files), MaxBundleFiles)
	}
	var total int
	for _, f := range b.Files {
		if len(f.Content) > MaxFileBytes {
			return fmt.Errorf("%w: file %q is %d bytes, per-file limit is %d",
				ErrValidationInput, f.Path, len(f.Content), MaxFileBytes)
		}
		total += len(f.Content)
	}
	for _, s := range b.Screenshots {
		if len(s.Content) > MaxFileBytes {
			return fmt.Errorf("%w: screenshot %q is %d bytes, per-file limit is %d",
				ErrValidationInput, s.Path, len(s.Content), MaxFileBytes)
		}
		total += len(s.Content)
	}
	if total > MaxBundleBytes {
		return fmt.Errorf("%w: bundle is %d bytes, limit is %d",
			ErrValidationInput, total, MaxBundleBytes)
	}
	return nil
}

// =============================================================================
// Abstract representation
// =============================================================================

// Parameter is a named, typed function parameter.
type Parameter struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// BackendFunction is a function or method extracted from one side.
type BackendFunction struct {
	Name       string      `json:"name"`
	Parameters []Parameter `json:"parameters,omitempty"`
	ReturnType string      `json:"return_type,omitempty"`

	// HTTPMethod and Route are set when the function is a request handler.
	HTTPMethod string `json:"http_method,omitempty"`
	Route      string `json:"route,omitempty"`

	// LogicSummary is a short natural-language description of what the
	// function does, used by the business-logic comparison.
	LogicSummary string `json:"logic_summary,omitempty"`

	// Complexity is a coarse band: "low", "medium", "high".
	Complexity string `json:"complexity,omitempty"`

	// AnalysisMethod records how the element was extracted
	// ("ast", "regex-fallback", "vision-model").
	AnalysisMethod string `json:"analysis_method,omitempty"`
}

// DataField is one field of a data structure.
type DataField struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Required    bool     `json:"required"`
	Constraints []string `json:"constraints,omitempty"`
}

// DataStructure is a model, table, record, or similar extracted structure.
type DataStructure struct {
	Name           string      `json:"name"`
	Kind           string      `json:"kind,omitempty"` // class, struct, table, schema
	Fields         []DataField `json:"fields,omitempty"`
	AnalysisMethod string      `json:"analysis_method,omitempty"`
}

// APIEndpoint is one HTTP route extracted from one side.
type APIEndpoint struct {
	Path           string   `json:"path"`
	Methods        []string `json:"methods,omitempty"`
	Handler        string   `json:"handler,omitempty"`
	AnalysisMethod string   `json:"analysis_method,omitempty"`
}

// UIElement is one interface element extracted from code or a screenshot.
type UIElement struct {
	Kind           string            `json:"kind"` // input, button, label, table, ...
	ID             string            `json:"id,omitempty"`
	Text           string            `json:"text,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	AnalysisMethod string            `json:"analysis_method,omitempty"`
}

// Key returns a stable identifier for the element within a representation.
func (e UIElement) Key() string {
	if e.ID != "" {
		return e.Kind + "#" + e.ID
	}
	if e.Text != "" {
		text := e.Text
		if len(text) > 50 {
			text = text[:50]
		}
		return e.Kind + ":" + text
	}
	return e.Kind + ":anonymous"
}

// Representation is the unified abstract view of one side of a migration.
//
// Element order is preserved as emitted by the analyzers. Consumers must
// not rely on position for identity, but the comparator uses input order
// to break pairing ties.
type Representation struct {
	Functions      []BackendFunction `json:"backend_functions,omitempty"`
	DataStructures []DataStructure   `json:"data_structures,omitempty"`
	Endpoints      []APIEndpoint     `json:"api_endpoints,omitempty"`
	UIElements     []UIElement       `json:"ui_elements,omitempty"`

	// Partial is set when some artifacts failed analysis and the
	// representation covers only the remainder.
	Partial bool `json:"partial,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// Merge appends other's elements to r in input order. Nothing is
// deduplicated here; pairing and dedup are the comparator's job.
func (r *Representation) Merge(other Representation) {
	r.Functions = append(r.Functions, other.Functions...)
	r.DataStructures = append(r.DataStructures, other.DataStructures...)
	r.Endpoints = append(r.Endpoints, other.Endpoints...)
	r.UIElements = append(r.UIElements, other.UIElements...)
	if other.Partial {
		r.Partial = true
	}
}

// Empty reports whether the representation holds no elements.
func (r Representation) Empty() bool {
	return len(r.Functions) == 0 && len(r.DataStructures) == 0 &&
		len(r.Endpoints) == 0 && len(r.UIElements) == 0
}

// ElementCount returns the total number of elements across categories.
func (r Representation) ElementCount() int {
	return len(r.Functions) + len(r.DataStructures) + len(r.Endpoints) + len(r.UIElements)
}

// =============================================================================
// Behavioral configuration
// =============================================================================

// Scenario describes one behavioral test scenario to execute against a
// live URL. When Steps is empty the prober derives actions from the
// scenario description.
type Scenario struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Steps       []ScenarioStep `json:"steps,omitempty"`
	Timeout     time.Duration  `json:"timeout,omitempty"`
}

// ScenarioStep is one scripted action within a scenario.
type ScenarioStep struct {
	Action   string `json:"action"` // navigate, click, fill, submit, assert
	Selector string `json:"selector,omitempty"`
	Input    string `json:"input,omitempty"`
	Expect   string `json:"expect,omitempty"`
}

// BehavioralConfig carries the behavioral stage parameters for a session.
//
// Credentials are intentionally absent: they are held in a sealed enclave
// for the lifetime of the run and never persisted or logged.
type BehavioralConfig struct {
	SourceURL string     `json:"source_url"`
	TargetURL string     `json:"target_url"`
	Scenarios []Scenario `json:"scenarios"`

	// HasCredentials records that a credentials record was supplied,
	// without exposing it.
	HasCredentials bool `json:"has_credentials,omitempty"`
}
