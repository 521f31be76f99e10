// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package analysis turns input bundles into abstract representations.
//
// Each artifact is routed to a language analyzer through the registry:
// tree-sitter based analyzers for languages with grammars, a regex
// fallback for everything else, and a vision-model analyzer for
// screenshots. Results are cached per file fingerprint and merged in
// input order by the stage runner.
package analysis

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/parityqa/parity/services/orchestrator/datatypes"
)

// Analysis method labels recorded on every extracted element.
const (
	MethodAST    = "ast"
	MethodRegex  = "regex-fallback"
	MethodVision = "vision-model"
)

// Analyzer extracts the abstract representation from one code file.
// Implementations must be safe for concurrent use.
type Analyzer interface {
	// Languages lists the language identifiers this analyzer handles.
	Languages() []string

	// Analyze extracts the elements relevant to scope from one file.
	Analyze(ctx context.Context, file datatypes.CodeFile, scope datatypes.Scope) (datatypes.Representation, error)
}

// =============================================================================
// Registry
// =============================================================================

// Registry maps language identifiers to analyzers, with a fallback for
// languages nothing claims.
type Registry struct {
	mu       sync.RWMutex
	byLang   map[string]Analyzer
	fallback Analyzer
}

// NewRegistry creates a registry with fallback as the catch-all.
func NewRegistry(fallback Analyzer) *Registry {
	return &Registry{
		byLang:   make(map[string]Analyzer),
		fallback: fallback,
	}
}

// Register claims every language the analyzer lists. Later registrations
// win on conflict.
func (r *Registry) Register(a Analyzer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, lang := range a.Languages() {
		r.byLang[strings.ToLower(lang)] = a
	}
}

// ForLanguage returns the analyzer for a language, falling back to the
// regex analyzer for unclaimed languages.
func (r *Registry) ForLanguage(language string) Analyzer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.byLang[strings.ToLower(language)]; ok {
		return a
	}
	return r.fallback
}

// Languages lists every registered language, sorted.
func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	langs := make([]string, 0, len(r.byLang))
	for lang := range r.byLang {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// =============================================================================
// Language detection
// =============================================================================

var extensionLanguages = map[string]string{
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascript",
	".mjs":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".go":   "go",
	".java": "java",
	".rb":   "ruby",
	".php":  "php",
	".cs":   "csharp",
	".html": "html",
	".sql":  "sql",
}

// DetectLanguage guesses a file's language from its extension when the
// submitter did not declare one.
func DetectLanguage(path string) string {
	if lang, ok := extensionLanguages[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	return "unknown"
}
