// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analysis

import (
	"context"
	"regexp"
	"strings"

	"github.com/parityqa/parity/services/orchestrator/datatypes"
)

// Fallback extraction patterns. Deliberately loose: the fallback trades
// precision for coverage on languages without a grammar.
var (
	fallbackFuncRe = regexp.MustCompile(
		`(?m)^\s*(?:public|private|protected|static|async|export)?\s*` +
			`(?:def|func|fn|function|void|int|string|bool|double|float|var|let|const)?\s*` +
			`(?:def|func|fn|function)\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(([^)]*)\)`)

	fallbackMethodRe = regexp.MustCompile(
		`(?m)^\s*(?:public|private|protected)\s+(?:static\s+)?[A-Za-z_][A-Za-z0-9_<>\[\]]*\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(([^)]*)\)`)

	fallbackClassRe = regexp.MustCompile(
		`(?m)^\s*(?:public\s+|export\s+)?(class|struct|interface|record)\s+([A-Za-z_][A-Za-z0-9_]*)`)

	fallbackRouteRe = regexp.MustCompile(
		`['"](/[A-Za-z0-9_\-{}/:.]*)['"]`)
)

// RegexAnalyzer is the catch-all for languages without a registered
// grammar. Elements it emits are tagged regex-fallback so the comparator
// can weigh its lower confidence.
type RegexAnalyzer struct{}

// NewRegexAnalyzer builds the fallback analyzer.
func NewRegexAnalyzer() *RegexAnalyzer { return &RegexAnalyzer{} }

// Languages implements Analyzer. Empty: the registry routes unclaimed
// languages here.
func (a *RegexAnalyzer) Languages() []string { return nil }

// Analyze implements Analyzer.
func (a *RegexAnalyzer) Analyze(_ context.Context, file datatypes.CodeFile, _ datatypes.Scope) (datatypes.Representation, error) {
	src := string(file.Content)
	var rep datatypes.Representation

	seen := make(map[string]struct{})
	addFunc := func(name, params string) {
		if _, dup := seen[name]; dup || name == "" {
			return
		}
		seen[name] = struct{}{}
		fn := datatypes.BackendFunction{Name: name, AnalysisMethod: MethodRegex}
		for _, raw := range strings.Split(params, ",") {
			raw = strings.TrimSpace(raw)
			if raw == "" || raw == "self" {
				continue
			}
			// "type name" or "name: type" or bare name.
			param := datatypes.Parameter{}
			switch {
			case strings.Contains(raw, ":"):
				parts := strings.SplitN(raw, ":", 2)
				param.Name = strings.TrimSpace(parts[0])
				param.Type = strings.TrimSpace(parts[1])
			case strings.Contains(raw, " "):
				parts := strings.Fields(raw)
				param.Name = parts[len(parts)-1]
				param.Type = strings.Join(parts[:len(parts)-1], " ")
			default:
				param.Name = raw
			}
			fn.Parameters = append(fn.Parameters, param)
		}
		rep.Functions = append(rep.Functions, fn)
	}

	for _, m := range fallbackFuncRe.FindAllStringSubmatch(src, -1) {
		addFunc(m[1], m[2])
	}
	for _, m := range fallbackMethodRe.FindAllStringSubmatch(src, -1) {
		addFunc(m[1], m[2])
	}

	for _, m := range fallbackClassRe.FindAllStringSubmatch(src, -1) {
		rep.DataStructures = append(rep.DataStructures, datatypes.DataStructure{
			Name:           m[2],
			Kind:           m[1],
			AnalysisMethod: MethodRegex,
		})
	}

	// Only surface route-looking strings when the file smells like a
	// routing layer; bare string scanning is too noisy otherwise.
	lower := strings.ToLower(src)
	if strings.Contains(lower, "route") || strings.Contains(lower, "endpoint") ||
		strings.Contains(lower, "urlpatterns") {
		routeSeen := make(map[string]struct{})
		for _, m := range fallbackRouteRe.FindAllStringSubmatch(src, -1) {
			path := m[1]
			if _, dup := routeSeen[path]; dup || path == "/" {
				continue
			}
			routeSeen[path] = struct{}{}
			rep.Endpoints = append(rep.Endpoints, datatypes.APIEndpoint{
				Path:           path,
				AnalysisMethod: MethodRegex,
			})
		}
	}

	return rep, nil
}
