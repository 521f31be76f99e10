// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package comparator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/parityqa/parity/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("parity.comparator")

// logicSimilarityThreshold: paired functions whose LLM-judged behavior
// similarity falls below this yield a logic_divergence discrepancy.
const logicSimilarityThreshold = 0.7

// Comparator pairs two representations and produces the static stage
// result. matcher may be nil, which disables the LLM layers and keeps
// the comparison purely structural.
type Comparator struct {
	matcher *SemanticMatcher
	logger  *slog.Logger
}

// NewComparator builds the comparator.
func NewComparator(matcher *SemanticMatcher, logger *slog.Logger) *Comparator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Comparator{matcher: matcher, logger: logger}
}

// categoryOutcome aggregates one category's comparison.
type categoryOutcome struct {
	discrepancies []datatypes.Discrepancy
	count         int // paired + unpaired elements
}

func (o categoryOutcome) score() float64 {
	var mass float64
	for _, d := range o.discrepancies {
		mass += d.Severity.MassWeight()
	}
	count := o.count
	if count < 1 {
		count = 1
	}
	return round4(1 - mass/float64(count))
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

// Compare runs the active per-category comparisons for the scope and
// folds them into the static stage result.
func (c *Comparator) Compare(ctx context.Context, source, target datatypes.Representation, scope datatypes.Scope, sessionID string) datatypes.StageResult {
	ctx, span := tracer.Start(ctx, "Comparator.Compare")
	defer span.End()
	span.SetAttributes(attribute.String("comparator.scope", string(scope)))

	started := time.Now().UTC()
	weights := datatypes.WeightsForScope(scope).WithoutBehavioral()

	type entry struct {
		weight  float64
		outcome categoryOutcome
	}
	var entries []entry
	var all []datatypes.Discrepancy

	add := func(weight float64, outcome categoryOutcome) {
		all = append(all, outcome.discrepancies...)
		if weight > 0 && outcome.count > 0 {
			entries = append(entries, entry{weight: weight, outcome: outcome})
		}
	}

	if weights.Functions > 0 {
		add(weights.Functions, c.compareFunctions(ctx, source.Functions, target.Functions, scope, sessionID))
	}
	if weights.DataStructures > 0 {
		add(weights.DataStructures, c.compareStructures(ctx, source.DataStructures, target.DataStructures, scope, sessionID))
	}
	if weights.Endpoints > 0 {
		add(weights.Endpoints, c.compareEndpoints(source.Endpoints, target.Endpoints, scope))
	}
	if weights.UI > 0 {
		add(weights.UI, c.compareUI(ctx, source.UIElements, target.UIElements, scope, sessionID))
	}

	// Weighted average over categories that actually had elements,
	// renormalized so empty categories neither help nor hurt.
	score := 1.0
	if len(entries) > 0 {
		var weighted, total float64
		for _, e := range entries {
			weighted += e.weight * e.outcome.score()
			total += e.weight
		}
		score = round4(weighted / total)
	}

	sortBySeverity(all)
	datatypes.DefaultConfidence(all)

	status := datatypes.StageCompleted
	if source.Partial || target.Partial {
		status = datatypes.StagePartial
	}

	var compared int
	for _, e := range entries {
		compared += e.outcome.count
	}

	return datatypes.StageResult{
		Stage:            datatypes.StageStatic,
		Status:           status,
		Score:            score,
		Discrepancies:    all,
		ElementsCompared: compared,
		StartedAt:        started,
		FinishedAt:       time.Now().UTC(),
	}
}

// sortBySeverity orders critical first, then warning, then info,
// preserving emission order within a band.
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

// semantic wraps the matcher for one category, degrading to structural
// pairing when the LLM is unavailable rather than failing the stage.
func (c *Comparator) semantic(category datatypes.Category, sessionID string) semanticMatchFn {
	if c.matcher == nil {
		return nil
	}
	inner := c.matcher.matchFn(category, sessionID)
	return func(ctx context.Context, source, target []pairItem) ([]pairing, error) {
		matches, err := inner(ctx, source, target)
		if err != nil {
			c.logger.Warn("semantic matching degraded to structural pairing",
				"category", category, "error", err)
			return nil, nil
		}
		return matches, nil
	}
}

// =============================================================================
// Backend functions
// =============================================================================

func functionSignature(fn datatypes.BackendFunction) string {
	parts := make([]string, 0, len(fn.Parameters)+1)
	parts = append(parts, fmt.Sprintf("%d", len(fn.Parameters)))
	for _, p := range fn.Parameters {
		parts = append(parts, NormalizeType(p.Type))
	}
	return strings.Join(parts, ",")
}

func (c *Comparator) compareFunctions(ctx context.Context, source, target []datatypes.BackendFunction, scope datatypes.Scope, sessionID string) categoryOutcome {
	src := make([]pairItem, len(source))
	for i, fn := range source {
		src[i] = pairItem{Name: fn.Name, Norm: NormalizeIdentifier(fn.Name), Sig: functionSignature(fn), Index: i}
	}
	dst := make([]pairItem, len(target))
	for i, fn := range target {
		dst[i] = pairItem{Name: fn.Name, Norm: NormalizeIdentifier(fn.Name), Sig: functionSignature(fn), Index: i}
	}

	result, _ := pairElements(ctx, src, dst, c.semantic(datatypes.CategoryBackendLogic, sessionID))
	out := categoryOutcome{count: len(result.Pairs) + len(result.Missing) + len(result.Additional)}

	for _, p := range result.Pairs {
		s, t := source[p.Source], target[p.Target]

		if p.Layer != layerIdentity {
			d := datatypes.Discrepancy{
				Category: datatypes.CategoryBackendLogic, Kind: KindFunctionRenamed,
				Severity: severityFor(KindFunctionRenamed, scope),
				Element:  s.Name,
				Description: fmt.Sprintf("function %q appears as %q in the target",
					s.Name, t.Name),
				SourceValue: s.Name, TargetValue: t.Name,
				Recommendation: "align the function name or document the rename",
			}
			if p.Layer == layerSemantic {
				d.Confidence = round4(p.Similarity)
			}
			out.discrepancies = append(out.discrepancies, d)
		}

		if d, ok := compareParameters(s, t, scope); ok {
			out.discrepancies = append(out.discrepancies, d)
		}

		if !TypesEquivalent(s.ReturnType, t.ReturnType) {
			out.discrepancies = append(out.discrepancies, datatypes.Discrepancy{
				Category: datatypes.CategoryBackendLogic, Kind: KindReturnTypeMismatch,
				Severity: severityFor(KindReturnTypeMismatch, scope),
				Element:  s.Name,
				Description: fmt.Sprintf("return type changed from %q to %q",
					s.ReturnType, t.ReturnType),
				SourceValue: s.ReturnType, TargetValue: t.ReturnType,
			})
		}

		if c.matcher != nil && s.LogicSummary != "" && t.LogicSummary != "" {
			verdict, err := c.matcher.CompareLogic(ctx, s.Name, s.LogicSummary, t.LogicSummary, sessionID)
			if err != nil {
				c.logger.Warn("logic comparison unavailable",
					"function", s.Name, "error", err)
			} else if verdict.Similarity < logicSimilarityThreshold {
				out.discrepancies = append(out.discrepancies, datatypes.Discrepancy{
					Category: datatypes.CategoryBusinessRules, Kind: KindLogicDivergence,
					Severity:    severityFor(KindLogicDivergence, scope),
					Element:     s.Name,
					Description: fmt.Sprintf("business logic diverges: %s", verdict.Diagnosis),
					SourceValue: s.LogicSummary, TargetValue: t.LogicSummary,
					Recommendation: "review the target implementation against the source behavior",
					ValidationContext: map[string]any{
						"similarity": verdict.Similarity,
					},
				})
			}
		}
	}

	for _, i := range result.Missing {
		out.discrepancies = append(out.discrepancies, datatypes.Discrepancy{
			Category: datatypes.CategoryBackendLogic, Kind: KindMissingElement,
			Severity:    severityFor(KindMissingElement, scope),
			Element:     source[i].Name,
			Description: fmt.Sprintf("function %q has no counterpart in the target", source[i].Name),
			SourceValue: source[i].Name,
			Recommendation: fmt.Sprintf("implement %q in the target or record the intentional drop",
				source[i].Name),
		})
	}
	for _, i := range result.Additional {
		out.discrepancies = append(out.discrepancies, datatypes.Discrepancy{
			Category: datatypes.CategoryBackendLogic, Kind: KindAdditionalElement,
			Severity:    severityFor(KindAdditionalElement, scope),
			Element:     target[i].Name,
			Description: fmt.Sprintf("function %q exists only in the target", target[i].Name),
			TargetValue: target[i].Name,
		})
	}
	return out
}

func compareParameters(s, t datatypes.BackendFunction, scope datatypes.Scope) (datatypes.Discrepancy, bool) {
	mismatch := len(s.Parameters) != len(t.Parameters)
	if !mismatch {
		for i := range s.Parameters {
			if !TypesEquivalent(s.Parameters[i].Type, t.Parameters[i].Type) {
				mismatch = true
				break
			}
		}
	}
	if !mismatch {
		return datatypes.Discrepancy{}, false
	}
	return datatypes.Discrepancy{
		Category: datatypes.CategoryBackendLogic, Kind: KindParameterMismatch,
		Severity: severityFor(KindParameterMismatch, scope),
		Element:  s.Name,
		Description: fmt.Sprintf("parameter list changed from (%s) to (%s)",
			formatParams(s.Parameters), formatParams(t.Parameters)),
		SourceValue: formatParams(s.Parameters),
		TargetValue: formatParams(t.Parameters),
	}, true
}

func formatParams(params []datatypes.Parameter) string {
	parts := make([]string, len(params))
	for i, p := range params {
		if p.Type != "" {
			parts[i] = p.Name + " " + p.Type
		} else {
			parts[i] = p.Name
		}
	}
	return strings.Join(parts, ", ")
}

// =============================================================================
// Data structures
// =============================================================================

func (c *Comparator) compareStructures(ctx context.Context, source, target []datatypes.DataStructure, scope datatypes.Scope, sessionID string) categoryOutcome {
	src := make([]pairItem, len(source))
	for i, ds := range source {
		src[i] = pairItem{Name: ds.Name, Norm: NormalizeIdentifier(ds.Name), Index: i}
	}
	dst := make([]pairItem, len(target))
	for i, ds := range target {
		dst[i] = pairItem{Name: ds.Name, Norm: NormalizeIdentifier(ds.Name), Index: i}
	}

	result, _ := pairElements(ctx, src, dst, c.semantic(datatypes.CategoryDataStructure, sessionID))
	out := categoryOutcome{count: len(result.Pairs) + len(result.Missing) + len(result.Additional)}

	for _, p := range result.Pairs {
		s, t := source[p.Source], target[p.Target]
		out.discrepancies = append(out.discrepancies, compareFields(s, t, scope)...)
	}

	for _, i := range result.Missing {
		out.discrepancies = append(out.discrepancies, datatypes.Discrepancy{
			Category: datatypes.CategoryDataStructure, Kind: KindMissingElement,
			Severity:    severityFor(KindMissingElement, scope),
			Element:     source[i].Name,
			Description: fmt.Sprintf("data structure %q has no counterpart in the target", source[i].Name),
			SourceValue: source[i].Name,
		})
	}
	for _, i := range result.Additional {
		out.discrepancies = append(out.discrepancies, datatypes.Discrepancy{
			Category: datatypes.CategoryDataStructure, Kind: KindAdditionalElement,
			Severity:    severityFor(KindAdditionalElement, scope),
			Element:     target[i].Name,
			Description: fmt.Sprintf("data structure %q exists only in the target", target[i].Name),
			TargetValue: target[i].Name,
		})
	}
	return out
}

func compareFields(s, t datatypes.DataStructure, scope datatypes.Scope) []datatypes.Discrepancy {
	var out []datatypes.Discrepancy

	byNorm := make(map[string]int, len(t.Fields))
	for i, f := range t.Fields {
		if _, dup := byNorm[NormalizeIdentifier(f.Name)]; !dup {
			byNorm[NormalizeIdentifier(f.Name)] = i
		}
	}
	matched := make(map[int]bool, len(t.Fields))

	for _, sf := range s.Fields {
		ti, ok := byNorm[NormalizeIdentifier(sf.Name)]
		if !ok || matched[ti] {
			out = append(out, datatypes.Discrepancy{
				Category: datatypes.CategoryDataStructure, Kind: KindMissingField,
				Severity: severityFor(KindMissingField, scope),
				Element:  s.Name + "." + sf.Name,
				Description: fmt.Sprintf("field %q of %q has no counterpart in the target",
					sf.Name, s.Name),
				SourceValue: sf.Name,
			})
			continue
		}
		matched[ti] = true
		tf := t.Fields[ti]
		element := s.Name + "." + sf.Name

		if sf.Name != tf.Name {
			out = append(out, datatypes.Discrepancy{
				Category: datatypes.CategoryDataStructure, Kind: KindFieldRenamed,
				Severity:    severityFor(KindFieldRenamed, scope),
				Element:     element,
				Description: fmt.Sprintf("field %q appears as %q in the target", sf.Name, tf.Name),
				SourceValue: sf.Name, TargetValue: tf.Name,
			})
		}

		if !TypesEquivalent(sf.Type, tf.Type) {
			kind := KindTypeMismatch
			if IsWidening(sf.Type, tf.Type) {
				kind = KindTypeWidened
			}
			out = append(out, datatypes.Discrepancy{
				Category: datatypes.CategoryDataStructure, Kind: kind,
				Severity: severityFor(kind, scope),
				Element:  element,
				Description: fmt.Sprintf("field type changed from %q to %q",
					sf.Type, tf.Type),
				SourceValue: sf.Type, TargetValue: tf.Type,
				Recommendation: "verify every stored value survives the type change",
			})
		}

		switch {
		case !sf.Required && tf.Required:
			out = append(out, datatypes.Discrepancy{
				Category: datatypes.CategoryDataStructure, Kind: KindRequiredTightened,
				Severity:    severityFor(KindRequiredTightened, scope),
				Element:     element,
				Description: "optional field became required in the target",
			})
		case sf.Required && !tf.Required:
			out = append(out, datatypes.Discrepancy{
				Category: datatypes.CategoryDataStructure, Kind: KindRequiredRelaxed,
				Severity:    severityFor(KindRequiredRelaxed, scope),
				Element:     element,
				Description: "required field became optional in the target",
			})
		}

		out = append(out, compareConstraints(element, sf.Constraints, tf.Constraints, scope)...)
	}

	for i, tf := range t.Fields {
		if !matched[i] {
			if _, existed := byNorm[NormalizeIdentifier(tf.Name)]; existed && byNorm[NormalizeIdentifier(tf.Name)] != i {
				continue // duplicate norm, already reported
			}
			isNew := true
			for _, sf := range s.Fields {
				if NormalizeIdentifier(sf.Name) == NormalizeIdentifier(tf.Name) {
					isNew = false
					break
				}
			}
			if isNew {
				out = append(out, datatypes.Discrepancy{
					Category: datatypes.CategoryDataStructure, Kind: KindAdditionalField,
					Severity: severityFor(KindAdditionalField, scope),
					Element:  t.Name + "." + tf.Name,
					Description: fmt.Sprintf("field %q of %q exists only in the target",
						tf.Name, t.Name),
					TargetValue: tf.Name,
				})
			}
		}
	}
	return out
}

func compareConstraints(element string, source, target []string, scope datatypes.Scope) []datatypes.Discrepancy {
	srcSet := make(map[string]bool, len(source))
	for _, c := range source {
		srcSet[strings.ToLower(c)] = true
	}
	dstSet := make(map[string]bool, len(target))
	for _, c := range target {
		dstSet[strings.ToLower(c)] = true
	}

	var out []datatypes.Discrepancy
	for _, c := range source {
		if !dstSet[strings.ToLower(c)] {
			out = append(out, datatypes.Discrepancy{
				Category: datatypes.CategoryDataStructure, Kind: KindMissingConstraint,
				Severity:    severityFor(KindMissingConstraint, scope),
				Element:     element,
				Description: fmt.Sprintf("constraint %q dropped in the target", c),
				SourceValue: c,
			})
		}
	}
	for _, c := range target {
		if !srcSet[strings.ToLower(c)] {
			out = append(out, datatypes.Discrepancy{
				Category: datatypes.CategoryDataStructure, Kind: KindAddedConstraint,
				Severity:    severityFor(KindAddedConstraint, scope),
				Element:     element,
				Description: fmt.Sprintf("constraint %q added in the target", c),
				TargetValue: c,
			})
		}
	}
	return out
}

// =============================================================================
// API endpoints
// =============================================================================

func (c *Comparator) compareEndpoints(source, target []datatypes.APIEndpoint, scope datatypes.Scope) categoryOutcome {
	src := make([]pairItem, len(source))
	for i, ep := range source {
		src[i] = pairItem{Name: ep.Path, Norm: NormalizePath(ep.Path), Index: i}
	}
	dst := make([]pairItem, len(target))
	for i, ep := range target {
		dst[i] = pairItem{Name: ep.Path, Norm: NormalizePath(ep.Path), Index: i}
	}

	// Paths pair structurally only; "semantically similar" routes are
	// not the same route.
	result, _ := pairElements(context.Background(), src, dst, nil)
	out := categoryOutcome{count: len(result.Pairs) + len(result.Missing) + len(result.Additional)}

	for _, p := range result.Pairs {
		s, t := source[p.Source], target[p.Target]
		element := s.Path

		dstMethods := make(map[string]bool, len(t.Methods))
		for _, m := range t.Methods {
			dstMethods[strings.ToUpper(m)] = true
		}
		srcMethods := make(map[string]bool, len(s.Methods))
		for _, m := range s.Methods {
			srcMethods[strings.ToUpper(m)] = true
		}

		for _, m := range s.Methods {
			if !dstMethods[strings.ToUpper(m)] {
				out.discrepancies = append(out.discrepancies, datatypes.Discrepancy{
					Category: datatypes.CategoryAPI, Kind: KindMissingHTTPMethod,
					Severity:    severityFor(KindMissingHTTPMethod, scope),
					Element:     element,
					Description: fmt.Sprintf("method %s on %s is absent in the target", strings.ToUpper(m), s.Path),
					SourceValue: strings.ToUpper(m),
					Recommendation: fmt.Sprintf("expose %s %s in the target",
						strings.ToUpper(m), s.Path),
				})
			}
		}
		for _, m := range t.Methods {
			if !srcMethods[strings.ToUpper(m)] {
				out.discrepancies = append(out.discrepancies, datatypes.Discrepancy{
					Category: datatypes.CategoryAPI, Kind: KindExtraHTTPMethod,
					Severity:    severityFor(KindExtraHTTPMethod, scope),
					Element:     element,
					Description: fmt.Sprintf("method %s on %s exists only in the target", strings.ToUpper(m), t.Path),
					TargetValue: strings.ToUpper(m),
				})
			}
		}

		if s.Handler != "" && t.Handler != "" &&
			NormalizeIdentifier(s.Handler) != NormalizeIdentifier(t.Handler) {
			out.discrepancies = append(out.discrepancies, datatypes.Discrepancy{
				Category: datatypes.CategoryAPI, Kind: KindHandlerMismatch,
				Severity:    severityFor(KindHandlerMismatch, scope),
				Element:     element,
				Description: fmt.Sprintf("handler changed from %q to %q", s.Handler, t.Handler),
				SourceValue: s.Handler, TargetValue: t.Handler,
			})
		}
	}

	for _, i := range result.Missing {
		out.discrepancies = append(out.discrepancies, datatypes.Discrepancy{
			Category: datatypes.CategoryAPI, Kind: KindMissingElement,
			Severity:    severityFor(KindMissingElement, scope),
			Element:     source[i].Path,
			Description: fmt.Sprintf("endpoint %s has no counterpart in the target", source[i].Path),
			SourceValue: source[i].Path,
		})
	}
	for _, i := range result.Additional {
		out.discrepancies = append(out.discrepancies, datatypes.Discrepancy{
			Category: datatypes.CategoryAPI, Kind: KindAdditionalElement,
			Severity:    severityFor(KindAdditionalElement, scope),
			Element:     target[i].Path,
			Description: fmt.Sprintf("endpoint %s exists only in the target", target[i].Path),
			TargetValue: target[i].Path,
		})
	}
	return out
}

// =============================================================================
// UI elements
// =============================================================================

// keyAttributes are the attributes whose changes carry a warning rather
// than info.
var keyAttributes = map[string]bool{"required": true, "name": true, "id": true}

func uiNorm(el datatypes.UIElement) string {
	if el.ID != "" {
		return NormalizeIdentifier(el.ID)
	}
	return el.Kind + ":" + NormalizeIdentifier(el.Text)
}

func (c *Comparator) compareUI(ctx context.Context, source, target []datatypes.UIElement, scope datatypes.Scope, sessionID string) categoryOutcome {
	src := make([]pairItem, len(source))
	for i, el := range source {
		src[i] = pairItem{Name: el.Key(), Norm: uiNorm(el), Index: i}
	}
	dst := make([]pairItem, len(target))
	for i, el := range target {
		dst[i] = pairItem{Name: el.Key(), Norm: uiNorm(el), Index: i}
	}

	result, _ := pairElements(ctx, src, dst, c.semantic(datatypes.CategoryUI, sessionID))
	out := categoryOutcome{count: len(result.Pairs) + len(result.Missing) + len(result.Additional)}

	for _, p := range result.Pairs {
		s, t := source[p.Source], target[p.Target]
		element := s.Key()

		if s.ID != "" && t.ID != "" && s.ID != t.ID {
			out.discrepancies = append(out.discrepancies, datatypes.Discrepancy{
				Category: datatypes.CategoryUI, Kind: KindUIElementRenamed,
				Severity:    severityFor(KindUIElementRenamed, scope),
				Element:     element,
				Description: fmt.Sprintf("element id changed from %q to %q", s.ID, t.ID),
				SourceValue: s.ID, TargetValue: t.ID,
			})
		} else if p.Layer == layerSemantic {
			out.discrepancies = append(out.discrepancies, datatypes.Discrepancy{
				Category: datatypes.CategoryUI, Kind: KindUIElementRenamed,
				Severity: severityFor(KindUIElementRenamed, scope),
				Element:  element,
				Description: fmt.Sprintf("element %q appears as %q in the target",
					s.Key(), t.Key()),
				SourceValue: s.Key(), TargetValue: t.Key(),
				Confidence:  round4(p.Similarity),
			})
		}

		if s.Kind != t.Kind {
			out.discrepancies = append(out.discrepancies, datatypes.Discrepancy{
				Category: datatypes.CategoryUI, Kind: KindUIKindMismatch,
				Severity:    severityFor(KindUIKindMismatch, scope),
				Element:     element,
				Description: fmt.Sprintf("element kind changed from %q to %q", s.Kind, t.Kind),
				SourceValue: s.Kind, TargetValue: t.Kind,
			})
		}

		if textBearing(s.Kind) && s.Text != t.Text {
			out.discrepancies = append(out.discrepancies, datatypes.Discrepancy{
				Category: datatypes.CategoryUI, Kind: KindUITextChanged,
				Severity:    severityFor(KindUITextChanged, scope),
				Element:     element,
				Description: fmt.Sprintf("visible text changed from %q to %q", s.Text, t.Text),
				SourceValue: s.Text, TargetValue: t.Text,
			})
		}

		out.discrepancies = append(out.discrepancies, compareAttributes(element, s, t, scope)...)
	}

	for _, i := range result.Missing {
		out.discrepancies = append(out.discrepancies, datatypes.Discrepancy{
			Category: datatypes.CategoryUI, Kind: KindMissingElement,
			Severity:    severityFor(KindMissingElement, scope),
			Element:     source[i].Key(),
			Description: fmt.Sprintf("UI element %q has no counterpart in the target", source[i].Key()),
			SourceValue: source[i].Key(),
		})
	}
	for _, i := range result.Additional {
		out.discrepancies = append(out.discrepancies, datatypes.Discrepancy{
			Category: datatypes.CategoryUI, Kind: KindAdditionalElement,
			Severity:    severityFor(KindAdditionalElement, scope),
			Element:     target[i].Key(),
			Description: fmt.Sprintf("UI element %q exists only in the target", target[i].Key()),
			TargetValue: target[i].Key(),
		})
	}
	return out
}

func textBearing(kind string) bool {
	switch kind {
	case "button", "label", "link":
		return true
	}
	return false
}

func compareAttributes(element string, s, t datatypes.UIElement, scope datatypes.Scope) []datatypes.Discrepancy {
	var out []datatypes.Discrepancy
	seen := make(map[string]bool, len(s.Attributes)+len(t.Attributes))
	keys := make([]string, 0, len(s.Attributes)+len(t.Attributes))
	for k := range s.Attributes {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for k := range t.Attributes {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	// Deterministic discrepancy order regardless of map iteration.
	sort.Strings(keys)
	for _, k := range keys {
		sv, tv := s.Attributes[k], t.Attributes[k]
		if sv == tv {
			continue
		}
		sev := severityFor(KindAttributeChanged, scope)
		if keyAttributes[k] {
			sev = datatypes.SeverityWarning
		}
		out = append(out, datatypes.Discrepancy{
			Category: datatypes.CategoryUI, Kind: KindAttributeChanged,
			Severity: sev,
			Element:  element,
			Description: fmt.Sprintf("attribute %q changed from %q to %q",
				k, sv, tv),
			SourceValue: sv, TargetValue: tv,
		})
	}
	return out
}
