// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// CategoryWeights distributes scoring mass across comparison categories
// for one scope. Weights sum to 1 when behavioral participates.
type CategoryWeights struct {
	Functions      float64 `json:"backend_functions"`
	DataStructures float64 `json:"data_structures"`
	Endpoints      float64 `json:"endpoints"`
	UI             float64 `json:"ui"`
	Behavioral     float64 `json:"behavioral"`
}

// scopeWeights is the per-scope category weight table.
var scopeWeights = map[Scope]CategoryWeights{
	ScopeUI:            {UI: 1.0},
	ScopeDataStructure: {Functions: 0.1, DataStructures: 0.9},
	ScopeBackendLogic:  {Functions: 0.6, DataStructures: 0.2, Endpoints: 0.2},
	ScopeAPI:           {Functions: 0.2, DataStructures: 0.1, Endpoints: 0.7},
	ScopeBusinessRules: {Functions: 0.5, DataStructures: 0.2, Endpoints: 0.1, Behavioral: 0.2},
	ScopeBehavioral:    {Behavioral: 1.0},
	ScopeFull:          {Functions: 0.25, DataStructures: 0.15, Endpoints: 0.2, UI: 0.1, Behavioral: 0.3},
}

// WeightsForScope returns the category weights for a scope. Unknown
// scopes get the full-scope distribution.
func WeightsForScope(scope Scope) CategoryWeights {
	if w, ok := scopeWeights[scope]; ok {
		return w
	}
	return scopeWeights[ScopeFull]
}

// WithoutBehavioral redistributes the behavioral mass proportionally to
// the remaining active categories. Used when no behavioral stage ran.
func (w CategoryWeights) WithoutBehavioral() CategoryWeights {
	if w.Behavioral == 0 {
		return w
	}
	rest := w.Functions + w.DataStructures + w.Endpoints + w.UI
	if rest == 0 {
		// Behavioral-only scope with no behavioral stage: nothing left
		// to redistribute to.
		return CategoryWeights{}
	}
	factor := (rest + w.Behavioral) / rest
	return CategoryWeights{
		Functions:      w.Functions * factor,
		DataStructures: w.DataStructures * factor,
		Endpoints:      w.Endpoints * factor,
		UI:             w.UI * factor,
	}
}

// StaticSum is the total weight carried by the static categories.
func (w CategoryWeights) StaticSum() float64 {
	return w.Functions + w.DataStructures + w.Endpoints + w.UI
}
