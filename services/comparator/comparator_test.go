// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package comparator

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parityqa/parity/services/llm"
	"github.com/parityqa/parity/services/orchestrator/datatypes"
)

func TestNormalizeIdentifier(t *testing.T) {
	for _, name := range []string{"userName", "user_name", "user-name", "UserName", "USER_NAME"} {
		assert.Equal(t, "username", NormalizeIdentifier(name), name)
	}
}

func TestNormalizeType(t *testing.T) {
	cases := map[string]string{
		"VARCHAR(255)": "string",
		"List[int]":    "array",
		"str":          "string",
		"Integer":      "int",
		"float64":      "double",
		"Map<K,V>":     "object",
		"CustomThing":  "customthing",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeType(in), in)
	}
}

func TestTypesEquivalent(t *testing.T) {
	assert.True(t, TypesEquivalent("str", "VARCHAR(100)"))
	assert.True(t, TypesEquivalent("", "int"), "unknown type never convicts")
	assert.False(t, TypesEquivalent("int", "string"))
}

func TestIsWidening(t *testing.T) {
	assert.True(t, IsWidening("int", "int64"))
	assert.True(t, IsWidening("float", "double"))
	assert.False(t, IsWidening("double", "float"))
	assert.False(t, IsWidening("int", "string"))
}

func TestNormalizePath(t *testing.T) {
	want := NormalizePath("/users/{id}")
	assert.Equal(t, want, NormalizePath("/users/:id"))
	assert.Equal(t, want, NormalizePath("/users/<int:id>"))
	assert.Equal(t, want, NormalizePath("/users/{userId}/"))
}

// =============================================================================
// Pairing
// =============================================================================

func items(names ...string) []pairItem {
	out := make([]pairItem, len(names))
	for i, n := range names {
		out[i] = pairItem{Name: n, Norm: NormalizeIdentifier(n), Index: i}
	}
	return out
}

func TestPairElementsIdentity(t *testing.T) {
	result, err := pairElements(context.Background(),
		items("get_user", "save_user"),
		items("saveUser", "getUser"), nil)
	require.NoError(t, err)
	require.Len(t, result.Pairs, 2)
	assert.Empty(t, result.Missing)
	assert.Empty(t, result.Additional)
	for _, p := range result.Pairs {
		assert.Equal(t, layerIdentity, p.Layer)
	}
}

func TestPairElementsEarliestTargetWins(t *testing.T) {
	result, err := pairElements(context.Background(),
		items("run"),
		items("run", "Run"), nil)
	require.NoError(t, err)
	require.Len(t, result.Pairs, 1)
	assert.Equal(t, 0, result.Pairs[0].Target)
	assert.Equal(t, []int{1}, result.Additional)
}

func TestPairElementsSignatureLayer(t *testing.T) {
	src := []pairItem{{Name: "compute_price", Norm: "computeprice", Sig: "2,int,string", Index: 0}}
	dst := []pairItem{
		{Name: "unrelated", Norm: "unrelated", Sig: "1,bool", Index: 0},
		{Name: "calcCost", Norm: "calccost", Sig: "2,int,string", Index: 1},
	}
	result, err := pairElements(context.Background(), src, dst, nil)
	require.NoError(t, err)
	require.Len(t, result.Pairs, 1)
	assert.Equal(t, layerSignature, result.Pairs[0].Layer)
	assert.Equal(t, 1, result.Pairs[0].Target)
}

func TestPairElementsSemanticLayer(t *testing.T) {
	semantic := func(ctx context.Context, source, target []pairItem) ([]pairing, error) {
		// Indexes are into the leftover slices handed to the matcher.
		return []pairing{
			{Source: 0, Target: 0, Similarity: 0.9},
		}, nil
	}
	result, err := pairElements(context.Background(),
		items("fetch_orders"),
		items("loadPurchases"), semantic)
	require.NoError(t, err)
	require.Len(t, result.Pairs, 1)
	assert.Equal(t, layerSemantic, result.Pairs[0].Layer)
	assert.InDelta(t, 0.9, result.Pairs[0].Similarity, 1e-9)
	assert.Empty(t, result.Missing)
}

func TestPairElementsSemanticBelowThreshold(t *testing.T) {
	semantic := func(ctx context.Context, source, target []pairItem) ([]pairing, error) {
		return []pairing{{Source: 0, Target: 0, Similarity: 0.4}}, nil
	}
	result, err := pairElements(context.Background(),
		items("fetch_orders"),
		items("deleteEverything"), semantic)
	require.NoError(t, err)
	assert.Empty(t, result.Pairs)
	assert.Equal(t, []int{0}, result.Missing)
	assert.Equal(t, []int{0}, result.Additional)
}

// =============================================================================
// Severity policy
// =============================================================================

func TestSeverityForScopePolicy(t *testing.T) {
	t.Run("ui scope caps criticals at warning", func(t *testing.T) {
		assert.Equal(t, datatypes.SeverityWarning, severityFor(KindMissingElement, datatypes.ScopeUI))
		assert.Equal(t, datatypes.SeverityWarning, severityFor(KindUIKindMismatch, datatypes.ScopeUI))
	})
	t.Run("data-structure scope keeps structural losses critical", func(t *testing.T) {
		assert.Equal(t, datatypes.SeverityCritical, severityFor(KindTypeMismatch, datatypes.ScopeDataStructure))
		assert.Equal(t, datatypes.SeverityCritical, severityFor(KindMissingField, datatypes.ScopeBusinessRules))
	})
	t.Run("info kinds stay info", func(t *testing.T) {
		assert.Equal(t, datatypes.SeverityInfo, severityFor(KindAdditionalElement, datatypes.ScopeFull))
		assert.Equal(t, datatypes.SeverityInfo, severityFor(KindHandlerMismatch, datatypes.ScopeAPI))
	})
}

// =============================================================================
// End-to-end comparisons
// =============================================================================

func newTestComparator(t *testing.T) *Comparator {
	t.Helper()
	return NewComparator(nil, nil)
}

func kinds(discs []datatypes.Discrepancy) []string {
	out := make([]string, len(discs))
	for i, d := range discs {
		out[i] = d.Kind
	}
	return out
}

func TestCompareUIRename(t *testing.T) {
	source := datatypes.Representation{UIElements: []datatypes.UIElement{
		{Kind: "input", ID: "user_name", Text: "User Name"},
		{Kind: "button", ID: "submit_btn", Text: "Submit"},
	}}
	target := datatypes.Representation{UIElements: []datatypes.UIElement{
		{Kind: "input", ID: "userName", Text: "User Name"},
		{Kind: "button", ID: "submit_btn", Text: "Save"},
	}}

	result := newTestComparator(t).Compare(context.Background(), source, target, datatypes.ScopeUI, "s1")

	require.Len(t, result.Discrepancies, 2)
	assert.ElementsMatch(t, []string{KindUIElementRenamed, KindUITextChanged}, kinds(result.Discrepancies))
	for _, d := range result.Discrepancies {
		assert.Equal(t, datatypes.SeverityWarning, d.Severity)
	}
	// Two warnings (0.25 mass each) over two paired elements.
	assert.InDelta(t, 0.75, result.Score, 1e-9)
	assert.Equal(t, 2, result.ElementsCompared)
	assert.Equal(t, datatypes.StageCompleted, result.Status)
}

func TestCompareDataStructureTypeMismatch(t *testing.T) {
	source := datatypes.Representation{DataStructures: []datatypes.DataStructure{
		{Name: "Product", Fields: []datatypes.DataField{{Name: "price", Type: "float", Required: true}}},
	}}
	target := datatypes.Representation{DataStructures: []datatypes.DataStructure{
		{Name: "Product", Fields: []datatypes.DataField{{Name: "price", Type: "int", Required: true}}},
	}}

	result := newTestComparator(t).Compare(context.Background(), source, target, datatypes.ScopeDataStructure, "s2")

	require.Len(t, result.Discrepancies, 1)
	assert.Equal(t, KindTypeMismatch, result.Discrepancies[0].Kind)
	assert.Equal(t, datatypes.SeverityCritical, result.Discrepancies[0].Severity)
	assert.InDelta(t, 0.0, result.Score, 1e-9)
}

func TestCompareDataStructureWidening(t *testing.T) {
	source := datatypes.Representation{DataStructures: []datatypes.DataStructure{
		{Name: "Order", Fields: []datatypes.DataField{{Name: "total", Type: "float"}}},
	}}
	target := datatypes.Representation{DataStructures: []datatypes.DataStructure{
		{Name: "Order", Fields: []datatypes.DataField{{Name: "total", Type: "double"}}},
	}}

	result := newTestComparator(t).Compare(context.Background(), source, target, datatypes.ScopeFull, "s")

	require.Len(t, result.Discrepancies, 1)
	assert.Equal(t, KindTypeWidened, result.Discrepancies[0].Kind)
	assert.Equal(t, datatypes.SeverityWarning, result.Discrepancies[0].Severity)
}

func TestCompareDataStructureRequiredFlip(t *testing.T) {
	source := datatypes.Representation{DataStructures: []datatypes.DataStructure{
		{Name: "User", Fields: []datatypes.DataField{
			{Name: "email", Type: "string", Required: false},
			{Name: "name", Type: "string", Required: true},
		}},
	}}
	target := datatypes.Representation{DataStructures: []datatypes.DataStructure{
		{Name: "User", Fields: []datatypes.DataField{
			{Name: "email", Type: "string", Required: true},
			{Name: "name", Type: "string", Required: false},
		}},
	}}

	result := newTestComparator(t).Compare(context.Background(), source, target, datatypes.ScopeDataStructure, "s")

	assert.ElementsMatch(t, []string{KindRequiredTightened, KindRequiredRelaxed}, kinds(result.Discrepancies))
}

func TestCompareEndpointMethodRemoval(t *testing.T) {
	source := datatypes.Representation{Endpoints: []datatypes.APIEndpoint{
		{Path: "/api/products", Methods: []string{"GET", "POST"}, Handler: "h1"},
	}}
	target := datatypes.Representation{Endpoints: []datatypes.APIEndpoint{
		{Path: "/api/products", Methods: []string{"GET"}, Handler: "h1"},
	}}

	result := newTestComparator(t).Compare(context.Background(), source, target, datatypes.ScopeAPI, "s3")

	require.Len(t, result.Discrepancies, 1)
	assert.Equal(t, KindMissingHTTPMethod, result.Discrepancies[0].Kind)
	assert.Equal(t, datatypes.SeverityCritical, result.Discrepancies[0].Severity)
	assert.LessOrEqual(t, result.Score, 0.5)
}

func TestCompareEndpointPathSyntaxFolds(t *testing.T) {
	source := datatypes.Representation{Endpoints: []datatypes.APIEndpoint{
		{Path: "/users/<int:id>", Methods: []string{"GET"}},
	}}
	target := datatypes.Representation{Endpoints: []datatypes.APIEndpoint{
		{Path: "/users/{id}", Methods: []string{"GET"}},
	}}

	result := newTestComparator(t).Compare(context.Background(), source, target, datatypes.ScopeAPI, "s")

	assert.Empty(t, result.Discrepancies)
	assert.InDelta(t, 1.0, result.Score, 1e-9)
}

func TestCompareFunctions(t *testing.T) {
	source := datatypes.Representation{Functions: []datatypes.BackendFunction{
		{Name: "calculate_total", Parameters: []datatypes.Parameter{{Name: "items", Type: "list"}}, ReturnType: "float"},
		{Name: "drop_me"},
	}}
	target := datatypes.Representation{Functions: []datatypes.BackendFunction{
		{Name: "calculateTotal", Parameters: []datatypes.Parameter{{Name: "items", Type: "array"}}, ReturnType: "str"},
		{Name: "brand_new"},
	}}

	result := newTestComparator(t).Compare(context.Background(), source, target, datatypes.ScopeBackendLogic, "s")

	assert.ElementsMatch(t,
		[]string{KindReturnTypeMismatch, KindMissingElement, KindAdditionalElement},
		kinds(result.Discrepancies))
	assert.Equal(t, 3, result.ElementsCompared)
	// Criticals sort ahead of the info finding.
	assert.Equal(t, datatypes.SeverityCritical, result.Discrepancies[0].Severity)
	assert.Equal(t, datatypes.SeverityInfo, result.Discrepancies[len(result.Discrepancies)-1].Severity)
}

func TestCompareEmptyRepresentations(t *testing.T) {
	result := newTestComparator(t).Compare(context.Background(),
		datatypes.Representation{}, datatypes.Representation{}, datatypes.ScopeFull, "s")
	assert.InDelta(t, 1.0, result.Score, 1e-9)
	assert.Empty(t, result.Discrepancies)
	assert.Equal(t, 0, result.ElementsCompared)
}

func TestComparePartialPropagates(t *testing.T) {
	source := datatypes.Representation{
		Partial:   true,
		Functions: []datatypes.BackendFunction{{Name: "f"}},
	}
	target := datatypes.Representation{
		Functions: []datatypes.BackendFunction{{Name: "f"}},
	}
	result := newTestComparator(t).Compare(context.Background(), source, target, datatypes.ScopeBackendLogic, "s")
	assert.Equal(t, datatypes.StagePartial, result.Status)
}

// =============================================================================
// Confidence and ordering
// =============================================================================

// scriptedProvider serves a canned completion for matcher tests.
type scriptedProvider struct{ text string }

func (p scriptedProvider) Name() string     { return "scripted" }
func (p scriptedProvider) Models() []string { return nil }

func (p scriptedProvider) Complete(_ context.Context, _ datatypes.LLMRequest) (datatypes.LLMResponse, error) {
	return datatypes.LLMResponse{Text: p.text, Provider: "scripted"}, nil
}

func scriptedComparator(t *testing.T, text string) *Comparator {
	t.Helper()
	dispatcher, err := llm.NewDispatcher(llm.DefaultConfig(),
		[]llm.Provider{scriptedProvider{text: text}}, nil, nil, slog.Default())
	require.NoError(t, err)
	return NewComparator(NewSemanticMatcher(dispatcher), nil)
}

func TestCompareConfidenceDefaultsToFull(t *testing.T) {
	source := datatypes.Representation{DataStructures: []datatypes.DataStructure{
		{Name: "Product", Fields: []datatypes.DataField{{Name: "price", Type: "float"}}},
	}}
	target := datatypes.Representation{DataStructures: []datatypes.DataStructure{
		{Name: "Product", Fields: []datatypes.DataField{{Name: "price", Type: "string"}}},
	}}

	result := newTestComparator(t).Compare(context.Background(), source, target, datatypes.ScopeDataStructure, "s")

	require.NotEmpty(t, result.Discrepancies)
	for _, d := range result.Discrepancies {
		assert.InDelta(t, 1.0, d.Confidence, 1e-9, d.Kind)
	}
}

func TestSemanticRenameCarriesSimilarityAsConfidence(t *testing.T) {
	c := scriptedComparator(t,
		`{"pairs":[{"source":"button:Submit Order","target":"button:Place Order","similarity":0.82}]}`)

	source := datatypes.Representation{UIElements: []datatypes.UIElement{
		{Kind: "button", Text: "Submit Order"},
	}}
	target := datatypes.Representation{UIElements: []datatypes.UIElement{
		{Kind: "button", Text: "Place Order"},
	}}

	result := c.Compare(context.Background(), source, target, datatypes.ScopeUI, "s")

	var renamed, textChanged *datatypes.Discrepancy
	for i, d := range result.Discrepancies {
		switch d.Kind {
		case KindUIElementRenamed:
			renamed = &result.Discrepancies[i]
		case KindUITextChanged:
			textChanged = &result.Discrepancies[i]
		}
	}
	require.NotNil(t, renamed, "semantic pair must surface as a rename")
	assert.InDelta(t, 0.82, renamed.Confidence, 1e-9)
	require.NotNil(t, textChanged)
	assert.InDelta(t, 1.0, textChanged.Confidence, 1e-9)
}

func TestLogicDivergenceCarriesSimilarityContext(t *testing.T) {
	c := scriptedComparator(t,
		`{"similarity":0.3,"diagnosis":"target skips the inventory check"}`)

	source := datatypes.Representation{Functions: []datatypes.BackendFunction{
		{Name: "checkout", LogicSummary: "validates inventory then charges"},
	}}
	target := datatypes.Representation{Functions: []datatypes.BackendFunction{
		{Name: "checkout", LogicSummary: "charges immediately"},
	}}

	result := c.Compare(context.Background(), source, target, datatypes.ScopeBackendLogic, "s")

	require.Len(t, result.Discrepancies, 1)
	d := result.Discrepancies[0]
	assert.Equal(t, KindLogicDivergence, d.Kind)
	assert.Contains(t, d.Description, "inventory check")
	require.NotNil(t, d.ValidationContext)
	assert.InDelta(t, 0.3, d.ValidationContext["similarity"].(float64), 1e-9)
}

func TestCompareAttributesDeterministicOrder(t *testing.T) {
	s := datatypes.UIElement{Kind: "input", ID: "email", Attributes: map[string]string{
		"placeholder": "Email", "title": "Email address", "class": "field", "name": "email",
	}}
	tt := datatypes.UIElement{Kind: "input", ID: "email", Attributes: map[string]string{
		"placeholder": "E-mail", "title": "Mail address", "class": "input", "name": "mail",
	}}

	want := []string{"class", "name", "placeholder", "title"}
	for run := 0; run < 5; run++ {
		out := compareAttributes(s.Key(), s, tt, datatypes.ScopeUI)
		require.Len(t, out, len(want))
		for i, d := range out {
			assert.Contains(t, d.Description, "attribute \""+want[i]+"\"", "run %d", run)
		}
	}
}
