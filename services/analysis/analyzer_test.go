// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analysis

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parityqa/parity/services/fingerprint"
	"github.com/parityqa/parity/services/orchestrator/datatypes"
)

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, "python", DetectLanguage("src/app.py"))
	assert.Equal(t, "javascript", DetectLanguage("web/index.JS"))
	assert.Equal(t, "html", DetectLanguage("templates/login.html"))
	assert.Equal(t, "unknown", DetectLanguage("README"))
}

func TestRegistryRouting(t *testing.T) {
	fallback := NewRegexAnalyzer()
	reg := NewRegistry(fallback)
	py := NewPythonAnalyzer()
	reg.Register(py)

	assert.Same(t, Analyzer(py), reg.ForLanguage("Python"))
	assert.Same(t, Analyzer(fallback), reg.ForLanguage("cobol"))
	assert.Equal(t, []string{"python"}, reg.Languages())
}

func TestPythonAnalyzer(t *testing.T) {
	src := []byte(`
@app.route("/users", methods=["GET", "POST"])
def list_users(page: int, size: int = 20) -> dict:
    """Return a page of users."""
    return {}

class Invoice:
    number: str
    total: float = 0.0

    def finalize(self, when):
        self.closed = when
`)
	rep, err := NewPythonAnalyzer().Analyze(context.Background(),
		datatypes.CodeFile{Path: "app.py", Language: "python", Content: src},
		datatypes.ScopeFull)
	require.NoError(t, err)

	require.Len(t, rep.Functions, 2)
	fn := rep.Functions[0]
	assert.Equal(t, "list_users", fn.Name)
	assert.Equal(t, "/users", fn.Route)
	assert.Equal(t, "GET,POST", fn.HTTPMethod)
	assert.Equal(t, "Return a page of users.", fn.LogicSummary)
	assert.Equal(t, MethodAST, fn.AnalysisMethod)
	require.Len(t, fn.Parameters, 2)
	assert.Equal(t, "page", fn.Parameters[0].Name)
	assert.Equal(t, "int", fn.Parameters[0].Type)

	assert.Equal(t, "Invoice.finalize", rep.Functions[1].Name)

	require.Len(t, rep.DataStructures, 1)
	ds := rep.DataStructures[0]
	assert.Equal(t, "Invoice", ds.Name)
	require.Len(t, ds.Fields, 2)
	assert.Equal(t, "number", ds.Fields[0].Name)
	assert.Equal(t, "str", ds.Fields[0].Type)
	assert.True(t, ds.Fields[0].Required)
	assert.False(t, ds.Fields[1].Required, "field with default is optional")

	require.Len(t, rep.Endpoints, 1)
	assert.Equal(t, "/users", rep.Endpoints[0].Path)
	assert.Equal(t, []string{"GET", "POST"}, rep.Endpoints[0].Methods)
}

func TestJavaScriptAnalyzer(t *testing.T) {
	src := []byte(`
function listUsers(page, size) {
  return db.query(page, size);
}

const formatName = (first, last) => first + " " + last;

class Invoice {
  number;
  total = 0;
  finalize(when) { this.closed = when; }
}

app.get('/users', listUsers);
app.post('/users', createUser);
`)
	rep, err := NewJavaScriptAnalyzer().Analyze(context.Background(),
		datatypes.CodeFile{Path: "app.js", Language: "javascript", Content: src},
		datatypes.ScopeFull)
	require.NoError(t, err)

	names := make([]string, 0, len(rep.Functions))
	for _, fn := range rep.Functions {
		names = append(names, fn.Name)
	}
	assert.Contains(t, names, "listUsers")
	assert.Contains(t, names, "formatName")
	assert.Contains(t, names, "Invoice.finalize")

	require.Len(t, rep.DataStructures, 1)
	assert.Equal(t, "Invoice", rep.DataStructures[0].Name)

	require.Len(t, rep.Endpoints, 2)
	assert.Equal(t, "/users", rep.Endpoints[0].Path)
	assert.Equal(t, []string{"GET"}, rep.Endpoints[0].Methods)
	assert.Equal(t, "listUsers", rep.Endpoints[0].Handler)
	assert.Equal(t, []string{"POST"}, rep.Endpoints[1].Methods)
}

func TestRegexAnalyzer(t *testing.T) {
	src := []byte(`
public class OrderService {
    public int countOrders(String customer) { return 0; }
}

// route table
register("/orders", handler)
`)
	rep, err := NewRegexAnalyzer().Analyze(context.Background(),
		datatypes.CodeFile{Path: "OrderService.java", Language: "java", Content: src},
		datatypes.ScopeFull)
	require.NoError(t, err)

	require.Len(t, rep.Functions, 1)
	assert.Equal(t, "countOrders", rep.Functions[0].Name)
	assert.Equal(t, MethodRegex, rep.Functions[0].AnalysisMethod)
	require.Len(t, rep.Functions[0].Parameters, 1)
	assert.Equal(t, "customer", rep.Functions[0].Parameters[0].Name)
	assert.Equal(t, "String", rep.Functions[0].Parameters[0].Type)

	require.Len(t, rep.DataStructures, 1)
	assert.Equal(t, "OrderService", rep.DataStructures[0].Name)

	require.Len(t, rep.Endpoints, 1)
	assert.Equal(t, "/orders", rep.Endpoints[0].Path)
}

func TestHTMLAnalyzer(t *testing.T) {
	src := []byte(`<html><body>
<form id="login" action="/login" method="post">
  <input type="text" name="username" placeholder="Username">
  <input type="password" id="password">
  <input type="submit" value="Sign in">
</form>
<a href="/help">Help</a>
</body></html>`)

	rep, err := NewHTMLAnalyzer().Analyze(context.Background(),
		datatypes.CodeFile{Path: "login.html", Language: "html", Content: src},
		datatypes.ScopeUI)
	require.NoError(t, err)

	kinds := map[string]int{}
	for _, el := range rep.UIElements {
		kinds[el.Kind]++
	}
	assert.Equal(t, 1, kinds["form"])
	assert.Equal(t, 2, kinds["input"], "text and password inputs")
	assert.Equal(t, 1, kinds["button"], "submit input becomes a button")
	assert.Equal(t, 1, kinds["link"])

	// name attribute backfills the identifier.
	var username datatypes.UIElement
	for _, el := range rep.UIElements {
		if el.ID == "username" {
			username = el
		}
	}
	assert.Equal(t, "input", username.Kind)
	assert.Equal(t, "Username", username.Attributes["placeholder"])
}

// scriptedAnalyzer lets runner tests control per-path outcomes.
type scriptedAnalyzer struct {
	calls atomic.Int32
	fail  map[string]bool
}

func (s *scriptedAnalyzer) Languages() []string { return []string{"test"} }

func (s *scriptedAnalyzer) Analyze(_ context.Context, file datatypes.CodeFile, _ datatypes.Scope) (datatypes.Representation, error) {
	s.calls.Add(1)
	if s.fail[file.Path] {
		return datatypes.Representation{}, errors.New("scripted failure")
	}
	return datatypes.Representation{
		Functions: []datatypes.BackendFunction{{Name: "fn_" + file.Path}},
	}, nil
}

func testBundle(paths ...string) datatypes.InputBundle {
	var b datatypes.InputBundle
	for _, p := range paths {
		b.Files = append(b.Files, datatypes.CodeFile{
			Path: p, Language: "test", Content: []byte("content of " + p),
		})
	}
	return b
}

func TestStageRunner(t *testing.T) {
	newRunner := func(a Analyzer, cache *fingerprint.Cache) *StageRunner {
		reg := NewRegistry(NewRegexAnalyzer())
		reg.Register(a)
		return NewStageRunner(DefaultConfig(), reg, cache, nil, nil, slog.Default())
	}

	t.Run("merges in input order", func(t *testing.T) {
		r := newRunner(&scriptedAnalyzer{}, nil)
		rep, err := r.AnalyzeBundle(context.Background(), "source",
			testBundle("a", "b", "c"), datatypes.ScopeAPI, "s1")
		require.NoError(t, err)
		require.Len(t, rep.Functions, 3)
		assert.Equal(t, "fn_a", rep.Functions[0].Name)
		assert.Equal(t, "fn_b", rep.Functions[1].Name)
		assert.Equal(t, "fn_c", rep.Functions[2].Name)
		assert.False(t, rep.Partial)
	})

	t.Run("partial on some failures", func(t *testing.T) {
		r := newRunner(&scriptedAnalyzer{fail: map[string]bool{"b": true}}, nil)
		rep, err := r.AnalyzeBundle(context.Background(), "source",
			testBundle("a", "b", "c"), datatypes.ScopeAPI, "s1")
		require.NoError(t, err)
		assert.Len(t, rep.Functions, 2)
		assert.True(t, rep.Partial)
	})

	t.Run("error when every artifact fails", func(t *testing.T) {
		r := newRunner(&scriptedAnalyzer{fail: map[string]bool{"a": true, "b": true}}, nil)
		_, err := r.AnalyzeBundle(context.Background(), "source",
			testBundle("a", "b"), datatypes.ScopeAPI, "s1")
		assert.Error(t, err)
	})

	t.Run("cache avoids re-analysis", func(t *testing.T) {
		a := &scriptedAnalyzer{}
		cache := fingerprint.NewCache(fingerprint.NewMemoryStore(), slog.Default())
		r := newRunner(a, cache)

		_, err := r.AnalyzeBundle(context.Background(), "source",
			testBundle("a"), datatypes.ScopeAPI, "s1")
		require.NoError(t, err)
		_, err = r.AnalyzeBundle(context.Background(), "source",
			testBundle("a"), datatypes.ScopeAPI, "s1")
		require.NoError(t, err)
		assert.Equal(t, int32(1), a.calls.Load())

		// A different scope is a different cache entry.
		_, err = r.AnalyzeBundle(context.Background(), "source",
			testBundle("a"), datatypes.ScopeUI, "s1")
		require.NoError(t, err)
		assert.Equal(t, int32(2), a.calls.Load())
	})

	t.Run("empty bundle yields empty representation", func(t *testing.T) {
		r := newRunner(&scriptedAnalyzer{}, nil)
		rep, err := r.AnalyzeBundle(context.Background(), "source",
			datatypes.InputBundle{}, datatypes.ScopeAPI, "s1")
		require.NoError(t, err)
		assert.True(t, rep.Empty())
	})
}
