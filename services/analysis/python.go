// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analysis

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/parityqa/parity/services/orchestrator/datatypes"
)

// routeDecoratorRe matches Flask/FastAPI style route decorators:
// @app.route("/users", methods=["GET"]), @router.get("/items").
var routeDecoratorRe = regexp.MustCompile(
	`@\w+\.(route|get|post|put|delete|patch)\(\s*['"]([^'"]+)['"]`)

// methodsArgRe pulls the methods=[...] argument out of a route decorator.
var methodsArgRe = regexp.MustCompile(`methods\s*=\s*\[([^\]]*)\]`)

// PythonAnalyzer extracts functions, classes, and route registrations
// from Python sources using a tree-sitter grammar.
type PythonAnalyzer struct {
	lang *sitter.Language
}

// NewPythonAnalyzer builds the analyzer.
func NewPythonAnalyzer() *PythonAnalyzer {
	return &PythonAnalyzer{lang: python.GetLanguage()}
}

// Languages implements Analyzer.
func (a *PythonAnalyzer) Languages() []string { return []string{"python"} }

// Analyze implements Analyzer.
func (a *PythonAnalyzer) Analyze(ctx context.Context, file datatypes.CodeFile, scope datatypes.Scope) (datatypes.Representation, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(a.lang)

	tree, err := parser.ParseCtx(ctx, nil, file.Content)
	if err != nil {
		return datatypes.Representation{}, fmt.Errorf("parse %s: %w", file.Path, err)
	}
	defer tree.Close()

	var rep datatypes.Representation
	a.walk(tree.RootNode(), file.Content, "", &rep)
	return rep, nil
}

// walk visits definitions recursively. decorators carries the decorator
// text accumulated by an enclosing decorated_definition.
func (a *PythonAnalyzer) walk(node *sitter.Node, src []byte, decorators string, rep *datatypes.Representation) {
	switch node.Type() {
	case "decorated_definition":
		var decs []string
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			if child.Type() == "decorator" {
				decs = append(decs, child.Content(src))
			}
		}
		if def := node.ChildByFieldName("definition"); def != nil {
			a.walk(def, src, strings.Join(decs, "\n"), rep)
		}
		return

	case "function_definition":
		fn := a.function(node, src, decorators)
		rep.Functions = append(rep.Functions, fn)
		if fn.Route != "" {
			methods := []string{"GET"}
			if fn.HTTPMethod != "" {
				methods = strings.Split(fn.HTTPMethod, ",")
			}
			rep.Endpoints = append(rep.Endpoints, datatypes.APIEndpoint{
				Path:           fn.Route,
				Methods:        methods,
				Handler:        fn.Name,
				AnalysisMethod: MethodAST,
			})
		}
		// Nested defs are rare and usually closures; skip descending.
		return

	case "class_definition":
		rep.DataStructures = append(rep.DataStructures, a.class(node, src, rep))
		return
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		a.walk(node.NamedChild(i), src, "", rep)
	}
}

func (a *PythonAnalyzer) function(node *sitter.Node, src []byte, decorators string) datatypes.BackendFunction {
	fn := datatypes.BackendFunction{AnalysisMethod: MethodAST}

	if name := node.ChildByFieldName("name"); name != nil {
		fn.Name = name.Content(src)
	}
	if params := node.ChildByFieldName("parameters"); params != nil {
		fn.Parameters = a.parameters(params, src)
	}
	if ret := node.ChildByFieldName("return_type"); ret != nil {
		fn.ReturnType = ret.Content(src)
	}
	if body := node.ChildByFieldName("body"); body != nil {
		fn.LogicSummary = docstring(body, src)
		fn.Complexity = complexityBand(countNamedDescendants(body))
	}

	if m := routeDecoratorRe.FindStringSubmatch(decorators); m != nil {
		fn.Route = m[2]
		if m[1] != "route" {
			fn.HTTPMethod = strings.ToUpper(m[1])
		} else if mm := methodsArgRe.FindStringSubmatch(decorators); mm != nil {
			var methods []string
			for _, raw := range strings.Split(mm[1], ",") {
				methods = append(methods, strings.Trim(strings.TrimSpace(raw), `'"`))
			}
			fn.HTTPMethod = strings.Join(methods, ",")
		}
	}
	return fn
}

func (a *PythonAnalyzer) parameters(params *sitter.Node, src []byte) []datatypes.Parameter {
	var out []datatypes.Parameter
	for i := 0; i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		switch p.Type() {
		case "identifier":
			name := p.Content(src)
			if name == "self" || name == "cls" {
				continue
			}
			out = append(out, datatypes.Parameter{Name: name})
		case "typed_parameter", "typed_default_parameter":
			param := datatypes.Parameter{}
			if len(p.Content(src)) > 0 {
				// First child is the name, the "type" field carries the
				// annotation.
				if p.NamedChildCount() > 0 {
					param.Name = p.NamedChild(0).Content(src)
				}
				if t := p.ChildByFieldName("type"); t != nil {
					param.Type = t.Content(src)
				}
			}
			if param.Name != "" && param.Name != "self" {
				out = append(out, param)
			}
		case "default_parameter":
			if nameNode := p.ChildByFieldName("name"); nameNode != nil {
				out = append(out, datatypes.Parameter{Name: nameNode.Content(src)})
			}
		}
	}
	return out
}

// class extracts a data structure from a class body: annotated
// assignments become fields, methods become backend functions.
func (a *PythonAnalyzer) class(node *sitter.Node, src []byte, rep *datatypes.Representation) datatypes.DataStructure {
	ds := datatypes.DataStructure{Kind: "class", AnalysisMethod: MethodAST}
	if name := node.ChildByFieldName("name"); name != nil {
		ds.Name = name.Content(src)
	}

	body := node.ChildByFieldName("body")
	if body == nil {
		return ds
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		stmt := body.NamedChild(i)
		switch stmt.Type() {
		case "expression_statement":
			if stmt.NamedChildCount() == 0 {
				continue
			}
			expr := stmt.NamedChild(0)
			if expr.Type() != "assignment" {
				continue
			}
			field := datatypes.DataField{Required: true}
			if left := expr.ChildByFieldName("left"); left != nil {
				field.Name = left.Content(src)
			}
			if t := expr.ChildByFieldName("type"); t != nil {
				field.Type = t.Content(src)
				if strings.HasPrefix(field.Type, "Optional[") ||
					strings.Contains(field.Type, "| None") {
					field.Required = false
				}
			}
			if right := expr.ChildByFieldName("right"); right != nil {
				// A default value makes the field optional.
				field.Required = false
			}
			if field.Name != "" {
				ds.Fields = append(ds.Fields, field)
			}
		case "function_definition":
			fn := a.function(stmt, src, "")
			if fn.Name == "__init__" {
				// Constructor parameters describe the structure too.
				for _, p := range fn.Parameters {
					ds.Fields = append(ds.Fields, datatypes.DataField{
						Name: p.Name, Type: p.Type, Required: true,
					})
				}
				continue
			}
			if !strings.HasPrefix(fn.Name, "_") {
				fn.Name = ds.Name + "." + fn.Name
				rep.Functions = append(rep.Functions, fn)
			}
		case "decorated_definition":
			if def := stmt.ChildByFieldName("definition"); def != nil && def.Type() == "function_definition" {
				fn := a.function(def, src, "")
				if !strings.HasPrefix(fn.Name, "_") {
					fn.Name = ds.Name + "." + fn.Name
					rep.Functions = append(rep.Functions, fn)
				}
			}
		}
	}
	return ds
}

// docstring returns the leading string literal of a block, if any.
func docstring(body *sitter.Node, src []byte) string {
	if body.NamedChildCount() == 0 {
		return ""
	}
	first := body.NamedChild(0)
	if first.Type() != "expression_statement" || first.NamedChildCount() == 0 {
		return ""
	}
	str := first.NamedChild(0)
	if str.Type() != "string" {
		return ""
	}
	text := strings.Trim(str.Content(src), `"' `)
	text = strings.TrimSpace(text)
	if idx := strings.IndexByte(text, '\n'); idx > 0 {
		text = strings.TrimSpace(text[:idx])
	}
	return text
}

func countNamedDescendants(node *sitter.Node) int {
	count := int(node.NamedChildCount())
	for i := 0; i < int(node.NamedChildCount()); i++ {
		count += countNamedDescendants(node.NamedChild(i))
	}
	return count
}

// complexityBand maps a node count to a coarse band.
func complexityBand(nodes int) string {
	switch {
	case nodes < 25:
		return "low"
	case nodes < 80:
		return "medium"
	default:
		return "high"
	}
}
