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
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"

	"github.com/parityqa/parity/services/orchestrator/datatypes"
)

var httpVerbs = map[string]string{
	"get": "GET", "post": "POST", "put": "PUT",
	"delete": "DELETE", "patch": "PATCH",
}

// JavaScriptAnalyzer extracts functions, classes, and Express-style
// route registrations from JavaScript sources.
type JavaScriptAnalyzer struct {
	lang *sitter.Language
}

// NewJavaScriptAnalyzer builds the analyzer.
func NewJavaScriptAnalyzer() *JavaScriptAnalyzer {
	return &JavaScriptAnalyzer{lang: javascript.GetLanguage()}
}

// Languages implements Analyzer. The grammar parses plain TypeScript
// well enough for structural extraction, so both are claimed.
func (a *JavaScriptAnalyzer) Languages() []string {
	return []string{"javascript", "typescript"}
}

// Analyze implements Analyzer.
func (a *JavaScriptAnalyzer) Analyze(ctx context.Context, file datatypes.CodeFile, scope datatypes.Scope) (datatypes.Representation, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(a.lang)

	tree, err := parser.ParseCtx(ctx, nil, file.Content)
	if err != nil {
		return datatypes.Representation{}, fmt.Errorf("parse %s: %w", file.Path, err)
	}
	defer tree.Close()

	var rep datatypes.Representation
	a.walk(tree.RootNode(), file.Content, &rep)
	return rep, nil
}

func (a *JavaScriptAnalyzer) walk(node *sitter.Node, src []byte, rep *datatypes.Representation) {
	switch node.Type() {
	case "function_declaration":
		rep.Functions = append(rep.Functions, a.function(node, src))
		return

	case "class_declaration":
		rep.DataStructures = append(rep.DataStructures, a.class(node, src, rep))
		return

	case "call_expression":
		if ep, ok := a.routeCall(node, src); ok {
			rep.Endpoints = append(rep.Endpoints, ep)
		}

	case "variable_declarator":
		// const f = (a, b) => {...} and const f = function(...) {...}
		if value := node.ChildByFieldName("value"); value != nil {
			t := value.Type()
			if t == "arrow_function" || t == "function_expression" || t == "function" {
				fn := a.function(value, src)
				if name := node.ChildByFieldName("name"); name != nil {
					fn.Name = name.Content(src)
				}
				if fn.Name != "" {
					rep.Functions = append(rep.Functions, fn)
				}
				return
			}
		}
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		a.walk(node.NamedChild(i), src, rep)
	}
}

func (a *JavaScriptAnalyzer) function(node *sitter.Node, src []byte) datatypes.BackendFunction {
	fn := datatypes.BackendFunction{AnalysisMethod: MethodAST}
	if name := node.ChildByFieldName("name"); name != nil {
		fn.Name = name.Content(src)
	}
	if params := node.ChildByFieldName("parameters"); params != nil {
		for i := 0; i < int(params.NamedChildCount()); i++ {
			p := params.NamedChild(i)
			if p.Type() == "identifier" {
				fn.Parameters = append(fn.Parameters, datatypes.Parameter{Name: p.Content(src)})
			}
		}
	}
	if body := node.ChildByFieldName("body"); body != nil {
		fn.Complexity = complexityBand(countNamedDescendants(body))
	}
	return fn
}

func (a *JavaScriptAnalyzer) class(node *sitter.Node, src []byte, rep *datatypes.Representation) datatypes.DataStructure {
	ds := datatypes.DataStructure{Kind: "class", AnalysisMethod: MethodAST}
	if name := node.ChildByFieldName("name"); name != nil {
		ds.Name = name.Content(src)
	}
	body := node.ChildByFieldName("body")
	if body == nil {
		return ds
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		member := body.NamedChild(i)
		switch member.Type() {
		case "field_definition", "public_field_definition":
			field := datatypes.DataField{Required: true}
			if prop := member.ChildByFieldName("property"); prop != nil {
				field.Name = prop.Content(src)
			}
			if member.ChildByFieldName("value") != nil {
				field.Required = false
			}
			if field.Name != "" {
				ds.Fields = append(ds.Fields, field)
			}
		case "method_definition":
			fn := a.function(member, src)
			if name := member.ChildByFieldName("name"); name != nil {
				fn.Name = name.Content(src)
			}
			if fn.Name == "constructor" {
				for _, p := range fn.Parameters {
					ds.Fields = append(ds.Fields, datatypes.DataField{
						Name: p.Name, Required: true,
					})
				}
				continue
			}
			if fn.Name != "" && !strings.HasPrefix(fn.Name, "#") {
				fn.Name = ds.Name + "." + fn.Name
				rep.Functions = append(rep.Functions, fn)
			}
		}
	}
	return ds
}

// routeCall recognizes app.get("/path", handler) style registrations.
func (a *JavaScriptAnalyzer) routeCall(node *sitter.Node, src []byte) (datatypes.APIEndpoint, bool) {
	fn := node.ChildByFieldName("function")
	if fn == nil || fn.Type() != "member_expression" {
		return datatypes.APIEndpoint{}, false
	}
	prop := fn.ChildByFieldName("property")
	if prop == nil {
		return datatypes.APIEndpoint{}, false
	}
	verb, ok := httpVerbs[prop.Content(src)]
	if !ok {
		return datatypes.APIEndpoint{}, false
	}

	args := node.ChildByFieldName("arguments")
	if args == nil || args.NamedChildCount() == 0 {
		return datatypes.APIEndpoint{}, false
	}
	first := args.NamedChild(0)
	if first.Type() != "string" {
		return datatypes.APIEndpoint{}, false
	}
	path := strings.Trim(first.Content(src), "'\"`")
	if !strings.HasPrefix(path, "/") {
		return datatypes.APIEndpoint{}, false
	}

	ep := datatypes.APIEndpoint{
		Path:           path,
		Methods:        []string{verb},
		AnalysisMethod: MethodAST,
	}
	// Second argument often names the handler.
	if args.NamedChildCount() > 1 {
		second := args.NamedChild(1)
		if second.Type() == "identifier" {
			ep.Handler = second.Content(src)
		}
	}
	return ep, true
}
