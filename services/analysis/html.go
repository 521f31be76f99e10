// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analysis

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/parityqa/parity/services/orchestrator/datatypes"
)

// uiTags maps interesting HTML tags to UI element kinds.
var uiTags = map[string]string{
	"input":    "input",
	"button":   "button",
	"select":   "select",
	"textarea": "textarea",
	"form":     "form",
	"table":    "table",
	"a":        "link",
	"label":    "label",
	"img":      "image",
}

// HTMLAnalyzer extracts UI elements from HTML templates and pages.
type HTMLAnalyzer struct{}

// NewHTMLAnalyzer builds the analyzer.
func NewHTMLAnalyzer() *HTMLAnalyzer { return &HTMLAnalyzer{} }

// Languages implements Analyzer.
func (a *HTMLAnalyzer) Languages() []string { return []string{"html"} }

// Analyze implements Analyzer.
func (a *HTMLAnalyzer) Analyze(_ context.Context, file datatypes.CodeFile, _ datatypes.Scope) (datatypes.Representation, error) {
	doc, err := html.Parse(bytes.NewReader(file.Content))
	if err != nil {
		return datatypes.Representation{}, fmt.Errorf("parse %s: %w", file.Path, err)
	}

	var rep datatypes.Representation
	collectUIElements(doc, &rep)
	return rep, nil
}

func collectUIElements(node *html.Node, rep *datatypes.Representation) {
	if node.Type == html.ElementNode {
		if kind, ok := uiTags[node.Data]; ok {
			el := datatypes.UIElement{
				Kind:           kind,
				Attributes:     map[string]string{},
				AnalysisMethod: MethodAST,
			}
			for _, attr := range node.Attr {
				switch attr.Key {
				case "id":
					el.ID = attr.Val
				case "name", "type", "placeholder", "href", "action", "method", "value", "src", "for":
					el.Attributes[attr.Key] = attr.Val
				}
			}
			if el.ID == "" {
				if name, ok := el.Attributes["name"]; ok {
					el.ID = name
				}
			}
			el.Text = strings.TrimSpace(textContent(node))
			if len(el.Attributes) == 0 {
				el.Attributes = nil
			}
			// Refine input kind by its type attribute.
			if kind == "input" {
				switch attrValue(node, "type") {
				case "submit", "button":
					el.Kind = "button"
				case "checkbox":
					el.Kind = "checkbox"
				case "radio":
					el.Kind = "radio"
				}
			}
			rep.UIElements = append(rep.UIElements, el)
		}
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		collectUIElements(child, rep)
	}
}

func attrValue(node *html.Node, key string) string {
	for _, attr := range node.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

// textContent concatenates the visible text beneath a node, capped to
// keep element keys short.
func textContent(node *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if sb.Len() > 80 {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)
	text := strings.Join(strings.Fields(sb.String()), " ")
	if len(text) > 80 {
		text = text[:80]
	}
	return text
}
