// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package comparator pairs the elements of two abstract representations
// and scores how faithfully the target preserves the source.
//
// Pairing is layered: identity on normalized names, signature
// equivalence for functions, LLM-assisted semantic matching for the
// rest, and finally missing/additional classification of the remainder.
package comparator

import (
	"regexp"
	"strings"
)

// NormalizeIdentifier folds casing conventions so "userName",
// "user_name", "user-name", and "UserName" all compare equal.
func NormalizeIdentifier(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))
	for _, r := range name {
		if r == '_' || r == '-' || r == ' ' || r == '.' {
			continue
		}
		sb.WriteRune(r)
	}
	return strings.ToLower(sb.String())
}

// typeAliases maps language-specific spellings to a canonical type.
var typeAliases = map[string]string{
	"int": "int", "int32": "int", "integer": "int", "smallint": "int",
	"int64": "long", "long": "long", "bigint": "long",
	"float": "float", "float32": "float", "real": "float",
	"float64": "double", "double": "double", "decimal": "double", "numeric": "double",
	"str": "string", "string": "string", "varchar": "string", "text": "string",
	"char": "string", "nvarchar": "string",
	"bool": "bool", "boolean": "bool", "bit": "bool",
	"datetime": "timestamp", "timestamp": "timestamp", "date": "date",
	"dict": "object", "map": "object", "object": "object", "json": "object",
	"list": "array", "array": "array", "slice": "array",
	"bytes": "binary", "blob": "binary", "bytearray": "binary",
}

// NormalizeType canonicalizes a type name, dropping generic parameters
// and size qualifiers: "VARCHAR(255)" → "string", "List[int]" → "array".
func NormalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if idx := strings.IndexAny(t, "([<"); idx > 0 {
		t = t[:idx]
	}
	t = strings.TrimSpace(t)
	if canonical, ok := typeAliases[t]; ok {
		return canonical
	}
	return t
}

// TypesEquivalent reports whether two type names canonicalize equally.
func TypesEquivalent(a, b string) bool {
	if a == "" || b == "" {
		return true // an unknown type never convicts
	}
	return NormalizeType(a) == NormalizeType(b)
}

// wideningPairs lists canonical source→target conversions that preserve
// every source value. Mismatches inside this set degrade from critical
// to warning.
var wideningPairs = map[string][]string{
	"int":    {"long", "float", "double"},
	"long":   {"double"},
	"float":  {"double"},
	"string": {"text"},
}

// IsWidening reports whether source→target is a recognized numeric (or
// lossless) widening.
func IsWidening(source, target string) bool {
	s, t := NormalizeType(source), NormalizeType(target)
	for _, allowed := range wideningPairs[s] {
		if allowed == t {
			return true
		}
	}
	return false
}

// pathVarRe matches path variables in the common syntaxes:
// {id}, :id, <id>, <int:id>.
var pathVarRe = regexp.MustCompile(`\{[^}]*\}|:[A-Za-z_][A-Za-z0-9_]*|<[^>]*>`)

// NormalizePath folds path variable syntax and trailing slashes so
// "/users/{id}" ≡ "/users/:id" ≡ "/users/<int:id>".
func NormalizePath(path string) string {
	path = pathVarRe.ReplaceAllString(path, "{}")
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		path = "/"
	}
	return strings.ToLower(path)
}
