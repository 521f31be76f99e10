// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package fingerprint derives content-addressed cache keys and provides
// the TTL cache that sits in front of expensive analysis and model calls.
//
// # Key Derivation
//
// Keys are a schema version digit followed by the lowercase-hex SHA-256
// digest of the payload. The version prefixes the key, readable without
// hashing, so a format change can never collide with keys written by an
// older build:
//
//	key = schemaVersion ‖ hex(sha256(payload))
//
// File payload:  "file:" ‖ path ‖ 0x00 ‖ language ‖ 0x00 ‖ content
// Model payload: "llm:" ‖ model ‖ 0x00 ‖ system ‖ 0x00 ‖ user ‖ 0x00 ‖
//                context ‖ 0x00 ‖ temperatureBand
//
// The 0x00 separators make the encoding injective: no concatenation of
// fields can masquerade as another.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/parityqa/parity/services/orchestrator/datatypes"
)

// schemaVersion prefixes every derived key. Bump it when the payload
// layout or the cached value encoding changes.
const schemaVersion = "1"

// Cache namespaces. The namespace is a key prefix, not part of the
// digest, so each namespace can carry its own TTL policy.
const (
	NamespaceLLM      = "llm:"
	NamespaceAnalysis = "analysis:"
)

// Namespace TTLs.
const (
	TTLLLM      = 30 * 24 * time.Hour
	TTLAnalysis = 7 * 24 * time.Hour
)

func digest(parts ...[]byte) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write(p)
	}
	return schemaVersion + hex.EncodeToString(h.Sum(nil))
}

// File derives the content fingerprint for one source artifact.
func File(path, language string, content []byte) string {
	return digest([]byte("file:"+path), []byte(language), content)
}

// Analysis derives the cache key for an analysis result: the file
// fingerprint qualified by scope, so the same file analyzed under a
// different scope occupies a separate entry.
func Analysis(fileFingerprint string, scope datatypes.Scope) string {
	return NamespaceAnalysis + digest([]byte(fileFingerprint), []byte(scope))
}

// LLM derives the cache key for a model completion. Temperature enters
// only through its band: requests in the same low band share an entry,
// higher bands are never cached.
func LLM(req datatypes.LLMRequest) string {
	return NamespaceLLM + digest(
		[]byte("llm:"+req.Model),
		[]byte(req.System),
		[]byte(req.User),
		[]byte(req.Context),
		[]byte(req.Band()),
	)
}
