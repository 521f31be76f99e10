// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package comparator

import (
	"context"
)

// SemanticThreshold is the minimum LLM similarity for accepting a
// renamed-element pair.
const SemanticThreshold = 0.55

// pairItem is the category-neutral view of one element for pairing.
type pairItem struct {
	// Name is the raw identifier shown to the semantic matcher.
	Name string

	// Norm is the normalized identity key.
	Norm string

	// Sig is the signature key (functions only); empty disables the
	// signature layer for this item.
	Sig string

	// Index is the element's position in its representation.
	Index int
}

// pairLayer records which layer produced a pair.
type pairLayer int

const (
	layerIdentity pairLayer = iota
	layerSignature
	layerSemantic
)

// pairing is one accepted source/target pair.
type pairing struct {
	Source, Target int // indexes into the original slices
	Layer          pairLayer
	Similarity     float64 // semantic layer only
}

// pairResult is the outcome of the four-layer procedure.
type pairResult struct {
	Pairs      []pairing
	Missing    []int // source indexes with no partner
	Additional []int // target indexes with no partner
}

// semanticMatchFn resolves leftover elements by meaning. It receives the
// still-unpaired items of both sides and returns accepted pairs with
// similarity already thresholded by the caller's policy.
type semanticMatchFn func(ctx context.Context, source, target []pairItem) ([]pairing, error)

// pairElements runs the layered pairing. Ties at the identity and
// signature layers resolve to the earliest target in input order.
// semantic may be nil, which skips the third layer.
func pairElements(ctx context.Context, source, target []pairItem, semantic semanticMatchFn) (pairResult, error) {
	srcUsed := make([]bool, len(source))
	dstUsed := make([]bool, len(target))
	var result pairResult

	// Layer 1: identity on normalized name. Targets indexed by key, in
	// input order, so the earliest unused candidate wins.
	byNorm := make(map[string][]int, len(target))
	for i, t := range target {
		byNorm[t.Norm] = append(byNorm[t.Norm], i)
	}
	claim := func(candidates []int) (int, bool) {
		for _, c := range candidates {
			if !dstUsed[c] {
				return c, true
			}
		}
		return 0, false
	}
	for i, s := range source {
		if c, ok := claim(byNorm[s.Norm]); ok {
			srcUsed[i], dstUsed[c] = true, true
			result.Pairs = append(result.Pairs, pairing{Source: i, Target: c, Layer: layerIdentity})
		}
	}

	// Layer 2: signature equivalence.
	bySig := make(map[string][]int)
	for i, t := range target {
		if !dstUsed[i] && t.Sig != "" {
			bySig[t.Sig] = append(bySig[t.Sig], i)
		}
	}
	for i, s := range source {
		if srcUsed[i] || s.Sig == "" {
			continue
		}
		if c, ok := claim(bySig[s.Sig]); ok {
			srcUsed[i], dstUsed[c] = true, true
			result.Pairs = append(result.Pairs, pairing{Source: i, Target: c, Layer: layerSignature})
		}
	}

	// Layer 3: LLM semantic matching over the leftovers.
	if semantic != nil {
		var leftSrc, leftDst []pairItem
		for i, s := range source {
			if !srcUsed[i] {
				leftSrc = append(leftSrc, s)
			}
		}
		for i, t := range target {
			if !dstUsed[i] {
				leftDst = append(leftDst, t)
			}
		}
		if len(leftSrc) > 0 && len(leftDst) > 0 {
			matches, err := semantic(ctx, leftSrc, leftDst)
			if err != nil {
				return pairResult{}, err
			}
			for _, m := range matches {
				if m.Similarity < SemanticThreshold {
					continue
				}
				if m.Source < 0 || m.Source >= len(leftSrc) || m.Target < 0 || m.Target >= len(leftDst) {
					continue
				}
				// The matcher indexes the leftover slices; translate back
				// to positions in the original representations.
				si, ti := leftSrc[m.Source].Index, leftDst[m.Target].Index
				if srcUsed[si] || dstUsed[ti] {
					continue
				}
				srcUsed[si], dstUsed[ti] = true, true
				result.Pairs = append(result.Pairs, pairing{
					Source: si, Target: ti, Layer: layerSemantic, Similarity: m.Similarity,
				})
			}
		}
	}

	// Layer 4: remainder.
	for i := range source {
		if !srcUsed[i] {
			result.Missing = append(result.Missing, i)
		}
	}
	for i := range target {
		if !dstUsed[i] {
			result.Additional = append(result.Additional, i)
		}
	}
	return result, nil
}
