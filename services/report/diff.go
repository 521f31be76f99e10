// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package report

import (
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// unifiedDiff renders the difference between two texts as a unified
// diff. Used to attach logic-divergence evidence to report output when
// the comparator recorded both sides but no diff.
//
// The hunk is computed with a line-level longest-common-subsequence;
// summaries are short, so the quadratic table is fine.
func unifiedDiff(element, source, target string) string {
	if source == target {
		return ""
	}

	a := splitLines(source)
	b := splitLines(target)
	body, origLines, newLines := hunkBody(a, b)
	if len(body) == 0 {
		return ""
	}

	fd := &diff.FileDiff{
		OrigName: "source/" + element,
		NewName:  "target/" + element,
		Hunks: []*diff.Hunk{{
			OrigStartLine: 1,
			OrigLines:     int32(origLines),
			NewStartLine:  1,
			NewLines:      int32(newLines),
			Body:          []byte(strings.Join(body, "\n") + "\n"),
		}},
	}
	out, err := diff.PrintFileDiff(fd)
	if err != nil {
		return ""
	}
	return string(out)
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}

// hunkBody emits one full-file hunk: context lines for common runs,
// '-' for source-only lines, '+' for target-only lines.
func hunkBody(a, b []string) (body []string, origLines, newLines int) {
	// LCS length table.
	lcs := make([][]int, len(a)+1)
	for i := range lcs {
		lcs[i] = make([]int, len(b)+1)
	}
	for i := len(a) - 1; i >= 0; i-- {
		for j := len(b) - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	var i, j int
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			body = append(body, " "+a[i])
			origLines++
			newLines++
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			body = append(body, "-"+a[i])
			origLines++
			i++
		default:
			body = append(body, "+"+b[j])
			newLines++
			j++
		}
	}
	for ; i < len(a); i++ {
		body = append(body, "-"+a[i])
		origLines++
	}
	for ; j < len(b); j++ {
		body = append(body, "+"+b[j])
		newLines++
	}
	return body, origLines, newLines
}
