// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package report renders unified validation results as JSON, Markdown,
// or HTML documents with an executive summary, per-stage scores, the
// discrepancy table, and recommendations.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"strings"

	"github.com/parityqa/parity/services/orchestrator/datatypes"
)

// Format selects the report output format.
type Format string

const (
	FormatJSON     Format = "json"
	FormatHTML     Format = "html"
	FormatMarkdown Format = "md"
)

// ParseFormat maps a query value to a Format. Empty defaults to JSON.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "json":
		return FormatJSON, nil
	case "html":
		return FormatHTML, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("%w: unknown report format %q", datatypes.ErrValidationInput, s)
	}
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	default:
		return "application/json"
	}
}

// Renderer turns unified results into report documents.
type Renderer struct {
	logger *slog.Logger
}

// NewRenderer builds a renderer.
func NewRenderer(logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{logger: logger}
}

// Render produces the report in the requested format.
func (r *Renderer) Render(result datatypes.UnifiedResult, format Format) ([]byte, error) {
	result = withDiffs(result)
	switch format {
	case FormatJSON:
		return json.MarshalIndent(result, "", "  ")
	case FormatMarkdown:
		return r.renderMarkdown(result)
	case FormatHTML:
		return r.renderHTML(result)
	default:
		return nil, fmt.Errorf("%w: unknown report format %q", datatypes.ErrValidationInput, format)
	}
}

// withDiffs fills in a unified diff for discrepancies that carry both
// sides of a divergent value but no diff of their own.
func withDiffs(result datatypes.UnifiedResult) datatypes.UnifiedResult {
	out := result
	out.Discrepancies = append([]datatypes.Discrepancy(nil), result.Discrepancies...)
	for i, d := range out.Discrepancies {
		if d.Diff == "" && d.SourceValue != "" && d.TargetValue != "" &&
			d.SourceValue != d.TargetValue {
			out.Discrepancies[i].Diff = unifiedDiff(d.Element, d.SourceValue, d.TargetValue)
		}
	}
	return out
}

// =============================================================================
// Markdown
// =============================================================================

func (r *Renderer) renderMarkdown(result datatypes.UnifiedResult) ([]byte, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "# Migration Validation Report\n\n")
	fmt.Fprintf(&b, "**Request:** `%s`  \n", result.RequestID)
	fmt.Fprintf(&b, "**Migration:** %s → %s  \n", result.SourceTech.Name, result.TargetTech.Name)
	fmt.Fprintf(&b, "**Scope:** %s  \n", result.Scope)
	fmt.Fprintf(&b, "**Generated:** %s\n\n", result.GeneratedAt.Format("2006-01-02 15:04:05 UTC"))

	fmt.Fprintf(&b, "## Executive Summary\n\n")
	fmt.Fprintf(&b, "**Verdict: %s** — fidelity score %.4f\n\n", result.Status, result.Score)
	if result.Summary != "" {
		fmt.Fprintf(&b, "%s\n\n", result.Summary)
	}

	if len(result.Stages) > 0 {
		fmt.Fprintf(&b, "## Stages\n\n")
		fmt.Fprintf(&b, "| Stage | Status | Score | Elements | Findings |\n")
		fmt.Fprintf(&b, "|-------|--------|-------|----------|----------|\n")
		for _, s := range result.Stages {
			fmt.Fprintf(&b, "| %s | %s | %.4f | %d | %d |\n",
				s.Stage, s.Status, s.Score, s.ElementsCompared, len(s.Discrepancies))
		}
		fmt.Fprintf(&b, "\n")
	}

	if len(result.Discrepancies) > 0 {
		fmt.Fprintf(&b, "## Discrepancies\n\n")
		fmt.Fprintf(&b, "| Severity | Category | Kind | Element | Description |\n")
		fmt.Fprintf(&b, "|----------|----------|------|---------|-------------|\n")
		for _, d := range result.Discrepancies {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
				d.Severity, d.Category, d.Kind, mdEscape(d.Element), mdEscape(d.Description))
		}
		fmt.Fprintf(&b, "\n")

		for _, d := range result.Discrepancies {
			if d.Diff == "" {
				continue
			}
			fmt.Fprintf(&b, "### Divergence: %s\n\n", mdEscape(d.Element))
			fmt.Fprintf(&b, "```diff\n%s```\n\n", d.Diff)
		}
	} else {
		fmt.Fprintf(&b, "## Discrepancies\n\nNone found.\n\n")
	}

	if len(result.Recommendations) > 0 {
		fmt.Fprintf(&b, "## Recommendations\n\n")
		for _, rec := range result.Recommendations {
			fmt.Fprintf(&b, "- %s\n", rec)
		}
		fmt.Fprintf(&b, "\n")
	}

	fmt.Fprintf(&b, "---\n\nLLM usage: %d tokens, $%.4f\n", result.TokensUsed, result.CostUSD)
	return []byte(b.String()), nil
}

// mdEscape keeps cell content from breaking the table layout.
func mdEscape(s string) string {
	return strings.NewReplacer("|", `\|`, "\n", " ").Replace(s)
}

// =============================================================================
// HTML
// =============================================================================

var htmlReport = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Validation Report {{.RequestID}}</title>
<style>
body { font-family: system-ui, sans-serif; margin: 2rem auto; max-width: 60rem; color: #1a1a1a; }
table { border-collapse: collapse; width: 100%; margin: 1rem 0; }
th, td { border: 1px solid #ccc; padding: 0.4rem 0.6rem; text-align: left; }
th { background: #f2f2f2; }
.verdict { padding: 0.2rem 0.6rem; border-radius: 0.3rem; font-weight: 600; }
.verdict-approved { background: #d8f5d0; }
.verdict-approved-with-warnings { background: #fdf3cf; }
.verdict-rejected { background: #fbd9d4; }
.verdict-error { background: #e5e5e5; }
.sev-critical { color: #b41f1f; font-weight: 600; }
.sev-warning { color: #9a6700; }
.sev-info { color: #57606a; }
pre.diff { background: #f6f8fa; padding: 0.8rem; overflow-x: auto; }
</style>
</head>
<body>
<h1>Migration Validation Report</h1>
<p><strong>Request:</strong> <code>{{.RequestID}}</code><br>
<strong>Migration:</strong> {{.SourceTech.Name}} &rarr; {{.TargetTech.Name}}<br>
<strong>Scope:</strong> {{.Scope}}<br>
<strong>Generated:</strong> {{.GeneratedAt.Format "2006-01-02 15:04:05 UTC"}}</p>

<h2>Executive Summary</h2>
<p><span class="verdict verdict-{{.Status}}">{{.Status}}</span> &mdash; fidelity score {{printf "%.4f" .Score}}</p>
{{if .Summary}}<p>{{.Summary}}</p>{{end}}

{{if .Stages}}
<h2>Stages</h2>
<table>
<tr><th>Stage</th><th>Status</th><th>Score</th><th>Elements</th><th>Findings</th></tr>
{{range .Stages}}
<tr><td>{{.Stage}}</td><td>{{.Status}}</td><td>{{printf "%.4f" .Score}}</td><td>{{.ElementsCompared}}</td><td>{{len .Discrepancies}}</td></tr>
{{end}}
</table>
{{end}}

<h2>Discrepancies</h2>
{{if .Discrepancies}}
<table>
<tr><th>Severity</th><th>Category</th><th>Kind</th><th>Element</th><th>Description</th></tr>
{{range .Discrepancies}}
<tr><td class="sev-{{.Severity}}">{{.Severity}}</td><td>{{.Category}}</td><td>{{.Kind}}</td><td>{{.Element}}</td><td>{{.Description}}</td></tr>
{{end}}
</table>
{{range .Discrepancies}}{{if .Diff}}
<h3>Divergence: {{.Element}}</h3>
<pre class="diff">{{.Diff}}</pre>
{{end}}{{end}}
{{else}}
<p>None found.</p>
{{end}}

{{if .Recommendations}}
<h2>Recommendations</h2>
<ul>
{{range .Recommendations}}<li>{{.}}</li>{{end}}
</ul>
{{end}}

<hr>
<p>LLM usage: {{.TokensUsed}} tokens, ${{printf "%.4f" .CostUSD}}</p>
</body>
</html>
`))

func (r *Renderer) renderHTML(result datatypes.UnifiedResult) ([]byte, error) {
	var buf bytes.Buffer
	if err := htmlReport.Execute(&buf, result); err != nil {
		return nil, fmt.Errorf("rendering html report: %w", err)
	}
	return buf.Bytes(), nil
}
