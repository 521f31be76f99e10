// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/parityqa/parity/services/orchestrator/datatypes"
)

// Technology describes one catalog entry.
type Technology struct {
	Name     string `json:"name"`
	Language string `json:"language"`
	Kind     string `json:"kind"` // backend, frontend, fullstack
}

// technologies is the supported-migration catalog. Unknown technologies
// are still accepted for analysis but fall back to the regex analyzer
// and earn a compatibility warning.
var technologies = []Technology{
	{Name: "python-flask", Language: "python", Kind: "backend"},
	{Name: "python-django", Language: "python", Kind: "backend"},
	{Name: "python-fastapi", Language: "python", Kind: "backend"},
	{Name: "node-express", Language: "javascript", Kind: "backend"},
	{Name: "go-gin", Language: "go", Kind: "backend"},
	{Name: "java-spring", Language: "java", Kind: "backend"},
	{Name: "dotnet-core", Language: "csharp", Kind: "backend"},
	{Name: "ruby-rails", Language: "ruby", Kind: "backend"},
	{Name: "php-laravel", Language: "php", Kind: "backend"},
	{Name: "react", Language: "javascript", Kind: "frontend"},
	{Name: "angular", Language: "javascript", Kind: "frontend"},
	{Name: "vue", Language: "javascript", Kind: "frontend"},
	{Name: "html-static", Language: "html", Kind: "frontend"},
	{Name: "live-system", Language: "", Kind: "fullstack"},
}

func lookupTechnology(name string) (Technology, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, t := range technologies {
		if t.Name == name {
			return t, true
		}
	}
	return Technology{}, false
}

// ListTechnologies handles GET /api/technologies.
func ListTechnologies(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"technologies": technologies,
			"scopes":       datatypes.AllScopes,
		})
	}
}

// GetCapabilities handles GET /api/capabilities: what this deployment
// can do and under which limits.
func GetCapabilities(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"scopes":         datatypes.AllScopes,
			"stages":         []datatypes.StageKind{datatypes.StageStatic, datatypes.StageBehavioral},
			"report_formats": []string{"json", "html", "md"},
			"priorities":     []datatypes.Priority{datatypes.PriorityInteractive, datatypes.PriorityBatch},
			"limits": gin.H{
				"max_file_bytes":   datatypes.MaxFileBytes,
				"max_bundle_bytes": datatypes.MaxBundleBytes,
				"max_bundle_files": datatypes.MaxBundleFiles,
			},
		})
	}
}

// compatibilityRequest is the body of POST /api/compatibility/check.
type compatibilityRequest struct {
	SourceTech datatypes.TechnologyContext `json:"source_technology" validate:"required"`
	TargetTech datatypes.TechnologyContext `json:"target_technology" validate:"required"`
	Scope      datatypes.Scope             `json:"scope,omitempty"`
}

// CheckCompatibility handles POST /api/compatibility/check: a cheap
// pre-flight evaluation of a migration pair before uploading artifacts.
func CheckCompatibility(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req compatibilityRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, deps.Logger, fmt.Errorf("%w: %v", datatypes.ErrValidationInput, err), "")
			return
		}
		if err := validate.Struct(req); err != nil {
			respondError(c, deps.Logger, validationError(err), "")
			return
		}
		if req.Scope != "" && !req.Scope.Valid() {
			respondError(c, deps.Logger,
				fmt.Errorf("%w: unknown scope %q", datatypes.ErrValidationInput, req.Scope), "")
			return
		}

		var warnings []string
		source, sourceKnown := lookupTechnology(req.SourceTech.Name)
		target, targetKnown := lookupTechnology(req.TargetTech.Name)
		if !sourceKnown {
			warnings = append(warnings, fmt.Sprintf(
				"source technology %q is not in the catalog; analysis falls back to pattern matching",
				req.SourceTech.Name))
		}
		if !targetKnown {
			warnings = append(warnings, fmt.Sprintf(
				"target technology %q is not in the catalog; analysis falls back to pattern matching",
				req.TargetTech.Name))
		}
		if sourceKnown && targetKnown && source.Kind != target.Kind &&
			source.Kind != "fullstack" && target.Kind != "fullstack" {
			warnings = append(warnings, fmt.Sprintf(
				"migrating a %s stack to a %s stack; structural pairing will be sparse",
				source.Kind, target.Kind))
		}
		if req.Scope == datatypes.ScopeUI && sourceKnown && source.Kind == "backend" {
			warnings = append(warnings,
				"ui scope over a backend source usually compares screenshots only")
		}

		c.JSON(http.StatusOK, gin.H{
			"compatible": true,
			"warnings":   warnings,
		})
	}
}
