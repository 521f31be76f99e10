// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/parityqa/parity/pkg/validation"
	"github.com/parityqa/parity/services/analysis"
	"github.com/parityqa/parity/services/behavioral"
	"github.com/parityqa/parity/services/orchestrator/datatypes"
	"github.com/parityqa/parity/services/orchestrator/middleware"
)

// =============================================================================
// Request shapes
// =============================================================================

// submitConfig is the JSON "config" part of a multipart submission.
type submitConfig struct {
	Scope      datatypes.Scope             `json:"scope" validate:"required"`
	Priority   datatypes.Priority          `json:"priority,omitempty"`
	SourceTech datatypes.TechnologyContext `json:"source_technology" validate:"required"`
	TargetTech datatypes.TechnologyContext `json:"target_technology" validate:"required"`

	SourceURL string `json:"source_url,omitempty" validate:"omitempty,url"`
	TargetURL string `json:"target_url,omitempty" validate:"omitempty,url"`

	// Behavioral configures the live stage for hybrid submissions.
	Behavioral *behavioralSpec `json:"behavioral,omitempty"`
}

// behavioralSpec is the behavioral portion of a submission.
type behavioralSpec struct {
	SourceURL      string               `json:"source_url" validate:"required,url"`
	TargetURL      string               `json:"target_url" validate:"required,url"`
	Scenarios      []datatypes.Scenario `json:"scenarios" validate:"required,min=1"`
	Credentials    *credentialsPayload  `json:"credentials,omitempty"`
	TimeoutSeconds int                  `json:"timeout_seconds,omitempty"`
}

// credentialsPayload is parsed once and immediately sealed into an
// enclave; it is never stored, logged, or echoed back.
type credentialsPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// behavioralRequest is the JSON body of POST /api/behavioral/validate.
type behavioralRequest struct {
	SourceURL      string                      `json:"source_url" validate:"required,url"`
	TargetURL      string                      `json:"target_url" validate:"required,url"`
	SourceTech     datatypes.TechnologyContext `json:"source_technology,omitempty"`
	TargetTech     datatypes.TechnologyContext `json:"target_technology,omitempty"`
	Scenarios      []datatypes.Scenario        `json:"scenarios" validate:"required,min=1"`
	Credentials    *credentialsPayload         `json:"credentials,omitempty"`
	TimeoutSeconds int                         `json:"timeout_seconds,omitempty"`
	Priority       datatypes.Priority          `json:"priority,omitempty"`
}

// =============================================================================
// Submission handlers
// =============================================================================

// SubmitValidation handles POST /api/validate: a multipart request with
// a JSON config part plus source/target artifacts. Returns 202 with the
// issued request_id.
func SubmitValidation(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		submitMultipart(deps, c, false)
	}
}

// SubmitHybrid handles POST /api/validate/hybrid: static artifacts plus
// a behavioral block in the config part.
func SubmitHybrid(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		submitMultipart(deps, c, true)
	}
}

func submitMultipart(deps Deps, c *gin.Context, requireBehavioral bool) {
	form, err := c.MultipartForm()
	if err != nil {
		respondError(c, deps.Logger, fmt.Errorf("%w: %v", datatypes.ErrValidationInput, err), "")
		return
	}

	cfg, err := parseConfigPart(form)
	if err != nil {
		respondError(c, deps.Logger, err, "")
		return
	}
	if requireBehavioral && cfg.Behavioral == nil {
		respondError(c, deps.Logger,
			fmt.Errorf("%w: hybrid submission requires a behavioral block", datatypes.ErrValidationInput), "")
		return
	}

	source, err := readBundle(form, "source", cfg.SourceURL)
	if err != nil {
		respondError(c, deps.Logger, err, "")
		return
	}
	target, err := readBundle(form, "target", cfg.TargetURL)
	if err != nil {
		respondError(c, deps.Logger, err, "")
		return
	}

	sess := &datatypes.Session{
		RequestID:  uuid.NewString(),
		Tenant:     middleware.GetIdentity(c).Tenant,
		Scope:      cfg.Scope,
		Priority:   priorityOrDefault(cfg.Priority),
		SourceTech: cfg.SourceTech,
		TargetTech: cfg.TargetTech,
		Source:     source,
		Target:     target,
	}

	var creds *behavioral.Credentials
	if cfg.Behavioral != nil {
		sess.Behavioral = behavioralConfig(cfg.Behavioral)
		creds = sealCredentials(cfg.Behavioral.Credentials)
		sess.Behavioral.HasCredentials = creds != nil
	}

	accept(deps, c, sess, creds)
}

// SubmitBehavioral handles POST /api/behavioral/validate: a pure live
// comparison with no static artifacts.
func SubmitBehavioral(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req behavioralRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, deps.Logger, fmt.Errorf("%w: %v", datatypes.ErrValidationInput, err), "")
			return
		}
		if err := validate.Struct(req); err != nil {
			respondError(c, deps.Logger, validationError(err), "")
			return
		}

		sess := &datatypes.Session{
			RequestID:  uuid.NewString(),
			Tenant:     middleware.GetIdentity(c).Tenant,
			Scope:      datatypes.ScopeBehavioral,
			Priority:   priorityOrDefault(req.Priority),
			SourceTech: techOrLive(req.SourceTech),
			TargetTech: techOrLive(req.TargetTech),
			Behavioral: behavioralConfig(&behavioralSpec{
				SourceURL:      req.SourceURL,
				TargetURL:      req.TargetURL,
				Scenarios:      req.Scenarios,
				TimeoutSeconds: req.TimeoutSeconds,
			}),
		}

		creds := sealCredentials(req.Credentials)
		sess.Behavioral.HasCredentials = creds != nil

		accept(deps, c, sess, creds)
	}
}

// accept validates the session, parks credentials, and hands the
// session to the scheduler.
func accept(deps Deps, c *gin.Context, sess *datatypes.Session, creds *behavioral.Credentials) {
	if err := sess.Validate(); err != nil {
		respondError(c, deps.Logger, err, sess.RequestID)
		return
	}
	if creds != nil {
		deps.Vault.Put(sess.RequestID, creds)
	}

	if err := deps.Scheduler.Submit(c.Request.Context(), sess); err != nil {
		deps.Vault.Drop(sess.RequestID)
		if deps.Metrics != nil && errors.Is(err, datatypes.ErrOverloaded) {
			deps.Metrics.AdmissionsRefusedTotal.Inc()
		}
		respondError(c, deps.Logger, err, sess.RequestID)
		return
	}

	if deps.Metrics != nil {
		deps.Metrics.RecordSession(sess.Scope, sess.Status)
	}
	deps.Logger.Info("validation accepted",
		"request_id", sess.RequestID,
		"scope", sess.Scope,
		"tenant", sess.Tenant,
		"source_files", len(sess.Source.Files),
		"target_files", len(sess.Target.Files))

	c.JSON(http.StatusAccepted, gin.H{
		"request_id": sess.RequestID,
		"status":     "accepted",
	})
}

// =============================================================================
// Multipart helpers
// =============================================================================

func parseConfigPart(form *multipart.Form) (submitConfig, error) {
	var cfg submitConfig
	values := form.Value["config"]
	if len(values) == 0 {
		return cfg, fmt.Errorf("%w: missing config part", datatypes.ErrValidationInput)
	}
	if err := json.Unmarshal([]byte(values[0]), &cfg); err != nil {
		return cfg, fmt.Errorf("%w: config part: %v", datatypes.ErrValidationInput, err)
	}
	if err := validate.Struct(cfg); err != nil {
		return cfg, validationError(err)
	}
	return cfg, nil
}

// readBundle collects the uploaded artifacts of one side. File names
// are sanitized and ceilings enforced before anything is buffered in
// full.
func readBundle(form *multipart.Form, side, url string) (datatypes.InputBundle, error) {
	bundle := datatypes.InputBundle{URL: url}

	files := form.File[side]
	if len(files) > datatypes.MaxBundleFiles {
		return bundle, fmt.Errorf("%w: %s bundle has %d files, limit is %d",
			datatypes.ErrValidationInput, side, len(files), datatypes.MaxBundleFiles)
	}
	for _, fh := range files {
		name, content, err := readPart(fh)
		if err != nil {
			return bundle, err
		}
		bundle.Files = append(bundle.Files, datatypes.CodeFile{
			Path:     name,
			Language: analysis.DetectLanguage(name),
			Content:  content,
		})
	}

	for _, fh := range form.File[side+"_screenshots"] {
		name, content, err := readPart(fh)
		if err != nil {
			return bundle, err
		}
		bundle.Screenshots = append(bundle.Screenshots, datatypes.Screenshot{
			Path:    name,
			Content: content,
		})
	}

	if err := bundle.Validate(); err != nil {
		return bundle, err
	}
	return bundle, nil
}

func readPart(fh *multipart.FileHeader) (string, []byte, error) {
	name, err := validation.SanitizeFilename(fh.Filename)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", datatypes.ErrValidationInput, err)
	}
	if fh.Size > datatypes.MaxFileBytes {
		return "", nil, fmt.Errorf("%w: file %q is %d bytes, per-file limit is %d",
			datatypes.ErrValidationInput, name, fh.Size, datatypes.MaxFileBytes)
	}

	f, err := fh.Open()
	if err != nil {
		return "", nil, fmt.Errorf("opening upload %q: %w", name, err)
	}
	defer f.Close()

	// The +1 read detects a part lying about its size header.
	content, err := io.ReadAll(io.LimitReader(f, datatypes.MaxFileBytes+1))
	if err != nil {
		return "", nil, fmt.Errorf("reading upload %q: %w", name, err)
	}
	if len(content) > datatypes.MaxFileBytes {
		return "", nil, fmt.Errorf("%w: file %q exceeds the per-file limit of %d bytes",
			datatypes.ErrValidationInput, name, datatypes.MaxFileBytes)
	}
	return name, content, nil
}

// =============================================================================
// Conversions
// =============================================================================

func behavioralConfig(spec *behavioralSpec) *datatypes.BehavioralConfig {
	cfg := &datatypes.BehavioralConfig{
		SourceURL: spec.SourceURL,
		TargetURL: spec.TargetURL,
		Scenarios: append([]datatypes.Scenario(nil), spec.Scenarios...),
	}
	if spec.TimeoutSeconds > 0 {
		timeout := time.Duration(spec.TimeoutSeconds) * time.Second
		for i := range cfg.Scenarios {
			if cfg.Scenarios[i].Timeout == 0 {
				cfg.Scenarios[i].Timeout = timeout
			}
		}
	}
	return cfg
}

func sealCredentials(payload *credentialsPayload) *behavioral.Credentials {
	if payload == nil || payload.Password == "" {
		return nil
	}
	return behavioral.NewCredentials(payload.Username, payload.Password)
}

func priorityOrDefault(p datatypes.Priority) datatypes.Priority {
	if p == "" {
		return datatypes.PriorityInteractive
	}
	return p
}

func techOrLive(tech datatypes.TechnologyContext) datatypes.TechnologyContext {
	if tech.Name == "" {
		tech.Name = "live-system"
	}
	return tech
}
