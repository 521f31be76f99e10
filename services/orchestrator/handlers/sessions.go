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
	"time"

	"github.com/gin-gonic/gin"

	"github.com/parityqa/parity/pkg/validation"
	"github.com/parityqa/parity/services/orchestrator/datatypes"
	"github.com/parityqa/parity/services/orchestrator/middleware"
	"github.com/parityqa/parity/services/report"
)

// requestID validates and returns the :id path parameter.
func requestID(c *gin.Context) (string, error) {
	id := c.Param("id")
	if err := validation.ValidateRequestID(id); err != nil {
		return "", fmt.Errorf("%w: %v", datatypes.ErrValidationInput, err)
	}
	return id, nil
}

// GetStatus handles GET /api/validate/:id/status.
func GetStatus(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := requestID(c)
		if err != nil {
			respondError(c, deps.Logger, err, "")
			return
		}
		sess, err := deps.Store.Get(c.Request.Context(), id)
		if err != nil {
			respondError(c, deps.Logger, err, id)
			return
		}

		resp := gin.H{
			"request_id":       sess.RequestID,
			"status":           sess.Status,
			"progress":         sess.Progress,
			"result_available": sess.ResultAvailable(),
		}
		if sess.CurrentPhase != "" {
			resp["current_phase"] = sess.CurrentPhase
		}
		if sess.FailureReason != "" {
			resp["failure_reason"] = sess.FailureReason
		}
		c.JSON(http.StatusOK, resp)
	}
}

// GetResult handles GET /api/validate/:id/result. Running sessions get
// 202 with progress; terminal sessions always get a result-shaped body,
// synthesizing an error result when the pipeline never produced one.
func GetResult(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := requestID(c)
		if err != nil {
			respondError(c, deps.Logger, err, "")
			return
		}
		sess, err := deps.Store.Get(c.Request.Context(), id)
		if err != nil {
			respondError(c, deps.Logger, err, id)
			return
		}

		if !sess.Status.IsTerminal() {
			c.JSON(http.StatusAccepted, gin.H{
				"request_id": sess.RequestID,
				"status":     sess.Status,
				"progress":   sess.Progress,
			})
			return
		}
		c.JSON(http.StatusOK, resultFor(sess))
	}
}

// GetReport handles GET /api/validate/:id/report?format=json|html|md.
func GetReport(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := requestID(c)
		if err != nil {
			respondError(c, deps.Logger, err, "")
			return
		}
		format, err := report.ParseFormat(c.Query("format"))
		if err != nil {
			respondError(c, deps.Logger, err, id)
			return
		}

		sess, err := deps.Store.Get(c.Request.Context(), id)
		if err != nil {
			respondError(c, deps.Logger, err, id)
			return
		}
		if !sess.Status.IsTerminal() {
			c.JSON(http.StatusAccepted, gin.H{
				"request_id": sess.RequestID,
				"status":     sess.Status,
				"progress":   sess.Progress,
			})
			return
		}

		body, err := deps.Renderer.Render(resultFor(sess), format)
		if err != nil {
			respondError(c, deps.Logger, err, id)
			return
		}
		c.Data(http.StatusOK, format.ContentType(), body)
	}
}

// GetLogs handles GET /api/validate/:id/logs.
func GetLogs(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := requestID(c)
		if err != nil {
			respondError(c, deps.Logger, err, "")
			return
		}
		if _, err := deps.Store.Get(c.Request.Context(), id); err != nil {
			respondError(c, deps.Logger, err, id)
			return
		}
		logs, err := deps.Store.Logs(c.Request.Context(), id)
		if err != nil {
			respondError(c, deps.Logger, err, id)
			return
		}
		c.JSON(http.StatusOK, gin.H{"request_id": id, "logs": logs})
	}
}

// ListValidations handles GET /api/validate, scoped to the caller's
// tenant.
func ListValidations(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant := middleware.GetIdentity(c).Tenant
		sessions, err := deps.Store.List(c.Request.Context(), tenant)
		if err != nil {
			respondError(c, deps.Logger, err, "")
			return
		}

		summaries := make([]gin.H, 0, len(sessions))
		for _, sess := range sessions {
			summaries = append(summaries, gin.H{
				"request_id":        sess.RequestID,
				"status":            sess.Status,
				"scope":             sess.Scope,
				"source_technology": sess.SourceTech.Name,
				"target_technology": sess.TargetTech.Name,
				"progress":          sess.Progress,
				"created_at":        sess.CreatedAt,
			})
		}
		c.JSON(http.StatusOK, gin.H{"sessions": summaries, "count": len(summaries)})
	}
}

// CancelOrDelete handles DELETE /api/validate/:id. A running session is
// cancelled; a terminal one is soft-deleted.
func CancelOrDelete(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := requestID(c)
		if err != nil {
			respondError(c, deps.Logger, err, "")
			return
		}
		sess, err := deps.Store.Get(c.Request.Context(), id)
		if err != nil {
			respondError(c, deps.Logger, err, id)
			return
		}

		if sess.Status.IsTerminal() {
			actor := middleware.GetIdentity(c).Subject
			if err := deps.Store.SoftDelete(c.Request.Context(), id, actor); err != nil {
				respondError(c, deps.Logger, err, id)
				return
			}
			deps.Vault.Drop(id)
			c.JSON(http.StatusOK, gin.H{"request_id": id, "status": "deleted"})
			return
		}

		if err := deps.Scheduler.Cancel(c.Request.Context(), id); err != nil {
			respondError(c, deps.Logger, err, id)
			return
		}
		deps.Vault.Drop(id)
		c.JSON(http.StatusOK, gin.H{"request_id": id, "status": "cancelled"})
	}
}

// resultFor returns the session's unified result, or an error-shaped
// one for terminal sessions that never produced a result. The client
// always receives the same structure.
func resultFor(sess *datatypes.Session) datatypes.UnifiedResult {
	if sess.Result != nil {
		return *sess.Result
	}
	summary := "validation did not complete"
	if sess.FailureReason != "" {
		summary = "validation did not complete: " + sess.FailureReason
	}
	return datatypes.UnifiedResult{
		RequestID:   sess.RequestID,
		Status:      datatypes.StatusError,
		Scope:       sess.Scope,
		SourceTech:  sess.SourceTech,
		TargetTech:  sess.TargetTech,
		Summary:     summary,
		GeneratedAt: time.Now().UTC(),
	}
}
