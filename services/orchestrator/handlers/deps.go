// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the HTTP handlers of the validation API.
//
// Handlers only parse requests, forward work to the scheduler, query
// session state, and render reports. All business logic lives in the
// pipeline services.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/parityqa/parity/services/behavioral"
	"github.com/parityqa/parity/services/orchestrator/datatypes"
	"github.com/parityqa/parity/services/orchestrator/observability"
	"github.com/parityqa/parity/services/progress"
	"github.com/parityqa/parity/services/report"
	"github.com/parityqa/parity/services/scheduler"
	"github.com/parityqa/parity/services/session"
)

// HealthCheck probes one subsystem for the health endpoint.
type HealthCheck func(ctx context.Context) error

// Deps carries the handler dependencies. Handlers are closures over
// this struct, wired once in routes.SetupRoutes.
type Deps struct {
	Store     *session.Store
	Scheduler *scheduler.Scheduler
	Broker    *progress.Broker
	Renderer  *report.Renderer
	Vault     *behavioral.Vault
	Logger    *slog.Logger

	// Metrics, when set, counts accepted sessions.
	Metrics *observability.ValidationMetrics

	// Checks holds the named subsystem probes for /health.
	Checks map[string]HealthCheck
}

// validate is the shared request validator. validator.Validate is
// thread-safe and caches struct metadata.
var validate = validator.New()

// respondError renders the standard error envelope with the HTTP status
// derived from the error taxonomy.
func respondError(c *gin.Context, logger *slog.Logger, err error, requestID string) {
	apiErr := datatypes.NewAPIError(err, requestID)
	status := statusFor(apiErr.Code)
	if status >= http.StatusInternalServerError && logger != nil {
		logger.Error("request failed", "request_id", requestID, "error", err)
	}
	c.JSON(status, gin.H{"error": apiErr})
}

// statusFor maps taxonomy codes to HTTP statuses.
func statusFor(code datatypes.ErrorCode) int {
	switch code {
	case datatypes.CodeValidationInput:
		return http.StatusBadRequest
	case datatypes.CodeAuth:
		return http.StatusUnauthorized
	case datatypes.CodeNotFound:
		return http.StatusNotFound
	case datatypes.CodeConflict:
		return http.StatusConflict
	case datatypes.CodeOverloaded, datatypes.CodeBudgetExhausted:
		return http.StatusTooManyRequests
	case datatypes.CodeDeadlineExceeded:
		return http.StatusGatewayTimeout
	case datatypes.CodeProviderUnavailable:
		return http.StatusServiceUnavailable
	case datatypes.CodeResponseUnparseable, datatypes.CodeProberFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// validationError converts validator/v10 failures into the input error
// sentinel so they render as 400 with field context.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		first := verrs[0]
		return fmt.Errorf("%w: field %q fails %q", datatypes.ErrValidationInput,
			first.Namespace(), first.Tag())
	}
	return fmt.Errorf("%w: %v", datatypes.ErrValidationInput, err)
}
