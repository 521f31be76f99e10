// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// healthTimeout bounds each subsystem probe.
const healthTimeout = 2 * time.Second

// HealthCheckHandler handles GET /health. The service reports healthy
// only when every registered subsystem probe passes; any failure
// degrades the service without taking the endpoint down.
func HealthCheckHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		subsystems := make(gin.H, len(deps.Checks))
		healthy := true

		for name, check := range deps.Checks {
			probeCtx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
			err := check(probeCtx)
			cancel()
			if err != nil {
				healthy = false
				subsystems[name] = gin.H{"status": "unhealthy", "error": err.Error()}
				deps.Logger.Warn("health check failed", "subsystem", name, "error", err)
			} else {
				subsystems[name] = gin.H{"status": "ok"}
			}
		}

		status := "healthy"
		code := http.StatusOK
		if !healthy {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"status": status, "subsystems": subsystems})
	}
}
