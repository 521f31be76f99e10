// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/parityqa/parity/services/orchestrator/datatypes"
)

// RateLimit creates a per-tenant token-bucket middleware. Requests over
// the bucket are refused with 429 and the overloaded error code rather
// than queued; clients retry with backoff.
//
// Must run after Auth so the tenant is known; unauthenticated requests
// share one bucket under the empty tenant.
func RateLimit(rps rate.Limit, burst int) gin.HandlerFunc {
	var (
		mu      sync.Mutex
		buckets = make(map[string]*rate.Limiter)
	)

	limiter := func(tenant string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := buckets[tenant]
		if !ok {
			l = rate.NewLimiter(rps, burst)
			buckets[tenant] = l
		}
		return l
	}

	return func(c *gin.Context) {
		tenant := GetIdentity(c).Tenant
		if !limiter(tenant).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": datatypes.NewAPIError(datatypes.ErrOverloaded, ""),
			})
			return
		}
		c.Next()
	}
}
