// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func authRouter(secret []byte) *gin.Engine {
	router := gin.New()
	router.Use(Auth(secret))
	router.GET("/whoami", func(c *gin.Context) {
		id := GetIdentity(c)
		c.JSON(http.StatusOK, gin.H{"subject": id.Subject, "tenant": id.Tenant})
	})
	return router
}

func doGet(router *gin.Engine, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAuthOpenMode(t *testing.T) {
	router := authRouter(nil)

	rec := doGet(router, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"tenant":"local"`)
}

func TestAuthValidToken(t *testing.T) {
	secret := []byte("test-secret")
	router := authRouter(secret)

	token := SignToken(secret, "alice", "acme", time.Hour)
	rec := doGet(router, token)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"subject":"alice"`)
	assert.Contains(t, rec.Body.String(), `"tenant":"acme"`)
}

func TestAuthTenantDefaultsToSubject(t *testing.T) {
	secret := []byte("test-secret")
	router := authRouter(secret)

	token := SignToken(secret, "bob", "", time.Hour)
	rec := doGet(router, token)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"tenant":"bob"`)
}

func TestAuthRejections(t *testing.T) {
	secret := []byte("test-secret")
	router := authRouter(secret)

	t.Run("missing token", func(t *testing.T) {
		rec := doGet(router, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), `"code":"auth"`)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token := SignToken([]byte("other-secret"), "alice", "acme", time.Hour)
		rec := doGet(router, token)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("expired token", func(t *testing.T) {
		token := SignToken(secret, "alice", "acme", -time.Minute)
		rec := doGet(router, token)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed token", func(t *testing.T) {
		rec := doGet(router, "not.a-jwt")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("tampered payload", func(t *testing.T) {
		token := SignToken(secret, "alice", "acme", time.Hour)
		parts := strings.Split(token, ".")
		parts[1] = parts[1][:len(parts[1])-2] + "xx"
		rec := doGet(router, strings.Join(parts, "."))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestVerifyTokenRejectsAlgNone(t *testing.T) {
	secret := []byte("test-secret")
	// Forge a token declaring alg "none" with an empty signature.
	header := "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0" // {"alg":"none","typ":"JWT"}
	payload := "eyJzdWIiOiJtYWxsb3J5In0"            // {"sub":"mallory"}

	_, err := verifyToken(secret, header+"."+payload+".")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported algorithm")
}

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		name   string
		header string
		want   string
	}{
		{"standard", "Bearer abc123", "abc123"},
		{"case insensitive", "bearer ABC123", "ABC123"},
		{"missing", "", ""},
		{"wrong scheme", "Basic abc123", ""},
		{"no token", "Bearer", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				c.Request.Header.Set("Authorization", tc.header)
			}
			assert.Equal(t, tc.want, extractBearerToken(c))
		})
	}
}

func TestRateLimitRefusesOverBurst(t *testing.T) {
	router := gin.New()
	router.Use(Auth(nil), RateLimit(rate.Limit(1), 2))
	router.GET("/whoami", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := doGet(router, "")
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
