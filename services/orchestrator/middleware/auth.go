// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the validation API.
//
// # Authentication Flow
//
// The auth middleware extracts a bearer token from the Authorization
// header, verifies it as an HMAC-SHA256 JWT against JWT_SECRET_KEY, and
// stores the resulting Identity in the Gin context for downstream
// handlers.
//
//	Request
//	   │
//	   ▼
//	Auth
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │
//	   ├─► verifyToken(secret, token)
//	   │
//	   └─► Store Identity in context
//	           │
//	           ▼
//	       Handler (retrieves via GetIdentity)
//
// # Open Mode
//
// When no secret is configured every request is authenticated as the
// "local" tenant. This keeps single-operator deployments and the CLI
// working without any identity infrastructure.
package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/parityqa/parity/services/orchestrator/datatypes"
)

// =============================================================================
// Context Keys
// =============================================================================

// identityKey is the context key for storing the authenticated Identity.
// Using a dedicated key prevents collisions with other context values.
const identityKey = "parity_identity"

// Identity is the authenticated caller of a request.
type Identity struct {
	// Subject is the token's sub claim (user or service account).
	Subject string

	// Tenant scopes the caller for admission caps and session listing.
	Tenant string
}

// SetIdentity stores the authenticated caller in the Gin context.
func SetIdentity(c *gin.Context, id Identity) {
	c.Set(identityKey, id)
}

// GetIdentity retrieves the authenticated caller from the Gin context.
// Returns the zero Identity when the request was not authenticated.
func GetIdentity(c *gin.Context) Identity {
	if v, exists := c.Get(identityKey); exists {
		if id, ok := v.(Identity); ok {
			return id
		}
	}
	return Identity{}
}

// =============================================================================
// Auth Middleware
// =============================================================================

// claims is the accepted JWT payload. Extra claims are ignored.
type claims struct {
	Subject string `json:"sub"`
	Tenant  string `json:"tenant,omitempty"`
	Expires int64  `json:"exp,omitempty"`
}

// Auth creates a Gin middleware that authenticates requests.
//
// # Description
//
// Verifies the bearer token as a JWT signed with HMAC-SHA256 over the
// shared secret. Expired tokens, bad signatures, and unsupported
// algorithms are rejected with 401 and the standard error envelope.
// An empty secret enables open mode: every request runs as tenant
// "local".
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func Auth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(secret) == 0 {
			SetIdentity(c, Identity{Subject: "local", Tenant: "local"})
			c.Next()
			return
		}

		token := extractBearerToken(c)
		if token == "" {
			abortUnauthorized(c, fmt.Errorf("%w: missing bearer token", datatypes.ErrAuth))
			return
		}

		cl, err := verifyToken(secret, token)
		if err != nil {
			abortUnauthorized(c, err)
			return
		}

		tenant := cl.Tenant
		if tenant == "" {
			tenant = cl.Subject
		}
		SetIdentity(c, Identity{Subject: cl.Subject, Tenant: tenant})
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": datatypes.NewAPIError(err, c.Param("id")),
	})
}

// verifyToken checks an HS256 JWT: structure, algorithm, signature, and
// expiry. Signature comparison is constant-time.
func verifyToken(secret []byte, token string) (claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return claims{}, fmt.Errorf("%w: malformed token", datatypes.ErrAuth)
	}

	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return claims{}, fmt.Errorf("%w: bad token header", datatypes.ErrAuth)
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return claims{}, fmt.Errorf("%w: bad token header", datatypes.ErrAuth)
	}
	// Accepting only HS256 closes the alg-substitution hole: a token
	// declaring "none" or an asymmetric alg never reaches verification.
	if header.Alg != "HS256" {
		return claims{}, fmt.Errorf("%w: unsupported algorithm %q", datatypes.ErrAuth, header.Alg)
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(parts[0] + "." + parts[1]))
	want := mac.Sum(nil)
	got, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil || subtle.ConstantTimeCompare(want, got) != 1 {
		return claims{}, fmt.Errorf("%w: bad signature", datatypes.ErrAuth)
	}

	payloadJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return claims{}, fmt.Errorf("%w: bad token payload", datatypes.ErrAuth)
	}
	var cl claims
	if err := json.Unmarshal(payloadJSON, &cl); err != nil {
		return claims{}, fmt.Errorf("%w: bad token payload", datatypes.ErrAuth)
	}
	if cl.Expires != 0 && time.Now().Unix() >= cl.Expires {
		return claims{}, fmt.Errorf("%w: token expired", datatypes.ErrAuth)
	}
	return cl, nil
}

// SignToken mints an HS256 JWT for the subject/tenant pair. Used by the
// CLI and by tests; the server only verifies.
func SignToken(secret []byte, subject, tenant string, ttl time.Duration) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	cl := claims{Subject: subject, Tenant: tenant}
	if ttl > 0 {
		cl.Expires = time.Now().Add(ttl).Unix()
	}
	payloadJSON, _ := json.Marshal(cl)
	payload := base64.RawURLEncoding.EncodeToString(payloadJSON)

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(header + "." + payload))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return header + "." + payload + "." + sig
}

// =============================================================================
// Helper Functions
// =============================================================================

// extractBearerToken extracts the token from the Authorization header.
// The "Bearer" prefix is case-insensitive per RFC 7235; returns the
// empty string when the header is missing or malformed.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
