// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/parityqa/parity/services/behavioral"
	"github.com/parityqa/parity/services/orchestrator/datatypes"
	"github.com/parityqa/parity/services/orchestrator/handlers"
	"github.com/parityqa/parity/services/orchestrator/middleware"
	"github.com/parityqa/parity/services/progress"
	"github.com/parityqa/parity/services/report"
	"github.com/parityqa/parity/services/scheduler"
	"github.com/parityqa/parity/services/session"
	badgerstorage "github.com/parityqa/parity/services/storage/badger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubPipeline finishes instantly with an approved result.
type stubPipeline struct{}

func (stubPipeline) Run(_ context.Context, sess *datatypes.Session) (*datatypes.UnifiedResult, error) {
	return &datatypes.UnifiedResult{
		RequestID:   sess.RequestID,
		Status:      datatypes.StatusApproved,
		Kind:        datatypes.ResultStaticOnly,
		Score:       1,
		Scope:       sess.Scope,
		SourceTech:  sess.SourceTech,
		TargetTech:  sess.TargetTech,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

func newTestRouter(t *testing.T, opts Options) (*gin.Engine, handlers.Deps) {
	t.Helper()

	db, err := badgerstorage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	broker := progress.NewBroker(progress.Config{})
	t.Cleanup(broker.Close)

	store := session.NewStore(db, broker, nil)
	sched := scheduler.New(scheduler.DefaultConfig(), store, stubPipeline{}, nil)
	require.NoError(t, sched.Start(context.Background()))
	t.Cleanup(sched.Stop)

	deps := handlers.Deps{
		Store:     store,
		Scheduler: sched,
		Broker:    broker,
		Renderer:  report.NewRenderer(nil),
		Vault:     behavioral.NewVault(),
		Logger:    slog.New(slog.DiscardHandler),
		Checks: map[string]handlers.HealthCheck{
			"storage": func(context.Context) error { return nil },
		},
	}

	router := gin.New()
	SetupRoutes(router, deps, opts)
	return router, deps
}

func multipartSubmission(t *testing.T, config map[string]any) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	cfgPart, err := form.CreateFormField("config")
	require.NoError(t, err)
	require.NoError(t, json.NewEncoder(cfgPart).Encode(config))

	src, err := form.CreateFormFile("source", "app.py")
	require.NoError(t, err)
	_, err = src.Write([]byte("def hello():\n    return 'hi'\n"))
	require.NoError(t, err)

	dst, err := form.CreateFormFile("target", "app.js")
	require.NoError(t, err)
	_, err = dst.Write([]byte("function hello() { return 'hi'; }\n"))
	require.NoError(t, err)

	require.NoError(t, form.Close())
	return &buf, form.FormDataContentType()
}

func TestSubmitAndQueryLifecycle(t *testing.T) {
	router, _ := newTestRouter(t, Options{})

	body, contentType := multipartSubmission(t, map[string]any{
		"scope":             "backend-logic",
		"source_technology": map[string]string{"name": "python-flask"},
		"target_technology": map[string]string{"name": "node-express"},
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/validate", body)
	req.Header.Set("Content-Type", contentType)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var accepted struct {
		RequestID string `json:"request_id"`
		Status    string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))
	require.NotEmpty(t, accepted.RequestID)
	require.Equal(t, "accepted", accepted.Status)

	// The stub pipeline completes almost immediately.
	require.Eventually(t, func() bool {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
			"/api/validate/"+accepted.RequestID+"/status", nil))
		if w.Code != http.StatusOK {
			return false
		}
		var status struct {
			Status datatypes.SessionStatus `json:"status"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
		return status.Status.IsTerminal()
	}, 5*time.Second, 20*time.Millisecond)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/api/validate/"+accepted.RequestID+"/result", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var result datatypes.UnifiedResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.Equal(t, datatypes.StatusApproved, result.Status)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/validate", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/api/validate/"+accepted.RequestID+"/report?format=md", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "Migration Validation Report")
}

func TestUnknownSessionReturns404(t *testing.T) {
	router, _ := newTestRouter(t, Options{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/api/validate/no-such-session/status", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestMalformedRequestIDRejected(t *testing.T) {
	router, _ := newTestRouter(t, Options{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/api/validate/bad*id/status", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthRequiredWhenSecretSet(t *testing.T) {
	secret := []byte("routes-secret")
	router, _ := newTestRouter(t, Options{JWTSecret: secret})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/technologies", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	token := middleware.SignToken(secret, "tester", "team-a", time.Minute)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/technologies", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHealthReflectsSubsystemFailures(t *testing.T) {
	router, _ := newTestRouter(t, Options{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"healthy"`)

	failing := gin.New()
	db, err := badgerstorage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	broker := progress.NewBroker(progress.Config{})
	t.Cleanup(broker.Close)
	store := session.NewStore(db, broker, nil)
	sched := scheduler.New(scheduler.DefaultConfig(), store, stubPipeline{}, nil)
	deps := handlers.Deps{
		Store: store, Scheduler: sched, Broker: broker,
		Renderer: report.NewRenderer(nil), Vault: behavioral.NewVault(),
		Logger: slog.New(slog.DiscardHandler),
		Checks: map[string]handlers.HealthCheck{
			"llm": func(context.Context) error { return errors.New("no providers") },
		},
	}
	SetupRoutes(failing, deps, Options{})

	w = httptest.NewRecorder()
	failing.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Contains(t, w.Body.String(), `"degraded"`)
}

func TestMetricsEndpointServes(t *testing.T) {
	router, _ := newTestRouter(t, Options{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestCapabilitiesAndCompatibility(t *testing.T) {
	router, _ := newTestRouter(t, Options{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/capabilities", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "max_file_bytes")

	body := `{"source_technology":{"name":"python-flask"},"target_technology":{"name":"react"}}`
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/compatibility/check", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "warnings")
}
