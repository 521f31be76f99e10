// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parityqa/parity/services/orchestrator/datatypes"
)

// pollInterval paces terminal-status polling.
const pollInterval = 2 * time.Second

// skipDirs are never uploaded from a source tree.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
	"vendor":       true,
}

// apiClient is a thin HTTP client over the validation API.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newClient() *apiClient {
	return &apiClient{
		baseURL: strings.TrimSuffix(serverURL, "/"),
		token:   authToken,
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *apiClient) do(req *http.Request) (*http.Response, error) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, exitErr(exitTransport, "request failed: %v", err)
	}
	return resp, nil
}

// apiError decodes the standard error envelope, falling back to the
// raw body.
func apiError(resp *http.Response) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var envelope struct {
		Error datatypes.APIError `json:"error"`
	}
	message := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		message = fmt.Sprintf("%s (%s)", envelope.Error.Message, envelope.Error.Code)
	}

	code := exitTransport
	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized:
		code = exitBadInput
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusGatewayTimeout:
		code = exitExhausted
	}
	return exitErr(code, "server returned %d: %s", resp.StatusCode, message)
}

// submit posts a prepared request and returns the issued request id.
func (c *apiClient) submit(req *http.Request) (string, error) {
	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusAccepted {
		return "", apiError(resp)
	}
	defer resp.Body.Close()

	var accepted struct {
		RequestID string `json:"request_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		return "", exitErr(exitTransport, "malformed acceptance response: %v", err)
	}
	return accepted.RequestID, nil
}

// submitMultipart builds and posts a multipart validation request.
func (c *apiClient) submitMultipart(config map[string]any, sourceDir, targetDir string) (string, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	cfgPart, err := form.CreateFormField("config")
	if err != nil {
		return "", exitErr(exitTransport, "build form: %v", err)
	}
	if err := json.NewEncoder(cfgPart).Encode(config); err != nil {
		return "", exitErr(exitTransport, "encode config: %v", err)
	}

	if err := addDirectory(form, "source", sourceDir); err != nil {
		return "", err
	}
	if err := addDirectory(form, "target", targetDir); err != nil {
		return "", err
	}
	if err := form.Close(); err != nil {
		return "", exitErr(exitTransport, "finalize form: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/validate", &buf)
	if err != nil {
		return "", exitErr(exitTransport, "build request: %v", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	return c.submit(req)
}

// submitJSON posts a JSON body to the given API path.
func (c *apiClient) submitJSON(path string, body any) (string, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return "", exitErr(exitBadInput, "encode request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return "", exitErr(exitTransport, "build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.submit(req)
}

// addDirectory walks dir and appends every regular file as a form part
// named field, using the slash-separated relative path as the filename.
func addDirectory(form *multipart.Writer, field, dir string) error {
	count := 0
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if skipDirs[entry.Name()] || strings.HasPrefix(entry.Name(), ".") && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		if info.Size() > datatypes.MaxFileBytes {
			return fmt.Errorf("%s exceeds the %d byte file limit", path, datatypes.MaxFileBytes)
		}
		count++
		if count > datatypes.MaxBundleFiles {
			return fmt.Errorf("%s holds more than %d files", dir, datatypes.MaxBundleFiles)
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		part, err := form.CreateFormFile(field, filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(part, f)
		return err
	})
	if err != nil {
		return exitErr(exitBadInput, "read %s bundle: %v", field, err)
	}
	if count == 0 {
		return exitErr(exitBadInput, "%s contains no files", dir)
	}
	return nil
}

// statusResponse mirrors the status endpoint body.
type statusResponse struct {
	RequestID       string                  `json:"request_id"`
	Status          datatypes.SessionStatus `json:"status"`
	Progress        int                     `json:"progress"`
	CurrentPhase    string                  `json:"current_phase"`
	FailureReason   string                  `json:"failure_reason"`
	ResultAvailable bool                    `json:"result_available"`
}

// awaitTerminal polls the status endpoint until the session finishes.
func (c *apiClient) awaitTerminal(ctx context.Context, requestID string) (*statusResponse, error) {
	lastPhase := ""
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.baseURL+"/api/validate/"+requestID+"/status", nil)
		if err != nil {
			return nil, exitErr(exitTransport, "build request: %v", err)
		}
		resp, err := c.do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, apiError(resp)
		}

		var status statusResponse
		err = json.NewDecoder(resp.Body).Decode(&status)
		resp.Body.Close()
		if err != nil {
			return nil, exitErr(exitTransport, "malformed status response: %v", err)
		}

		if status.CurrentPhase != "" && status.CurrentPhase != lastPhase {
			fmt.Fprintf(os.Stderr, "phase: %s (%d%%)\n", status.CurrentPhase, status.Progress)
			lastPhase = status.CurrentPhase
		}
		if status.Status.IsTerminal() {
			return &status, nil
		}

		select {
		case <-ctx.Done():
			return nil, exitErr(exitTransport, "interrupted while waiting: %v", ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

// fetchReport retrieves the rendered report in the requested format.
func (c *apiClient) fetchReport(requestID, format string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet,
		c.baseURL+"/api/validate/"+requestID+"/report?format="+format, nil)
	if err != nil {
		return nil, exitErr(exitTransport, "build request: %v", err)
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	return io.ReadAll(resp.Body)
}

// fetchResult retrieves the unified result for exit-code mapping.
func (c *apiClient) fetchResult(requestID string) (*datatypes.UnifiedResult, error) {
	req, err := http.NewRequest(http.MethodGet,
		c.baseURL+"/api/validate/"+requestID+"/result", nil)
	if err != nil {
		return nil, exitErr(exitTransport, "build request: %v", err)
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	var result datatypes.UnifiedResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, exitErr(exitTransport, "malformed result: %v", err)
	}
	return &result, nil
}

// finish fetches the report, prints it, and maps the outcome to an
// exit code.
func (c *apiClient) finish(requestID string) error {
	result, err := c.fetchResult(requestID)
	if err != nil {
		return err
	}
	report, err := c.fetchReport(requestID, outputForm)
	if err != nil {
		return err
	}
	os.Stdout.Write(report)

	switch result.Status {
	case datatypes.StatusApproved, datatypes.StatusApprovedWarnings:
		return nil
	case datatypes.StatusRejected:
		return exitErr(exitRejected, "validation rejected: %s", result.Summary)
	default:
		if strings.Contains(result.Summary, "budget") || strings.Contains(result.Summary, "deadline") {
			return exitErr(exitExhausted, "validation exhausted its budget: %s", result.Summary)
		}
		return exitErr(exitTransport, "validation failed: %s", result.Summary)
	}
}
