// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation utilities for
// security-critical operations.
//
// This package contains validators for user-provided inputs that end up
// in file paths or storage keys. Using these validators prevents path
// traversal and null-byte injection from multipart upload filenames.
package validation

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// maxFilenameLength bounds a sanitized upload path. Long enough for
// nested project layouts, short enough for any filesystem backend.
const maxFilenameLength = 255

// filenameComponent matches one safe path component after sanitization.
var filenameComponent = regexp.MustCompile(`^[A-Za-z0-9._\-]+$`)

// SanitizeFilename normalizes a client-supplied upload filename into a
// safe, slash-separated relative path.
//
// Backslashes are folded to slashes (Windows clients), the path is
// cleaned, and a leading drive letter or root is stripped. Returns an
// error when the result is empty, escapes the bundle root, contains a
// null byte, or exceeds the length ceiling.
//
// Example:
//
//	name, err := validation.SanitizeFilename(part.FileName())
//	if err != nil {
//	    return fmt.Errorf("rejecting upload: %w", err)
//	}
func SanitizeFilename(name string) (string, error) {
	if strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("filename contains a null byte")
	}

	cleaned := strings.ReplaceAll(name, `\`, "/")
	if i := strings.Index(cleaned, ":"); i == 1 {
		// "C:/..." style prefix
		cleaned = cleaned[2:]
	}
	cleaned = path.Clean("/" + cleaned)
	cleaned = strings.TrimPrefix(cleaned, "/")

	if cleaned == "" || cleaned == "." {
		return "", fmt.Errorf("empty filename after sanitization: %q", name)
	}
	if len(cleaned) > maxFilenameLength {
		return "", fmt.Errorf("filename too long: %d characters (limit %d)",
			len(cleaned), maxFilenameLength)
	}
	for _, component := range strings.Split(cleaned, "/") {
		if component == ".." {
			return "", fmt.Errorf("filename escapes the bundle root: %q", name)
		}
		if !filenameComponent.MatchString(component) {
			return "", fmt.Errorf("filename component %q contains unsupported characters", component)
		}
	}
	return cleaned, nil
}

// ValidateRequestID checks an externally supplied request identifier
// before it is used as a storage key. Request IDs are URL-safe UUIDs or
// similar opaque tokens.
func ValidateRequestID(id string) error {
	if id == "" {
		return fmt.Errorf("request id cannot be empty")
	}
	if len(id) > 64 {
		return fmt.Errorf("request id too long: %d characters", len(id))
	}
	if !filenameComponent.MatchString(id) {
		return fmt.Errorf("request id contains unsupported characters: %q", id)
	}
	return nil
}
