// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "app.py", "app.py"},
		{"nested", "src/models/user.py", "src/models/user.py"},
		{"leading slash", "/etc/passwd", "etc/passwd"},
		{"windows separators", `src\handlers\login.js`, "src/handlers/login.js"},
		{"drive letter", `C:\project\main.go`, "project/main.go"},
		{"dot segments folded", "src/./models/user.py", "src/models/user.py"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := SanitizeFilename(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSanitizeFilenameRejects(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"dot only", "."},
		{"traversal", "../../etc/passwd"},
		{"null byte", "app\x00.py"},
		{"spaces", "my file.py"},
		{"too long", strings.Repeat("a", 300)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := SanitizeFilename(tc.input)
			assert.Error(t, err)
		})
	}
}

func TestSanitizeFilenameTraversalInsideTree(t *testing.T) {
	// "src/../app.py" cleans to "app.py" and stays inside the root.
	got, err := SanitizeFilename("src/../app.py")
	require.NoError(t, err)
	assert.Equal(t, "app.py", got)
}

func TestValidateRequestID(t *testing.T) {
	require.NoError(t, ValidateRequestID("550e8400-e29b-41d4-a716-446655440000"))
	assert.Error(t, ValidateRequestID(""))
	assert.Error(t, ValidateRequestID("id/with/slashes"))
	assert.Error(t, ValidateRequestID(strings.Repeat("x", 80)))
}
