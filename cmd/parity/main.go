// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command parity is the migration validation CLI: submit validations,
// run behavioral probes, serve the orchestrator, and check deployment
// health.
package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes of the CLI.
const (
	exitOK        = 0
	exitBadInput  = 2
	exitRejected  = 3
	exitTransport = 4
	exitExhausted = 5
)

// codedError carries the process exit code alongside the cause.
type codedError struct {
	code int
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Unwrap() error { return e.err }

func exitErr(code int, format string, args ...any) error {
	return &codedError{code: code, err: fmt.Errorf(format, args...)}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var coded *codedError
		if errors.As(err, &coded) {
			os.Exit(coded.code)
		}
		// Cobra surfaces flag and argument errors directly.
		os.Exit(exitBadInput)
	}
}
