// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package behavioral

import (
	"strings"
	"sync"

	"github.com/awnumar/memguard"
)

var memguardInitOnce sync.Once

// Credentials holds a login record for behavioral probing.
//
// # Description
//
// The password lives in a memguard enclave for the lifetime of the run:
// encrypted at rest in process memory, decrypted into an mlocked buffer
// only for the instant a step substitutes it into a form field, and
// wiped on Destroy. Credentials are never persisted, never serialized,
// and never logged; String always returns a redacted form.
//
// # Thread Safety
//
// Safe for concurrent use after construction.
type Credentials struct {
	username string
	secret   *memguard.Enclave
}

// NewCredentials seals the password into an enclave. The plaintext
// argument is wiped by memguard on ingestion.
func NewCredentials(username, password string) *Credentials {
	memguardInitOnce.Do(memguard.CatchInterrupt)
	return &Credentials{
		username: username,
		secret:   memguard.NewEnclave([]byte(password)),
	}
}

// Username returns the login name. Usernames are not secret; they appear
// in traces as typed input like any other field value.
func (c *Credentials) Username() string {
	if c == nil {
		return ""
	}
	return c.username
}

// withPassword opens the enclave, runs fn over the plaintext, and
// destroys the locked buffer before returning.
func (c *Credentials) withPassword(fn func(password string) error) error {
	if c == nil || c.secret == nil {
		return fn("")
	}
	buf, err := c.secret.Open()
	if err != nil {
		return err
	}
	defer buf.Destroy()
	return fn(buf.String())
}

// Destroy wipes the sealed password.
func (c *Credentials) Destroy() {
	if c != nil {
		c.secret = nil
	}
}

// String implements fmt.Stringer with redaction so accidental logging
// never leaks the record.
func (c *Credentials) String() string {
	return "credentials{username:" + c.Username() + ", password:[REDACTED]}"
}

// Placeholders recognized in scenario step inputs.
const (
	PlaceholderUsername = "{username}"
	PlaceholderPassword = "{password}"
)

// substitute resolves credential placeholders in a step input. The
// resolved value must not outlive the step that types it.
func (c *Credentials) substitute(input string, fn func(resolved string) error) error {
	if !strings.Contains(input, PlaceholderUsername) && !strings.Contains(input, PlaceholderPassword) {
		return fn(input)
	}
	return c.withPassword(func(password string) error {
		resolved := strings.ReplaceAll(input, PlaceholderUsername, c.Username())
		resolved = strings.ReplaceAll(resolved, PlaceholderPassword, password)
		return fn(resolved)
	})
}

// redactInput returns the value recorded in traces for a step input.
// Inputs that referenced the password placeholder are never recorded
// resolved.
func redactInput(input string) string {
	if strings.Contains(input, PlaceholderPassword) {
		return "[REDACTED]"
	}
	return input
}
