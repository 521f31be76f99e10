// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package behavioral

import "sync"

// Vault holds session credentials between submission and the behavioral
// stage run. Credentials live only in this process: they are sealed in
// enclaves, never persisted with the session, and removed on first take
// or on session teardown.
//
// Safe for concurrent use.
type Vault struct {
	mu    sync.Mutex
	creds map[string]*Credentials
}

// NewVault builds an empty vault.
func NewVault() *Vault {
	return &Vault{creds: make(map[string]*Credentials)}
}

// Put stores credentials for a session, replacing any previous record.
// A nil credentials value is ignored.
func (v *Vault) Put(requestID string, creds *Credentials) {
	if creds == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if old := v.creds[requestID]; old != nil && old != creds {
		old.Destroy()
	}
	v.creds[requestID] = creds
}

// Take removes and returns the session's credentials. Returns nil when
// none were supplied; the behavioral stage then runs unauthenticated.
func (v *Vault) Take(requestID string) *Credentials {
	v.mu.Lock()
	defer v.mu.Unlock()
	creds := v.creds[requestID]
	delete(v.creds, requestID)
	return creds
}

// Drop destroys and discards the session's credentials, if any remain.
func (v *Vault) Drop(requestID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if creds := v.creds[requestID]; creds != nil {
		creds.Destroy()
	}
	delete(v.creds, requestID)
}
