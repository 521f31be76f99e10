// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"fmt"
	"time"
)

// =============================================================================
// Session lifecycle
// =============================================================================

// SessionStatus is one state of the validation session lifecycle.
type SessionStatus string

const (
	SessionPending    SessionStatus = "pending"
	SessionQueued     SessionStatus = "queued"
	SessionProcessing SessionStatus = "processing"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
	SessionCancelled  SessionStatus = "cancelled"
	SessionTimedOut   SessionStatus = "timed-out"
)

// IsTerminal reports whether the status admits no further transitions.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionCompleted, SessionFailed, SessionCancelled, SessionTimedOut:
		return true
	}
	return false
}

// legalTransitions enumerates every permitted status edge. Terminal
// states have no outgoing edges; same-state transitions are handled as
// idempotent no-ops by CanTransition.
var legalTransitions = map[SessionStatus][]SessionStatus{
	SessionPending:    {SessionQueued, SessionFailed, SessionCancelled},
	SessionQueued:     {SessionProcessing, SessionCancelled, SessionFailed, SessionTimedOut},
	SessionProcessing: {SessionCompleted, SessionFailed, SessionCancelled, SessionTimedOut},
}

// CanTransition reports whether from→to is a legal edge. A same-state
// transition is always permitted and treated as a no-op by the store.
func CanTransition(from, to SessionStatus) bool {
	if from == to {
		return true
	}
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// =============================================================================
// Priority bands
// =============================================================================

// Priority is a scheduling band. Interactive work drains before batch.
type Priority string

const (
	PriorityInteractive Priority = "interactive"
	PriorityBatch       Priority = "batch"
)

// Valid reports whether p is a known band.
func (p Priority) Valid() bool {
	return p == PriorityInteractive || p == PriorityBatch
}

// =============================================================================
// Session aggregate
// =============================================================================

// Session is the persistent aggregate for one validation run.
//
// Mutation goes through the session store, which enforces the transition
// table and bumps Version on every write (optimistic concurrency).
type Session struct {
	// RequestID is the opaque, URL-safe identifier issued at submission.
	RequestID string `json:"request_id"`

	// Tenant scopes the session for admission caps and listing.
	Tenant string `json:"tenant,omitempty"`

	Status   SessionStatus `json:"status"`
	Priority Priority      `json:"priority"`

	Scope      Scope             `json:"scope"`
	SourceTech TechnologyContext `json:"source_technology"`
	TargetTech TechnologyContext `json:"target_technology"`

	Source InputBundle `json:"source,omitempty"`
	Target InputBundle `json:"target,omitempty"`

	Behavioral *BehavioralConfig `json:"behavioral,omitempty"`

	// Progress is a coarse percentage [0,100] for the status endpoint.
	Progress int `json:"progress"`

	// CurrentPhase names the running pipeline phase for status reporting.
	CurrentPhase string `json:"current_phase,omitempty"`

	Result *UnifiedResult `json:"result,omitempty"`

	// FailureReason carries the terminal error message for failed and
	// timed-out sessions.
	FailureReason string `json:"failure_reason,omitempty"`

	// Version is bumped on every persisted write; compare-and-swap
	// rejects stale writers.
	Version uint64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Soft delete marker. Deleted sessions are excluded from reads but
	// retained for audit.
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	DeletedBy string     `json:"deleted_by,omitempty"`
}

// Deleted reports whether the session has been soft-deleted.
func (s *Session) Deleted() bool {
	return s.DeletedAt != nil
}

// ResultAvailable reports whether a unified result can be fetched.
func (s *Session) ResultAvailable() bool {
	return s.Status == SessionCompleted && s.Result != nil
}

// Validate checks the submission-time invariants of a session.
func (s *Session) Validate() error {
	if s.RequestID == "" {
		return fmt.Errorf("%w: missing request_id", ErrValidationInput)
	}
	if !s.Scope.Valid() {
		return fmt.Errorf("%w: unknown scope %q", ErrValidationInput, s.Scope)
	}
	if !s.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrValidationInput, s.Priority)
	}
	if s.SourceTech.Name == "" || s.TargetTech.Name == "" {
		return fmt.Errorf("%w: both source and target technologies are required",
			ErrValidationInput)
	}
	if s.Scope.IncludesStatic() && s.Source.Empty() && s.Target.Empty() {
		return fmt.Errorf("%w: scope %q requires source or target artifacts",
			ErrValidationInput, s.Scope)
	}
	if err := s.Source.Validate(); err != nil {
		return fmt.Errorf("source bundle: %w", err)
	}
	if err := s.Target.Validate(); err != nil {
		return fmt.Errorf("target bundle: %w", err)
	}
	if s.Scope.RequiresBehavioral() {
		if s.Behavioral == nil {
			return fmt.Errorf("%w: scope %q requires behavioral configuration",
				ErrValidationInput, s.Scope)
		}
		if s.Behavioral.SourceURL == "" || s.Behavioral.TargetURL == "" {
			return fmt.Errorf("%w: scope %q requires both live URLs",
				ErrValidationInput, s.Scope)
		}
		if len(s.Behavioral.Scenarios) == 0 {
			return fmt.Errorf("%w: scope %q requires at least one scenario",
				ErrValidationInput, s.Scope)
		}
	}
	return nil
}

// =============================================================================
// Session logs
// =============================================================================

// LogEntry is one append-only session log record. Entries are emitted
// atomically with the state transition or progress event they describe.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"` // debug, info, warn, error
	Phase     string         `json:"phase,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}
