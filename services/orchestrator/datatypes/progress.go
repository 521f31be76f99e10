// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// ProgressEventKind classifies a progress stream event.
type ProgressEventKind string

const (
	EventStatus ProgressEventKind = "status"
	EventPhase  ProgressEventKind = "phase"
	EventLog    ProgressEventKind = "log"
	EventResult ProgressEventKind = "result"
)

// ProgressEvent is one entry in a session's ordered progress stream.
// Seq is assigned by the broker at append time and is strictly
// increasing per session.
type ProgressEvent struct {
	Seq       uint64            `json:"seq"`
	RequestID string            `json:"request_id"`
	Kind      ProgressEventKind `json:"kind"`

	Status   SessionStatus `json:"status,omitempty"`
	Phase    string        `json:"phase,omitempty"`
	Progress int           `json:"progress,omitempty"`
	Message  string        `json:"message,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Terminal reports whether the event announces a terminal session
// status.
func (e ProgressEvent) Terminal() bool {
	return e.Kind == EventStatus && e.Status.IsTerminal()
}
