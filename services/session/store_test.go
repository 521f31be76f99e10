// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parityqa/parity/services/orchestrator/datatypes"
	storage "github.com/parityqa/parity/services/storage/badger"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []datatypes.ProgressEvent
}

func (e *recordingEmitter) Publish(event datatypes.ProgressEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
}

func (e *recordingEmitter) kinds() []datatypes.ProgressEventKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]datatypes.ProgressEventKind, len(e.events))
	for i, ev := range e.events {
		out[i] = ev.Kind
	}
	return out
}

func newTestStore(t *testing.T) (*Store, *recordingEmitter) {
	t.Helper()
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	emitter := &recordingEmitter{}
	return NewStore(db, emitter, nil), emitter
}

func newSession(id string) *datatypes.Session {
	return &datatypes.Session{
		RequestID:  id,
		Scope:      datatypes.ScopeBackendLogic,
		Priority:   datatypes.PriorityInteractive,
		SourceTech: datatypes.TechnologyContext{Name: "python-flask"},
		TargetTech: datatypes.TechnologyContext{Name: "go-gin"},
		Source: datatypes.InputBundle{
			Files: []datatypes.CodeFile{{Path: "app.py", Content: []byte("def f(): pass")}},
		},
	}
}

func TestCreateAndGet(t *testing.T) {
	store, emitter := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newSession("r1")))

	got, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, datatypes.SessionPending, got.Status)
	assert.Equal(t, uint64(1), got.Version)
	assert.False(t, got.CreatedAt.IsZero())
	require.Len(t, emitter.events, 1)
	assert.Equal(t, datatypes.EventStatus, emitter.events[0].Kind)
}

func TestCreateDuplicateConflicts(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newSession("r1")))
	err := store.Create(ctx, newSession("r1"))
	assert.ErrorIs(t, err, datatypes.ErrConflict)
}

func TestGetUnknown(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, datatypes.ErrNotFound)
}

func TestTransitionHappyPath(t *testing.T) {
	store, emitter := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newSession("r1")))

	for _, to := range []datatypes.SessionStatus{
		datatypes.SessionQueued, datatypes.SessionProcessing, datatypes.SessionCompleted,
	} {
		_, err := store.Transition(ctx, "r1", to, nil)
		require.NoError(t, err, string(to))
	}

	got, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, datatypes.SessionCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	// Version bumped on create + three transitions.
	assert.Equal(t, uint64(4), got.Version)

	// Every transition announced in order.
	assert.Equal(t, []datatypes.ProgressEventKind{
		datatypes.EventStatus, datatypes.EventStatus, datatypes.EventStatus, datatypes.EventStatus,
	}, emitter.kinds())

	logs, err := store.Logs(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, logs, 3)
}

func TestTransitionIllegalEdge(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newSession("r1")))

	_, err := store.Transition(ctx, "r1", datatypes.SessionCompleted, nil)
	assert.ErrorIs(t, err, datatypes.ErrConflict)
}

func TestTransitionIdempotentSameState(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newSession("r1")))
	_, err := store.Transition(ctx, "r1", datatypes.SessionQueued, nil)
	require.NoError(t, err)

	before, _ := store.Get(ctx, "r1")
	_, err = store.Transition(ctx, "r1", datatypes.SessionQueued, nil)
	require.NoError(t, err)
	after, _ := store.Get(ctx, "r1")
	assert.Equal(t, before.Version, after.Version, "same-state transition must not write")
}

func TestTerminalStatusIsMonotonic(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newSession("r1")))
	_, err := store.Transition(ctx, "r1", datatypes.SessionCancelled, nil)
	require.NoError(t, err)

	_, err = store.Transition(ctx, "r1", datatypes.SessionQueued, nil)
	assert.ErrorIs(t, err, datatypes.ErrConflict)
}

func TestUpdateProgress(t *testing.T) {
	store, emitter := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newSession("r1")))
	_, err := store.Transition(ctx, "r1", datatypes.SessionQueued, nil)
	require.NoError(t, err)

	require.NoError(t, store.UpdateProgress(ctx, "r1", "analysis", 40))
	// Progress never regresses.
	require.NoError(t, store.UpdateProgress(ctx, "r1", "analysis", 30))

	got, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 40, got.Progress)
	assert.Equal(t, "analysis", got.CurrentPhase)
	assert.Contains(t, emitter.kinds(), datatypes.EventPhase)
}

func TestSoftDelete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newSession("r1")))
	_, err := store.Transition(ctx, "r1", datatypes.SessionCancelled, nil)
	require.NoError(t, err)

	require.NoError(t, store.SoftDelete(ctx, "r1", "tenant-a"))

	_, err = store.Get(ctx, "r1")
	assert.ErrorIs(t, err, datatypes.ErrNotFound)

	// Deleting again is a no-op.
	require.NoError(t, store.SoftDelete(ctx, "r1", "tenant-a"))

	sessions, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestListFiltersByTenant(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	a := newSession("r1")
	a.Tenant = "alpha"
	b := newSession("r2")
	b.Tenant = "beta"
	require.NoError(t, store.Create(ctx, a))
	require.NoError(t, store.Create(ctx, b))

	sessions, err := store.List(ctx, "alpha")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "r1", sessions[0].RequestID)
}

func TestRecover(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	queued := newSession("q1")
	require.NoError(t, store.Create(ctx, queued))
	_, err := store.Transition(ctx, "q1", datatypes.SessionQueued, nil)
	require.NoError(t, err)

	processing := newSession("p1")
	require.NoError(t, store.Create(ctx, processing))
	_, err = store.Transition(ctx, "p1", datatypes.SessionQueued, nil)
	require.NoError(t, err)
	_, err = store.Transition(ctx, "p1", datatypes.SessionProcessing, nil)
	require.NoError(t, err)

	requeue, err := store.Recover(ctx)
	require.NoError(t, err)
	require.Len(t, requeue, 1)
	assert.Equal(t, "q1", requeue[0].RequestID)

	failed, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, datatypes.SessionFailed, failed.Status)
	assert.Equal(t, "interrupted", failed.FailureReason)
}
