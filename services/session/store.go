// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package session persists the validation session aggregate and
// enforces its state machine. The store is the sole mutator: every
// transition is checked against the legal-edge table, serialized per
// session, written through to badger before acknowledgement, and
// announced on the progress stream in write order.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/parityqa/parity/services/orchestrator/datatypes"
)

const (
	sessionPrefix = "session/"
	logPrefix     = "sessionlog/"
)

// Emitter receives progress events in write order. The progress broker
// implements it; tests substitute a recorder.
type Emitter interface {
	Publish(event datatypes.ProgressEvent)
}

// nopEmitter drops events when no broker is wired.
type nopEmitter struct{}

func (nopEmitter) Publish(datatypes.ProgressEvent) {}

// Store is the badger-backed session repository.
type Store struct {
	db      *badgerdb.DB
	emitter Emitter
	logger  *slog.Logger

	// locks serializes writers per session so the version counter only
	// arbitrates between processes, not goroutines.
	locks sync.Map // requestID -> *sync.Mutex
}

// NewStore builds the store. emitter may be nil.
func NewStore(db *badgerdb.DB, emitter Emitter, logger *slog.Logger) *Store {
	if emitter == nil {
		emitter = nopEmitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, emitter: emitter, logger: logger}
}

func (s *Store) lock(requestID string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(requestID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func sessionKey(requestID string) []byte { return []byte(sessionPrefix + requestID) }
func logKey(requestID string) []byte     { return []byte(logPrefix + requestID) }

// Create persists a new pending session. An existing non-deleted
// session with the same request id is a conflict.
func (s *Store) Create(ctx context.Context, session *datatypes.Session) error {
	if err := session.Validate(); err != nil {
		return err
	}

	mu := s.lock(session.RequestID)
	mu.Lock()
	defer mu.Unlock()

	now := time.Now().UTC()
	session.Status = datatypes.SessionPending
	session.Version = 1
	session.CreatedAt = now
	session.UpdatedAt = now

	err := s.db.Update(func(txn *badgerdb.Txn) error {
		if item, err := txn.Get(sessionKey(session.RequestID)); err == nil {
			var existing datatypes.Session
			if verr := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &existing)
			}); verr == nil && !existing.Deleted() {
				return fmt.Errorf("%w: session %s already exists",
					datatypes.ErrConflict, session.RequestID)
			}
		}
		return writeSession(txn, session)
	})
	if err != nil {
		return err
	}

	s.emitter.Publish(datatypes.ProgressEvent{
		RequestID: session.RequestID,
		Kind:      datatypes.EventStatus,
		Status:    session.Status,
		Message:   "session created",
		Timestamp: now,
	})
	return nil
}

func writeSession(txn *badgerdb.Txn, session *datatypes.Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return txn.Set(sessionKey(session.RequestID), raw)
}

// Get returns a session by id. Soft-deleted sessions read as not found.
func (s *Store) Get(ctx context.Context, requestID string) (*datatypes.Session, error) {
	session, err := s.getAny(requestID)
	if err != nil {
		return nil, err
	}
	if session.Deleted() {
		return nil, fmt.Errorf("%w: session %s", datatypes.ErrNotFound, requestID)
	}
	return session, nil
}

func (s *Store) getAny(requestID string) (*datatypes.Session, error) {
	var session datatypes.Session
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(sessionKey(requestID))
		if err != nil {
			if err == badgerdb.ErrKeyNotFound {
				return fmt.Errorf("%w: session %s", datatypes.ErrNotFound, requestID)
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &session)
		})
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// List returns non-deleted sessions, newest first, optionally filtered
// by tenant.
func (s *Store) List(ctx context.Context, tenant string) ([]*datatypes.Session, error) {
	var sessions []*datatypes.Session
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(sessionPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var session datatypes.Session
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &session)
			}); err != nil {
				return err
			}
			if session.Deleted() {
				continue
			}
			if tenant != "" && session.Tenant != tenant {
				continue
			}
			sessions = append(sessions, &session)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// Mutation applies caller changes to a session mid-transition. It runs
// with the per-session lock held; it must not call back into the store.
type Mutation func(session *datatypes.Session)

// Transition moves a session to a new status, applying any extra
// mutation, and persists before announcing. A same-state transition is
// an idempotent no-op. Illegal edges are conflicts.
func (s *Store) Transition(ctx context.Context, requestID string, to datatypes.SessionStatus, mutate Mutation) (*datatypes.Session, error) {
	mu := s.lock(requestID)
	mu.Lock()
	defer mu.Unlock()

	session, err := s.getAny(requestID)
	if err != nil {
		return nil, err
	}
	if session.Status == to {
		return session, nil
	}
	if !datatypes.CanTransition(session.Status, to) {
		return nil, fmt.Errorf("%w: illegal transition %s -> %s for session %s",
			datatypes.ErrConflict, session.Status, to, requestID)
	}

	from := session.Status
	session.Status = to
	if mutate != nil {
		mutate(session)
	}
	if to.IsTerminal() {
		session.Progress = 100
	}

	entry := datatypes.LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     "info",
		Phase:     session.CurrentPhase,
		Message:   fmt.Sprintf("status %s -> %s", from, to),
	}
	if session.FailureReason != "" && (to == datatypes.SessionFailed || to == datatypes.SessionTimedOut) {
		entry.Level = "error"
		entry.Message += ": " + session.FailureReason
	}

	if err := s.persist(session, &entry); err != nil {
		return nil, err
	}

	s.emitter.Publish(datatypes.ProgressEvent{
		RequestID: requestID,
		Kind:      datatypes.EventStatus,
		Status:    to,
		Phase:     session.CurrentPhase,
		Progress:  session.Progress,
		Message:   entry.Message,
		Timestamp: entry.Timestamp,
	})
	return session, nil
}

// UpdateProgress records phase/percent advancement without a status
// change.
func (s *Store) UpdateProgress(ctx context.Context, requestID, phase string, percent int) error {
	mu := s.lock(requestID)
	mu.Lock()
	defer mu.Unlock()

	session, err := s.getAny(requestID)
	if err != nil {
		return err
	}
	if session.Status.IsTerminal() {
		return nil
	}
	session.CurrentPhase = phase
	if percent > session.Progress {
		session.Progress = percent
	}

	entry := datatypes.LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     "info",
		Phase:     phase,
		Message:   fmt.Sprintf("phase %s at %d%%", phase, session.Progress),
	}
	if err := s.persist(session, &entry); err != nil {
		return err
	}

	s.emitter.Publish(datatypes.ProgressEvent{
		RequestID: requestID,
		Kind:      datatypes.EventPhase,
		Status:    session.Status,
		Phase:     phase,
		Progress:  session.Progress,
		Timestamp: entry.Timestamp,
	})
	return nil
}

// AppendLog attaches a log entry outside of a transition.
func (s *Store) AppendLog(ctx context.Context, requestID string, entry datatypes.LogEntry) error {
	mu := s.lock(requestID)
	mu.Lock()
	defer mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	return s.db.Update(func(txn *badgerdb.Txn) error {
		return appendLogLocked(txn, requestID, entry)
	})
}

// Logs returns the session's log entries in append order.
func (s *Store) Logs(ctx context.Context, requestID string) ([]datatypes.LogEntry, error) {
	if _, err := s.Get(ctx, requestID); err != nil {
		return nil, err
	}
	var entries []datatypes.LogEntry
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(logKey(requestID))
		if err != nil {
			if err == badgerdb.ErrKeyNotFound {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entries)
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// SoftDelete marks the session deleted, keeping it for audit. The
// terminal state, if any, is preserved.
func (s *Store) SoftDelete(ctx context.Context, requestID, actor string) error {
	mu := s.lock(requestID)
	mu.Lock()
	defer mu.Unlock()

	session, err := s.getAny(requestID)
	if err != nil {
		return err
	}
	if session.Deleted() {
		return nil
	}
	now := time.Now().UTC()
	session.DeletedAt = &now
	session.DeletedBy = actor
	return s.persist(session, &datatypes.LogEntry{
		Timestamp: now,
		Level:     "info",
		Message:   "session deleted by " + actor,
	})
}

// persist bumps the version and writes session plus optional log entry
// in one transaction. Callers hold the per-session lock.
func (s *Store) persist(session *datatypes.Session, entry *datatypes.LogEntry) error {
	session.Version++
	session.UpdatedAt = time.Now().UTC()
	return s.db.Update(func(txn *badgerdb.Txn) error {
		// Cross-process safety: re-check the stored version so a stale
		// writer loses instead of clobbering.
		if item, err := txn.Get(sessionKey(session.RequestID)); err == nil {
			var current datatypes.Session
			if verr := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &current)
			}); verr == nil && current.Version >= session.Version {
				return fmt.Errorf("%w: concurrent update on session %s",
					datatypes.ErrConflict, session.RequestID)
			}
		}
		if err := writeSession(txn, session); err != nil {
			return err
		}
		if entry != nil {
			return appendLogLocked(txn, session.RequestID, *entry)
		}
		return nil
	})
}

func appendLogLocked(txn *badgerdb.Txn, requestID string, entry datatypes.LogEntry) error {
	var entries []datatypes.LogEntry
	if item, err := txn.Get(logKey(requestID)); err == nil {
		if verr := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entries)
		}); verr != nil {
			return verr
		}
	}
	entries = append(entries, entry)
	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return txn.Set(logKey(requestID), raw)
}

// Recover sweeps sessions left over from a crash: processing sessions
// fail with reason "interrupted", queued sessions are returned for
// re-admission.
func (s *Store) Recover(ctx context.Context) ([]*datatypes.Session, error) {
	sessions, err := s.List(ctx, "")
	if err != nil {
		return nil, err
	}

	var requeue []*datatypes.Session
	for _, session := range sessions {
		switch session.Status {
		case datatypes.SessionProcessing:
			_, terr := s.Transition(ctx, session.RequestID, datatypes.SessionFailed,
				func(sess *datatypes.Session) {
					sess.FailureReason = "interrupted"
				})
			if terr != nil {
				s.logger.Warn("crash recovery failed for session",
					"request_id", session.RequestID, "error", terr)
				continue
			}
			s.logger.Info("interrupted session failed on recovery",
				"request_id", session.RequestID)
		case datatypes.SessionQueued:
			requeue = append(requeue, session)
		}
	}
	return requeue, nil
}

// PruneLocks drops per-session mutexes for terminal sessions. Called
// periodically so the lock map does not grow without bound.
func (s *Store) PruneLocks(ctx context.Context) {
	s.locks.Range(func(key, _ any) bool {
		requestID := key.(string)
		session, err := s.getAny(requestID)
		if err != nil || session.Status.IsTerminal() {
			s.locks.Delete(key)
		}
		return true
	})
}
