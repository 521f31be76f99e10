// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scheduler admits, queues, and executes validation sessions on
// a fixed worker pool with cooperative cancellation.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parityqa/parity/services/orchestrator/datatypes"
	"github.com/parityqa/parity/services/session"
)

// Config tunes admission and execution.
type Config struct {
	// Workers is the fixed pool size.
	Workers int

	// MaxGlobal caps concurrently admitted (queued + processing)
	// sessions; MaxPerTenant caps them per tenant.
	MaxGlobal    int
	MaxPerTenant int

	// SessionDeadline is the hard per-session deadline; Grace is the
	// window a worker gets to acknowledge cancellation before the
	// session is forced terminal.
	SessionDeadline time.Duration
	Grace           time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Workers:         32,
		MaxGlobal:       32,
		MaxPerTenant:    8,
		SessionDeadline: 30 * time.Minute,
		Grace:           30 * time.Second,
	}
}

// Pipeline executes the validation stages for one session and returns
// the unified result. It must honor ctx cancellation promptly.
type Pipeline interface {
	Run(ctx context.Context, sess *datatypes.Session) (*datatypes.UnifiedResult, error)
}

// Scheduler owns the queue and the worker pool.
type Scheduler struct {
	cfg      Config
	store    *session.Store
	pipeline Pipeline
	logger   *slog.Logger

	mu          sync.Mutex
	interactive []string
	batch       []string
	admitted    map[string]string // requestID -> tenant, the slot ledger
	occupancy   map[string]int    // tenant -> queued+processing count
	total       int               // queued+processing across tenants
	refusing    bool              // backpressure latch
	cancels     map[string]context.CancelFunc

	notify chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a scheduler.
func New(cfg Config, store *session.Store, pipeline Pipeline, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxGlobal <= 0 {
		cfg.MaxGlobal = def.MaxGlobal
	}
	if cfg.MaxPerTenant <= 0 {
		cfg.MaxPerTenant = def.MaxPerTenant
	}
	if cfg.SessionDeadline <= 0 {
		cfg.SessionDeadline = def.SessionDeadline
	}
	if cfg.Grace <= 0 {
		cfg.Grace = def.Grace
	}
	return &Scheduler{
		cfg:       cfg,
		store:     store,
		pipeline:  pipeline,
		logger:    logger,
		admitted:  make(map[string]string),
		occupancy: make(map[string]int),
		cancels:   make(map[string]context.CancelFunc),
		notify:    make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the worker pool and re-admits sessions that survived a
// crash in queued state.
func (s *Scheduler) Start(ctx context.Context) error {
	requeue, err := s.store.Recover(ctx)
	if err != nil {
		return fmt.Errorf("crash recovery: %w", err)
	}
	for _, sess := range requeue {
		s.enqueue(sess.RequestID, sess.Tenant, sess.Priority)
		s.logger.Info("re-admitted session after restart", "request_id", sess.RequestID)
	}

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return nil
}

// Stop drains the pool. In-flight sessions are cancelled cooperatively.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Submit persists the session and either admits it to the queue or
// refuses with overloaded.
func (s *Scheduler) Submit(ctx context.Context, sess *datatypes.Session) error {
	if err := s.store.Create(ctx, sess); err != nil {
		return err
	}

	if err := s.admit(sess.RequestID, sess.Tenant, sess.Priority); err != nil {
		// The session exists for audit; park it in failed with the
		// refusal reason so it does not linger in pending.
		if _, terr := s.store.Transition(ctx, sess.RequestID, datatypes.SessionFailed,
			func(d *datatypes.Session) { d.FailureReason = "overloaded" }); terr != nil {
			s.logger.Warn("could not mark refused session failed",
				"request_id", sess.RequestID, "error", terr)
		}
		return err
	}

	if _, err := s.store.Transition(ctx, sess.RequestID, datatypes.SessionQueued, nil); err != nil {
		return err
	}
	s.wake()
	return nil
}

func (s *Scheduler) admit(requestID, tenant string, priority datatypes.Priority) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	depth := len(s.interactive) + len(s.batch)
	if s.refusing {
		if depth >= 2*s.cfg.Workers {
			return fmt.Errorf("%w: queue backlogged", datatypes.ErrOverloaded)
		}
		s.refusing = false
	}
	if depth >= 4*s.cfg.Workers {
		s.refusing = true
		return fmt.Errorf("%w: queue backlogged", datatypes.ErrOverloaded)
	}
	if s.total >= s.cfg.MaxGlobal {
		return fmt.Errorf("%w: global concurrency cap reached", datatypes.ErrOverloaded)
	}
	if s.occupancy[tenant] >= s.cfg.MaxPerTenant {
		return fmt.Errorf("%w: tenant %q concurrency cap reached", datatypes.ErrOverloaded, tenant)
	}

	s.enqueueLocked(requestID, tenant, priority)
	return nil
}

func (s *Scheduler) enqueue(requestID, tenant string, priority datatypes.Priority) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueueLocked(requestID, tenant, priority)
}

func (s *Scheduler) enqueueLocked(requestID, tenant string, priority datatypes.Priority) {
	if priority == datatypes.PriorityBatch {
		s.batch = append(s.batch, requestID)
	} else {
		s.interactive = append(s.interactive, requestID)
	}
	s.admitted[requestID] = tenant
	s.occupancy[tenant]++
	s.total++
}

func (s *Scheduler) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// dequeue pops the next session id, interactive before batch.
func (s *Scheduler) dequeue() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.interactive) > 0 {
		id := s.interactive[0]
		s.interactive = s.interactive[1:]
		return id, true
	}
	if len(s.batch) > 0 {
		id := s.batch[0]
		s.batch = s.batch[1:]
		return id, true
	}
	return "", false
}

// release frees the admission slot after a session reaches a terminal
// state. The slot ledger makes it idempotent: a worker that dequeued a
// session and a concurrent Cancel may both call it, but only the call
// that finds the slot still held decrements the counters.
func (s *Scheduler) release(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tenant, held := s.admitted[requestID]
	if !held {
		return
	}
	delete(s.admitted, requestID)
	if s.occupancy[tenant] > 0 {
		s.occupancy[tenant]--
		if s.occupancy[tenant] == 0 {
			delete(s.occupancy, tenant)
		}
	}
	if s.total > 0 {
		s.total--
	}
	delete(s.cancels, requestID)
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		id, ok := s.dequeue()
		if !ok {
			select {
			case <-s.stopCh:
				return
			case <-s.notify:
				continue
			case <-time.After(time.Second):
				continue
			}
		}
		s.runSession(id)
		s.wake() // more work may be queued behind us
	}
}

// runSession owns the session from processing entry to its terminal
// transition.
func (s *Scheduler) runSession(requestID string) {
	ctx := context.Background()

	sess, err := s.store.Get(ctx, requestID)
	if err != nil {
		s.logger.Warn("dequeued unknown session", "request_id", requestID, "error", err)
		return
	}
	defer s.release(requestID)

	if sess.Status != datatypes.SessionQueued {
		// Cancelled while queued.
		return
	}
	if _, err := s.store.Transition(ctx, requestID, datatypes.SessionProcessing, nil); err != nil {
		s.logger.Warn("could not start session", "request_id", requestID, "error", err)
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.SessionDeadline)
	s.mu.Lock()
	s.cancels[requestID] = cancel
	s.mu.Unlock()
	defer cancel()

	// Forced-terminal watchdog: if the worker has not acknowledged
	// cancellation within the grace window past the deadline, the
	// session is marked timed-out regardless.
	watchdog := time.AfterFunc(s.cfg.SessionDeadline+s.cfg.Grace, func() {
		s.forceTerminal(requestID, datatypes.SessionTimedOut, "deadline exceeded, worker unresponsive")
	})
	defer watchdog.Stop()

	result, err := s.pipeline.Run(runCtx, sess)
	switch {
	case err == nil:
		_, terr := s.store.Transition(ctx, requestID, datatypes.SessionCompleted,
			func(d *datatypes.Session) { d.Result = result })
		if terr != nil {
			s.logger.Error("could not complete session", "request_id", requestID, "error", terr)
		}

	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, datatypes.ErrDeadlineExceeded):
		// Partial results are discarded on timeout.
		s.forceTerminal(requestID, datatypes.SessionTimedOut, "session deadline exceeded")

	case errors.Is(err, context.Canceled):
		s.forceTerminal(requestID, datatypes.SessionCancelled, "cancelled by client")

	default:
		s.forceTerminal(requestID, datatypes.SessionFailed, err.Error())
	}
}

func (s *Scheduler) forceTerminal(requestID string, status datatypes.SessionStatus, reason string) {
	_, err := s.store.Transition(context.Background(), requestID, status,
		func(d *datatypes.Session) { d.FailureReason = reason })
	if err != nil && !errors.Is(err, datatypes.ErrConflict) {
		s.logger.Error("terminal transition failed",
			"request_id", requestID, "status", status, "error", err)
	}
}

// Cancel cooperatively stops a session. Queued sessions cancel
// immediately; processing sessions get the grace window before being
// forced.
func (s *Scheduler) Cancel(ctx context.Context, requestID string) error {
	sess, err := s.store.Get(ctx, requestID)
	if err != nil {
		return err
	}

	switch sess.Status {
	case datatypes.SessionPending, datatypes.SessionQueued:
		s.removeQueued(requestID)
		_, err := s.store.Transition(ctx, requestID, datatypes.SessionCancelled,
			func(d *datatypes.Session) { d.FailureReason = "cancelled by client" })
		if err == nil {
			s.release(requestID)
		}
		return err

	case datatypes.SessionProcessing:
		s.mu.Lock()
		cancel, ok := s.cancels[requestID]
		s.mu.Unlock()
		if ok {
			cancel()
		}
		time.AfterFunc(s.cfg.Grace, func() {
			s.forceTerminal(requestID, datatypes.SessionCancelled, "cancelled by client")
		})
		return nil

	default:
		// Already terminal; cancellation is a no-op.
		return nil
	}
}

func (s *Scheduler) removeQueued(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interactive = remove(s.interactive, requestID)
	s.batch = remove(s.batch, requestID)
}

func remove(queue []string, id string) []string {
	for i, queued := range queue {
		if queued == id {
			return append(queue[:i], queue[i+1:]...)
		}
	}
	return queue
}

// Stats reports queue and occupancy counters for health reporting.
type Stats struct {
	QueueDepth  int  `json:"queue_depth"`
	Interactive int  `json:"interactive"`
	Batch       int  `json:"batch"`
	Admitted    int  `json:"admitted"`
	Refusing    bool `json:"refusing"`
	Workers     int  `json:"workers"`
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		QueueDepth:  len(s.interactive) + len(s.batch),
		Interactive: len(s.interactive),
		Batch:       len(s.batch),
		Admitted:    s.total,
		Refusing:    s.refusing,
		Workers:     s.cfg.Workers,
	}
}
