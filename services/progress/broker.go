// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package progress streams ordered per-session events to subscribers.
//
// Each session gets an in-memory topic holding the full event history.
// Append and dispatch happen under one mutex, so every subscriber
// observes the same order and late joiners can replay from the start.
package progress

import (
	"log/slog"
	"sync"
	"time"

	"github.com/parityqa/parity/services/orchestrator/datatypes"
)

// DefaultSubscriberBuffer is the undelivered-event ceiling before a
// slow subscriber is disconnected.
const DefaultSubscriberBuffer = 1024

// DefaultEvictionHold keeps a terminal topic around for late replay
// before eviction.
const DefaultEvictionHold = 60 * time.Second

// Config tunes the broker.
type Config struct {
	SubscriberBuffer int
	EvictionHold     time.Duration
	Logger           *slog.Logger
}

// Subscription is one subscriber's ordered event feed. Events closes
// when the topic is evicted, the subscriber falls too far behind, or
// Cancel is called.
type Subscription struct {
	events chan datatypes.ProgressEvent
	cancel func()
	once   sync.Once
}

// Events returns the receive channel.
func (s *Subscription) Events() <-chan datatypes.ProgressEvent { return s.events }

// Cancel detaches the subscriber. Safe to call more than once.
func (s *Subscription) Cancel() { s.once.Do(s.cancel) }

type topic struct {
	history     []datatypes.ProgressEvent
	subscribers map[*Subscription]bool
	terminal    bool
}

// Broker owns all session topics.
type Broker struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	topics map[string]*topic

	stopCh  chan struct{}
	stopped sync.Once
}

// NewBroker builds the broker.
func NewBroker(cfg Config) *Broker {
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = DefaultSubscriberBuffer
	}
	if cfg.EvictionHold <= 0 {
		cfg.EvictionHold = DefaultEvictionHold
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		cfg:    cfg,
		logger: logger,
		topics: make(map[string]*topic),
		stopCh: make(chan struct{}),
	}
}

// Publish appends the event to its session topic and dispatches to all
// subscribers before releasing the topic lock, preserving total order.
// Implements the session store's Emitter.
func (b *Broker) Publish(event datatypes.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topics[event.RequestID]
	if t == nil {
		if event.Terminal() {
			// Nothing subscribed and nothing will replay: the terminal
			// snapshot lives in storage.
			return
		}
		t = &topic{subscribers: make(map[*Subscription]bool)}
		b.topics[event.RequestID] = t
	}
	if t.terminal {
		return
	}

	event.Seq = uint64(len(t.history) + 1)
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	t.history = append(t.history, event)

	for sub := range t.subscribers {
		select {
		case sub.events <- event:
		default:
			// Slow subscriber: the buffer is full, disconnect it.
			delete(t.subscribers, sub)
			close(sub.events)
			b.logger.Warn("disconnected slow progress subscriber",
				"request_id", event.RequestID, "buffered", cap(sub.events))
		}
	}

	if event.Terminal() {
		t.terminal = true
		b.scheduleEviction(event.RequestID)
	}
}

// Subscribe attaches to a session topic and replays its history from
// the start. Returns false when the topic has been evicted (or never
// existed); callers then read the terminal snapshot from storage.
func (b *Broker) Subscribe(requestID string) (*Subscription, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topics[requestID]
	if t == nil {
		return nil, false
	}

	// The buffer must hold the full replay plus the slow-subscriber
	// allowance so replay itself cannot disconnect.
	sub := &Subscription{
		events: make(chan datatypes.ProgressEvent, len(t.history)+b.cfg.SubscriberBuffer),
	}
	sub.cancel = func() { b.unsubscribe(requestID, sub) }

	for _, event := range t.history {
		sub.events <- event
	}
	if t.terminal {
		close(sub.events)
		return sub, true
	}
	t.subscribers[sub] = true
	return sub, true
}

func (b *Broker) unsubscribe(requestID string, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t := b.topics[requestID]; t != nil && t.subscribers[sub] {
		delete(t.subscribers, sub)
		close(sub.events)
	}
}

// History returns a copy of the topic's events so far.
func (b *Broker) History(requestID string) ([]datatypes.ProgressEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.topics[requestID]
	if t == nil {
		return nil, false
	}
	return append([]datatypes.ProgressEvent(nil), t.history...), true
}

func (b *Broker) scheduleEviction(requestID string) {
	hold := b.cfg.EvictionHold
	go func() {
		select {
		case <-time.After(hold):
		case <-b.stopCh:
		}
		b.evict(requestID)
	}()
}

func (b *Broker) evict(requestID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.topics[requestID]
	if t == nil {
		return
	}
	for sub := range t.subscribers {
		close(sub.events)
	}
	delete(b.topics, requestID)
}

// Close evicts every topic and detaches all subscribers.
func (b *Broker) Close() {
	b.stopped.Do(func() { close(b.stopCh) })
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, t := range b.topics {
		for sub := range t.subscribers {
			close(sub.events)
		}
		delete(b.topics, id)
	}
}
