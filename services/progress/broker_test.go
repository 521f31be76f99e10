// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parityqa/parity/services/orchestrator/datatypes"
)

func phaseEvent(id, phase string) datatypes.ProgressEvent {
	return datatypes.ProgressEvent{RequestID: id, Kind: datatypes.EventPhase, Phase: phase}
}

func statusEvent(id string, status datatypes.SessionStatus) datatypes.ProgressEvent {
	return datatypes.ProgressEvent{RequestID: id, Kind: datatypes.EventStatus, Status: status}
}

func collect(sub *Subscription, n int, t *testing.T) []datatypes.ProgressEvent {
	t.Helper()
	var out []datatypes.ProgressEvent
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func TestPublishAssignsOrderedSeq(t *testing.T) {
	b := NewBroker(Config{})
	defer b.Close()

	b.Publish(phaseEvent("r1", "analysis"))
	b.Publish(phaseEvent("r1", "comparison"))

	history, ok := b.History("r1")
	require.True(t, ok)
	require.Len(t, history, 2)
	assert.Equal(t, uint64(1), history[0].Seq)
	assert.Equal(t, uint64(2), history[1].Seq)
	assert.False(t, history[0].Timestamp.IsZero())
}

func TestSubscribeReplaysFromStart(t *testing.T) {
	b := NewBroker(Config{})
	defer b.Close()

	b.Publish(phaseEvent("r1", "analysis"))
	b.Publish(phaseEvent("r1", "comparison"))

	sub, ok := b.Subscribe("r1")
	require.True(t, ok)
	defer sub.Cancel()

	b.Publish(phaseEvent("r1", "synthesis"))

	events := collect(sub, 3, t)
	assert.Equal(t, "analysis", events[0].Phase)
	assert.Equal(t, "comparison", events[1].Phase)
	assert.Equal(t, "synthesis", events[2].Phase)
}

func TestAllSubscribersSeeSameOrder(t *testing.T) {
	b := NewBroker(Config{})
	defer b.Close()

	b.Publish(phaseEvent("r1", "p1"))
	s1, ok := b.Subscribe("r1")
	require.True(t, ok)
	s2, ok := b.Subscribe("r1")
	require.True(t, ok)

	b.Publish(phaseEvent("r1", "p2"))
	b.Publish(phaseEvent("r1", "p3"))

	e1 := collect(s1, 3, t)
	e2 := collect(s2, 3, t)
	for i := range e1 {
		assert.Equal(t, e1[i].Seq, e2[i].Seq)
	}
}

func TestTerminalClosesSubscribers(t *testing.T) {
	b := NewBroker(Config{EvictionHold: 50 * time.Millisecond})
	defer b.Close()

	b.Publish(phaseEvent("r1", "analysis"))
	sub, ok := b.Subscribe("r1")
	require.True(t, ok)

	b.Publish(statusEvent("r1", datatypes.SessionCompleted))

	events := collect(sub, 2, t)
	assert.True(t, events[1].Terminal())

	// After the hold the topic is evicted and the channel closes.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, open := <-sub.Events():
			if !open {
				_, exists := b.History("r1")
				assert.False(t, exists)
				return
			}
		case <-deadline:
			t.Fatal("subscription never closed after eviction")
		}
	}
}

func TestSubscribeAfterEviction(t *testing.T) {
	b := NewBroker(Config{EvictionHold: 10 * time.Millisecond})
	defer b.Close()

	b.Publish(phaseEvent("r1", "analysis"))
	b.Publish(statusEvent("r1", datatypes.SessionFailed))

	require.Eventually(t, func() bool {
		_, exists := b.History("r1")
		return !exists
	}, 2*time.Second, 5*time.Millisecond)

	_, ok := b.Subscribe("r1")
	assert.False(t, ok, "evicted topics read from storage instead")
}

func TestSubscribeTerminalTopicGetsClosedReplay(t *testing.T) {
	b := NewBroker(Config{EvictionHold: time.Minute})
	defer b.Close()

	b.Publish(phaseEvent("r1", "analysis"))
	b.Publish(statusEvent("r1", datatypes.SessionCompleted))

	sub, ok := b.Subscribe("r1")
	require.True(t, ok)

	events := collect(sub, 2, t)
	assert.Len(t, events, 2)
	_, open := <-sub.Events()
	assert.False(t, open, "terminal replay ends with a closed channel")
}

func TestSlowSubscriberDisconnected(t *testing.T) {
	b := NewBroker(Config{SubscriberBuffer: 2})
	defer b.Close()

	b.Publish(phaseEvent("r1", "start"))
	sub, ok := b.Subscribe("r1")
	require.True(t, ok)

	// Buffer holds replay (1) + allowance (2); the next publishes
	// overflow it without a reader.
	for i := 0; i < 5; i++ {
		b.Publish(phaseEvent("r1", "tick"))
	}

	events := collect(sub, 10, t) // closed channel ends collection early
	assert.LessOrEqual(t, len(events), 3)

	// The topic itself is unaffected.
	history, exists := b.History("r1")
	require.True(t, exists)
	assert.Len(t, history, 6)
}

func TestPublishUnknownTerminalIsDropped(t *testing.T) {
	b := NewBroker(Config{})
	defer b.Close()

	b.Publish(statusEvent("ghost", datatypes.SessionCompleted))
	_, exists := b.History("ghost")
	assert.False(t, exists)
}

func TestCancelIdempotent(t *testing.T) {
	b := NewBroker(Config{})
	defer b.Close()

	b.Publish(phaseEvent("r1", "analysis"))
	sub, ok := b.Subscribe("r1")
	require.True(t, ok)

	sub.Cancel()
	sub.Cancel()
	b.Publish(phaseEvent("r1", "after-cancel"))
}
