// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_SubscribeAndUnsubscribe(t *testing.T) {
	b := NewBroker(zerolog.Nop())
	rec := &eventRecorder{}
	unsubscribe := b.Subscribe(rec.record)
	assert.Equal(t, 1, b.Len())

	b.Publish(Event{Type: EventCleared, Reason: ReasonUserMismatch})
	unsubscribe()
	unsubscribe()
	b.Publish(Event{Type: EventCleared})

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, ReasonUserMismatch, events[0].Reason)
	assert.False(t, events[0].At.IsZero())
	assert.Equal(t, 0, b.Len())
}

func TestBroker_PanickingSubscriberIsIsolated(t *testing.T) {
	b := NewBroker(zerolog.Nop())
	rec := &eventRecorder{}
	b.Subscribe(func(Event) { panic("bad subscriber") })
	b.Subscribe(rec.record)

	assert.NotPanics(t, func() { b.Publish(Event{Type: EventUpdated, SessionID: "s1"}) })
	assert.Len(t, rec.all(), 1)
}

func TestBroker_Channel(t *testing.T) {
	b := NewBroker(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	ch := b.Channel(ctx, 4)

	b.Publish(Event{Type: EventUpdated, SessionID: "s1"})
	select {
	case ev := <-ch:
		assert.Equal(t, "s1", ev.SessionID)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	assert.NotPanics(t, func() { b.Publish(Event{Type: EventCleared}) })
}

func TestCreationGuard(t *testing.T) {
	g := NewCreationGuard()
	assert.True(t, g.TryAcquire())
	assert.True(t, g.InProgress())
	assert.False(t, g.TryAcquire())

	g.Release()
	assert.False(t, g.InProgress())
	assert.True(t, g.TryAcquire())

	g.Reset()
	assert.False(t, g.InProgress())
}

func TestDefaultGuardIsShared(t *testing.T) {
	assert.Same(t, DefaultGuard(), DefaultGuard())
}
