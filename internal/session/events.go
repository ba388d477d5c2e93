// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType distinguishes notifications.
type EventType string

const (
	// EventCleared is published when the stored session was erased.
	EventCleared EventType = "cleared"
	// EventUpdated is published when a new session became authoritative.
	EventUpdated EventType = "updated"
)

// Event is one notification. Reason is set for EventCleared.
type Event struct {
	Type      EventType
	Reason    Reason
	SessionID string
	ProjectID string
	At        time.Time
}

// =============================================================================
// BROKER
// =============================================================================

// Broker fans events out to subscribers. Subscribers run synchronously on
// the publishing goroutine, outside the broker lock.
type Broker struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(Event)
	log  zerolog.Logger
}

// NewBroker creates an empty broker.
func NewBroker(log zerolog.Logger) *Broker {
	return &Broker{subs: make(map[int]func(Event)), log: log}
}

// Subscribe registers fn and returns its unsubscribe function.
func (b *Broker) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Channel delivers events on a buffered channel until ctx is done.
// Events are dropped when the buffer is full.
func (b *Broker) Channel(ctx context.Context, buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	var mu sync.Mutex
	closed := false

	unsubscribe := b.Subscribe(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- ev:
		default:
			b.log.Warn().Str("type", string(ev.Type)).Msg("dropped session event, subscriber channel full")
		}
	})

	go func() {
		<-ctx.Done()
		unsubscribe()
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	}()
	return ch
}

// Publish delivers ev to every subscriber. A panicking subscriber is
// logged and does not stop delivery to the others.
func (b *Broker) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	subs := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.RUnlock()

	for _, fn := range subs {
		b.deliver(fn, ev)
	}
}

func (b *Broker) deliver(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("type", string(ev.Type)).Msg("session event subscriber panicked")
		}
	}()
	fn(ev)
}

// Len returns the number of subscribers.
func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
