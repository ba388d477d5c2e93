// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatsync/internal/api"
	"github.com/jeranaias/chatsync/internal/storage"
	"github.com/jeranaias/chatsync/internal/util"
)

// fakeBackend is an in-memory api.Backend with call counting.
type fakeBackend struct {
	mu sync.Mutex

	sessions  []api.SessionSummary
	messages  map[string]int
	msgErr    map[string]error
	listErr   error
	deleteErr map[string]error

	// onMessages runs before GetSessionMessages answers.
	onMessages func(sessionID string)

	create func(ctx context.Context) (*api.SessionInfo, error)

	msgCalls    map[string]int
	listCalls   int
	createCalls int
	deleted     []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		messages:  make(map[string]int),
		msgErr:    make(map[string]error),
		deleteErr: make(map[string]error),
		msgCalls:  make(map[string]int),
	}
}

func (f *fakeBackend) GetOrCreateSession(ctx context.Context) (*api.SessionInfo, error) {
	f.mu.Lock()
	f.createCalls++
	create := f.create
	f.mu.Unlock()

	if create != nil {
		return create(ctx)
	}
	return &api.SessionInfo{SessionID: "new-session", ProjectID: storage.StringPtr("proj"), IsAuthenticated: true}, nil
}

func (f *fakeBackend) GetSessionMessages(ctx context.Context, sessionID string, limit, offset int) ([]api.Message, error) {
	f.mu.Lock()
	f.msgCalls[sessionID]++
	hook := f.onMessages
	err := f.msgErr[sessionID]
	n := f.messages[sessionID]
	f.mu.Unlock()

	if hook != nil {
		hook(sessionID)
	}
	if err != nil {
		return nil, err
	}
	if n > limit {
		n = limit
	}
	return make([]api.Message, n), nil
}

func (f *fakeBackend) GetSessions(ctx context.Context, limit int) ([]api.SessionSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := f.sessions
	if len(out) > limit {
		out = out[:limit]
	}
	return append([]api.SessionSummary(nil), out...), nil
}

func (f *fakeBackend) DeleteSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.deleteErr[sessionID]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, sessionID)
	return nil
}

func (f *fakeBackend) addSession(id string, created time.Time, msgs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, api.SessionSummary{ID: id, CreatedAt: created, MessageCount: msgs})
	f.messages[id] = msgs
}

func (f *fakeBackend) setMsgErr(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgErr[id] = err
}

func (f *fakeBackend) messageCalls(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.msgCalls[id]
}

func (f *fakeBackend) totalMessageCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.msgCalls {
		total += n
	}
	return total
}

func (f *fakeBackend) creates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls
}

func (f *fakeBackend) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func statusErr(status int) error {
	return &api.Error{Op: "test", Status: status, Message: "status"}
}

func newStore() *storage.SessionStore {
	return storage.NewSessionStore(storage.NewMemoryLocal(), "")
}

func storeWith(t *testing.T, rec storage.StoredSession) *storage.SessionStore {
	t.Helper()
	store := newStore()
	require.NoError(t, store.Save(rec))
	return store
}

func record(sessionID, userID string, validated time.Time) storage.StoredSession {
	rec := storage.StoredSession{
		SessionID:       sessionID,
		ProjectID:       storage.StringPtr("p1"),
		UserID:          storage.StringPtr(userID),
		IsAuthenticated: userID != "",
	}
	if !validated.IsZero() {
		rec.LastValidated = storage.Int64Ptr(util.EpochMillis(validated))
	}
	return rec
}

// eventRecorder collects published events.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
