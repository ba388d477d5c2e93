// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatsync/internal/api"
	"github.com/jeranaias/chatsync/internal/identity"
	"github.com/jeranaias/chatsync/internal/storage"
)

func newTestAcquirer(store *storage.SessionStore, backend api.Backend, ids identity.Provider) *Acquirer {
	return NewAcquirer(store, backend, ids, zerolog.Nop()).WithGuard(NewCreationGuard())
}

// =============================================================================
// RESOLUTION ORDER
// =============================================================================

func TestResolve_ExplicitIDWins(t *testing.T) {
	store := storeWith(t, record("stored", "u1", time.Time{}))
	backend := newFakeBackend()
	a := newTestAcquirer(store, backend, signedIn("u1"))

	st, err := a.Resolve(context.Background(), "explicit", "proj-x")
	require.NoError(t, err)
	assert.Equal(t, "explicit", st.SessionID)
	assert.Equal(t, "proj-x", st.ProjectID)
	assert.True(t, st.IsAuthenticated)
	assert.False(t, st.IsLoading)
	assert.Equal(t, 0, backend.creates())

	rec, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "stored", rec.SessionID)
}

func TestResolve_RestoresFromStore(t *testing.T) {
	store := storeWith(t, record("stored", "u1", time.Time{}))
	backend := newFakeBackend()
	a := newTestAcquirer(store, backend, signedIn("u1"))

	st, err := a.Resolve(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, "stored", st.SessionID)
	assert.Equal(t, "p1", st.ProjectID)
	assert.True(t, st.IsAuthenticated)
	assert.Equal(t, 0, backend.creates())
}

func TestResolve_DiscardsOtherUsersSession(t *testing.T) {
	store := storeWith(t, record("theirs", "A", time.Time{}))
	backend := newFakeBackend()
	a := newTestAcquirer(store, backend, signedIn("B"))

	st, err := a.Resolve(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, "new-session", st.SessionID)
	assert.Equal(t, 1, backend.creates())

	rec, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "new-session", rec.SessionID)
	assert.Equal(t, "B", rec.Owner())
}

func TestResolve_SignedOutDiscardsOwnedSession(t *testing.T) {
	store := storeWith(t, record("theirs", "A", time.Time{}))
	backend := newFakeBackend()
	a := newTestAcquirer(store, backend, identity.NewStatic(identity.Identity{}, ""))

	st, err := a.Resolve(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, "new-session", st.SessionID)
}

func TestResolve_WaitsForIdentity(t *testing.T) {
	ids := identity.NewSwitchable()
	backend := newFakeBackend()
	a := newTestAcquirer(newStore(), backend, ids)

	st, err := a.Resolve(context.Background(), "", "")
	require.NoError(t, err)
	assert.True(t, st.IsLoading)
	assert.False(t, st.HasSession())
	assert.Equal(t, 0, backend.creates())

	ids.SignIn(identity.Identity{ID: "u1", Authenticated: true}, "tok")
	st, err = a.Resolve(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, "new-session", st.SessionID)
	assert.False(t, st.IsLoading)
}

func TestResolve_OwnedRecordWhileIdentityLoading(t *testing.T) {
	store := storeWith(t, record("stored", "u1", time.Time{}))
	backend := newFakeBackend()
	a := newTestAcquirer(store, backend, identity.NewSwitchable())

	st, err := a.Resolve(context.Background(), "", "")
	require.NoError(t, err)
	assert.True(t, st.IsLoading)

	rec, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "stored", rec.SessionID, "record kept until identity settles")
}

// =============================================================================
// CREATION
// =============================================================================

func TestCreateSession_PersistsAndPublishes(t *testing.T) {
	store := newStore()
	backend := newFakeBackend()
	broker := NewBroker(zerolog.Nop())
	events := &eventRecorder{}
	broker.Subscribe(events.record)

	a := newTestAcquirer(store, backend, signedIn("u1")).WithBroker(broker)
	broker.Subscribe(func(ev Event) {
		// The record is already stored when "ready" is announced.
		rec, err := store.Load()
		assert.NoError(t, err)
		assert.Equal(t, ev.SessionID, rec.SessionID)
	})

	st, err := a.CreateSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-session", st.SessionID)
	assert.Equal(t, "proj", st.ProjectID)

	rec, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "new-session", rec.SessionID)
	assert.Equal(t, "u1", rec.Owner())
	assert.NotNil(t, rec.LastValidated)

	require.Len(t, events.all(), 1)
	assert.Equal(t, EventUpdated, events.all()[0].Type)
}

func TestCreateSession_FailureLeavesStoreUntouched(t *testing.T) {
	store := newStore()
	backend := newFakeBackend()
	boom := statusErr(500)
	backend.create = func(context.Context) (*api.SessionInfo, error) { return nil, boom }
	a := newTestAcquirer(store, backend, signedIn("u1"))

	st, err := a.Resolve(context.Background(), "", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.False(t, st.IsLoading)
	assert.False(t, st.HasSession())
	assert.Equal(t, err, a.Err())

	rec, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, rec)

	// Retry succeeds once the backend recovers.
	backend.mu.Lock()
	backend.create = nil
	backend.mu.Unlock()
	st, err = a.Resolve(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, "new-session", st.SessionID)
	assert.Nil(t, a.Err())
}

// droppingLocal accepts writes and forgets them.
type droppingLocal struct{ *storage.MemoryLocal }

func (d *droppingLocal) Set(key, value string) error { return nil }

// manglingLocal stores every record under a different project.
type manglingLocal struct{ *storage.MemoryLocal }

func (m *manglingLocal) Set(key, value string) error {
	return m.MemoryLocal.Set(key, strings.Replace(value, `"proj"`, `"other-proj"`, 1))
}

func TestCreateSession_VerifiesReadBack(t *testing.T) {
	store := storage.NewSessionStore(&droppingLocal{MemoryLocal: storage.NewMemoryLocal()}, "")
	a := newTestAcquirer(store, newFakeBackend(), signedIn("u1"))

	st, err := a.CreateSession(context.Background())
	assert.ErrorIs(t, err, ErrPersistVerify)
	assert.False(t, st.HasSession())
}

func TestCreateSession_MismatchedReadBackIsDiscarded(t *testing.T) {
	local := &manglingLocal{MemoryLocal: storage.NewMemoryLocal()}
	store := storage.NewSessionStore(local, "")
	a := newTestAcquirer(store, newFakeBackend(), signedIn("u1"))

	st, err := a.CreateSession(context.Background())
	assert.ErrorIs(t, err, ErrPersistVerify)
	assert.False(t, st.HasSession())

	rec, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestCreateSession_SingleFlightAcrossAcquirers(t *testing.T) {
	const n = 8
	store := newStore()
	backend := newFakeBackend()
	entered := make(chan struct{})
	release := make(chan struct{})
	backend.create = func(ctx context.Context) (*api.SessionInfo, error) {
		close(entered)
		<-release
		return &api.SessionInfo{SessionID: "only-one"}, nil
	}

	guard := NewCreationGuard()
	acquirers := make([]*Acquirer, n)
	for i := range acquirers {
		acquirers[i] = NewAcquirer(store, backend, signedIn("u1"), zerolog.Nop()).WithGuard(guard)
	}

	firstDone := make(chan error, 1)
	go func() {
		_, err := acquirers[0].CreateSession(context.Background())
		firstDone <- err
	}()
	<-entered

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 1; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = acquirers[i].CreateSession(context.Background())
		}(i)
	}
	wg.Wait()
	close(release)
	require.NoError(t, <-firstDone)

	for i := 1; i < n; i++ {
		assert.ErrorIs(t, errs[i], ErrCreationInProgress)
	}
	assert.Equal(t, 1, backend.creates())
	assert.False(t, guard.InProgress())
}

func TestCreateSession_SingleFlightWithinAcquirer(t *testing.T) {
	backend := newFakeBackend()
	entered := make(chan struct{})
	release := make(chan struct{})
	backend.create = func(ctx context.Context) (*api.SessionInfo, error) {
		close(entered)
		<-release
		return &api.SessionInfo{SessionID: "s"}, nil
	}
	a := newTestAcquirer(newStore(), backend, signedIn("u1"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = a.CreateSession(context.Background())
	}()
	<-entered

	st, err := a.CreateSession(context.Background())
	assert.ErrorIs(t, err, ErrCreationInProgress)
	assert.True(t, st.IsLoading)

	// Resolve treats a creation elsewhere as loading, not as a failure.
	st, err = a.Resolve(context.Background(), "", "")
	assert.NoError(t, err)
	assert.True(t, st.IsLoading)

	close(release)
	<-done
	assert.Equal(t, 1, backend.creates())
}

func TestCreateSession_DefaultGuardReset(t *testing.T) {
	DefaultGuard().Reset()
	t.Cleanup(DefaultGuard().Reset)

	require.True(t, DefaultGuard().TryAcquire())
	a := NewAcquirer(newStore(), newFakeBackend(), signedIn("u1"), zerolog.Nop())
	_, err := a.CreateSession(context.Background())
	assert.ErrorIs(t, err, ErrCreationInProgress)

	DefaultGuard().Reset()
	_, err = a.CreateSession(context.Background())
	assert.NoError(t, err)
}

// =============================================================================
// STATE
// =============================================================================

func TestState_IsSessionExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		expiresAt *int64
		want      bool
	}{
		{"no expiry", nil, false},
		{"future", storage.Int64Ptr(now.Add(time.Hour).Unix()), false},
		{"past", storage.Int64Ptr(now.Add(-time.Second).Unix()), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := record("s1", "u1", time.Time{})
			rec.ExpiresAt = tt.expiresAt
			a := newTestAcquirer(storeWith(t, rec), newFakeBackend(), signedIn("u1")).
				WithClock(func() time.Time { return now })

			st, err := a.Resolve(context.Background(), "", "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, st.IsSessionExpired)
		})
	}
}

func TestClearSession(t *testing.T) {
	store := storeWith(t, record("s1", "u1", time.Time{}))
	a := newTestAcquirer(store, newFakeBackend(), signedIn("u1"))
	_, err := a.Resolve(context.Background(), "", "")
	require.NoError(t, err)

	require.NoError(t, a.ClearSession())
	require.NoError(t, a.ClearSession())
	assert.False(t, a.State().HasSession())

	info, err := a.SessionInfo()
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestSessionInfo(t *testing.T) {
	store := storeWith(t, record("s1", "u1", time.Time{}))
	a := newTestAcquirer(store, newFakeBackend(), signedIn("u1"))

	info, err := a.SessionInfo()
	require.NoError(t, err)
	assert.Equal(t, "s1", info.SessionID)
}

// =============================================================================
// ATTACH
// =============================================================================

func TestAttach_ClearedAndUpdated(t *testing.T) {
	store := storeWith(t, record("s1", "u1", time.Time{}))
	broker := NewBroker(zerolog.Nop())
	a := newTestAcquirer(store, newFakeBackend(), signedIn("u1"))
	detach := a.Attach(broker)
	defer detach()

	_, err := a.Resolve(context.Background(), "", "")
	require.NoError(t, err)

	broker.Publish(Event{Type: EventCleared, Reason: ReasonSessionNotFound404, SessionID: "other"})
	assert.Equal(t, "s1", a.State().SessionID)

	broker.Publish(Event{Type: EventCleared, Reason: ReasonSessionNotFound404, SessionID: "s1"})
	assert.False(t, a.State().HasSession())

	broker.Publish(Event{Type: EventUpdated, SessionID: "s2", ProjectID: "p2"})
	assert.Equal(t, "s2", a.State().SessionID)
	assert.Equal(t, "p2", a.State().ProjectID)
}

func TestAttach_ExplicitIgnoresEvents(t *testing.T) {
	broker := NewBroker(zerolog.Nop())
	a := newTestAcquirer(newStore(), newFakeBackend(), signedIn("u1"))
	defer a.Attach(broker)()

	_, err := a.Resolve(context.Background(), "pinned", "")
	require.NoError(t, err)

	broker.Publish(Event{Type: EventCleared, SessionID: "pinned"})
	assert.Equal(t, "pinned", a.State().SessionID)
}

func TestManagerAndAcquirer_NewChatAfterNotFound(t *testing.T) {
	store := storeWith(t, record("s1", "u1", time.Time{}))
	backend := newFakeBackend()
	backend.setMsgErr("s1", statusErr(404))
	m := NewManager(store, backend, signedIn("u1"), DefaultConfig(), zerolog.Nop())
	a := newTestAcquirer(store, backend, signedIn("u1")).WithBroker(m.Broker())
	defer a.Attach(m.Broker())()

	st, err := a.Resolve(context.Background(), "", "")
	require.NoError(t, err)
	require.Equal(t, "s1", st.SessionID)

	m.ForceSync(context.Background())
	assert.False(t, a.State().HasSession())

	st, err = a.Resolve(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, "new-session", st.SessionID)
}
