// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatsync/internal/config"
	"github.com/jeranaias/chatsync/internal/storage"
)

// =============================================================================
// HELPERS
// =============================================================================

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(store *storage.SessionStore, backend *fakeBackend, cfg Config) (*Manager, *eventRecorder) {
	m := NewManager(store, backend, signedIn("u1"), cfg, zerolog.Nop())
	rec := &eventRecorder{}
	m.Subscribe(rec.record)
	return m, rec
}

// =============================================================================
// CONFIG
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 10*time.Minute, cfg.ValidationInterval)
	assert.Equal(t, 10*time.Minute, cfg.StaleAfter)
	assert.Equal(t, 60*time.Minute, cfg.CleanupInterval)
	assert.Equal(t, 5*time.Minute, cfg.GracePeriod)
	assert.Equal(t, 100, cfg.SweepListLimit)
}

func TestConfigFrom(t *testing.T) {
	sc := config.Default().Sync
	sc.GracePeriodSecs = 60
	cfg := ConfigFrom(sc)
	assert.Equal(t, time.Minute, cfg.GracePeriod)
	assert.Equal(t, 10*time.Minute, cfg.ValidationInterval)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "uninitialized", StatusUninitialized.String())
	assert.Equal(t, "initializing", StatusInitializing.String())
	assert.Equal(t, "ready", StatusReady.String())
}

// =============================================================================
// INITIALIZE
// =============================================================================

func TestInitialize_ValidSessionBumpsTimestamp(t *testing.T) {
	clock := newFakeClock()
	store := storeWith(t, record("s1", "u1", time.Time{}))
	backend := newFakeBackend()
	m, events := newTestManager(store, backend, DefaultConfig())
	m.WithClock(clock.Now)

	m.Initialize(context.Background())
	defer m.Destroy()

	assert.Equal(t, StatusReady, m.State())
	rec, err := store.Load()
	require.NoError(t, err)
	assert.True(t, clock.Now().Equal(rec.LastValidatedAt()))
	assert.Empty(t, events.all())

	last := m.LastResult()
	assert.True(t, last.Present)
	assert.True(t, last.Valid)
	require.NotNil(t, last.Sweep)
}

func TestInitialize_NotFoundClearsAndNotifies(t *testing.T) {
	store := storeWith(t, record("s1", "u1", time.Time{}))
	backend := newFakeBackend()
	backend.setMsgErr("s1", statusErr(http.StatusNotFound))
	m, events := newTestManager(store, backend, DefaultConfig())

	m.Initialize(context.Background())
	defer m.Destroy()

	rec, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, rec)

	got := events.all()
	require.Len(t, got, 1)
	assert.Equal(t, EventCleared, got[0].Type)
	assert.Equal(t, ReasonSessionNotFound404, got[0].Reason)
	assert.Equal(t, "s1", got[0].SessionID)

	// Cleanup after erasure has no active session to protect.
	last := m.LastResult()
	require.NotNil(t, last.Sweep)
	assert.True(t, last.Sweep.Aborted)
	assert.Equal(t, 0, backend.listCalls)
}

func TestInitialize_UserMismatchClears(t *testing.T) {
	store := storeWith(t, record("s1", "someone-else", time.Time{}))
	backend := newFakeBackend()
	m, events := newTestManager(store, backend, DefaultConfig())

	m.Initialize(context.Background())
	defer m.Destroy()

	require.Len(t, events.all(), 1)
	assert.Equal(t, ReasonUserMismatch, events.all()[0].Reason)
	assert.Equal(t, 0, backend.totalMessageCalls())
}

func TestInitialize_CorruptedRecordClears(t *testing.T) {
	local := storage.NewMemoryLocal()
	require.NoError(t, local.Set(storage.DefaultSessionKey, "{not json"))
	store := storage.NewSessionStore(local, "")
	m, events := newTestManager(store, newFakeBackend(), DefaultConfig())

	m.Initialize(context.Background())
	defer m.Destroy()

	_, ok, err := local.Get(storage.DefaultSessionKey)
	require.NoError(t, err)
	assert.False(t, ok)
	require.Len(t, events.all(), 1)
	assert.Equal(t, ReasonCorrupted, events.all()[0].Reason)
}

func TestInitialize_TransientErrorKeepsSession(t *testing.T) {
	store := storeWith(t, record("s1", "u1", time.Time{}))
	backend := newFakeBackend()
	backend.setMsgErr("s1", statusErr(http.StatusInternalServerError))
	m, events := newTestManager(store, backend, DefaultConfig())

	m.Initialize(context.Background())
	defer m.Destroy()

	rec, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "s1", rec.SessionID)
	assert.Empty(t, events.all())
}

func TestInitialize_Idempotent(t *testing.T) {
	store := storeWith(t, record("s1", "u1", time.Time{}))
	backend := newFakeBackend()
	m, _ := newTestManager(store, backend, DefaultConfig())

	m.Initialize(context.Background())
	m.Initialize(context.Background())
	defer m.Destroy()

	assert.Equal(t, 1, backend.messageCalls("s1"))
	assert.Equal(t, 1, backend.listCalls)
}

func TestInitialize_EmptyStore(t *testing.T) {
	backend := newFakeBackend()
	m, events := newTestManager(newStore(), backend, DefaultConfig())

	m.Initialize(context.Background())
	defer m.Destroy()

	assert.Equal(t, StatusReady, m.State())
	assert.False(t, m.LastResult().Present)
	assert.Empty(t, events.all())
	assert.Equal(t, 0, backend.totalMessageCalls())
}

func TestDestroy_ReturnsToUninitialized(t *testing.T) {
	store := storeWith(t, record("s1", "u1", time.Time{}))
	backend := newFakeBackend()
	m, _ := newTestManager(store, backend, DefaultConfig())

	m.Destroy()
	assert.Equal(t, StatusUninitialized, m.State())

	m.Initialize(context.Background())
	m.Destroy()
	assert.Equal(t, StatusUninitialized, m.State())

	m.Initialize(context.Background())
	defer m.Destroy()
	assert.Equal(t, 2, backend.messageCalls("s1"))
}

func TestInitialize_DestroyAndRestartDuringFirstPass(t *testing.T) {
	store := storeWith(t, record("s1", "u1", time.Time{}))
	backend := newFakeBackend()
	cfg := Config{
		ValidationInterval: 5 * time.Millisecond,
		StaleAfter:         time.Nanosecond,
		CleanupInterval:    time.Hour,
	}
	m, _ := newTestManager(store, backend, cfg)

	var calls atomic.Int32
	entered := make(chan struct{})
	unblock := make(chan struct{})
	backend.onMessages = func(string) {
		if calls.Add(1) == 1 {
			close(entered)
			<-unblock
		}
	}

	first := make(chan struct{})
	go func() {
		defer close(first)
		m.Initialize(context.Background())
	}()
	<-entered

	// Unmount and remount while the first pass is still reading.
	m.Destroy()
	second := make(chan struct{})
	go func() {
		defer close(second)
		m.Initialize(context.Background())
	}()
	require.Eventually(t, func() bool {
		return m.State() == StatusInitializing
	}, time.Second, time.Millisecond)

	close(unblock)
	<-first
	<-second
	defer m.Destroy()

	assert.Equal(t, StatusReady, m.State())
	before := backend.messageCalls("s1")
	require.Eventually(t, func() bool {
		return backend.messageCalls("s1") >= before+3
	}, 2*time.Second, 5*time.Millisecond, "validation timer must be running")
}

func TestInitialize_ParentContextDoneResets(t *testing.T) {
	store := storeWith(t, record("s1", "u1", time.Time{}))
	backend := newFakeBackend()
	cfg := Config{
		ValidationInterval: 5 * time.Millisecond,
		StaleAfter:         time.Nanosecond,
		CleanupInterval:    time.Hour,
	}
	m, _ := newTestManager(store, backend, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	m.Initialize(ctx)
	require.Equal(t, StatusReady, m.State())

	cancel()
	require.Eventually(t, func() bool {
		return m.State() == StatusUninitialized
	}, time.Second, time.Millisecond)

	m.Initialize(context.Background())
	defer m.Destroy()
	assert.Equal(t, StatusReady, m.State())
	before := backend.messageCalls("s1")
	require.Eventually(t, func() bool {
		return backend.messageCalls("s1") >= before+2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestInitialize_ParentContextDoneDuringFirstPass(t *testing.T) {
	store := storeWith(t, record("s1", "u1", time.Time{}))
	backend := newFakeBackend()
	m, _ := newTestManager(store, backend, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	backend.onMessages = func(string) { cancel() }

	m.Initialize(ctx)
	assert.Equal(t, StatusUninitialized, m.State())
}

// =============================================================================
// FORCE SYNC
// =============================================================================

func TestForceSync_RunsFullPass(t *testing.T) {
	clock := newFakeClock()
	store := storeWith(t, record("s1", "u1", clock.Now()))
	backend := newFakeBackend()
	backend.addSession("old-empty", clock.Now().Add(-time.Hour), 0)
	m, _ := newTestManager(store, backend, DefaultConfig())
	m.WithClock(clock.Now)

	res := m.ForceSync(context.Background())

	assert.True(t, res.Checked, "force sync ignores the staleness debounce")
	assert.True(t, res.Valid)
	require.NotNil(t, res.Sweep)
	assert.Equal(t, []string{"old-empty"}, res.Sweep.Deleted)
	assert.Equal(t, StatusUninitialized, m.State())
}

func TestForceSync_ForbiddenClears(t *testing.T) {
	store := storeWith(t, record("s1", "u1", time.Time{}))
	backend := newFakeBackend()
	backend.setMsgErr("s1", statusErr(http.StatusForbidden))
	m, events := newTestManager(store, backend, DefaultConfig())

	res := m.ForceSync(context.Background())
	assert.True(t, res.Erased)
	assert.Equal(t, ReasonSessionNotFound403, res.Reason)
	require.Len(t, events.all(), 1)
}

func TestForceSync_RecordReplacedDuringValidation(t *testing.T) {
	store := storeWith(t, record("s1", "u1", time.Time{}))
	backend := newFakeBackend()
	backend.setMsgErr("s1", statusErr(http.StatusNotFound))
	backend.onMessages = func(id string) {
		if id == "s1" {
			_ = store.Save(record("s2", "u1", time.Time{}))
		}
	}
	m, events := newTestManager(store, backend, DefaultConfig())

	res := m.ForceSync(context.Background())
	assert.False(t, res.Erased)
	assert.Empty(t, events.all())

	rec, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "s2", rec.SessionID)
}

// =============================================================================
// VALIDATION TICK
// =============================================================================

func TestValidationTick_StalenessDebounce(t *testing.T) {
	clock := newFakeClock()
	store := storeWith(t, record("s1", "u1", clock.Now()))
	backend := newFakeBackend()
	m, _ := newTestManager(store, backend, DefaultConfig())
	m.WithClock(clock.Now)

	clock.Advance(5 * time.Minute)
	res := m.pass(context.Background(), false)
	assert.False(t, res.Checked)
	assert.True(t, res.Valid)
	assert.Nil(t, res.Sweep)
	assert.Equal(t, 0, backend.messageCalls("s1"))

	clock.Advance(6 * time.Minute)
	res = m.pass(context.Background(), false)
	assert.True(t, res.Checked)
	assert.Equal(t, 1, backend.messageCalls("s1"))

	// Just validated again, so the next tick is a no-op.
	res = m.pass(context.Background(), false)
	assert.False(t, res.Checked)
	assert.Equal(t, 1, backend.messageCalls("s1"))
}

func TestValidationTick_NeverValidated(t *testing.T) {
	store := storeWith(t, record("s1", "u1", time.Time{}))
	backend := newFakeBackend()
	m, _ := newTestManager(store, backend, DefaultConfig())

	res := m.pass(context.Background(), false)
	assert.True(t, res.Checked)
	assert.Equal(t, 1, backend.messageCalls("s1"))
}

func TestTimersRunAndStop(t *testing.T) {
	store := storeWith(t, record("s1", "u1", time.Time{}))
	backend := newFakeBackend()
	cfg := Config{
		ValidationInterval: 5 * time.Millisecond,
		StaleAfter:         time.Nanosecond,
		CleanupInterval:    7 * time.Millisecond,
	}
	m, _ := newTestManager(store, backend, cfg)

	m.Initialize(context.Background())
	require.Eventually(t, func() bool {
		return backend.messageCalls("s1") >= 4
	}, 2*time.Second, 5*time.Millisecond)

	m.Destroy()
	stopped := backend.messageCalls("s1")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, backend.messageCalls("s1"))
}

func TestEvents_Channel(t *testing.T) {
	store := storeWith(t, record("s1", "u1", time.Time{}))
	backend := newFakeBackend()
	backend.setMsgErr("s1", statusErr(http.StatusNotFound))
	m, _ := newTestManager(store, backend, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := m.Events(ctx)

	m.ForceSync(context.Background())
	select {
	case ev := <-ch:
		assert.Equal(t, ReasonSessionNotFound404, ev.Reason)
	case <-time.After(time.Second):
		t.Fatal("no cleared event")
	}
}
