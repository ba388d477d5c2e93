// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/chatsync/internal/api"
	"github.com/jeranaias/chatsync/internal/identity"
	"github.com/jeranaias/chatsync/internal/storage"
	"github.com/jeranaias/chatsync/internal/util"
)

var (
	// ErrCreationInProgress is returned when another creation holds the guard.
	ErrCreationInProgress = errors.New("session creation already in progress")

	// ErrPersistVerify is returned when the stored record does not read back
	// as written.
	ErrPersistVerify = errors.New("stored session did not verify after write")
)

// State is the resolved session as seen by a UI.
type State struct {
	SessionID        string
	ProjectID        string
	IsAuthenticated  bool
	IsLoading        bool
	IsSessionExpired bool
	// ExpiresAt is epoch seconds; 0 when the session carries no expiry
	ExpiresAt int64
}

// HasSession reports whether a session id is resolved.
func (s State) HasSession() bool { return s.SessionID != "" }

// =============================================================================
// ACQUIRER
// =============================================================================

// Acquirer resolves the active session for one consumer. Explicit ids win,
// then the stored record, then lazy creation once identity has settled.
// Creation is guarded by a CreationGuard shared across acquirers plus a
// per-acquirer flag.
type Acquirer struct {
	mu       sync.Mutex
	state    State
	explicit bool
	lastErr  error

	creating atomic.Bool

	store   *storage.SessionStore
	backend api.Backend
	ids     identity.Provider
	guard   *CreationGuard
	broker  *Broker
	now     func() time.Time
	log     zerolog.Logger
}

// NewAcquirer creates an acquirer using the process-wide creation guard.
func NewAcquirer(store *storage.SessionStore, backend api.Backend, ids identity.Provider, log zerolog.Logger) *Acquirer {
	return &Acquirer{
		store:   store,
		backend: backend,
		ids:     ids,
		guard:   DefaultGuard(),
		now:     time.Now,
		log:     log,
	}
}

// WithGuard replaces the creation guard.
func (a *Acquirer) WithGuard(g *CreationGuard) *Acquirer {
	a.guard = g
	return a
}

// WithBroker sets where "session ready" events are published.
func (a *Acquirer) WithBroker(b *Broker) *Acquirer {
	a.broker = b
	return a
}

// WithClock replaces the time source.
func (a *Acquirer) WithClock(now func() time.Time) *Acquirer {
	a.now = now
	return a
}

// State returns the current resolution.
func (a *Acquirer) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot()
}

// Err returns the last creation error, nil after a success or a clear.
func (a *Acquirer) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

// snapshot must be called with mu held.
func (a *Acquirer) snapshot() State {
	s := a.state
	s.IsSessionExpired = s.ExpiresAt != 0 && a.now().Unix() >= s.ExpiresAt
	return s
}

// Resolve runs the resolution order. A creation failure is returned along
// with a non-loading, session-absent state; calling Resolve again retries.
func (a *Acquirer) Resolve(ctx context.Context, sessionID, projectID string) (State, error) {
	if sessionID != "" {
		a.mu.Lock()
		a.explicit = true
		a.state = State{
			SessionID:       sessionID,
			ProjectID:       projectID,
			IsAuthenticated: a.authenticated(),
		}
		defer a.mu.Unlock()
		return a.snapshot(), nil
	}

	a.mu.Lock()
	a.explicit = false
	a.mu.Unlock()

	if st, ok := a.restore(); ok {
		return st, nil
	}

	if a.identityLoading() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.state = State{IsLoading: true}
		return a.snapshot(), nil
	}

	st, err := a.CreateSession(ctx)
	if errors.Is(err, ErrCreationInProgress) {
		// Someone else is creating; the updated event will fill us in.
		a.mu.Lock()
		defer a.mu.Unlock()
		if !a.state.HasSession() {
			a.state.IsLoading = true
		}
		return a.snapshot(), nil
	}
	return st, err
}

// restore adopts the stored record unless it belongs to another user.
func (a *Acquirer) restore() (State, bool) {
	rec, err := a.store.Load()
	if err != nil {
		a.log.Warn().Err(err).Msg("stored session unreadable, ignoring it")
		return State{}, false
	}
	if !rec.Present() {
		return State{}, false
	}

	if owner := rec.Owner(); owner != "" {
		if a.identityLoading() {
			// Ownership cannot be decided yet.
			return State{}, false
		}
		if id, ok := a.currentIdentity(); !ok || id.ID != owner {
			a.log.Info().Str("session", rec.SessionID).Msg("discarding stored session owned by another user")
			if _, err := a.store.ClearIf(rec.SessionID); err != nil {
				a.log.Warn().Err(err).Msg("failed to discard stored session")
			}
			return State{}, false
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = stateFromRecord(rec)
	return a.snapshot(), true
}

// CreateSession asks the backend for a session, persists it and verifies
// the write before the state becomes authoritative. It returns
// ErrCreationInProgress without calling the backend when another creation
// is in flight here or anywhere in the process.
func (a *Acquirer) CreateSession(ctx context.Context) (State, error) {
	if !a.creating.CompareAndSwap(false, true) {
		return a.State(), ErrCreationInProgress
	}
	defer a.creating.Store(false)

	if !a.guard.TryAcquire() {
		return a.State(), ErrCreationInProgress
	}
	defer a.guard.Release()

	a.mu.Lock()
	a.state.IsLoading = true
	a.mu.Unlock()

	rec, err := a.create(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("session creation failed")
		a.mu.Lock()
		defer a.mu.Unlock()
		a.state = State{}
		a.lastErr = err
		return a.snapshot(), err
	}

	a.mu.Lock()
	a.state = stateFromRecord(rec)
	a.lastErr = nil
	st := a.snapshot()
	a.mu.Unlock()

	a.log.Info().Str("session", rec.SessionID).Msg("session created")
	if a.broker != nil {
		a.broker.Publish(Event{
			Type:      EventUpdated,
			SessionID: st.SessionID,
			ProjectID: st.ProjectID,
			At:        a.now(),
		})
	}
	return st, nil
}

func (a *Acquirer) create(ctx context.Context) (*storage.StoredSession, error) {
	info, err := a.backend.GetOrCreateSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	owner := info.UserID
	if owner == nil {
		if id, ok := a.currentIdentity(); ok {
			owner = storage.StringPtr(id.ID)
		}
	}

	rec := storage.StoredSession{
		SessionID:       info.SessionID,
		ProjectID:       info.ProjectID,
		UserID:          owner,
		IsAuthenticated: info.IsAuthenticated,
		LastValidated:   storage.Int64Ptr(util.EpochMillis(a.now())),
	}
	if err := a.store.Save(rec); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	got, err := a.store.Load()
	if err != nil {
		a.discard(rec.SessionID)
		return nil, fmt.Errorf("read back session: %w", err)
	}
	if !sameRecord(got, &rec) {
		a.discard(rec.SessionID)
		return nil, ErrPersistVerify
	}
	return got, nil
}

// discard removes a record written by a create that then failed.
func (a *Acquirer) discard(sessionID string) {
	if _, err := a.store.ClearIf(sessionID); err != nil {
		a.log.Warn().Err(err).Str("session", sessionID).Msg("failed to discard unverified session")
	}
}

// ClearSession erases the stored record and resets the state.
func (a *Acquirer) ClearSession() error {
	a.mu.Lock()
	a.state = State{}
	a.explicit = false
	a.lastErr = nil
	a.mu.Unlock()
	return a.store.Clear()
}

// SessionInfo returns the stored record, or nil when none.
func (a *Acquirer) SessionInfo() (*storage.StoredSession, error) {
	return a.store.Load()
}

// Attach follows the broker: a cleared event for our session drops it,
// and an updated event fills in a session when we have none.
// The returned function detaches.
func (a *Acquirer) Attach(b *Broker) func() {
	return b.Subscribe(func(ev Event) {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.explicit {
			return
		}
		switch ev.Type {
		case EventCleared:
			if ev.SessionID == "" || ev.SessionID == a.state.SessionID {
				a.state = State{}
			}
		case EventUpdated:
			if !a.state.HasSession() && ev.SessionID != "" {
				a.state = State{
					SessionID:       ev.SessionID,
					ProjectID:       ev.ProjectID,
					IsAuthenticated: a.authenticated(),
				}
			}
		}
	})
}

func (a *Acquirer) currentIdentity() (identity.Identity, bool) {
	if a.ids == nil {
		return identity.Identity{}, false
	}
	return a.ids.Current()
}

func (a *Acquirer) identityLoading() bool {
	return a.ids != nil && a.ids.Loading()
}

func (a *Acquirer) authenticated() bool {
	id, ok := a.currentIdentity()
	return ok && id.Authenticated
}

func stateFromRecord(rec *storage.StoredSession) State {
	st := State{
		SessionID:       rec.SessionID,
		ProjectID:       rec.Project(),
		IsAuthenticated: rec.IsAuthenticated,
	}
	if rec.ExpiresAt != nil {
		st.ExpiresAt = *rec.ExpiresAt
	}
	return st
}

func sameRecord(a, b *storage.StoredSession) bool {
	if !a.Present() || !b.Present() {
		return false
	}
	return a.SessionID == b.SessionID &&
		a.Project() == b.Project() &&
		a.Owner() == b.Owner() &&
		a.IsAuthenticated == b.IsAuthenticated
}
