// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/chatsync/internal/api"
	"github.com/jeranaias/chatsync/internal/config"
	"github.com/jeranaias/chatsync/internal/identity"
	"github.com/jeranaias/chatsync/internal/storage"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds the reconciliation cadence.
type Config struct {
	// ValidationInterval is the validation timer period (default: 10 minutes)
	ValidationInterval time.Duration

	// StaleAfter is how old lastValidated must be before a validation tick
	// re-checks the session (default: 10 minutes)
	StaleAfter time.Duration

	// CleanupInterval is the full-pass timer period (default: 60 minutes)
	CleanupInterval time.Duration

	// GracePeriod protects young sessions from the sweeper (default: 5 minutes)
	GracePeriod time.Duration

	// SweepListLimit caps how many sessions a sweep lists (default: 100)
	SweepListLimit int
}

// DefaultConfig returns the default cadence.
func DefaultConfig() Config {
	return Config{
		ValidationInterval: 10 * time.Minute,
		StaleAfter:         10 * time.Minute,
		CleanupInterval:    60 * time.Minute,
		GracePeriod:        DefaultGracePeriod,
		SweepListLimit:     DefaultSweepListLimit,
	}
}

// ConfigFrom converts the [sync] config section.
func ConfigFrom(c config.SyncConfig) Config {
	return Config{
		ValidationInterval: c.ValidationInterval(),
		StaleAfter:         c.StaleAfter(),
		CleanupInterval:    c.CleanupInterval(),
		GracePeriod:        c.GracePeriod(),
		SweepListLimit:     c.SweepListLimit,
	}
}

// Status is the manager lifecycle state.
type Status int

const (
	StatusUninitialized Status = iota
	StatusInitializing
	StatusReady
)

func (s Status) String() string {
	switch s {
	case StatusInitializing:
		return "initializing"
	case StatusReady:
		return "ready"
	default:
		return "uninitialized"
	}
}

// SyncResult describes one reconciliation pass.
type SyncResult struct {
	// Present is true when a stored session was found
	Present   bool   `json:"present"`
	SessionID string `json:"session_id,omitempty"`

	// Checked is false when a validation tick found the session fresh
	Checked bool   `json:"checked"`
	Valid   bool   `json:"valid"`
	Reason  Reason `json:"reason,omitempty"`
	Erased  bool   `json:"erased"`

	// Sweep is nil for validation-only passes
	Sweep *SweepReport `json:"sweep,omitempty"`
	At    time.Time    `json:"at"`
}

// =============================================================================
// SYNC MANAGER
// =============================================================================

// Manager reconciles the stored session with the backend at startup, on a
// validation timer, on a cleanup timer and on demand. Passes never overlap,
// and validation always finishes before cleanup within a pass.
type Manager struct {
	mu     sync.Mutex
	status Status
	cancel context.CancelFunc
	last   SyncResult

	// gen identifies the current Initialize; it changes on every call that
	// leaves the uninitialized state
	gen uint64

	// passMu serializes reconciliation passes
	passMu sync.Mutex
	// wg tracks the timer goroutines of the current generation
	wg *sync.WaitGroup

	cfg       Config
	store     *storage.SessionStore
	validator *Validator
	sweeper   *Sweeper
	broker    *Broker
	now       func() time.Time
	log       zerolog.Logger
}

// NewManager creates an uninitialized manager.
func NewManager(store *storage.SessionStore, backend api.Backend, ids identity.Provider, cfg Config, log zerolog.Logger) *Manager {
	def := DefaultConfig()
	if cfg.ValidationInterval <= 0 {
		cfg.ValidationInterval = def.ValidationInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}

	return &Manager{
		cfg:       cfg,
		store:     store,
		validator: NewValidator(backend, ids, log),
		sweeper:   NewSweeper(backend, store, cfg.GracePeriod, cfg.SweepListLimit, log),
		broker:    NewBroker(log),
		now:       time.Now,
		log:       log,
	}
}

// WithClock replaces the time source for staleness and the grace window.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	m.sweeper.WithClock(now)
	return m
}

// Broker returns the manager's event broker.
func (m *Manager) Broker() *Broker { return m.broker }

// Sweeper returns the manager's sweeper, for dry runs.
func (m *Manager) Sweeper() *Sweeper { return m.sweeper }

// Subscribe registers fn for cleared/updated events.
func (m *Manager) Subscribe(fn func(Event)) func() {
	return m.broker.Subscribe(fn)
}

// Events delivers events on a channel until ctx is done.
func (m *Manager) Events(ctx context.Context) <-chan Event {
	return m.broker.Channel(ctx, 16)
}

// State returns the lifecycle state.
func (m *Manager) State() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// LastResult returns the most recent pass result.
func (m *Manager) LastResult() SyncResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Initialize runs one full pass and starts both timers. Calling it again
// before Destroy is a no-op. When ctx is done the timers stop and the
// manager returns to uninitialized, so a later Initialize starts over.
func (m *Manager) Initialize(ctx context.Context) {
	m.mu.Lock()
	if m.status != StatusUninitialized {
		m.mu.Unlock()
		return
	}
	m.gen++
	gen := m.gen
	m.status = StatusInitializing
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	m.log.Debug().Msg("session sync initializing")
	m.pass(loopCtx, true)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen || m.status != StatusInitializing || loopCtx.Err() != nil {
		// Destroyed, and possibly re-initialized, during the first pass.
		cancel()
		if m.gen == gen {
			m.status = StatusUninitialized
			m.cancel = nil
		}
		return
	}
	wg := &sync.WaitGroup{}
	wg.Add(3)
	m.wg = wg
	go m.loop(loopCtx, wg, m.cfg.ValidationInterval, false)
	go m.loop(loopCtx, wg, m.cfg.CleanupInterval, true)
	go m.release(loopCtx, wg, gen)
	m.status = StatusReady
	m.log.Info().
		Dur("validation_interval", m.cfg.ValidationInterval).
		Dur("cleanup_interval", m.cfg.CleanupInterval).
		Msg("session sync ready")
}

// release resets the lifecycle once the timers' context ends, unless a
// newer Initialize already owns the manager.
func (m *Manager) release(ctx context.Context, wg *sync.WaitGroup, gen uint64) {
	defer wg.Done()
	<-ctx.Done()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen || m.status == StatusUninitialized {
		return
	}
	m.status = StatusUninitialized
	m.cancel, m.wg = nil, nil
	m.log.Debug().Msg("session sync stopped with its context")
}

// ForceSync runs a full validation and cleanup pass now.
func (m *Manager) ForceSync(ctx context.Context) SyncResult {
	return m.pass(ctx, true)
}

// Destroy stops both timers and returns the manager to uninitialized.
// In-flight backend calls finish but their results are not acted on.
// Destroy waits for the timer goroutines, so it must not be called from
// an event subscriber.
func (m *Manager) Destroy() {
	m.mu.Lock()
	if m.status == StatusUninitialized {
		m.mu.Unlock()
		return
	}
	cancel, wg := m.cancel, m.wg
	m.cancel, m.wg = nil, nil
	m.status = StatusUninitialized
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if wg != nil {
		wg.Wait()
	}
	m.log.Debug().Msg("session sync stopped")
}

func (m *Manager) loop(ctx context.Context, wg *sync.WaitGroup, interval time.Duration, full bool) {
	defer wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pass(ctx, full)
		}
	}
}

// =============================================================================
// RECONCILIATION PASS
// =============================================================================

// pass reads the stored session, validates it, and when full also sweeps.
// Any failure is logged and leaves local state as it was.
func (m *Manager) pass(ctx context.Context, full bool) (result SyncResult) {
	m.passMu.Lock()
	defer m.passMu.Unlock()

	result.At = m.now()
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Msg("session sync pass panicked")
		}
		m.mu.Lock()
		m.last = result
		m.mu.Unlock()
	}()

	if ctx.Err() != nil {
		return result
	}

	rec, err := m.store.Load()
	switch {
	case errors.Is(err, storage.ErrCorrupted):
		m.log.Warn().Err(err).Msg("stored session is corrupted, erasing")
		result.Checked = true
		result.Reason = ReasonCorrupted
		if clearErr := m.store.Clear(); clearErr != nil {
			m.log.Error().Err(clearErr).Msg("failed to erase corrupted session")
			return result
		}
		result.Erased = true
		m.broker.Publish(Event{Type: EventCleared, Reason: ReasonCorrupted, At: m.now()})
	case err != nil:
		m.log.Error().Err(err).Msg("failed to read stored session")
		return result
	case rec.Present():
		result.Present = true
		result.SessionID = rec.SessionID
		m.validate(ctx, *rec, full, &result)
	}

	if full && ctx.Err() == nil {
		report := m.sweeper.Sweep(ctx)
		result.Sweep = &report
	}
	return result
}

func (m *Manager) validate(ctx context.Context, rec storage.StoredSession, force bool, result *SyncResult) {
	if !force {
		if last := rec.LastValidatedAt(); !last.IsZero() && m.now().Sub(last) <= m.cfg.StaleAfter {
			result.Valid = true
			return
		}
	}

	result.Checked = true
	res := m.validator.Validate(ctx, rec)
	if ctx.Err() != nil {
		// Destroyed while the read was in flight.
		return
	}

	if res.IsValid {
		result.Valid = true
		if _, err := m.store.MarkValidated(rec.SessionID, m.now()); err != nil {
			m.log.Warn().Err(err).Str("session", rec.SessionID).Msg("failed to record validation time")
		}
		return
	}

	result.Reason = res.Reason
	erased, err := m.store.ClearIf(rec.SessionID)
	if err != nil {
		m.log.Error().Err(err).Str("session", rec.SessionID).Msg("failed to erase invalid session")
		return
	}
	if !erased {
		m.log.Debug().Str("session", rec.SessionID).Msg("stored session changed during validation, nothing erased")
		return
	}

	result.Erased = true
	m.log.Info().Str("session", rec.SessionID).Str("reason", string(res.Reason)).Msg("stored session cleared")
	m.broker.Publish(Event{
		Type:      EventCleared,
		Reason:    res.Reason,
		SessionID: rec.SessionID,
		ProjectID: rec.Project(),
		At:        m.now(),
	})
}
