// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package identity exposes the signed-in user to the session core.
//
// Authentication itself is delegated to an external identity provider;
// this package only answers "who is signed in", "is sign-in still being
// checked" and "which bearer token goes on API calls".
package identity

import (
	"sync"

	"github.com/jeranaias/chatsync/internal/config"
)

// Identity is the currently signed-in user.
type Identity struct {
	ID            string
	Authenticated bool
}

// Provider answers identity questions for the core.
type Provider interface {
	// Current returns the signed-in identity; ok is false when anonymous.
	Current() (id Identity, ok bool)
	// Loading reports whether the auth check is still in flight.
	Loading() bool
	// Token returns the bearer token for backend calls ("" when none).
	Token() string
}

// =============================================================================
// STATIC PROVIDER
// =============================================================================

// Static is a fixed identity, typically built from config.
type Static struct {
	identity Identity
	token    string
}

// NewStatic returns a provider that never changes.
func NewStatic(id Identity, token string) *Static {
	return &Static{identity: id, token: token}
}

// FromConfig builds a Static provider from the identity and api sections.
func FromConfig(cfg *config.Config) *Static {
	return NewStatic(Identity{
		ID:            cfg.Identity.UserID,
		Authenticated: cfg.Identity.Authenticated,
	}, cfg.API.Token)
}

func (s *Static) Current() (Identity, bool) {
	return s.identity, s.identity.ID != ""
}

func (s *Static) Loading() bool { return false }

func (s *Static) Token() string { return s.token }

// =============================================================================
// SWITCHABLE PROVIDER
// =============================================================================

// Switchable models a client where the user can sign in, out, or switch
// accounts while the process runs.
type Switchable struct {
	mu       sync.RWMutex
	identity Identity
	token    string
	loading  bool
}

// NewSwitchable starts anonymous and loading, like a client that has not
// finished its first auth check.
func NewSwitchable() *Switchable {
	return &Switchable{loading: true}
}

// SignIn sets the identity and token and marks loading as settled.
func (s *Switchable) SignIn(id Identity, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = id
	s.token = token
	s.loading = false
}

// SignOut clears the identity and marks loading as settled.
func (s *Switchable) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = Identity{}
	s.token = ""
	s.loading = false
}

// SetLoading flips the auth-check-in-flight flag.
func (s *Switchable) SetLoading(loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = loading
}

func (s *Switchable) Current() (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity, s.identity.ID != ""
}

func (s *Switchable) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

func (s *Switchable) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}
