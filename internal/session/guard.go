// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import "sync/atomic"

// CreationGuard admits at most one session creation at a time.
type CreationGuard struct {
	busy atomic.Bool
}

// NewCreationGuard returns an idle guard.
func NewCreationGuard() *CreationGuard {
	return &CreationGuard{}
}

// TryAcquire claims the guard; false means a creation is already in flight.
func (g *CreationGuard) TryAcquire() bool {
	return g.busy.CompareAndSwap(false, true)
}

// Release frees the guard.
func (g *CreationGuard) Release() {
	g.busy.Store(false)
}

// InProgress reports whether a creation holds the guard.
func (g *CreationGuard) InProgress() bool {
	return g.busy.Load()
}

// Reset forces the guard idle. Tests use it between cases.
func (g *CreationGuard) Reset() {
	g.busy.Store(false)
}

var defaultGuard = NewCreationGuard()

// DefaultGuard is the process-wide guard shared by acquirers that were not
// given one explicitly.
func DefaultGuard() *CreationGuard {
	return defaultGuard
}
