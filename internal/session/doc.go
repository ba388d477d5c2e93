// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session keeps the locally stored chat session consistent with the
// backend.
//
// # Key Types
//
//   - Validator: checks one stored record against the backend and classifies it
//   - Sweeper: deletes the user's empty, abandoned sessions
//   - Manager: runs validation and cleanup at startup, on timers and on demand
//   - Acquirer: resolves the active session for a caller, creating one lazily
//   - Broker: publish/subscribe for cleared and updated notifications
//   - CreationGuard: at most one session creation in flight per process
//
// # Usage
//
//	mgr := session.NewManager(store, client, ids, session.ConfigFrom(cfg.Sync), log)
//	mgr.Initialize(ctx)
//	defer mgr.Destroy()
//
//	acq := session.NewAcquirer(store, client, ids, log)
//	defer acq.Attach(mgr.Broker())()
//	state, err := acq.Resolve(ctx, "", "")
//
// # Failure Policy
//
// Only a 403 or 404 on a targeted read, or an ownership mismatch, proves a
// session invalid. Timeouts, 5xx and transport errors leave local state
// alone. Validation and cleanup never return errors to callers; session
// creation does, so a UI can offer a retry.
package session
