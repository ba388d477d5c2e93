// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides an in-memory implementation of the chat session API
// for local development and integration tests.
//
// It serves the same routes the client consumes, enforces per-user session
// ownership so foreign sessions produce real 403s and deleted ones real
// 404s, and can inject failures to exercise fail-open paths.
//
// # Routes
//
//	POST   /api/sessions                     get-or-create the caller's session
//	GET    /api/sessions?limit=N             list the caller's sessions
//	GET    /api/sessions/{id}/messages       read messages
//	POST   /api/sessions/{id}/messages       append a message
//	DELETE /api/sessions/{id}                delete a session
//	GET    /health                           liveness
//
// # Middleware
//
//   - Bearer token to user mapping; no token means the anonymous user
//   - Per-client rate limiting (golang.org/x/time/rate)
//   - Request logging with zerolog
//   - Panic recovery
//   - Failure injection
package server
