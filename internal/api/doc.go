// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api provides the HTTP client for the chat backend's session API.
//
// The client covers the four session operations the reconciliation core
// needs:
//
//	POST   /api/sessions                     get-or-create the user's session
//	GET    /api/sessions/{id}/messages       read messages (used as an existence probe)
//	GET    /api/sessions                     list recent sessions
//	DELETE /api/sessions/{id}                delete a session
//
// Failures are returned as *Error. Errors that came back from the server
// carry the HTTP status; transport failures and timeouts do not. Callers
// classify with StatusOf.
//
// # Retries
//
// 429 and 5xx responses are retried with exponential backoff. 403 and 404
// are never retried, since they are the signals the validator and sweeper
// key on.
//
// # Usage
//
//	client := api.NewClient(cfg.API.BaseURL, provider).
//		WithTimeout(cfg.API.Timeout()).
//		WithMaxRetries(cfg.API.MaxRetries)
//	info, err := client.GetOrCreateSession(ctx)
package api
