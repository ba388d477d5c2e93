// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides client-local persistence for the active chat session.
//
// Client-local storage is a tiny key/value surface (Local) with three
// backends, and the session record is one JSON value at a single well-known
// key (SessionStore).
//
// # Key Types
//
//   - Local: key/value storage (FileLocal, SQLiteLocal, MemoryLocal)
//   - StoredSession: the persisted {sessionId, projectId, userId, ...} record
//   - SessionStore: load/save/clear of the record with corruption detection
//
// # Usage
//
//	local, err := storage.Open(cfg)
//	store := storage.NewSessionStore(local, cfg.Storage.Key)
//	rec, err := store.Load()   // nil, nil when no session is stored
//
// # Storage Location
//
// The file backend writes ~/.chatsync/local.json; the sqlite backend
// writes ~/.chatsync/local.db.
package storage
