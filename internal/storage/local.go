// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/jeranaias/chatsync/internal/config"
)

// =============================================================================
// LOCAL STORAGE INTERFACE
// =============================================================================

// Local is client-local key/value storage.
// Get reports ok=false when the key is absent. Remove of an absent key is a no-op.
type Local interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Remove(key string) error
	Close() error
}

// Watcher is implemented by backends that can observe writes made by
// other processes sharing the same storage.
type Watcher interface {
	Watch(ctx context.Context, onChange func()) error
}

// Open creates the Local backend selected by the storage config.
func Open(cfg *config.Config) (Local, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return NewMemoryLocal(), nil
	case "sqlite":
		path, err := cfg.StoragePath()
		if err != nil {
			return nil, err
		}
		return NewSQLiteLocal(path)
	case "file", "":
		path, err := cfg.StoragePath()
		if err != nil {
			return nil, err
		}
		return NewFileLocal(path), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// =============================================================================
// MEMORY BACKEND
// =============================================================================

// MemoryLocal keeps values in process memory. Used for tests and --storage=memory.
type MemoryLocal struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryLocal creates an empty in-memory store.
func NewMemoryLocal() *MemoryLocal {
	return &MemoryLocal{values: make(map[string]string)}
}

func (m *MemoryLocal) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryLocal) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryLocal) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *MemoryLocal) Close() error { return nil }
