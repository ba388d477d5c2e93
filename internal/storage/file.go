// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/jeranaias/chatsync/internal/util"
)

// =============================================================================
// FILE BACKEND
// =============================================================================

// FileLocal stores all keys in one JSON object file.
// Every operation re-reads the file so writes from other processes are seen.
type FileLocal struct {
	path string
	mu   sync.Mutex
}

// NewFileLocal returns a file-backed store at path. The file is created on first write.
func NewFileLocal(path string) *FileLocal {
	return &FileLocal{path: path}
}

// Path returns the backing file path.
func (f *FileLocal) Path() string {
	return f.path
}

func (f *FileLocal) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.read()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

func (f *FileLocal) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.read()
	if err != nil {
		// An unreadable file is replaced rather than blocking every future write
		if !errors.Is(err, ErrCorrupted) {
			return err
		}
		values = make(map[string]string)
	}
	values[key] = value
	return f.write(values)
}

func (f *FileLocal) Remove(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.read()
	if err != nil {
		if !errors.Is(err, ErrCorrupted) {
			return err
		}
		values = make(map[string]string)
	} else if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return f.write(values)
}

func (f *FileLocal) Close() error { return nil }

// read loads the key/value map; a missing file is an empty map.
func (f *FileLocal) read() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	values := make(map[string]string)
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupted, f.path, err)
	}
	return values, nil
}

func (f *FileLocal) write(values map[string]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return err
	}
	// SECURITY: session identifiers are owner-only
	return util.AtomicWriteFile(f.path, data, 0600)
}

// =============================================================================
// CHANGE WATCHING
// =============================================================================

// Watch calls onChange whenever the backing file is rewritten, created or
// removed, until ctx is cancelled. The parent directory is watched because
// atomic writes replace the file by rename.
func (f *FileLocal) Watch(ctx context.Context, onChange func()) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(f.path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
					onChange()
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}
