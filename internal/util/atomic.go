// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// AtomicWriteFile replaces path with data so that readers, including other
// chatsync processes watching the file, see either the previous contents
// or the new ones. The temp file lives next to path, is synced before the
// rename, and the parent directory is synced after it where the platform
// allows.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("atomic write %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("atomic write %s: %w", path, err)
	}
	tmpPath := tmp.Name()

	if err := fill(tmp, data, perm); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("atomic write %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("atomic write %s: %w", path, err)
	}
	syncDir(dir)
	return nil
}

// fill writes, syncs and closes f. It always closes f; the file must be
// closed before the rename on Windows.
func fill(f *os.File, data []byte, perm os.FileMode) error {
	_, werr := f.Write(data)
	var serr error
	if werr == nil {
		serr = f.Sync()
	}
	cerr := f.Close()
	if err := errors.Join(werr, serr, cerr); err != nil {
		return err
	}
	return os.Chmod(f.Name(), perm)
}

// syncDir persists the rename. Some platforms cannot open directories for
// syncing; the write is still atomic there.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	d.Close()
}
