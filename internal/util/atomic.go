// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// tempPrefix marks in-flight writes next to their target.
const tempPrefix = ".guard-tmp-"

// AtomicWriteFile replaces path with data. The bytes go to a sibling temp
// file that is synced and chmod'ed before being renamed over path, so a
// reader sees the old content or the new, never a mix. The parent
// directory must already exist.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}

	f, err := os.CreateTemp(filepath.Dir(target), tempPrefix)
	if err != nil {
		return fmt.Errorf("stage %s: %w", path, err)
	}
	staged := f.Name()

	if err := fillStaged(f, data, perm); err != nil {
		f.Close()
		os.Remove(staged)
		return fmt.Errorf("stage %s: %w", path, err)
	}
	// Windows refuses to rename an open file
	if err := f.Close(); err != nil {
		os.Remove(staged)
		return fmt.Errorf("stage %s: %w", path, err)
	}
	if err := os.Rename(staged, target); err != nil {
		os.Remove(staged)
		return fmt.Errorf("commit %s: %w", path, err)
	}
	return nil
}

func fillStaged(f *os.File, data []byte, perm os.FileMode) error {
	if _, err := f.Write(data); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	return f.Chmod(perm)
}

// RestoreFile puts a backup back in place. A non-zero modTime is applied
// after the write so the file looks untouched to mtime-based tooling.
func RestoreFile(path string, data []byte, perm os.FileMode, modTime time.Time) error {
	if err := AtomicWriteFile(path, data, perm); err != nil {
		return err
	}
	if !modTime.IsZero() {
		if err := os.Chtimes(path, modTime, modTime); err != nil {
			return fmt.Errorf("restore mtime of %s: %w", path, err)
		}
	}
	return nil
}
