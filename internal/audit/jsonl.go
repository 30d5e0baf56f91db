// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// DefaultMaxFileSize is the default max file size before rotation (10MB).
const DefaultMaxFileSize int64 = 10 * 1024 * 1024

// DefaultMaxBackups is the number of rotated files kept.
const DefaultMaxBackups = 5

// maxLineSize bounds a single record line when scanning.
const maxLineSize = 1 << 20

// JSONLStore appends one JSON object per line to a file. Rotated files are
// kept as path.1 (newest) through path.N.
type JSONLStore struct {
	path       string
	mu         sync.Mutex
	file       *os.File
	size       int64
	maxSize    int64
	maxBackups int
}

// JSONLOption configures a JSONLStore.
type JSONLOption func(*JSONLStore)

// WithMaxSize sets the size at which the file is rotated. Zero disables rotation.
func WithMaxSize(n int64) JSONLOption {
	return func(s *JSONLStore) { s.maxSize = n }
}

// WithMaxBackups sets how many rotated files are kept.
func WithMaxBackups(n int) JSONLOption {
	return func(s *JSONLStore) { s.maxBackups = n }
}

// OpenJSONL opens or creates the audit file at path with mode 0600.
func OpenJSONL(path string, opts ...JSONLOption) (*JSONLStore, error) {
	if path == "" {
		return nil, fmt.Errorf("audit file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	s := &JSONLStore{path: path, maxSize: DefaultMaxFileSize, maxBackups: DefaultMaxBackups}
	for _, o := range opts {
		o(s)
	}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JSONLStore) open() error {
	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat audit log file: %w", err)
	}
	s.file = file
	s.size = info.Size()
	if err := s.terminatePartialLine(); err != nil {
		file.Close()
		s.file = nil
		return err
	}
	return nil
}

// terminatePartialLine ends a final line left unterminated by a crash, so
// the next record starts on a line of its own instead of being glued to the
// fragment.
func (s *JSONLStore) terminatePartialLine() error {
	if s.size == 0 {
		return nil
	}
	r, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("failed to inspect audit log file: %w", err)
	}
	defer r.Close()
	last := make([]byte, 1)
	if _, err := r.ReadAt(last, s.size-1); err != nil {
		return fmt.Errorf("failed to inspect audit log file: %w", err)
	}
	if last[0] == '\n' {
		return nil
	}
	n, err := s.file.Write([]byte{'\n'})
	s.size += int64(n)
	if err != nil {
		return fmt.Errorf("failed to repair audit log file: %w", err)
	}
	return nil
}

// Path returns the current audit file path.
func (s *JSONLStore) Path() string { return s.path }

// Append writes rec as a single line with one Write call and syncs.
func (s *JSONLStore) Append(ctx context.Context, rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return fmt.Errorf("audit log is closed")
	}
	if s.maxSize > 0 && s.size > 0 && s.size+int64(len(line)) > s.maxSize {
		if err := s.rotateLocked(); err != nil {
			return err
		}
	}
	n, err := s.file.Write(line)
	s.size += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit log: %w", err)
	}
	return nil
}

// Rotate forces a rotation.
func (s *JSONLStore) Rotate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rotateLocked()
}

func (s *JSONLStore) backupPath(i int) string {
	return fmt.Sprintf("%s.%d", s.path, i)
}

// rotateLocked shifts path.N-1 -> path.N ... path -> path.1 and reopens.
func (s *JSONLStore) rotateLocked() error {
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			return fmt.Errorf("failed to close audit log for rotation: %w", err)
		}
		s.file = nil
	}
	if s.maxBackups <= 0 {
		if err := os.Truncate(s.path, 0); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to truncate audit log: %w", err)
		}
		return s.open()
	}

	_ = os.Remove(s.backupPath(s.maxBackups))
	for i := s.maxBackups - 1; i >= 1; i-- {
		if err := os.Rename(s.backupPath(i), s.backupPath(i+1)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			_ = s.open()
			return fmt.Errorf("failed to rotate audit log: %w", err)
		}
	}
	if err := os.Rename(s.path, s.backupPath(1)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		_ = s.open()
		return fmt.Errorf("failed to rotate audit log: %w", err)
	}
	return s.open()
}

// files lists the rotated files oldest first, then the live file.
func (s *JSONLStore) files() []string {
	var out []string
	for i := s.maxBackups; i >= 1; i-- {
		p := s.backupPath(i)
		if _, err := os.Stat(p); err == nil {
			out = append(out, p)
		}
	}
	return append(out, s.path)
}

// Query scans the rotated files and then the live file. Lines that fail to
// decode, such as a partial final line after a crash, are skipped.
func (s *JSONLStore) Query(ctx context.Context, sessionID string, tr TimeRange) ([]Record, error) {
	s.mu.Lock()
	files := s.files()
	s.mu.Unlock()

	var out []Record
	err := s.scan(ctx, files, func(rec *Record) {
		if matches(rec, sessionID, tr) {
			out = append(out, *rec)
		}
	})
	return out, err
}

// LastSeq returns the highest sequence number on disk.
func (s *JSONLStore) LastSeq(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	files := s.files()
	s.mu.Unlock()

	var last uint64
	err := s.scan(ctx, files, func(rec *Record) {
		if rec.Seq > last {
			last = rec.Seq
		}
	})
	return last, err
}

func (s *JSONLStore) scan(ctx context.Context, files []string, fn func(*Record)) error {
	for _, p := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("open %s: %w", p, err)
		}
		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 64*1024), maxLineSize)
		for sc.Scan() {
			var rec Record
			if json.Unmarshal(sc.Bytes(), &rec) != nil {
				continue
			}
			fn(&rec)
		}
		err = sc.Err()
		f.Close()
		if err != nil {
			return fmt.Errorf("scan %s: %w", p, err)
		}
	}
	return nil
}

// Close syncs and closes the file.
func (s *JSONLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	_ = s.file.Sync()
	err := s.file.Close()
	s.file = nil
	return err
}
