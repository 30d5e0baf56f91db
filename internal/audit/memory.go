// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"context"
	"sync"
)

// DefaultMemoryCapacity is used when NewMemoryStore is given a non-positive size.
const DefaultMemoryCapacity = 10000

// MemoryStore keeps the most recent records in a ring buffer.
type MemoryStore struct {
	mu    sync.RWMutex
	buf   []Record
	next  int
	count int
}

// NewMemoryStore creates a ring buffer holding up to capacity records.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryStore{buf: make([]Record, capacity)}
}

// Append stores rec, evicting the oldest record when full.
func (m *MemoryStore) Append(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf[m.next] = cloneRecord(rec)
	m.next = (m.next + 1) % len(m.buf)
	if m.count < len(m.buf) {
		m.count++
	}
	return nil
}

// Query returns matching records oldest first.
func (m *MemoryStore) Query(ctx context.Context, sessionID string, tr TimeRange) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	start := (m.next - m.count + len(m.buf)) % len(m.buf)
	var out []Record
	for i := 0; i < m.count; i++ {
		rec := &m.buf[(start+i)%len(m.buf)]
		if matches(rec, sessionID, tr) {
			out = append(out, cloneRecord(*rec))
		}
	}
	return out, nil
}

// Len returns the number of records held.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.count
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

func cloneRecord(r Record) Record {
	if r.Environment.ConstrainedPaths != nil {
		r.Environment.ConstrainedPaths = append([]string(nil), r.Environment.ConstrainedPaths...)
	}
	return r
}
