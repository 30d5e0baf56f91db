// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-guard/internal/logging"
	"github.com/jeranaias/rigrun-guard/internal/util"
)

// MaxMessageLength bounds, in runes, the outcome message stored per record.
const MaxMessageLength = 2000

// Store persists audit records. Implementations must be safe for concurrent
// use; Log already serialises Append.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, sessionID string, tr TimeRange) ([]Record, error)
	Close() error
}

// seqRecoverer is implemented by durable stores so a reopened log continues
// the sequence instead of restarting it.
type seqRecoverer interface {
	LastSeq(ctx context.Context) (uint64, error)
}

// =============================================================================
// AUDIT LOG
// =============================================================================

// Log is the append-only audit log handed to the executor.
type Log struct {
	mu        sync.Mutex
	store     Store
	seq       uint64
	redactors []Redactor
	logger    *zap.Logger

	failures int
}

// NewLog wraps store. The default secret redactors are installed.
func NewLog(store Store, logger *zap.Logger) (*Log, error) {
	if store == nil {
		return nil, fmt.Errorf("audit: nil store")
	}
	l := &Log{
		store:     store,
		redactors: DefaultRedactors(),
		logger:    logging.OrNop(logger),
	}
	if sr, ok := store.(seqRecoverer); ok {
		last, err := sr.LastSeq(context.Background())
		if err != nil {
			return nil, fmt.Errorf("audit: recover sequence: %w", err)
		}
		l.seq = last
	}
	return l, nil
}

// AddRedactor installs an extra redactor.
func (l *Log) AddRedactor(r Redactor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.redactors = append(l.redactors, r)
}

// Append assigns the next sequence number, redacts free-text fields and
// persists rec. The assigned sequence number is returned.
func (l *Log) Append(ctx context.Context, rec Record) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec.Justification = redactAll(l.redactors, rec.Justification)
	rec.Outcome.Message = util.TruncateRunes(redactAll(l.redactors, rec.Outcome.Message), MaxMessageLength)
	if rec.DurationMS == 0 && !rec.EndedAt.IsZero() {
		rec.DurationMS = rec.EndedAt.Sub(rec.StartedAt).Milliseconds()
	}
	rec.Seq = l.seq + 1

	if err := l.store.Append(ctx, rec); err != nil {
		l.failures++
		l.logger.Error("audit append failed",
			zap.Error(err),
			zap.String("id", rec.ID),
			zap.Int("consecutive_failures", l.failures))
		return 0, fmt.Errorf("audit append: %w", err)
	}
	l.failures = 0
	l.seq = rec.Seq
	return rec.Seq, nil
}

// Query returns the records for sessionID whose StartedAt lies in tr, in
// sequence order. An empty session id returns all sessions.
func (l *Log) Query(ctx context.Context, sessionID string, tr TimeRange) ([]Record, error) {
	recs, err := l.store.Query(ctx, sessionID, tr)
	if err != nil {
		return nil, fmt.Errorf("audit query: %w", err)
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Seq < recs[j].Seq })
	return recs, nil
}

// Close closes the underlying store.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Close()
}
