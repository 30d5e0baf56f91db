// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore keeps records in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path. A positive retention
// deletes records older than it on open.
func OpenSQLite(path string, retention time.Duration) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if retention > 0 {
		if _, err := s.Prune(context.Background(), time.Now().Add(-retention)); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`CREATE TABLE IF NOT EXISTS audit_records (
			seq INTEGER PRIMARY KEY,
			id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			tool TEXT NOT NULL,
			risk TEXT,
			decision TEXT,
			success INTEGER NOT NULL,
			error_kind TEXT,
			started_ns INTEGER NOT NULL,
			ended_ns INTEGER NOT NULL,
			record_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_session_started ON audit_records(session_id, started_ns);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_started ON audit_records(started_ns);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite migrate: %w", err)
		}
	}
	return nil
}

// Append inserts rec.
func (s *SQLiteStore) Append(ctx context.Context, rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO audit_records
		(seq, id, session_id, tool, risk, decision, success, error_kind, started_ns, ended_ns, record_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(rec.Seq), rec.ID, rec.SessionID, rec.Tool, rec.Risk, rec.Decision,
		boolInt(rec.Outcome.Success), rec.Outcome.ErrorKind,
		rec.StartedAt.UnixNano(), rec.EndedAt.UnixNano(), string(b))
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// Query returns matching records in sequence order.
func (s *SQLiteStore) Query(ctx context.Context, sessionID string, tr TimeRange) ([]Record, error) {
	q := `SELECT record_json FROM audit_records WHERE 1=1`
	var args []any
	if sessionID != "" {
		q += ` AND session_id = ?`
		args = append(args, sessionID)
	}
	if !tr.From.IsZero() {
		q += ` AND started_ns >= ?`
		args = append(args, tr.From.UnixNano())
	}
	if !tr.To.IsZero() {
		q += ` AND started_ns <= ?`
		args = append(args, tr.To.UnixNano())
	}
	q += ` ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode audit record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LastSeq returns the highest stored sequence number.
func (s *SQLiteStore) LastSeq(ctx context.Context) (uint64, error) {
	var last sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM audit_records`).Scan(&last); err != nil {
		return 0, fmt.Errorf("read last seq: %w", err)
	}
	return uint64(last.Int64), nil
}

// Prune deletes records that started before cutoff.
func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_records WHERE started_ns < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune audit records: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
