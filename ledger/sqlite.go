package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
	run_id     TEXT    NOT NULL,
	seq        INTEGER NOT NULL,
	node       TEXT    NOT NULL,
	outcome    TEXT    NOT NULL,
	snapshot   BLOB,
	error      TEXT,
	created_at TEXT    NOT NULL,
	PRIMARY KEY (run_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_ledger_run ON ledger_entries (run_id, seq);
`

// SQLiteStore is a durable ledger backed by SQLite. It survives process
// restarts and supports concurrent appends for distinct runs.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) a ledger database at path.
// Use ":memory:" for an ephemeral database in tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}

	// Serialized access through a single connection: the modernc driver
	// does not share an in-memory database across connections, and a
	// single writer avoids SQLITE_BUSY under concurrent runs.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure ledger database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ledger_entries (run_id, seq, node, outcome, snapshot, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID, entry.Seq, entry.Node, string(entry.Outcome),
		[]byte(entry.Snapshot), entry.Error, entry.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEntry
		}
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

// LatestSuccess implements Store.
func (s *SQLiteStore) LatestSuccess(ctx context.Context, runID string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, seq, node, outcome, snapshot, error, created_at
		 FROM ledger_entries
		 WHERE run_id = ? AND outcome = ?
		 ORDER BY seq DESC LIMIT 1`,
		runID, string(OutcomeSuccess),
	)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest success: %w", err)
	}
	return entry, nil
}

// Entries implements Store.
func (s *SQLiteStore) Entries(ctx context.Context, runID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, seq, node, outcome, snapshot, error, created_at
		 FROM ledger_entries
		 WHERE run_id = ?
		 ORDER BY seq ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("scan ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan ledger entries: %w", err)
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var entry Entry
	var outcome, createdAt string
	var snapshot []byte
	var errMsg sql.NullString

	if err := row.Scan(&entry.RunID, &entry.Seq, &entry.Node, &outcome, &snapshot, &errMsg, &createdAt); err != nil {
		return nil, err
	}

	entry.Outcome = Outcome(outcome)
	entry.Snapshot = snapshot
	entry.Error = errMsg.String

	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse entry timestamp: %w", err)
	}
	entry.Timestamp = ts

	return &entry, nil
}

// isUniqueViolation detects a primary-key conflict without depending on
// driver-specific error types.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "constraint")
}
