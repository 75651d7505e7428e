// Package store provides the durable SQLite-backed state for users,
// workers, jobs, the dispatch queue, and the credit ledger. A single
// write handle serializes all mutations; a separate read-only handle
// serves concurrent listing/reporting queries.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/campusgrid/campusgrid/internal/obslog"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id            TEXT PRIMARY KEY,
    username      TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL DEFAULT '',
    email         TEXT NOT NULL DEFAULT '',
    role          TEXT NOT NULL DEFAULT 'user',
    credits       INTEGER NOT NULL DEFAULT 0,
    created_at    TEXT NOT NULL,
    updated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS workers (
    id              TEXT PRIMARY KEY,
    name            TEXT NOT NULL,
    owner_user_id   TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'offline',
    cpu_cores       INTEGER NOT NULL DEFAULT 1,
    cpu_model       TEXT NOT NULL DEFAULT 'Unknown',
    ram_gb          REAL NOT NULL DEFAULT 4,
    gpu_name        TEXT NOT NULL DEFAULT '',
    gpu_memory_gb   REAL NOT NULL DEFAULT 0,
    has_docker      INTEGER NOT NULL DEFAULT 0,
    last_heartbeat  TEXT NOT NULL,
    jobs_completed  INTEGER NOT NULL DEFAULT 0,
    credits_earned  INTEGER NOT NULL DEFAULT 0,
    created_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
    id                TEXT PRIMARY KEY,
    title             TEXT NOT NULL,
    submitter_user_id TEXT NOT NULL,
    assigned_worker   TEXT NOT NULL DEFAULT '',
    status            TEXT NOT NULL DEFAULT 'pending',
    priority          INTEGER NOT NULL DEFAULT 5,
    code              TEXT NOT NULL,
    requirements      TEXT NOT NULL DEFAULT '',
    cpu_required      INTEGER NOT NULL DEFAULT 1,
    ram_required_gb   REAL NOT NULL DEFAULT 0,
    gpu_required      INTEGER NOT NULL DEFAULT 0,
    timeout_seconds   INTEGER NOT NULL DEFAULT 60,
    credit_cost       INTEGER NOT NULL DEFAULT 0,
    credit_reward     INTEGER NOT NULL DEFAULT 0,
    result_output     TEXT NOT NULL DEFAULT '',
    error_log         TEXT NOT NULL DEFAULT '',
    retry_count       INTEGER NOT NULL DEFAULT 0,
    created_at        TEXT NOT NULL,
    started_at        TEXT,
    completed_at      TEXT
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_submitter ON jobs(submitter_user_id);

CREATE TABLE IF NOT EXISTS queue (
    job_id    TEXT PRIMARY KEY,
    priority  INTEGER NOT NULL,
    queued_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_queue_order ON queue(priority DESC, queued_at ASC);

CREATE TABLE IF NOT EXISTS transactions (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id     TEXT NOT NULL,
    amount      INTEGER NOT NULL,
    kind        TEXT NOT NULL,
    job_id      TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id);

CREATE TABLE IF NOT EXISTS activity (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    kind       TEXT NOT NULL,
    worker_id  TEXT NOT NULL DEFAULT '',
    job_id     TEXT NOT NULL DEFAULT '',
    user_id    TEXT NOT NULL DEFAULT '',
    message    TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);
`

// MaxDispatchRetries bounds how many times an orphaned running job (whose
// worker vanished mid-execution) is re-queued before it is given up on and
// marked failed. See the orphaned-running-jobs policy decision.
const MaxDispatchRetries = 3

// busyRetries is how many times a composite transaction retries on
// SQLITE_BUSY before surfacing failure.
const busyRetries = 3

// Store is the durable backing store. Writes go through db; reads that can
// tolerate slightly stale data (listings, stats) go through roDB so they
// never queue behind a long-running write transaction.
type Store struct {
	db   *sql.DB
	roDB *sql.DB
	log  zerolog.Logger
}

// Open opens (creating if necessary) the SQLite database at path and runs
// schema migrations. busyTimeout is applied to both handles.
func Open(path string, busyTimeout time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open write handle: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer discipline

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable WAL: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeout.Milliseconds())); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: set busy_timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: run migrations: %w", err)
	}

	roDB, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: open read handle: %w", err)
	}
	if _, err := roDB.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeout.Milliseconds())); err != nil {
		db.Close()
		roDB.Close()
		return nil, fmt.Errorf("store: set read-handle busy_timeout: %w", err)
	}
	roDB.SetMaxOpenConns(4)

	return &Store{db: db, roDB: roDB, log: obslog.Component("store")}, nil
}

// Close releases both database handles.
func (s *Store) Close() error {
	roErr := s.roDB.Close()
	if err := s.db.Close(); err != nil {
		return err
	}
	return roErr
}

// withRetry runs fn inside a write transaction, retrying up to busyRetries
// times with a short backoff when SQLite reports the database as busy.
func withRetry(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt <= busyRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 50 * time.Millisecond)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			lastErr = err
			continue
		}

		if err := fn(tx); err != nil {
			tx.Rollback()
			if !isBusy(err) {
				return err
			}
			lastErr = err
			continue
		}

		if err := tx.Commit(); err != nil {
			if !isBusy(err) {
				return err
			}
			lastErr = err
			continue
		}

		return nil
	}
	return fmt.Errorf("store: transaction failed after %d attempts: %w", busyRetries+1, lastErr)
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	// modernc.org/sqlite surfaces busy/locked conditions in the error text;
	// matching on substring avoids depending on its internal error type.
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	return parseTime(s.String)
}
