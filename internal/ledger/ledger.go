// Package ledger records token and cost accounting for every terminal call
// outcome, and answers advisory per-caller quota checks. Writes go through a
// background writer so a ledger fault can never break the serving path.
package ledger

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/candorhq/go-candor-ai/pkg/logger"
)

// Status labels a terminal call outcome.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Entry is one immutable usage record. Exactly one is written per terminal
// call attempt, success or failure.
type Entry struct {
	CallerID     string
	Model        string
	Purpose      string
	InputTokens  int
	OutputTokens int
	Status       Status
	Error        string
	CreatedAt    time.Time
}

// Decision is the result of an advisory quota check.
type Decision struct {
	Allowed   bool
	Remaining int64
	Reason    string
}

const createTables = `
CREATE TABLE IF NOT EXISTS usage_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	caller_id TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL,
	purpose TEXT NOT NULL,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_caller_time ON usage_logs(caller_id, created_at);

CREATE TABLE IF NOT EXISTS caller_quotas (
	caller_id TEXT PRIMARY KEY,
	tokens_used INTEGER NOT NULL DEFAULT 0,
	token_limit INTEGER NOT NULL
);
`

// queueSize bounds the write queue; entries beyond it are dropped, counted,
// and logged rather than blocking the caller.
const queueSize = 256

type job struct {
	entry   Entry
	flush   bool
	flushed chan struct{}
}

// Ledger is the sqlite-backed usage store.
type Ledger struct {
	db           *sql.DB
	defaultLimit int64
	logger       *logger.Logger

	// sendMu serializes channel sends against Close; a send may otherwise
	// slip between the closed check and the channel being closed.
	sendMu  sync.RWMutex
	ch      chan job
	wg      sync.WaitGroup
	closed  atomic.Bool
	dropped atomic.Int64
}

// New opens (or creates) the ledger database at dbPath and starts the
// background writer. defaultLimit is the advisory token limit applied to
// callers without an explicit quota row; zero means unlimited.
func New(dbPath string, defaultLimit int64, log *logger.Logger) (*Ledger, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "open ledger db")
	}

	if _, err := db.Exec(createTables); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate ledger db")
	}

	l := &Ledger{
		db:           db,
		defaultLimit: defaultLimit,
		logger:       log.WithComponent("ledger"),
		ch:           make(chan job, queueSize),
	}

	l.wg.Add(1)
	go l.writer()

	return l, nil
}

// Log enqueues a usage entry. It never blocks and never returns an error;
// when the queue is full the entry is dropped and counted.
func (l *Ledger) Log(e Entry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	l.sendMu.RLock()
	defer l.sendMu.RUnlock()
	if l.closed.Load() {
		return
	}

	select {
	case l.ch <- job{entry: e}:
	default:
		l.dropped.Add(1)
		l.logger.Warn("usage queue full, dropping entry", "model", e.Model, "purpose", e.Purpose)
	}
}

// Flush blocks until every entry enqueued before the call has been written.
// Intended for tests and shutdown paths.
func (l *Ledger) Flush() {
	l.sendMu.RLock()
	if l.closed.Load() {
		l.sendMu.RUnlock()
		return
	}
	flushed := make(chan struct{})
	l.ch <- job{flush: true, flushed: flushed}
	l.sendMu.RUnlock()

	// The writer drains every queued job even after Close, so the marker is
	// reached without holding the lock.
	<-flushed
}

// writer drains the queue sequentially so quota increments never race.
func (l *Ledger) writer() {
	defer l.wg.Done()
	for j := range l.ch {
		if j.flush {
			close(j.flushed)
			continue
		}
		l.write(j.entry)
	}
}

// write persists one entry. On success with a known caller the quota
// aggregate is incremented in the same transaction. Failures are swallowed
// after logging; a logging fault must never surface to the serving path.
func (l *Ledger) write(e Entry) {
	if e.Status == StatusSuccess && e.CallerID != "" {
		tx, err := l.db.Begin()
		if err != nil {
			l.logger.Warn("usage write failed", "error", err)
			return
		}
		if err := insertLog(tx, e); err != nil {
			tx.Rollback()
			l.logger.Warn("usage write failed", "error", err)
			return
		}
		total := int64(e.InputTokens + e.OutputTokens)
		_, err = tx.Exec(
			`INSERT INTO caller_quotas (caller_id, tokens_used, token_limit) VALUES (?, ?, ?)
			 ON CONFLICT(caller_id) DO UPDATE SET tokens_used = tokens_used + excluded.tokens_used`,
			e.CallerID, total, l.defaultLimit,
		)
		if err != nil {
			tx.Rollback()
			l.logger.Warn("quota increment failed", "error", err)
			return
		}
		if err := tx.Commit(); err != nil {
			l.logger.Warn("usage commit failed", "error", err)
		}
		return
	}

	if err := insertLog(l.db, e); err != nil {
		l.logger.Warn("usage write failed", "error", err)
	}
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertLog(db execer, e Entry) error {
	_, err := db.Exec(
		`INSERT INTO usage_logs (caller_id, model, purpose, input_tokens, output_tokens, status, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.CallerID, e.Model, e.Purpose, e.InputTokens, e.OutputTokens, string(e.Status), e.Error, e.CreatedAt,
	)
	return err
}

// CheckLimit reports whether a caller is within its advisory token quota.
// Any internal error returns "allowed": availability is prioritized over
// strict enforcement.
func (l *Ledger) CheckLimit(ctx context.Context, callerID string) Decision {
	var used, limit int64
	err := l.db.QueryRowContext(ctx,
		`SELECT tokens_used, token_limit FROM caller_quotas WHERE caller_id = ?`,
		callerID,
	).Scan(&used, &limit)

	switch {
	case err == sql.ErrNoRows:
		return Decision{Allowed: true, Remaining: l.defaultLimit}
	case err != nil:
		l.logger.Warn("quota check failed, allowing", "caller", callerID, "error", err)
		return Decision{Allowed: true, Reason: "ledger unavailable"}
	}

	if limit <= 0 {
		return Decision{Allowed: true, Remaining: -1}
	}
	remaining := limit - used
	if remaining <= 0 {
		return Decision{Allowed: false, Reason: "token limit exhausted"}
	}
	return Decision{Allowed: true, Remaining: remaining}
}

// SetLimit sets a caller's advisory token limit, preserving accrued usage.
func (l *Ledger) SetLimit(ctx context.Context, callerID string, limit int64) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO caller_quotas (caller_id, tokens_used, token_limit) VALUES (?, 0, ?)
		 ON CONFLICT(caller_id) DO UPDATE SET token_limit = excluded.token_limit`,
		callerID, limit,
	)
	return errors.Wrap(err, "set caller limit")
}

// SummaryRow aggregates usage per (model, purpose).
type SummaryRow struct {
	Model        string
	Purpose      string
	Calls        int64
	Failures     int64
	InputTokens  int64
	OutputTokens int64
}

// Summary returns aggregated usage grouped by model and purpose.
func (l *Ledger) Summary(ctx context.Context) ([]SummaryRow, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT model, purpose, COUNT(*),
		        SUM(CASE WHEN status = 'failure' THEN 1 ELSE 0 END),
		        SUM(input_tokens), SUM(output_tokens)
		 FROM usage_logs GROUP BY model, purpose ORDER BY model, purpose`,
	)
	if err != nil {
		return nil, errors.Wrap(err, "usage summary")
	}
	defer rows.Close()

	var out []SummaryRow
	for rows.Next() {
		var r SummaryRow
		if err := rows.Scan(&r.Model, &r.Purpose, &r.Calls, &r.Failures, &r.InputTokens, &r.OutputTokens); err != nil {
			return nil, errors.Wrap(err, "scan summary row")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountByStatus returns the number of usage entries with the given status.
func (l *Ledger) CountByStatus(ctx context.Context, status Status) (int64, error) {
	var n int64
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM usage_logs WHERE status = ?`, string(status),
	).Scan(&n)
	return n, errors.Wrap(err, "count usage by status")
}

// Dropped returns the number of entries discarded due to queue pressure
func (l *Ledger) Dropped() int64 {
	return l.dropped.Load()
}

// Close drains pending writes and releases the database.
func (l *Ledger) Close() error {
	l.sendMu.Lock()
	if !l.closed.CompareAndSwap(false, true) {
		l.sendMu.Unlock()
		return nil
	}
	close(l.ch)
	l.sendMu.Unlock()

	l.wg.Wait()
	return l.db.Close()
}
