package queue

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// SQLBackend stores jobs in a SQLite database so retries and leases survive a
// restart.
type SQLBackend struct {
	db *sql.DB
}

// OpenSQLBackend opens (and if needed creates) the queue database at path.
func OpenSQLBackend(path string) (*SQLBackend, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("queue: create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("queue: open database: %w", err)
	}
	// A single connection serializes writers and keeps pragmas in effect.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("queue: set pragma %q: %w", p, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("queue: apply schema: %w", err)
	}
	return &SQLBackend{db: db}, nil
}

const jobColumns = `id, payload, priority, state, attempts_made, max_attempts, seq,
	next_run_at, lease_until, token, last_error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (*Job, error) {
	var (
		j                                Job
		payload, state                   string
		nextRun, lease, created, updated int64
	)
	if err := r.Scan(&j.ID, &payload, &j.Priority, &state, &j.AttemptsMade, &j.MaxAttempts, &j.Seq,
		&nextRun, &lease, &j.Token, &j.LastError, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &j.Payload); err != nil {
		return nil, fmt.Errorf("queue: decode payload of %s: %w", j.ID, err)
	}
	j.State = State(state)
	j.NextRunAt = fromMillis(nextRun)
	j.LeaseUntil = fromMillis(lease)
	j.CreatedAt = fromMillis(created)
	j.UpdatedAt = fromMillis(updated)
	return &j, nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (b *SQLBackend) Insert(ctx context.Context, job *Job) error {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("queue: encode payload: %w", err)
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO jobs (id, payload, priority, state, attempts_made, max_attempts, seq,
			next_run_at, lease_until, token, last_error, created_at, updated_at)
		VALUES (?, ?, ?, 'waiting', 0, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM jobs), ?, 0, '', '', ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload = excluded.payload,
			priority = excluded.priority,
			state = 'waiting',
			attempts_made = 0,
			max_attempts = excluded.max_attempts,
			seq = excluded.seq,
			next_run_at = excluded.next_run_at,
			lease_until = 0,
			token = '',
			last_error = '',
			created_at = excluded.created_at,
			updated_at = excluded.updated_at
		WHERE jobs.state IN ('completed', 'dead')`,
		job.ID, string(payload), job.Priority, job.MaxAttempts,
		millis(job.NextRunAt), millis(job.CreatedAt), millis(job.UpdatedAt))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDuplicate
	}
	if err := tx.QueryRowContext(ctx, `SELECT seq FROM jobs WHERE id = ?`, job.ID).Scan(&job.Seq); err != nil {
		return err
	}
	return tx.Commit()
}

func (b *SQLBackend) Claim(ctx context.Context, now, leaseUntil time.Time, token string) (*Job, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM jobs
		WHERE state = 'waiting' AND next_run_at <= ?
		ORDER BY priority DESC, seq ASC
		LIMIT 1`, millis(now)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET state = 'active', attempts_made = attempts_made + 1,
			lease_until = ?, token = ?, updated_at = ?
		WHERE id = ? AND state = 'waiting'`,
		millis(leaseUntil), token, millis(now), id); err != nil {
		return nil, err
	}

	job, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return job, nil
}

func (b *SQLBackend) NextReadyAt(ctx context.Context) (time.Time, bool, error) {
	var next sql.NullInt64
	if err := b.db.QueryRowContext(ctx,
		`SELECT MIN(next_run_at) FROM jobs WHERE state = 'waiting'`).Scan(&next); err != nil {
		return time.Time{}, false, err
	}
	if !next.Valid {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(next.Int64), true, nil
}

// settle runs an update guarded by id, active state and token.
func (b *SQLBackend) settle(ctx context.Context, query string, args ...any) error {
	res, err := b.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (b *SQLBackend) Complete(ctx context.Context, id, token string, now time.Time) error {
	return b.settle(ctx, `
		UPDATE jobs SET state = 'completed', token = '', lease_until = 0, updated_at = ?
		WHERE id = ? AND state = 'active' AND token = ?`,
		millis(now), id, token)
}

func (b *SQLBackend) Retry(ctx context.Context, id, token, lastErr string, runAt, now time.Time) error {
	return b.settle(ctx, `
		UPDATE jobs SET state = 'waiting', token = '', lease_until = 0,
			next_run_at = ?, last_error = ?, updated_at = ?
		WHERE id = ? AND state = 'active' AND token = ?`,
		millis(runAt), lastErr, millis(now), id, token)
}

func (b *SQLBackend) Bury(ctx context.Context, id, token, lastErr string, now time.Time) error {
	return b.settle(ctx, `
		UPDATE jobs SET state = 'dead', token = '', lease_until = 0, last_error = ?, updated_at = ?
		WHERE id = ? AND state = 'active' AND token = ?`,
		lastErr, millis(now), id, token)
}

func (b *SQLBackend) Release(ctx context.Context, id, token string, now time.Time) error {
	return b.settle(ctx, `
		UPDATE jobs SET state = 'waiting', token = '', lease_until = 0,
			attempts_made = MAX(attempts_made - 1, 0), next_run_at = ?, updated_at = ?
		WHERE id = ? AND state = 'active' AND token = ?`,
		millis(now), millis(now), id, token)
}

func (b *SQLBackend) Extend(ctx context.Context, id, token string, leaseUntil time.Time) error {
	return b.settle(ctx, `
		UPDATE jobs SET lease_until = ?
		WHERE id = ? AND state = 'active' AND token = ?`,
		millis(leaseUntil), id, token)
}

func (b *SQLBackend) Expired(ctx context.Context, now time.Time) ([]*Job, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs
		WHERE state = 'active' AND lease_until < ? ORDER BY seq`, millis(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (b *SQLBackend) Get(ctx context.Context, id string) (*Job, error) {
	j, err := scanJob(b.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return j, err
}

func (b *SQLBackend) Counts(ctx context.Context, now time.Time) (Counts, error) {
	var c Counts
	err := b.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN state = 'waiting' AND next_run_at <= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN state = 'waiting' AND next_run_at > ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN state = 'active' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN state = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN state = 'dead' THEN 1 ELSE 0 END), 0)
		FROM jobs`, millis(now), millis(now)).Scan(&c.Ready, &c.Delayed, &c.Active, &c.Completed, &c.Dead)
	return c, err
}

func (b *SQLBackend) Trim(ctx context.Context, state State, keep int) error {
	if keep < 0 {
		return nil
	}
	_, err := b.db.ExecContext(ctx, `
		DELETE FROM jobs WHERE state = ? AND id NOT IN (
			SELECT id FROM jobs WHERE state = ? ORDER BY updated_at DESC, seq DESC LIMIT ?
		)`, string(state), string(state), keep)
	return err
}

func (b *SQLBackend) PurgeWaiting(ctx context.Context) (int, error) {
	res, err := b.db.ExecContext(ctx, `DELETE FROM jobs WHERE state = 'waiting'`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (b *SQLBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *SQLBackend) Close() error {
	return b.db.Close()
}
