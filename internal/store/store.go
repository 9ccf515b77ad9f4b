// Package store persists Scan records.
//
// Every worker-side update is a single conditional UPDATE guarded by the
// current status, so the lifecycle can only move forward even when a job is
// redelivered or a scan is deleted mid-flight.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/raysh454/lumen/internal/logging"
	"github.com/raysh454/lumen/internal/model"
)

var (
	// ErrNotFound is returned when no scan has the requested id.
	ErrNotFound = errors.New("store: scan not found")

	// ErrInvalidTransition is returned when a status update would move a
	// scan backwards or skip processing.
	ErrInvalidTransition = errors.New("store: invalid status transition")

	// ErrConflict is returned by Create for an id that already exists.
	ErrConflict = errors.New("store: scan already exists")
)

// Filter narrows List and CountByStatus. Zero values match everything.
type Filter struct {
	UserID string
	Status model.Status
}

// Cursor is a position in (created_at, id) order, as used by ListAfter.
// The zero Cursor is before every scan.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Completion is the all-or-nothing payload written when a scan completes.
type Completion struct {
	Results     *model.AuditReport
	Score       int
	Counts      model.SeverityCounts
	PassedCount int
	TotalRules  int
}

// Store is the scan persistence contract used by the orchestrator and workers.
type Store interface {
	Create(ctx context.Context, s *model.Scan) error
	Get(ctx context.Context, id string) (*model.Scan, error)
	List(ctx context.Context, f Filter, page, pageSize int) ([]*model.Scan, int, error)
	ListAfter(ctx context.Context, status model.Status, after Cursor, limit int) ([]*model.Scan, error)
	CountByStatus(ctx context.Context, userID string) (model.StatusCounts, error)
	Delete(ctx context.Context, id string) error

	MarkProcessing(ctx context.Context, id string, at time.Time) error
	MarkCompleted(ctx context.Context, id string, c Completion, at time.Time) error
	MarkFailed(ctx context.Context, id string, message string, at time.Time) error

	Ping(ctx context.Context) error
	Close() error
}

// SQLStore implements Store on database/sql for sqlite, postgres and mysql.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  logging.Logger
}

// Open connects to the database described by cfg and applies the schema.
func Open(ctx context.Context, cfg Config, logger logging.Logger) (*SQLStore, error) {
	if logger == nil {
		return nil, errors.New("store: nil logger provided")
	}
	d, err := lookupDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	dsn := cfg.DSN
	if dsn == "" && d.name == "sqlite" {
		dsn = DefaultConfig().DSN
	}
	if dsn == "" {
		return nil, fmt.Errorf("store: dsn required for %s", d.name)
	}
	dsn, err = d.prepareDSN(dsn)
	if err != nil {
		return nil, err
	}
	if d.name == "sqlite" && dsn != ":memory:" {
		if dir := filepath.Dir(dsn); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("store: create db dir: %w", err)
			}
		}
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", d.name, err)
	}
	if d.name == "sqlite" {
		db.SetMaxOpenConns(1)
		for _, p := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", "PRAGMA foreign_keys=ON"} {
			if _, err := db.Exec(p); err != nil {
				db.Close()
				return nil, fmt.Errorf("store: set pragma %q: %w", p, err)
			}
		}
	} else {
		def := DefaultConfig()
		db.SetMaxOpenConns(orDefault(cfg.MaxOpenConns, def.MaxOpenConns))
		db.SetMaxIdleConns(orDefault(cfg.MaxIdleConns, def.MaxIdleConns))
		lifetime := cfg.ConnMaxLifetime
		if lifetime <= 0 {
			lifetime = def.ConnMaxLifetime
		}
		db.SetConnMaxLifetime(lifetime)
	}

	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = DefaultConfig().PingTimeout
	}
	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", d.name, err)
	}
	for _, stmt := range d.schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: apply schema: %w", err)
		}
	}

	logger.Info("scan store ready", logging.Field{Key: "driver", Value: d.name})
	return &SQLStore{db: db, dialect: d, logger: logger}, nil
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

const scanColumns = `id, url, user_id, status, priority, results, score,
	critical, serious, moderate, minor, passed_count, total_rules, error_message,
	created_at, started_at, completed_at, updated_at`

func ms(t time.Time) int64 { return t.UnixMilli() }

func nullMS(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64).UTC()
	return &t
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(r rowScanner) (*model.Scan, error) {
	var (
		sc                 model.Scan
		status             string
		results, errMsg    sql.NullString
		score              sql.NullInt64
		created, updated   int64
		started, completed sql.NullInt64
	)
	if err := r.Scan(&sc.ID, &sc.URL, &sc.UserID, &status, &sc.Priority, &results, &score,
		&sc.Counts.Critical, &sc.Counts.Serious, &sc.Counts.Moderate, &sc.Counts.Minor,
		&sc.PassedCount, &sc.TotalRules, &errMsg,
		&created, &started, &completed, &updated); err != nil {
		return nil, err
	}
	sc.Status = model.Status(status)
	if results.Valid && results.String != "" {
		var rep model.AuditReport
		if err := json.Unmarshal([]byte(results.String), &rep); err != nil {
			return nil, fmt.Errorf("store: decode results of %s: %w", sc.ID, err)
		}
		sc.Results = &rep
	}
	if score.Valid {
		v := int(score.Int64)
		sc.Score = &v
	}
	if errMsg.Valid {
		m := errMsg.String
		sc.ErrorMessage = &m
	}
	sc.CreatedAt = time.UnixMilli(created).UTC()
	sc.UpdatedAt = time.UnixMilli(updated).UTC()
	sc.StartedAt = timePtr(started)
	sc.CompletedAt = timePtr(completed)
	return &sc, nil
}

// Create inserts a new scan. CreatedAt and UpdatedAt are truncated to
// millisecond precision on the passed struct so it matches what Get returns.
func (s *SQLStore) Create(ctx context.Context, sc *model.Scan) error {
	if sc.ID == "" {
		return &model.ValidationError{Field: "id", Reason: "required"}
	}
	sc.CreatedAt = sc.CreatedAt.Truncate(time.Millisecond).UTC()
	if sc.UpdatedAt.IsZero() {
		sc.UpdatedAt = sc.CreatedAt
	}
	sc.UpdatedAt = sc.UpdatedAt.Truncate(time.Millisecond).UTC()
	if sc.Status == "" {
		sc.Status = model.StatusPending
	}
	_, err := s.exec(ctx, `INSERT INTO scans (id, url, user_id, status, priority, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.URL, sc.UserID, string(sc.Status), sc.Priority, ms(sc.CreatedAt), ms(sc.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("store: create %s: %w", sc.ID, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

// Get returns the scan with id or ErrNotFound.
func (s *SQLStore) Get(ctx context.Context, id string) (*model.Scan, error) {
	sc, err := scanRow(s.queryRow(ctx, `SELECT `+scanColumns+` FROM scans WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", id, err)
	}
	return sc, nil
}

func (f Filter) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns one page of scans, newest first, and the total match count.
// page is 1-based.
func (s *SQLStore) List(ctx context.Context, f Filter, page, pageSize int) ([]*model.Scan, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	where, args := f.where()

	var total int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM scans`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count: %w", err)
	}

	q := `SELECT ` + scanColumns + ` FROM scans` + where + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(q), append(args, pageSize, (page-1)*pageSize)...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	out := make([]*model.Scan, 0, pageSize)
	for rows.Next() {
		sc, err := scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("store: list: %w", err)
	}
	return out, total, nil
}

// ListAfter returns up to limit scans in status, oldest first, that sort
// strictly after the cursor. Rows leaving status between calls do not shift
// the next page.
func (s *SQLStore) ListAfter(ctx context.Context, status model.Status, after Cursor, limit int) ([]*model.Scan, error) {
	if limit < 1 {
		limit = 100
	}
	q := `SELECT ` + scanColumns + ` FROM scans WHERE status = ?`
	args := []any{string(status)}
	if !after.CreatedAt.IsZero() || after.ID != "" {
		at := ms(after.CreatedAt)
		q += ` AND (created_at > ? OR (created_at = ? AND id > ?))`
		args = append(args, at, at, after.ID)
	}
	q += ` ORDER BY created_at ASC, id ASC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(q), append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("store: list after: %w", err)
	}
	defer rows.Close()

	out := make([]*model.Scan, 0, limit)
	for rows.Next() {
		sc, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list after: %w", err)
	}
	return out, nil
}

// CountByStatus aggregates scans per status, optionally for one user.
func (s *SQLStore) CountByStatus(ctx context.Context, userID string) (model.StatusCounts, error) {
	where, args := Filter{UserID: userID}.where()
	rows, err := s.db.QueryContext(ctx,
		s.dialect.rebind(`SELECT status, COUNT(*) FROM scans`+where+` GROUP BY status`), args...)
	if err != nil {
		return model.StatusCounts{}, fmt.Errorf("store: count by status: %w", err)
	}
	defer rows.Close()

	var counts model.StatusCounts
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return model.StatusCounts{}, err
		}
		counts.Set(model.Status(status), n)
	}
	return counts, rows.Err()
}

// Delete removes the scan. It does not touch any queued job.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM scans WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// guarded turns a zero-row conditional update into ErrNotFound or
// ErrInvalidTransition.
func (s *SQLStore) guarded(ctx context.Context, id string, res sql.Result, err error) error {
	if err != nil {
		return fmt.Errorf("store: update %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var status string
	err = s.queryRow(ctx, `SELECT status FROM scans WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: update %s: %w", id, err)
	}
	return fmt.Errorf("%w: scan %s is %s", ErrInvalidTransition, id, status)
}

// MarkProcessing moves a pending scan to processing and records startedAt.
// A scan already processing (a redelivered job) keeps its first startedAt.
func (s *SQLStore) MarkProcessing(ctx context.Context, id string, at time.Time) error {
	res, err := s.exec(ctx, `UPDATE scans
		SET status = 'processing', started_at = COALESCE(started_at, ?), updated_at = ?
		WHERE id = ? AND status IN ('pending', 'processing')`,
		ms(at), ms(at), id)
	return s.guarded(ctx, id, res, err)
}

// MarkCompleted writes results, score and counts in one statement.
func (s *SQLStore) MarkCompleted(ctx context.Context, id string, c Completion, at time.Time) error {
	if c.Results == nil {
		return errors.New("store: completion without results")
	}
	raw, err := json.Marshal(c.Results)
	if err != nil {
		return fmt.Errorf("store: encode results: %w", err)
	}
	res, err := s.exec(ctx, `UPDATE scans
		SET status = 'completed', results = ?, score = ?,
			critical = ?, serious = ?, moderate = ?, minor = ?,
			passed_count = ?, total_rules = ?, error_message = NULL,
			completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'processing'`,
		string(raw), c.Score,
		c.Counts.Critical, c.Counts.Serious, c.Counts.Moderate, c.Counts.Minor,
		c.PassedCount, c.TotalRules, ms(at), ms(at), id)
	return s.guarded(ctx, id, res, err)
}

// MarkFailed records the terminal error. Partial results are never stored.
func (s *SQLStore) MarkFailed(ctx context.Context, id string, message string, at time.Time) error {
	if message == "" {
		message = "scan failed"
	}
	res, err := s.exec(ctx, `UPDATE scans
		SET status = 'failed', error_message = ?, results = NULL, score = NULL,
			completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'processing'`,
		message, ms(at), ms(at), id)
	return s.guarded(ctx, id, res, err)
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
