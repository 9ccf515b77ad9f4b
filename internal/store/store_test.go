package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/raysh454/lumen/internal/model"
	"github.com/raysh454/lumen/internal/testutil"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DSN = filepath.Join(t.TempDir(), "scans.db")
	s, err := Open(context.Background(), cfg, &testutil.DummyLogger{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createScan(t *testing.T, s *SQLStore, id, user string, at time.Time) *model.Scan {
	t.Helper()
	sc := &model.Scan{ID: id, URL: "https://example.com/" + id, UserID: user, Status: model.StatusPending, CreatedAt: at}
	if err := s.Create(context.Background(), sc); err != nil {
		t.Fatalf("Create(%s): %v", id, err)
	}
	return sc
}

// ─── CRUD ──────────────────────────────────────────────────────────────

func TestCreateGet_RoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	createScan(t, s, "s1", "u1", t0)

	got, err := s.Get(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != model.StatusPending || got.UserID != "u1" || got.URL != "https://example.com/s1" {
		t.Fatalf("unexpected scan %+v", got)
	}
	if !got.CreatedAt.Equal(t0) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, t0)
	}
	if got.Score != nil || got.Results != nil || got.ErrorMessage != nil || got.StartedAt != nil {
		t.Errorf("pending scan must have no results: %+v", got)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestCreate_DuplicateID(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	createScan(t, s, "s1", "u1", t0)
	err := s.Create(context.Background(), &model.Scan{ID: "s1", URL: "https://x.test", UserID: "u1", CreatedAt: t0})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	createScan(t, s, "s1", "u1", t0)
	ctx := context.Background()
	if err := s.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: expected ErrNotFound, got %v", err)
	}
}

// ─── Listing ───────────────────────────────────────────────────────────

func TestList_PaginatesNewestFirst(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		createScan(t, s, fmt.Sprintf("a%d", i), "alice", t0.Add(time.Duration(i)*time.Minute))
	}
	createScan(t, s, "b0", "bob", t0)

	ctx := context.Background()
	page, total, err := s.List(ctx, Filter{UserID: "alice"}, 1, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 5 || len(page) != 2 || page[0].ID != "a4" || page[1].ID != "a3" {
		t.Fatalf("page 1: total=%d ids=%v", total, ids(page))
	}
	page, _, err = s.List(ctx, Filter{UserID: "alice"}, 3, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page) != 1 || page[0].ID != "a0" {
		t.Fatalf("page 3: %v", ids(page))
	}

	all, total, err := s.List(ctx, Filter{}, 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 6 || len(all) != 6 {
		t.Fatalf("unfiltered: total=%d len=%d", total, len(all))
	}
}

func TestListAfter_KeysetSurvivesStatusChanges(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		createScan(t, s, fmt.Sprintf("p%d", i), "u1", t0.Add(time.Duration(i)*time.Minute))
	}
	// Same created_at, ordered by id.
	createScan(t, s, "p5", "u1", t0.Add(4*time.Minute))

	first, err := s.ListAfter(ctx, model.StatusPending, Cursor{}, 2)
	mustNoErr(t, err)
	if got := ids(first); len(got) != 2 || got[0] != "p0" || got[1] != "p1" {
		t.Fatalf("first batch: %v", got)
	}
	for _, sc := range first {
		mustNoErr(t, s.MarkProcessing(ctx, sc.ID, t0.Add(time.Hour)))
	}

	last := first[len(first)-1]
	var rest []string
	cur := Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	for {
		batch, err := s.ListAfter(ctx, model.StatusPending, cur, 2)
		mustNoErr(t, err)
		rest = append(rest, ids(batch)...)
		if len(batch) < 2 {
			break
		}
		cur = Cursor{CreatedAt: batch[len(batch)-1].CreatedAt, ID: batch[len(batch)-1].ID}
	}
	if want := "p2,p3,p4,p5"; strings.Join(rest, ",") != want {
		t.Fatalf("remaining = %v, want %s", rest, want)
	}
}

func TestList_FilterByStatusAndCounts(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	createScan(t, s, "p", "u1", t0)
	createScan(t, s, "r", "u1", t0)
	createScan(t, s, "c", "u1", t0)
	createScan(t, s, "f", "u2", t0)

	mustNoErr(t, s.MarkProcessing(ctx, "r", t0.Add(time.Second)))
	mustNoErr(t, s.MarkProcessing(ctx, "c", t0.Add(time.Second)))
	mustNoErr(t, s.MarkCompleted(ctx, "c", completion(92), t0.Add(2*time.Second)))
	mustNoErr(t, s.MarkProcessing(ctx, "f", t0.Add(time.Second)))
	mustNoErr(t, s.MarkFailed(ctx, "f", "audit timeout", t0.Add(2*time.Second)))

	got, total, err := s.List(ctx, Filter{Status: model.StatusProcessing}, 1, 10)
	mustNoErr(t, err)
	if total != 1 || got[0].ID != "r" {
		t.Fatalf("processing filter: %v", ids(got))
	}

	all, err := s.CountByStatus(ctx, "")
	mustNoErr(t, err)
	want := model.StatusCounts{Total: 4, Pending: 1, Processing: 1, Completed: 1, Failed: 1}
	if all != want {
		t.Fatalf("counts = %+v, want %+v", all, want)
	}
	u1, err := s.CountByStatus(ctx, "u1")
	mustNoErr(t, err)
	if u1.Total != 3 || u1.Failed != 0 {
		t.Fatalf("u1 counts = %+v", u1)
	}
}

// ─── Lifecycle ─────────────────────────────────────────────────────────

func TestLifecycle_Completed(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	createScan(t, s, "s1", "u1", t0)

	mustNoErr(t, s.MarkProcessing(ctx, "s1", t0.Add(time.Second)))
	// redelivery keeps the first startedAt
	mustNoErr(t, s.MarkProcessing(ctx, "s1", t0.Add(5*time.Second)))
	mustNoErr(t, s.MarkCompleted(ctx, "s1", completion(92), t0.Add(10*time.Second)))

	got, err := s.Get(ctx, "s1")
	mustNoErr(t, err)
	if got.Status != model.StatusCompleted || got.Score == nil || *got.Score != 92 {
		t.Fatalf("unexpected scan %+v", got)
	}
	if !got.StartedAt.Equal(t0.Add(time.Second)) {
		t.Errorf("StartedAt = %v", got.StartedAt)
	}
	if got.Counts.Critical != 1 || got.Counts.Serious != 2 || got.PassedCount != 27 || got.TotalRules != 30 {
		t.Errorf("unexpected summary %+v", got)
	}
	if got.Results == nil || len(got.Results.Findings) != 3 {
		t.Errorf("results not persisted: %+v", got.Results)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLifecycle_RejectsBackwardsAndSkips(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	createScan(t, s, "s1", "u1", t0)

	if err := s.MarkCompleted(ctx, "s1", completion(50), t0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pending->completed: expected ErrInvalidTransition, got %v", err)
	}
	if err := s.MarkFailed(ctx, "s1", "x", t0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pending->failed: expected ErrInvalidTransition, got %v", err)
	}

	mustNoErr(t, s.MarkProcessing(ctx, "s1", t0.Add(time.Second)))
	mustNoErr(t, s.MarkFailed(ctx, "s1", "boom", t0.Add(2*time.Second)))

	if err := s.MarkProcessing(ctx, "s1", t0.Add(3*time.Second)); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("failed->processing: expected ErrInvalidTransition, got %v", err)
	}
	if err := s.MarkCompleted(ctx, "s1", completion(10), t0.Add(3*time.Second)); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("failed->completed: expected ErrInvalidTransition, got %v", err)
	}

	got, err := s.Get(ctx, "s1")
	mustNoErr(t, err)
	if got.Status != model.StatusFailed || got.ErrorMessage == nil || *got.ErrorMessage != "boom" || got.Score != nil {
		t.Fatalf("unexpected scan %+v", got)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLifecycle_VanishedScan(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.MarkProcessing(ctx, "gone", t0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.MarkCompleted(ctx, "gone", completion(1), t0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// ─── Dialects ──────────────────────────────────────────────────────────

func TestRebind(t *testing.T) {
	t.Parallel()
	pg, _ := lookupDialect("postgres")
	got := pg.rebind("UPDATE scans SET a = ?, b = ? WHERE id = ?")
	if got != "UPDATE scans SET a = $1, b = $2 WHERE id = $3" {
		t.Fatalf("postgres rebind = %q", got)
	}
	my, _ := lookupDialect("mysql")
	if q := "SELECT ? "; my.rebind(q) != q {
		t.Fatalf("mysql must keep ? placeholders")
	}
	if _, err := lookupDialect("oracle"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestPrepareDSN_MySQLCountsMatchedRows(t *testing.T) {
	t.Parallel()
	my, _ := lookupDialect("mysql")
	dsn, err := my.prepareDSN("lumen:secret@tcp(db:3306)/lumen")
	if err != nil {
		t.Fatalf("prepareDSN: %v", err)
	}
	for _, want := range []string{"clientFoundRows=true", "parseTime=true"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("dsn %q missing %s", dsn, want)
		}
	}
}

// ─── helpers ───────────────────────────────────────────────────────────

func completion(score int) Completion {
	return Completion{
		Results:     &model.AuditReport{URL: "https://example.com", Findings: testutil.Findings(1, 2, 0, 0), PassedCount: 27},
		Score:       score,
		Counts:      model.SeverityCounts{Critical: 1, Serious: 2},
		PassedCount: 27,
		TotalRules:  30,
	}
}

func ids(scans []*model.Scan) []string {
	out := make([]string, len(scans))
	for i, s := range scans {
		out[i] = s.ID
	}
	return out
}

func mustNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

