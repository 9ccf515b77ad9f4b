// Package testutil provides shared test doubles for use across package tests.
// The dummies satisfy production interfaces structurally so they can be
// injected without real browsers, clocks or log output.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/raysh454/lumen/internal/logging"
	"github.com/raysh454/lumen/internal/model"
)

// ─── Logger ────────────────────────────────────────────────────────────

// DummyLogger implements logging.Logger with in-memory recording.
type DummyLogger struct {
	mu     sync.Mutex
	Errors []string
	Infos  []string
	Debugs []string
	Warns  []string
}

func (l *DummyLogger) Debug(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Debugs = append(l.Debugs, msg)
}

func (l *DummyLogger) Info(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Infos = append(l.Infos, msg)
}

func (l *DummyLogger) Warn(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Warns = append(l.Warns, msg)
}

func (l *DummyLogger) Error(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Errors = append(l.Errors, msg)
}

func (l *DummyLogger) With(_ ...logging.Field) logging.Logger { return l }

// Has reports whether msg was logged at any level.
func (l *DummyLogger) Has(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, list := range [][]string{l.Errors, l.Warns, l.Infos, l.Debugs} {
		for _, m := range list {
			if m == msg {
				return true
			}
		}
	}
	return false
}

// ─── Clock ─────────────────────────────────────────────────────────────

// FakeClock is a manually advanced clock.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock returns a clock frozen at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ─── Audit runner ──────────────────────────────────────────────────────

// AuditFunc lets a test script each call to FakeRunner.
type AuditFunc func(ctx context.Context, url string, call int) (*model.AuditReport, error)

// FakeRunner implements auditor.Runner. With no Func it returns Report
// (or an empty report) for every URL.
type FakeRunner struct {
	Func   AuditFunc
	Report *model.AuditReport
	Delay  time.Duration

	mu    sync.Mutex
	Calls []string
}

func (f *FakeRunner) Audit(ctx context.Context, url string) (*model.AuditReport, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, url)
	call := len(f.Calls)
	f.mu.Unlock()

	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.Func != nil {
		return f.Func(ctx, url, call)
	}
	if f.Report != nil {
		r := *f.Report
		r.URL = url
		return &r, nil
	}
	return &model.AuditReport{URL: url}, nil
}

func (f *FakeRunner) Close() error { return nil }

// CallCount returns the number of Audit calls so far.
func (f *FakeRunner) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

// ─── helpers ───────────────────────────────────────────────────────────

// Eventually polls cond every 5ms until it holds or timeout elapses.
func Eventually(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

// Findings builds a findings slice with the given number of each severity.
func Findings(critical, serious, moderate, minor int) []model.Finding {
	var out []model.Finding
	add := func(sev model.Severity, n int) {
		for i := 0; i < n; i++ {
			out = append(out, model.Finding{
				RuleID:   fmt.Sprintf("%s-%d", sev, i),
				Severity: sev,
				Targets:  []string{fmt.Sprintf("#el-%d", i)},
				Message:  "violation",
			})
		}
	}
	add(model.SeverityCritical, critical)
	add(model.SeveritySerious, serious)
	add(model.SeverityModerate, moderate)
	add(model.SeverityMinor, minor)
	return out
}
