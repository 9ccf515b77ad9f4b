package cli

import (
	"strings"
	"testing"

	"github.com/raysh454/lumen/internal/model"
	"github.com/raysh454/lumen/internal/poller"
	"github.com/raysh454/lumen/internal/report"
)

func TestParseServerArgs(t *testing.T) {
	t.Parallel()
	a, err := ParseServerArgs([]string{"-config", "prod.yaml", "-listen", ":9090", "-concurrency", "5"})
	if err != nil {
		t.Fatalf("ParseServerArgs: %v", err)
	}
	if a.ConfigPath != "prod.yaml" || a.ListenAddr != ":9090" || a.Concurrency != 5 {
		t.Fatalf("unexpected args: %+v", a)
	}

	if _, err := ParseServerArgs([]string{"-concurrency", "-1"}); err == nil {
		t.Fatal("expected error for negative concurrency")
	}
}

func TestParseClientArgs(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		args  []string
		check func(t *testing.T, a *ClientArgs)
	}{
		{"submit", []string{"-user", "u1", "-priority", "2", "submit", "https://example.com"}, func(t *testing.T, a *ClientArgs) {
			if a.Command != CmdSubmit || a.URL != "https://example.com" || a.UserID != "u1" || a.Priority != 2 {
				t.Fatalf("unexpected: %+v", a)
			}
		}},
		{"diff", []string{"diff", "base-id", "head-id"}, func(t *testing.T, a *ClientArgs) {
			if a.BaseID != "base-id" || a.ScanID != "head-id" {
				t.Fatalf("unexpected: %+v", a)
			}
		}},
		{"list with status", []string{"-status", "failed", "-limit", "5", "list"}, func(t *testing.T, a *ClientArgs) {
			if a.Status != model.StatusFailed || a.Limit != 5 || a.Page != 1 {
				t.Fatalf("unexpected: %+v", a)
			}
		}},
		{"watch verbose", []string{"-v", "-state", "/tmp/s.json", "-no-wait", "watch"}, func(t *testing.T, a *ClientArgs) {
			if a.Command != CmdWatch || !a.Verbose || !a.NoWait || a.StateFile != "/tmp/s.json" {
				t.Fatalf("unexpected: %+v", a)
			}
		}},
		{"report pdf", []string{"-format", "pdf", "-o", "out.pdf", "report", "s1"}, func(t *testing.T, a *ClientArgs) {
			if a.Format != report.FormatPDF || a.Output != "out.pdf" || a.ScanID != "s1" {
				t.Fatalf("unexpected: %+v", a)
			}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			a, err := ParseClientArgs(tc.args)
			if err != nil {
				t.Fatalf("ParseClientArgs: %v", err)
			}
			tc.check(t, a)
		})
	}
}

func TestParseClientArgs_Errors(t *testing.T) {
	t.Parallel()
	bad := [][]string{
		{},
		{"explode"},
		{"submit"},
		{"diff", "only-one"},
		{"-status", "done", "list"},
		{"-format", "docx", "report", "s1"},
	}
	for _, args := range bad {
		if _, err := ParseClientArgs(args); err == nil {
			t.Errorf("ParseClientArgs(%q): expected error", args)
		}
	}
}

func TestProgressBar_Clamps(t *testing.T) {
	t.Parallel()
	if got := ProgressBar(150, 10); !strings.HasSuffix(got, "100%") {
		t.Fatalf("ProgressBar(150) = %q", got)
	}
	if got := ProgressBar(-5, 10); !strings.HasSuffix(got, "  0%") {
		t.Fatalf("ProgressBar(-5) = %q", got)
	}
}

func TestRenderScan(t *testing.T) {
	t.Parallel()
	score := 92
	sc := &model.Scan{
		ID: "abc", URL: "https://example.com/", UserID: "u1", Status: model.StatusCompleted,
		Score: &score, PassedCount: 27, TotalRules: 30,
		Counts: model.SeverityCounts{Critical: 1, Serious: 2},
		Results: &model.AuditReport{Findings: []model.Finding{
			{RuleID: "image-alt", Severity: model.SeverityCritical, Targets: []string{"img"}},
		}},
	}
	out := RenderScan(sc)
	for _, want := range []string{"https://example.com/", "92/100", "27 passed of 30", "1 critical", "image-alt"} {
		if !strings.Contains(out, want) {
			t.Errorf("RenderScan missing %q in:\n%s", want, out)
		}
	}
}

func TestRenderUpdate(t *testing.T) {
	t.Parallel()
	out := RenderUpdate(poller.Update{ScanID: "0123456789", State: poller.StateTimeout, Progress: 94, Message: "Timed out"})
	for _, want := range []string{"01234567", "TIMEOUT", "94%", "Timed out"} {
		if !strings.Contains(out, want) {
			t.Errorf("RenderUpdate missing %q in %q", want, out)
		}
	}
}
