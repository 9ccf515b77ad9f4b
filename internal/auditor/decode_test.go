package auditor

import (
	"errors"
	"testing"

	"github.com/raysh454/lumen/internal/model"
)

const axeSample = `{
  "violations": [
    {"id": "image-alt", "impact": "critical", "description": "Images need alt", "help": "Add alt",
     "helpUrl": "https://example.test/image-alt", "tags": ["wcag2a"],
     "nodes": [{"target": ["img.hero"], "impact": "critical"}, {"target": [["my-el", "img"]], "impact": "critical"}]},
    {"id": "region", "impact": null, "description": "Content in landmarks",
     "nodes": [{"target": ["div.x"], "impact": "moderate"}]},
    {"id": "bp-rule", "impact": null, "nodes": [{"target": ["p"], "impact": null}]}
  ],
  "passes": [{"id": "html-has-lang"}, {"id": "document-title"}, {"id": "label"}],
  "incomplete": [],
  "inapplicable": [{"id": "video-caption"}]
}`

func TestDecodeAxe(t *testing.T) {
	t.Parallel()
	r, err := decodeAxe([]byte(axeSample), "https://example.com")
	if err != nil {
		t.Fatalf("decodeAxe failed: %v", err)
	}
	if r.PassedCount != 3 {
		t.Fatalf("expected 3 passes, got %d", r.PassedCount)
	}
	if len(r.Findings) != 3 {
		t.Fatalf("expected 3 findings, got %d", len(r.Findings))
	}

	img := r.Findings[0]
	if img.Severity != model.SeverityCritical || img.HelpURL == "" {
		t.Fatalf("unexpected image-alt finding: %+v", img)
	}
	if len(img.Targets) != 2 || img.Targets[1] != "my-el >>> img" {
		t.Fatalf("unexpected targets: %v", img.Targets)
	}
	if r.Findings[1].Severity != model.SeverityModerate {
		t.Fatalf("null impact should fall back to node impact, got %s", r.Findings[1].Severity)
	}
	if r.Findings[2].Severity != model.SeverityMinor {
		t.Fatalf("null impact everywhere should be minor, got %s", r.Findings[2].Severity)
	}
}

func TestDecodeAxe_Malformed(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"empty":          ``,
		"null":           `null`,
		"not json":       `<html>`,
		"missing passes": `{"violations": []}`,
		"bad impact":     `{"violations": [{"id": "x", "impact": "catastrophic", "nodes": []}], "passes": []}`,
		"no rule id":     `{"violations": [{"impact": "minor"}], "passes": []}`,
	}
	for name, raw := range tests {
		_, err := decodeAxe([]byte(raw), "https://example.com")
		if !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: expected ErrMalformed, got %v", name, err)
		}
	}
}

func TestDecodeAxe_NoViolations(t *testing.T) {
	t.Parallel()
	r, err := decodeAxe([]byte(`{"violations": [], "passes": [{"id":"a"}]}`), "u")
	if err != nil {
		t.Fatalf("decodeAxe failed: %v", err)
	}
	if len(r.Findings) != 0 || r.PassedCount != 1 {
		t.Fatalf("unexpected report: %+v", r)
	}
}
