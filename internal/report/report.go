// Package report renders completed scans as Markdown or PDF and compares two
// scans of the same page.
package report

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/raysh454/lumen/internal/model"
)

// Format is a report output format.
type Format string

const (
	FormatMarkdown Format = "md"
	FormatPDF      Format = "pdf"
	FormatJSON     Format = "json"
)

var (
	// ErrNotCompleted is returned for scans that have no results yet.
	ErrNotCompleted = errors.New("report: scan is not completed")

	// ErrUnknownFormat is returned by ParseFormat.
	ErrUnknownFormat = errors.New("report: unknown format")
)

// ParseFormat accepts md, markdown, pdf and json.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "md", "markdown":
		return FormatMarkdown, nil
	case "pdf":
		return FormatPDF, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// ContentType is the MIME type of f.
func (f Format) ContentType() string {
	switch f {
	case FormatPDF:
		return "application/pdf"
	case FormatJSON:
		return "application/json"
	default:
		return "text/markdown; charset=utf-8"
	}
}

var severityOrder = []model.Severity{
	model.SeverityCritical, model.SeveritySerious, model.SeverityModerate, model.SeverityMinor,
}

// title upper-cases the first letter. A Caser is stateful, so each call
// gets its own.
func title(s string) string {
	return cases.Title(language.English).String(s)
}

// sortedFindings returns the findings worst first, then by rule id.
func sortedFindings(fs []model.Finding) []model.Finding {
	out := append([]model.Finding(nil), fs...)
	sort.SliceStable(out, func(i, j int) bool {
		wi, wj := out[i].Severity.Weight(), out[j].Severity.Weight()
		if wi != wj {
			return wi > wj
		}
		return out[i].RuleID < out[j].RuleID
	})
	return out
}

func ready(sc *model.Scan) error {
	if sc == nil || sc.Status != model.StatusCompleted || sc.Results == nil || sc.Score == nil {
		return ErrNotCompleted
	}
	return nil
}

func countOf(c model.SeverityCounts, sev model.Severity) int {
	switch sev {
	case model.SeverityCritical:
		return c.Critical
	case model.SeveritySerious:
		return c.Serious
	case model.SeverityModerate:
		return c.Moderate
	default:
		return c.Minor
	}
}

// Markdown renders a completed scan.
func Markdown(sc *model.Scan) ([]byte, error) {
	if err := ready(sc); err != nil {
		return nil, err
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "# Accessibility report: %s\n\n", sc.URL)
	fmt.Fprintf(&b, "- Scan: `%s`\n", sc.ID)
	if sc.CompletedAt != nil {
		fmt.Fprintf(&b, "- Completed: %s\n", sc.CompletedAt.UTC().Format("2006-01-02 15:04 MST"))
	}
	fmt.Fprintf(&b, "- Compliance score: **%d/100**\n", *sc.Score)
	fmt.Fprintf(&b, "- Rules passed: %d of %d\n\n", sc.PassedCount, sc.TotalRules)

	b.WriteString("| Severity | Violations |\n|---|---|\n")
	for _, sev := range severityOrder {
		fmt.Fprintf(&b, "| %s | %d |\n", title(string(sev)), countOf(sc.Counts, sev))
	}
	b.WriteString("\n")

	findings := sortedFindings(sc.Results.Findings)
	if len(findings) == 0 {
		b.WriteString("No violations found.\n")
		return b.Bytes(), nil
	}
	b.WriteString("## Violations\n")
	for _, f := range findings {
		fmt.Fprintf(&b, "\n### %s (%s)\n\n", f.RuleID, title(string(f.Severity)))
		if f.Help != "" {
			fmt.Fprintf(&b, "%s\n\n", f.Help)
		}
		if f.Message != "" && f.Message != f.Help {
			fmt.Fprintf(&b, "%s\n\n", f.Message)
		}
		for _, t := range f.Targets {
			fmt.Fprintf(&b, "- `%s`\n", strings.ReplaceAll(t, "`", "'"))
		}
		if f.HelpURL != "" {
			fmt.Fprintf(&b, "\nMore: %s\n", f.HelpURL)
		}
	}
	return b.Bytes(), nil
}
