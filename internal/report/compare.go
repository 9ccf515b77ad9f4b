package report

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/raysh454/lumen/internal/model"
)

// ErrDifferentURL is returned when comparing scans of different pages.
var ErrDifferentURL = errors.New("report: scans target different urls")

// Comparison describes how a page changed between two completed scans.
type Comparison struct {
	BaseID     string `json:"baseId"`
	HeadID     string `json:"headId"`
	URL        string `json:"url"`
	BaseScore  int    `json:"baseScore"`
	HeadScore  int    `json:"headScore"`
	ScoreDelta int    `json:"scoreDelta"`

	CountsDelta model.SeverityCounts `json:"countsDelta"`

	Fixed      []string `json:"fixed"`
	Introduced []string `json:"introduced"`
	Persisting []string `json:"persisting"`

	// Diff is a line diff of the violation listings, "+" for lines only in
	// head and "-" for lines only in base.
	Diff string `json:"diff"`
}

// Compare diffs base against head. Both must be completed scans of the same URL.
func Compare(base, head *model.Scan) (*Comparison, error) {
	if err := ready(base); err != nil {
		return nil, fmt.Errorf("base %w", err)
	}
	if err := ready(head); err != nil {
		return nil, fmt.Errorf("head %w", err)
	}
	if base.URL != head.URL {
		return nil, ErrDifferentURL
	}

	c := &Comparison{
		BaseID:     base.ID,
		HeadID:     head.ID,
		URL:        head.URL,
		BaseScore:  *base.Score,
		HeadScore:  *head.Score,
		ScoreDelta: *head.Score - *base.Score,
		CountsDelta: model.SeverityCounts{
			Critical: head.Counts.Critical - base.Counts.Critical,
			Serious:  head.Counts.Serious - base.Counts.Serious,
			Moderate: head.Counts.Moderate - base.Counts.Moderate,
			Minor:    head.Counts.Minor - base.Counts.Minor,
		},
		Fixed:      []string{},
		Introduced: []string{},
		Persisting: []string{},
	}

	baseRules := ruleSet(base.Results.Findings)
	headRules := ruleSet(head.Results.Findings)
	for id := range baseRules {
		if headRules[id] {
			c.Persisting = append(c.Persisting, id)
		} else {
			c.Fixed = append(c.Fixed, id)
		}
	}
	for id := range headRules {
		if !baseRules[id] {
			c.Introduced = append(c.Introduced, id)
		}
	}
	sort.Strings(c.Fixed)
	sort.Strings(c.Introduced)
	sort.Strings(c.Persisting)

	c.Diff = lineDiff(listing(base.Results.Findings), listing(head.Results.Findings))
	return c, nil
}

func ruleSet(fs []model.Finding) map[string]bool {
	out := make(map[string]bool, len(fs))
	for _, f := range fs {
		out[f.RuleID] = true
	}
	return out
}

// listing renders one line per violating element, sorted so that unrelated
// reordering does not show up in the diff.
func listing(fs []model.Finding) string {
	var lines []string
	for _, f := range fs {
		if len(f.Targets) == 0 {
			lines = append(lines, fmt.Sprintf("%s [%s]", f.RuleID, f.Severity))
			continue
		}
		for _, t := range f.Targets {
			lines = append(lines, fmt.Sprintf("%s [%s] %s", f.RuleID, f.Severity, t))
		}
	}
	sort.Strings(lines)
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

func lineDiff(a, b string) string {
	dmp := diffmatchpatch.New()
	ca, cb, lines := dmp.DiffLinesToChars(a, b)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(ca, cb, false), lines)

	var out strings.Builder
	for _, d := range diffs {
		prefix := "  "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			out.WriteString(prefix)
			out.WriteString(line)
		}
	}
	return out.String()
}
