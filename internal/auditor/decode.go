package auditor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/raysh454/lumen/internal/model"
)

// axeResult is the subset of an axe.run result the scanner keeps.
type axeResult struct {
	Violations []axeRule `json:"violations"`
	Passes     []axeRule `json:"passes"`
}

type axeRule struct {
	ID          string    `json:"id"`
	Impact      *string   `json:"impact"`
	Description string    `json:"description"`
	Help        string    `json:"help"`
	HelpURL     string    `json:"helpUrl"`
	Tags        []string  `json:"tags"`
	Nodes       []axeNode `json:"nodes"`
}

type axeNode struct {
	// Target is a list of selectors; entries inside shadow roots are nested arrays.
	Target []json.RawMessage `json:"target"`
	Impact *string           `json:"impact"`
}

// decodeAxe converts raw axe-core JSON into an AuditReport. Anything that
// cannot be scored yields ErrMalformed.
func decodeAxe(raw []byte, url string) (*model.AuditReport, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("%w: empty result", ErrMalformed)
	}
	var res axeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if res.Violations == nil || res.Passes == nil {
		return nil, fmt.Errorf("%w: missing violations or passes", ErrMalformed)
	}

	report := &model.AuditReport{
		URL:         url,
		Findings:    make([]model.Finding, 0, len(res.Violations)),
		PassedCount: len(res.Passes),
	}
	for _, v := range res.Violations {
		if v.ID == "" {
			return nil, fmt.Errorf("%w: violation without rule id", ErrMalformed)
		}
		sev, err := ruleSeverity(v)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %s: %v", ErrMalformed, v.ID, err)
		}
		targets := make([]string, 0, len(v.Nodes))
		for _, n := range v.Nodes {
			if t := joinTarget(n.Target); t != "" {
				targets = append(targets, t)
			}
		}
		report.Findings = append(report.Findings, model.Finding{
			RuleID:   v.ID,
			Severity: sev,
			Targets:  targets,
			Message:  v.Description,
			Help:     v.Help,
			HelpURL:  v.HelpURL,
			Tags:     v.Tags,
		})
	}
	return report, nil
}

// ruleSeverity uses the rule impact, falling back to the worst node impact.
// axe leaves impact null for some best-practice rules; those count as minor.
func ruleSeverity(v axeRule) (model.Severity, error) {
	if v.Impact != nil && *v.Impact != "" {
		return model.ParseSeverity(*v.Impact)
	}
	worst := model.Severity("")
	for _, n := range v.Nodes {
		if n.Impact == nil || *n.Impact == "" {
			continue
		}
		sev, err := model.ParseSeverity(*n.Impact)
		if err != nil {
			return "", err
		}
		if sev.Weight() > worst.Weight() {
			worst = sev
		}
	}
	if worst == "" {
		return model.SeverityMinor, nil
	}
	return worst, nil
}

func joinTarget(parts []json.RawMessage) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		var s string
		if err := json.Unmarshal(p, &s); err == nil {
			out = append(out, s)
			continue
		}
		var nested []string
		if err := json.Unmarshal(p, &nested); err == nil {
			out = append(out, strings.Join(nested, " >>> "))
		}
	}
	return strings.Join(out, " ")
}
