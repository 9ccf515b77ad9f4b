package model

import (
	"fmt"
	"strings"
)

// Severity is the impact bucket of a Finding.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeveritySerious  Severity = "serious"
	SeverityCritical Severity = "critical"
)

// Weight is the penalty a finding of this severity contributes to the score.
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeveritySerious:
		return 3
	case SeverityModerate:
		return 2
	case SeverityMinor:
		return 1
	default:
		return 0
	}
}

// Valid reports whether s is one of the four buckets.
func (s Severity) Valid() bool { return s.Weight() > 0 }

// ParseSeverity accepts the four buckets case-insensitively.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if !sev.Valid() {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

// Finding is one rule violation reported by an audit.
type Finding struct {
	RuleID   string   `json:"ruleId"`
	Severity Severity `json:"severity"`

	// Targets are selectors of the offending elements.
	Targets []string `json:"targets"`

	Message string   `json:"message"`
	Help    string   `json:"help,omitempty"`
	HelpURL string   `json:"helpUrl,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// AuditReport is the raw output of an audit run.
type AuditReport struct {
	URL         string    `json:"url"`
	Findings    []Finding `json:"findings"`
	PassedCount int       `json:"passedCount"`
	DurationMS  int64     `json:"durationMs"`

	// Engine names the runner that produced the report (chrome, static).
	Engine string `json:"engine,omitempty"`

	// Artifacts lists object keys stored alongside the report.
	Artifacts []string `json:"artifacts,omitempty"`

	// Screenshot is a PNG of the audited viewport. It is uploaded to the
	// artifact store and never persisted with the scan row.
	Screenshot []byte `json:"-"`
}
