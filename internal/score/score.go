// Package score turns audit findings into a 0-100 compliance score.
package score

import (
	"errors"
	"fmt"
	"math"

	"github.com/raysh454/lumen/internal/model"
)

// ErrNegativePassed is returned when an audit reports a negative passed count.
var ErrNegativePassed = errors.New("score: passed count is negative")

// Result is the computed summary embedded into a completed scan.
type Result struct {
	Score       int                  `json:"score"`
	Counts      model.SeverityCounts `json:"counts"`
	PassedCount int                  `json:"passedCount"`
	TotalRules  int                  `json:"totalRules"`
	Weighted    int                  `json:"weighted"`
}

// Compute applies the weighted severity formula:
//
//	weighted    = 4*critical + 3*serious + 2*moderate + 1*minor
//	totalRules  = passed + len(findings)
//	maxPossible = 4 * totalRules
//	score       = round((maxPossible - weighted) / maxPossible * 100)
//
// An audit with no findings and no passes scores 0, not 100.
func Compute(findings []model.Finding, passed int) (Result, error) {
	if passed < 0 {
		return Result{}, ErrNegativePassed
	}
	var res Result
	for i, f := range findings {
		if !f.Severity.Valid() {
			return Result{}, fmt.Errorf("score: finding %d (%s): unknown severity %q", i, f.RuleID, f.Severity)
		}
		res.Counts.Add(f.Severity)
		res.Weighted += f.Severity.Weight()
	}
	res.PassedCount = passed
	res.TotalRules = passed + len(findings)
	if res.TotalRules == 0 {
		return res, nil
	}

	maxPossible := float64(res.TotalRules * 4)
	raw := math.Round((maxPossible - float64(res.Weighted)) / maxPossible * 100)
	res.Score = clamp(int(raw), 0, 100)
	return res, nil
}

// FromReport is Compute over an AuditReport.
func FromReport(r *model.AuditReport) (Result, error) {
	if r == nil {
		return Result{}, errors.New("score: nil report")
	}
	return Compute(r.Findings, r.PassedCount)
}

// Ratio is the plain passed/total percentage. It ignores severity and is kept
// only to compare against the weighted score; Compute is authoritative.
func Ratio(findings int, passed int) int {
	total := findings + passed
	if total <= 0 || passed < 0 {
		return 0
	}
	return clamp(int(math.Round(float64(passed)/float64(total)*100)), 0, 100)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
