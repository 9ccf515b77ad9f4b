package report

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/raysh454/lumen/internal/model"
)

var severityColor = map[model.Severity][3]int{
	model.SeverityCritical: {185, 28, 28},
	model.SeveritySerious:  {234, 88, 12},
	model.SeverityModerate: {202, 138, 4},
	model.SeverityMinor:    {37, 99, 235},
}

// PDF renders a completed scan as a short printable report.
func PDF(sc *model.Scan) ([]byte, error) {
	if err := ready(sc); err != nil {
		return nil, err
	}
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Accessibility report", true)
	pdf.SetCreator("lumen", true)
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 15)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.SetTextColor(30, 41, 59)
	pdf.CellFormat(0, 10, "Accessibility report", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(80, 80, 80)
	pdf.MultiCell(0, 5, tr(sc.URL), "", "L", false)
	if sc.CompletedAt != nil {
		pdf.CellFormat(0, 5, "Completed "+sc.CompletedAt.UTC().Format("2006-01-02 15:04 MST"), "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 32)
	pdf.SetTextColor(scoreColor(*sc.Score))
	pdf.CellFormat(40, 16, fmt.Sprintf("%d", *sc.Score), "", 0, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(80, 80, 80)
	pdf.CellFormat(0, 16, fmt.Sprintf("compliance score, %d of %d rules passed", sc.PassedCount, sc.TotalRules), "", 1, "L", false, 0, "")
	pdf.Ln(2)

	// severity table
	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(30, 41, 59)
	pdf.SetTextColor(255, 255, 255)
	pdf.CellFormat(50, 8, "Severity", "1", 0, "L", true, 0, "")
	pdf.CellFormat(30, 8, "Violations", "1", 1, "C", true, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	for _, sev := range severityOrder {
		c := severityColor[sev]
		pdf.SetTextColor(c[0], c[1], c[2])
		pdf.CellFormat(50, 7, title(string(sev)), "1", 0, "L", false, 0, "")
		pdf.SetTextColor(60, 60, 60)
		pdf.CellFormat(30, 7, fmt.Sprintf("%d", countOf(sc.Counts, sev)), "1", 1, "C", false, 0, "")
	}
	pdf.Ln(6)

	findings := sortedFindings(sc.Results.Findings)
	pdf.SetFont("Helvetica", "B", 13)
	pdf.SetTextColor(30, 41, 59)
	if len(findings) == 0 {
		pdf.CellFormat(0, 8, "No violations found.", "", 1, "L", false, 0, "")
	} else {
		pdf.CellFormat(0, 8, "Violations", "", 1, "L", false, 0, "")
	}
	for _, f := range findings {
		c := severityColor[f.Severity]
		pdf.SetFont("Helvetica", "B", 10)
		pdf.SetTextColor(c[0], c[1], c[2])
		pdf.CellFormat(0, 6, tr(fmt.Sprintf("%s (%s)", f.RuleID, f.Severity)), "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 9)
		pdf.SetTextColor(60, 60, 60)
		if f.Help != "" {
			pdf.MultiCell(0, 5, tr(f.Help), "", "L", false)
		}
		targets := f.Targets
		if len(targets) > 10 {
			targets = append(targets[:10:10], fmt.Sprintf("... %d more", len(f.Targets)-10))
		}
		if len(targets) > 0 {
			pdf.SetFont("Courier", "", 8)
			pdf.MultiCell(0, 4, tr(strings.Join(targets, "\n")), "", "L", false)
		}
		pdf.Ln(3)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("report: render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func scoreColor(score int) (int, int, int) {
	switch {
	case score >= 90:
		return 22, 163, 74
	case score >= 70:
		return 202, 138, 4
	default:
		return 185, 28, 28
	}
}
