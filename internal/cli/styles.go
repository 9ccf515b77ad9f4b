package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/raysh454/lumen/internal/client"
	"github.com/raysh454/lumen/internal/model"
	"github.com/raysh454/lumen/internal/poller"
	"github.com/raysh454/lumen/internal/queue"
	"github.com/raysh454/lumen/internal/report"
)

var (
	Primary = lipgloss.Color("#7D56F4")
	Muted   = lipgloss.Color("#6B7280")
	Success = lipgloss.Color("#00D26A")
	Warning = lipgloss.Color("#FFB800")
	Danger  = lipgloss.Color("#FF3838")
	Info    = lipgloss.Color("#4D96FF")

	Critical = lipgloss.Color("#FF0000")
	Serious  = lipgloss.Color("#FF6B6B")
	Moderate = lipgloss.Color("#FFD93D")
	Minor    = lipgloss.Color("#6BCB77")
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(Primary).
			Padding(0, 1)

	LabelStyle = lipgloss.NewStyle().
			Foreground(Muted).
			Width(12)

	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA"))

	ProgressFullStyle  = lipgloss.NewStyle().Foreground(Primary)
	ProgressEmptyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#3B3B4F"))

	MutedStyle = lipgloss.NewStyle().Foreground(Muted)
	AddedStyle = lipgloss.NewStyle().Foreground(Danger)
	FixedStyle = lipgloss.NewStyle().Foreground(Success)

	SuccessStyle = lipgloss.NewStyle().Foreground(Success).Bold(true)
	ErrorStyle   = lipgloss.NewStyle().Foreground(Danger).Bold(true)
)

func statusColor(s string) lipgloss.Color {
	switch s {
	case string(model.StatusCompleted):
		return Success
	case string(model.StatusFailed):
		return Danger
	case string(poller.StateTimeout), string(poller.StateRetrying):
		return Warning
	case string(model.StatusProcessing), string(poller.StateScanning):
		return Info
	default:
		return Muted
	}
}

// Badge renders a bold, colored status word.
func Badge(s string) string {
	return lipgloss.NewStyle().Bold(true).Foreground(statusColor(s)).Render(strings.ToUpper(s))
}

func severityStyle(sev model.Severity) lipgloss.Style {
	c := Minor
	switch sev {
	case model.SeverityCritical:
		c = Critical
	case model.SeveritySerious:
		c = Serious
	case model.SeverityModerate:
		c = Moderate
	}
	return lipgloss.NewStyle().Foreground(c).Bold(true)
}

// ProgressBar draws pct (0-100) as a bar of the given width.
func ProgressBar(pct, width int) string {
	if width <= 0 {
		width = 30
	}
	pct = max(0, min(100, pct))
	filled := pct * width / 100
	return ProgressFullStyle.Render(strings.Repeat("█", filled)) +
		ProgressEmptyStyle.Render(strings.Repeat("░", width-filled)) +
		fmt.Sprintf(" %3d%%", pct)
}

func row(label, value string) string {
	return LabelStyle.Render(label) + ValueStyle.Render(value) + "\n"
}

// RenderUpdate is one line of tracking output.
func RenderUpdate(u poller.Update) string {
	return fmt.Sprintf("%s %s %s %s",
		MutedStyle.Render(shortID(u.ScanID)),
		Badge(string(u.State)),
		ProgressBar(u.Progress, 24),
		u.Message)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// RenderScan is the detail view of one scan.
func RenderScan(sc *model.Scan) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Scan "+sc.ID) + "\n")
	b.WriteString(row("URL", sc.URL))
	b.WriteString(row("User", sc.UserID))
	b.WriteString(row("Status", Badge(string(sc.Status))))
	b.WriteString(row("Created", sc.CreatedAt.Format("2006-01-02 15:04:05")))
	if sc.StartedAt != nil {
		b.WriteString(row("Started", sc.StartedAt.Format("2006-01-02 15:04:05")))
	}
	if sc.CompletedAt != nil {
		b.WriteString(row("Completed", sc.CompletedAt.Format("2006-01-02 15:04:05")))
	}
	if sc.ErrorMessage != nil {
		b.WriteString(row("Error", lipgloss.NewStyle().Foreground(Danger).Render(*sc.ErrorMessage)))
	}
	if sc.Score != nil {
		b.WriteString(row("Score", fmt.Sprintf("%d/100", *sc.Score)))
		b.WriteString(row("Rules", fmt.Sprintf("%d passed of %d", sc.PassedCount, sc.TotalRules)))
		b.WriteString(row("Findings", renderCounts(sc.Counts)))
	}
	if sc.Results != nil && len(sc.Results.Findings) > 0 {
		b.WriteString("\n")
		for _, f := range sc.Results.Findings {
			fmt.Fprintf(&b, "  %s %s %s\n",
				severityStyle(f.Severity).Render(fmt.Sprintf("%-8s", f.Severity)),
				f.RuleID,
				MutedStyle.Render(fmt.Sprintf("(%d)", len(f.Targets))))
		}
	}
	return b.String()
}

func renderCounts(c model.SeverityCounts) string {
	return strings.Join([]string{
		severityStyle(model.SeverityCritical).Render(fmt.Sprintf("%d critical", c.Critical)),
		severityStyle(model.SeveritySerious).Render(fmt.Sprintf("%d serious", c.Serious)),
		severityStyle(model.SeverityModerate).Render(fmt.Sprintf("%d moderate", c.Moderate)),
		severityStyle(model.SeverityMinor).Render(fmt.Sprintf("%d minor", c.Minor)),
	}, "  ")
}

// RenderPage lists scans one per line.
func RenderPage(p *client.ScanPage) string {
	var b strings.Builder
	for _, sc := range p.Data {
		score := "-"
		if sc.Score != nil {
			score = fmt.Sprintf("%3d", *sc.Score)
		}
		fmt.Fprintf(&b, "%s  %-12s %4s  %s\n", sc.ID, Badge(string(sc.Status)), score, sc.URL)
	}
	b.WriteString(MutedStyle.Render(fmt.Sprintf("page %d of %d, %d scans", p.Page, max(p.TotalPages, 1), p.Total)) + "\n")
	return b.String()
}

// RenderStats shows counts by status.
func RenderStats(c model.StatusCounts) string {
	var b strings.Builder
	b.WriteString(row("Total", fmt.Sprint(c.Total)))
	b.WriteString(row("Pending", fmt.Sprint(c.Pending)))
	b.WriteString(row("Processing", fmt.Sprint(c.Processing)))
	b.WriteString(row("Completed", fmt.Sprint(c.Completed)))
	b.WriteString(row("Failed", fmt.Sprint(c.Failed)))
	return b.String()
}

func RenderQueue(s queue.Stats) string {
	var b strings.Builder
	b.WriteString(row("Waiting", fmt.Sprint(s.Waiting)))
	b.WriteString(row("Delayed", fmt.Sprint(s.Delayed)))
	b.WriteString(row("Active", fmt.Sprint(s.Active)))
	b.WriteString(row("Completed", fmt.Sprint(s.Completed)))
	b.WriteString(row("Failed", fmt.Sprint(s.Failed)))
	if s.Paused {
		b.WriteString(row("State", Badge("paused")))
	}
	return b.String()
}

// RenderComparison summarizes a diff between two scans.
func RenderComparison(c *report.Comparison) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Compare "+shortID(c.BaseID)+" → "+shortID(c.HeadID)) + "\n")
	b.WriteString(row("URL", c.URL))
	b.WriteString(row("Score", fmt.Sprintf("%d → %d (%+d)", c.BaseScore, c.HeadScore, c.ScoreDelta)))
	for _, id := range c.Fixed {
		b.WriteString(FixedStyle.Render("  fixed      "+id) + "\n")
	}
	for _, id := range c.Introduced {
		b.WriteString(AddedStyle.Render("  introduced "+id) + "\n")
	}
	for _, id := range c.Persisting {
		b.WriteString(MutedStyle.Render("  persisting "+id) + "\n")
	}
	return b.String()
}
