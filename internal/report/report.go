// Package report renders diagnostic metrics as static Markdown and HTML
// documents and writes them, with a JSON summary, to the output directory.
package report

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"opsdiag/internal/aggregate"
	"opsdiag/internal/domain"
)

const reportTitle = "Operations Load Diagnostic Report"

// Baseline is the previously stored run a report is compared against.
type Baseline struct {
	RunID        int64
	GeneratedAt  time.Time
	TotalVolume  int
	HoursPerWeek float64
}

// Input is everything a renderer needs. Numbers come pre-rounded in Metrics.
type Input struct {
	Metrics     aggregate.DiagnosticMetrics
	Leverage    []string
	Assumptions []Assumption
	Generated   time.Time
	Previous    *Baseline
}

var (
	categoryHeader = table.Row{"Work Category", "Volume", "% of Inbound", "Estimated Minutes"}
	natureHeader   = table.Row{"Work Nature", "Volume", "% of Inbound"}
	slaHeader      = table.Row{"Category", "SLA-sensitive Volume", "Share of SLA-sensitive"}
)

func pct(v float64) string {
	return fmt.Sprintf("%.1f%%", v)
}

func categoryRows(m aggregate.DiagnosticMetrics) []table.Row {
	var rows []table.Row
	for _, r := range m.RankedCategories() {
		rows = append(rows, table.Row{r.Category.String(), r.Count, pct(m.CategoryPercentages[r.Category]), m.EstimatedMinutesByCategory[r.Category]})
	}
	return rows
}

func natureRows(m aggregate.DiagnosticMetrics) []table.Row {
	var rows []table.Row
	for _, n := range domain.Natures() {
		count, ok := m.NatureCounts[n]
		if !ok {
			continue
		}
		rows = append(rows, table.Row{n.String(), count, pct(m.NaturePercentages[n])})
	}
	return rows
}

func slaRows(m aggregate.DiagnosticMetrics) []table.Row {
	var rows []table.Row
	for _, c := range m.SLAClusters {
		rows = append(rows, table.Row{c.Category.String(), c.Count, pct(c.ShareOfSLA)})
	}
	return rows
}

func newTable(header table.Row, rows []table.Row) table.Writer {
	w := table.NewWriter()
	w.AppendHeader(header)
	w.AppendRows(rows)
	return w
}

func markdownTable(header table.Row, rows []table.Row) string {
	if len(rows) == 0 {
		return "_No data_"
	}
	return newTable(header, rows).RenderMarkdown()
}

func htmlTable(header table.Row, rows []table.Row) string {
	if len(rows) == 0 {
		return `<p class="empty">No data</p>`
	}
	return newTable(header, rows).RenderHTML()
}

// changeLine describes movement against the previous run, or "" without one.
func changeLine(in Input) string {
	if in.Previous == nil {
		return ""
	}
	p := in.Previous
	return fmt.Sprintf("Change vs previous run #%d (%s): %+.1f hours/week, %+d items",
		p.RunID,
		p.GeneratedAt.Format("2006-01-02 15:04"),
		in.Metrics.EstimatedHoursPerWeek-p.HoursPerWeek,
		in.Metrics.TotalVolume-p.TotalVolume,
	)
}

func RenderMarkdown(in Input) string {
	m := in.Metrics
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", reportTitle)
	fmt.Fprintf(&b, "Generated: %s\n\n", in.Generated.Format("2006-01-02 15:04"))

	b.WriteString("## 1. Inbound Volume Snapshot\n")
	fmt.Fprintf(&b, "- Total inbound items analyzed: **%d**\n", m.TotalVolume)
	fmt.Fprintf(&b, "- Observation window: **%d day(s)**\n\n", m.PeriodDays)

	b.WriteString("## 2. Work Category Breakdown\n")
	b.WriteString(markdownTable(categoryHeader, categoryRows(m)))
	b.WriteString("\n\n")

	b.WriteString("## 3. Repetitive vs Exception Work\n")
	b.WriteString(markdownTable(natureHeader, natureRows(m)))
	b.WriteString("\n\n")

	b.WriteString("## 4. Estimated Operational Load (hours/week)\n")
	fmt.Fprintf(&b, "- Estimated total handling time in sample window: **%d minutes**\n", m.EstimatedTotalMinutes)
	fmt.Fprintf(&b, "- Estimated weekly operational load: **%.1f hours/week**\n", m.EstimatedHoursPerWeek)
	if line := changeLine(in); line != "" {
		fmt.Fprintf(&b, "- %s\n", line)
	}
	b.WriteString("\n### SLA-sensitive Work Clusters\n")
	b.WriteString(markdownTable(slaHeader, slaRows(m)))
	b.WriteString("\n\n")

	b.WriteString("## 5. Automation Leverage Summary\n")
	if len(in.Leverage) == 0 {
		b.WriteString("- _No summary generated_\n")
	}
	for _, line := range in.Leverage {
		fmt.Fprintf(&b, "- %s\n", line)
	}
	b.WriteString("\n")

	b.WriteString("## Conservative Assumptions Used\n")
	for _, a := range in.Assumptions {
		fmt.Fprintf(&b, "- **%s**: %s\n", a.Key, a.Value)
	}
	return b.String()
}

const htmlStyle = `  <style>
    body { font-family: "Segoe UI", Tahoma, sans-serif; margin: 32px; color: #111; line-height: 1.45; }
    h1, h2, h3 { margin-top: 24px; }
    table { width: 100%; border-collapse: collapse; margin: 12px 0 18px 0; }
    th, td { border: 1px solid #d4d4d4; padding: 8px; text-align: left; }
    th { background: #f5f5f5; }
    .kpi { background: #f9fafb; border: 1px solid #e5e7eb; padding: 12px; margin: 8px 0; }
    .empty { color: #6b7280; font-style: italic; }
  </style>
`

func RenderHTML(in Input) string {
	m := in.Metrics
	esc := html.EscapeString
	var b strings.Builder

	b.WriteString("<!doctype html>\n<html lang=\"en\">\n<head>\n")
	b.WriteString("  <meta charset=\"utf-8\" />\n")
	b.WriteString("  <meta name=\"viewport\" content=\"width=device-width, initial-scale=1\" />\n")
	fmt.Fprintf(&b, "  <title>%s</title>\n", reportTitle)
	b.WriteString(htmlStyle)
	b.WriteString("</head>\n<body>\n")
	fmt.Fprintf(&b, "  <h1>%s</h1>\n", reportTitle)
	fmt.Fprintf(&b, "  <p>Generated: %s</p>\n\n", in.Generated.Format("2006-01-02 15:04"))

	b.WriteString("  <h2>1. Inbound Volume Snapshot</h2>\n")
	fmt.Fprintf(&b, "  <div class=\"kpi\">Total inbound items analyzed: <strong>%d</strong></div>\n", m.TotalVolume)
	fmt.Fprintf(&b, "  <div class=\"kpi\">Observation window: <strong>%d day(s)</strong></div>\n\n", m.PeriodDays)

	b.WriteString("  <h2>2. Work Category Breakdown</h2>\n")
	b.WriteString(htmlTable(categoryHeader, categoryRows(m)))
	b.WriteString("\n\n  <h2>3. Repetitive vs Exception Work</h2>\n")
	b.WriteString(htmlTable(natureHeader, natureRows(m)))

	b.WriteString("\n\n  <h2>4. Estimated Operational Load (hours/week)</h2>\n")
	fmt.Fprintf(&b, "  <div class=\"kpi\">Sample handling time: <strong>%d minutes</strong></div>\n", m.EstimatedTotalMinutes)
	fmt.Fprintf(&b, "  <div class=\"kpi\">Estimated weekly load: <strong>%.1f hours/week</strong></div>\n", m.EstimatedHoursPerWeek)
	if line := changeLine(in); line != "" {
		fmt.Fprintf(&b, "  <div class=\"kpi\">%s</div>\n", esc(line))
	}
	b.WriteString("\n  <h3>SLA-sensitive Work Clusters</h3>\n")
	b.WriteString(htmlTable(slaHeader, slaRows(m)))

	b.WriteString("\n\n  <h2>5. Automation Leverage Summary</h2>\n  <ul>")
	if len(in.Leverage) == 0 {
		b.WriteString("<li>No summary generated</li>")
	}
	for _, line := range in.Leverage {
		fmt.Fprintf(&b, "<li>%s</li>", esc(line))
	}
	b.WriteString("</ul>\n\n")

	b.WriteString("  <h2>Conservative Assumptions Used</h2>\n  <ul>")
	for _, a := range in.Assumptions {
		fmt.Fprintf(&b, "<li><strong>%s</strong>: %s</li>", esc(a.Key), esc(a.Value))
	}
	b.WriteString("</ul>\n</body>\n</html>\n")
	return b.String()
}
