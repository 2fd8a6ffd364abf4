package aggregate

import (
	"fmt"
	"strings"

	"opsdiag/internal/domain"
)

// LeverageSummary turns metrics into short automation recommendations.
func LeverageSummary(m DiagnosticMetrics) []string {
	if m.TotalVolume == 0 {
		return []string{"No inbound data in selected window; unable to estimate automation leverage."}
	}

	var summary []string

	repetitive := m.NaturePercentages[domain.Repetitive]
	if repetitive >= 50 {
		summary = append(summary, fmt.Sprintf("%.1f%% of inbound work appears repetitive and is a candidate for templated AI assistance.", repetitive))
	} else {
		summary = append(summary, fmt.Sprintf("Repetitive work is %.1f%%; prioritize exception triage before broad automation.", repetitive))
	}

	ranked := m.RankedCategories()
	if len(ranked) > 2 {
		ranked = ranked[:2]
	}
	if len(ranked) > 0 {
		parts := make([]string, 0, len(ranked))
		for _, r := range ranked {
			parts = append(parts, fmt.Sprintf("%s (%d)", r.Category, r.Count))
		}
		summary = append(summary, fmt.Sprintf("Highest-load categories: %s. Start pilot scope here.", strings.Join(parts, ", ")))
	}

	if sla := m.RiskPercentages[domain.SLASensitive]; sla > 0 {
		summary = append(summary, fmt.Sprintf("SLA-sensitive traffic is %.1f%%; keep human-in-the-loop controls for these flows.", sla))
	} else {
		summary = append(summary, "No SLA-sensitive cluster detected in this sample window.")
	}

	weekly := m.EstimatedHoursPerWeek
	if weekly >= 10 {
		summary = append(summary, fmt.Sprintf("Estimated operational load is %.1f hours/week, indicating meaningful automation ROI potential.", weekly))
	} else {
		summary = append(summary, fmt.Sprintf("Estimated load is %.1f hours/week; use this as a baseline before committing to heavier automation.", weekly))
	}

	return summary
}
