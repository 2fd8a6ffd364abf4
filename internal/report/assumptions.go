package report

import (
	"fmt"
	"strings"

	"opsdiag/internal/aggregate"
	"opsdiag/internal/domain"
)

type Assumption struct {
	Key   string
	Value string
}

type AssumptionInput struct {
	LookbackDays   int
	MaxItems       int
	Classifier     string
	RulesetVersion string
}

// Assumptions lists the conservative assumptions printed at the end of a report.
func Assumptions(in AssumptionInput) []Assumption {
	minutes := make([]string, 0, len(domain.Categories()))
	for _, cat := range domain.Categories() {
		minutes = append(minutes, fmt.Sprintf("%s: %d", cat, aggregate.ConservativeMinutes[cat]))
	}

	out := []Assumption{
		{Key: "Diagnostic mode", Value: "Read-only, one-time static snapshot; no workflow changes."},
		{Key: "Window cap", Value: fmt.Sprintf("%d day lookback and max %d items.", in.LookbackDays, in.MaxItems)},
		{Key: "Handling time defaults (minutes/category)", Value: strings.Join(minutes, ", ")},
		{Key: "Classifier", Value: in.Classifier},
	}
	if in.RulesetVersion != "" {
		out = append(out, Assumption{Key: "Keyword ruleset", Value: in.RulesetVersion})
	}
	out = append(out, Assumption{Key: "Accuracy expectation", Value: "Directionally correct prioritization, not perfect labeling."})
	return out
}
