package classify

import (
	"context"
	"math"
	"strings"

	"opsdiag/internal/domain"
)

// Heuristic scores items against a RuleSet. It is deterministic and never fails.
type Heuristic struct {
	rules RuleSet
}

func NewHeuristic(rules RuleSet) *Heuristic {
	return &Heuristic{rules: rules}
}

func (h *Heuristic) RuleSet() RuleSet {
	return h.rules
}

func (h *Heuristic) Classify(_ context.Context, item domain.InboundItem) (domain.Classification, error) {
	return h.classifyText(strings.ToLower(item.Text())), nil
}

func (h *Heuristic) classifyText(text string) domain.Classification {
	category := domain.Other
	bestScore := 0
	for _, rule := range h.rules.Categories {
		score := 0
		for _, kw := range rule.Keywords {
			if strings.Contains(text, kw) {
				score++
			}
		}
		if score > bestScore {
			category, bestScore = rule.Category, score
		}
	}

	var reasons []string
	if bestScore > 0 {
		reasons = append(reasons, "Matched keywords for "+category.String())
	} else {
		reasons = append(reasons, "No category-specific keyword match; fallback to Other")
	}

	nature := domain.Repetitive
	if category == domain.ExceptionDelay || containsAny(text, h.rules.ExceptionKeywords) {
		nature = domain.ExceptionDriven
	}

	risk := domain.NotSLASensitive
	if containsAny(text, h.rules.SLAKeywords) || (category == domain.ExceptionDelay && strings.Contains(text, "urgent")) {
		risk = domain.SLASensitive
	}

	confidence := 0.5
	if category != domain.Other {
		confidence = math.Min(0.95, 0.55+float64(bestScore)*0.1)
	}
	if nature == domain.ExceptionDriven {
		reasons = append(reasons, "Exception indicators present")
	} else {
		reasons = append(reasons, "Routine request pattern")
	}
	if risk == domain.SLASensitive {
		reasons = append(reasons, "SLA-sensitive language detected")
	}

	return domain.Classification{
		Category:   category,
		Nature:     nature,
		Risk:       risk,
		Confidence: roundTo(confidence, 2),
		Reasons:    reasons,
	}
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.RoundToEven(v*p) / p
}
