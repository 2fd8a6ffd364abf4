// Package aggregate reduces classified items into diagnostic metrics and the
// automation leverage summary shown in reports.
package aggregate

import (
	"math"
	"sort"
	"time"

	"opsdiag/internal/domain"
)

// ConservativeMinutes is the assumed handling time per item, by category.
var ConservativeMinutes = map[domain.WorkCategory]int{
	domain.TrackingETA:          4,
	domain.ExceptionDelay:       12,
	domain.Documentation:        7,
	domain.RatePricing:          8,
	domain.InternalCoordination: 6,
	domain.Other:                5,
}

type SLACluster struct {
	Category   domain.WorkCategory `json:"category"`
	Count      int                 `json:"count"`
	ShareOfSLA float64             `json:"share_of_sla"`
}

// DiagnosticMetrics is computed once per run. Every number is already rounded
// for display; renderers must not recompute.
type DiagnosticMetrics struct {
	TotalVolume int `json:"total_volume"`
	PeriodDays  int `json:"period_days"`

	CategoryCounts      map[domain.WorkCategory]int     `json:"category_counts"`
	CategoryPercentages map[domain.WorkCategory]float64 `json:"category_percentages"`
	NatureCounts        map[domain.WorkNature]int       `json:"nature_counts"`
	NaturePercentages   map[domain.WorkNature]float64   `json:"nature_percentages"`
	RiskCounts          map[domain.RiskFlag]int         `json:"risk_counts"`
	RiskPercentages     map[domain.RiskFlag]float64     `json:"risk_percentages"`

	EstimatedMinutesByCategory map[domain.WorkCategory]int `json:"estimated_minutes_by_category"`
	EstimatedTotalMinutes      int                         `json:"estimated_total_minutes"`
	EstimatedHoursPerWeek      float64                     `json:"estimated_hours_per_week"`

	SLAClusters []SLACluster `json:"sla_clusters"`
}

func emptyMetrics(periodDays int) DiagnosticMetrics {
	return DiagnosticMetrics{
		PeriodDays:                 periodDays,
		CategoryCounts:             map[domain.WorkCategory]int{},
		CategoryPercentages:        map[domain.WorkCategory]float64{},
		NatureCounts:               map[domain.WorkNature]int{},
		NaturePercentages:          map[domain.WorkNature]float64{},
		RiskCounts:                 map[domain.RiskFlag]int{},
		RiskPercentages:            map[domain.RiskFlag]float64{},
		EstimatedMinutesByCategory: map[domain.WorkCategory]int{},
		SLAClusters:                []SLACluster{},
	}
}

func Aggregate(items []domain.ClassifiedItem, fallbackPeriodDays int) DiagnosticMetrics {
	total := len(items)
	if total == 0 {
		return emptyMetrics(fallbackPeriodDays)
	}

	m := emptyMetrics(periodDays(items, fallbackPeriodDays))
	m.TotalVolume = total

	slaByCategory := map[domain.WorkCategory]int{}
	slaTotal := 0
	for _, it := range items {
		c := it.Classification
		m.CategoryCounts[c.Category]++
		m.NatureCounts[c.Nature]++
		m.RiskCounts[c.Risk]++
		if c.Risk == domain.SLASensitive {
			slaByCategory[c.Category]++
			slaTotal++
		}
	}

	for cat, n := range m.CategoryCounts {
		m.CategoryPercentages[cat] = safePct(n, total)
		minutes := n * ConservativeMinutes[cat]
		m.EstimatedMinutesByCategory[cat] = minutes
		m.EstimatedTotalMinutes += minutes
	}
	for nature, n := range m.NatureCounts {
		m.NaturePercentages[nature] = safePct(n, total)
	}
	for risk, n := range m.RiskCounts {
		m.RiskPercentages[risk] = safePct(n, total)
	}

	m.EstimatedHoursPerWeek = round1((float64(m.EstimatedTotalMinutes) / 60.0) * (7.0 / float64(m.PeriodDays)))

	for _, cat := range domain.Categories() {
		if n := slaByCategory[cat]; n > 0 {
			m.SLAClusters = append(m.SLAClusters, SLACluster{
				Category:   cat,
				Count:      n,
				ShareOfSLA: safePct(n, slaTotal),
			})
		}
	}
	sort.SliceStable(m.SLAClusters, func(i, j int) bool {
		return m.SLAClusters[i].Count > m.SLAClusters[j].Count
	})

	return m
}

// periodDays spans the earliest to latest timestamp inclusive, at least one day.
func periodDays(items []domain.ClassifiedItem, fallback int) int {
	var minTS, maxTS time.Time
	found := false
	for _, it := range items {
		ts := it.Item.Timestamp
		if ts == nil {
			continue
		}
		if !found || ts.Before(minTS) {
			minTS = *ts
		}
		if !found || ts.After(maxTS) {
			maxTS = *ts
		}
		found = true
	}
	if !found {
		return fallback
	}
	days := int(maxTS.Sub(minTS)/(24*time.Hour)) + 1
	if days < 1 {
		return 1
	}
	return days
}

// CategoryCount is one row of a volume ranking.
type CategoryCount struct {
	Category domain.WorkCategory
	Count    int
}

// RankedCategories lists categories with volume, highest count first and ties in
// declaration order.
func (m DiagnosticMetrics) RankedCategories() []CategoryCount {
	var out []CategoryCount
	for _, cat := range domain.Categories() {
		if n, ok := m.CategoryCounts[cat]; ok {
			out = append(out, CategoryCount{Category: cat, Count: n})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Count > out[j].Count
	})
	return out
}

func safePct(count, total int) float64 {
	if total == 0 {
		return 0
	}
	return round1(float64(count) / float64(total) * 100)
}

func round1(v float64) float64 {
	return math.RoundToEven(v*10) / 10
}
