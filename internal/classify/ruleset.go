package classify

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"opsdiag/internal/domain"
)

const defaultRuleSetVersion = "builtin-1"

// CategoryRule lists the phrases that vote for one category.
type CategoryRule struct {
	Category domain.WorkCategory
	Keywords []string
}

// RuleSet is the keyword table driving the heuristic classifier. Categories are
// scored in slice order, and the first category reaching the top score wins a tie.
type RuleSet struct {
	Version           string
	Categories        []CategoryRule
	ExceptionKeywords []string
	SLAKeywords       []string
}

func DefaultRuleSet() RuleSet {
	return RuleSet{
		Version: defaultRuleSetVersion,
		Categories: []CategoryRule{
			{
				Category: domain.ExceptionDelay,
				Keywords: []string{
					"delay", "late", "missed", "issue", "problem", "stuck", "hold", "damaged",
					"shortage", "escalat", "failed delivery", "cancelled", "detention", "demurrage",
				},
			},
			{
				Category: domain.TrackingETA,
				Keywords: []string{
					"eta", "track", "tracking", "status update", "where is", "arrival time",
					"delivery time", "in transit",
				},
			},
			{
				Category: domain.Documentation,
				Keywords: []string{
					"invoice", "pod", "bill of lading", "bol", "awb", "packing list", "customs",
					"document", "paperwork", "declaration", "certificate", "forms",
				},
			},
			{
				Category: domain.RatePricing,
				Keywords: []string{
					"rate", "pricing", "quote", "quotation", "cost", "charge", "tariff", "spot rate",
				},
			},
			{
				Category: domain.InternalCoordination,
				Keywords: []string{
					"please coordinate", "warehouse", "dispatch", "driver", "pickup schedule",
					"handover", "internal", "team", "ops", "arrange pickup",
				},
			},
		},
		ExceptionKeywords: []string{
			"urgent", "escalat", "problem", "failed", "delay", "late", "stuck", "damage", "asap", "critical",
		},
		SLAKeywords: []string{
			"urgent", "asap", "today", "immediately", "deadline", "cutoff", "cut-off", "demurrage",
			"detention", "customer waiting", "sla", "missed",
		},
	}
}

type ruleSetFile struct {
	Version           string             `yaml:"version"`
	Categories        []categoryRuleFile `yaml:"categories"`
	ExceptionKeywords []string           `yaml:"exception_keywords"`
	SLAKeywords       []string           `yaml:"sla_keywords"`
}

type categoryRuleFile struct {
	Category string   `yaml:"category"`
	Keywords []string `yaml:"keywords"`
}

// LoadRuleSet reads a YAML ruleset override.
func LoadRuleSet(path string) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("read ruleset: %w", err)
	}
	return ParseRuleSet(data)
}

func ParseRuleSet(data []byte) (RuleSet, error) {
	var f ruleSetFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return RuleSet{}, fmt.Errorf("parse ruleset yaml: %w", err)
	}
	if len(f.Categories) == 0 {
		return RuleSet{}, fmt.Errorf("ruleset defines no categories")
	}

	rs := RuleSet{
		Version:           strings.TrimSpace(f.Version),
		ExceptionKeywords: normalizePhrases(f.ExceptionKeywords),
		SLAKeywords:       normalizePhrases(f.SLAKeywords),
	}
	seen := make(map[domain.WorkCategory]bool)
	for _, c := range f.Categories {
		category, err := domain.ParseWorkCategory(c.Category)
		if err != nil {
			return RuleSet{}, fmt.Errorf("ruleset: %w", err)
		}
		if category == domain.Other {
			return RuleSet{}, fmt.Errorf("ruleset: %q is the fallback category and takes no keywords", category)
		}
		if seen[category] {
			return RuleSet{}, fmt.Errorf("ruleset: category %q listed twice", category)
		}
		seen[category] = true
		rs.Categories = append(rs.Categories, CategoryRule{
			Category: category,
			Keywords: normalizePhrases(c.Keywords),
		})
	}
	if rs.Version == "" {
		version, err := contentVersion(rs)
		if err != nil {
			return RuleSet{}, err
		}
		rs.Version = version
	}
	return rs, nil
}

// contentVersion names an unversioned ruleset by a digest of its normalized content.
func contentVersion(rs RuleSet) (string, error) {
	rs.Version = ""
	data, err := WriteRuleSet(rs)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return "custom-" + hex.EncodeToString(sum[:])[:12], nil
}

// WriteRuleSet serializes rs in the same YAML shape LoadRuleSet reads.
func WriteRuleSet(rs RuleSet) ([]byte, error) {
	f := ruleSetFile{
		Version:           rs.Version,
		ExceptionKeywords: rs.ExceptionKeywords,
		SLAKeywords:       rs.SLAKeywords,
	}
	for _, c := range rs.Categories {
		f.Categories = append(f.Categories, categoryRuleFile{
			Category: c.Category.String(),
			Keywords: c.Keywords,
		})
	}
	data, err := yaml.Marshal(&f)
	if err != nil {
		return nil, fmt.Errorf("marshal ruleset: %w", err)
	}
	return data, nil
}

func normalizePhrases(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		p = normalizeTextToken(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func normalizeTextToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}
