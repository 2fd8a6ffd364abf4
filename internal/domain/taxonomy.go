package domain

import (
	"fmt"
	"strings"
)

// WorkCategory is the closed set of work categories an inbound item can fall into.
// Declaration order is the canonical order used for tie-breaks and report layout.
type WorkCategory int

const (
	TrackingETA WorkCategory = iota
	ExceptionDelay
	Documentation
	RatePricing
	InternalCoordination
	Other
)

var categoryNames = [...]string{
	TrackingETA:          "Tracking / ETA",
	ExceptionDelay:       "Exception / Delay",
	Documentation:        "Documentation",
	RatePricing:          "Rate / Pricing",
	InternalCoordination: "Internal Coordination",
	Other:                "Other",
}

// Categories returns every WorkCategory in declaration order.
func Categories() []WorkCategory {
	return []WorkCategory{TrackingETA, ExceptionDelay, Documentation, RatePricing, InternalCoordination, Other}
}

func (c WorkCategory) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return fmt.Sprintf("WorkCategory(%d)", int(c))
	}
	return categoryNames[c]
}

func (c WorkCategory) Valid() bool {
	return c >= 0 && int(c) < len(categoryNames)
}

func (c WorkCategory) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid work category %d", int(c))
	}
	return []byte(c.String()), nil
}

func (c *WorkCategory) UnmarshalText(text []byte) error {
	parsed, err := ParseWorkCategory(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func ParseWorkCategory(s string) (WorkCategory, error) {
	s = strings.TrimSpace(s)
	for i, name := range categoryNames {
		if strings.EqualFold(name, s) {
			return WorkCategory(i), nil
		}
	}
	return 0, fmt.Errorf("unknown work category %q", s)
}

// WorkNature separates routine requests from exception-driven ones.
type WorkNature int

const (
	Repetitive WorkNature = iota
	ExceptionDriven
)

var natureNames = [...]string{
	Repetitive:      "Repetitive",
	ExceptionDriven: "Exception-driven",
}

func Natures() []WorkNature {
	return []WorkNature{Repetitive, ExceptionDriven}
}

func (n WorkNature) String() string {
	if n < 0 || int(n) >= len(natureNames) {
		return fmt.Sprintf("WorkNature(%d)", int(n))
	}
	return natureNames[n]
}

func (n WorkNature) MarshalText() ([]byte, error) {
	if n < 0 || int(n) >= len(natureNames) {
		return nil, fmt.Errorf("invalid work nature %d", int(n))
	}
	return []byte(n.String()), nil
}

func (n *WorkNature) UnmarshalText(text []byte) error {
	parsed, err := ParseWorkNature(string(text))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

func ParseWorkNature(s string) (WorkNature, error) {
	s = strings.TrimSpace(s)
	for i, name := range natureNames {
		if strings.EqualFold(name, s) {
			return WorkNature(i), nil
		}
	}
	return 0, fmt.Errorf("unknown work nature %q", s)
}

// RiskFlag marks whether an item carries deadline or urgency risk.
type RiskFlag int

const (
	SLASensitive RiskFlag = iota
	NotSLASensitive
)

var riskNames = [...]string{
	SLASensitive:    "SLA-sensitive",
	NotSLASensitive: "Not SLA-sensitive",
}

func RiskFlags() []RiskFlag {
	return []RiskFlag{SLASensitive, NotSLASensitive}
}

func (r RiskFlag) String() string {
	if r < 0 || int(r) >= len(riskNames) {
		return fmt.Sprintf("RiskFlag(%d)", int(r))
	}
	return riskNames[r]
}

func (r RiskFlag) MarshalText() ([]byte, error) {
	if r < 0 || int(r) >= len(riskNames) {
		return nil, fmt.Errorf("invalid risk flag %d", int(r))
	}
	return []byte(r.String()), nil
}

func (r *RiskFlag) UnmarshalText(text []byte) error {
	parsed, err := ParseRiskFlag(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func ParseRiskFlag(s string) (RiskFlag, error) {
	s = strings.TrimSpace(s)
	for i, name := range riskNames {
		if strings.EqualFold(name, s) {
			return RiskFlag(i), nil
		}
	}
	return 0, fmt.Errorf("unknown risk flag %q", s)
}
