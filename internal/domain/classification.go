package domain

import "time"

// InboundItem is one raw message produced by an ingestion adapter.
type InboundItem struct {
	ID        string
	Timestamp *time.Time // nil when the source had no parseable timestamp
	Sender    string     // empty when unknown
	Subject   string
	Body      string
	Source    string // "csv", "text", "imap", "feed"
}

// Text joins subject and body the way classifiers read them.
func (i InboundItem) Text() string {
	return i.Subject + "\n" + i.Body
}

// Classification is the category, nature and risk assigned to one item.
type Classification struct {
	Category   WorkCategory `json:"category"`
	Nature     WorkNature   `json:"nature"`
	Risk       RiskFlag     `json:"risk"`
	Confidence float64      `json:"confidence"`
	Reasons    []string     `json:"reasons"`
}

// ClassifiedItem pairs an inbound item with its classification.
type ClassifiedItem struct {
	Item           InboundItem
	Classification Classification
}
