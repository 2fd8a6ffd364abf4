// Package ingest turns external inputs (CSV exports, text batches, IMAP
// mailboxes, RSS/Atom feeds) into domain.InboundItem values.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"opsdiag/internal/domain"
)

// ErrInputRequired is returned when a file-based mode has no input path.
var ErrInputRequired = errors.New("input path is required")

const (
	ModeCSV  = "csv"
	ModeText = "text"
	ModeIMAP = "imap"
	ModeFeed = "feed"
)

type Source interface {
	Fetch(ctx context.Context) ([]domain.InboundItem, error)
}

// Options carries everything any source may need; each mode reads its own fields.
type Options struct {
	Input        string
	LookbackDays int
	MaxItems     int
	Location     *time.Location

	IMAP IMAPOptions

	FeedURL    string
	HTTPClient *http.Client
}

// New returns the source for an ingestion mode.
func New(mode string, opts Options) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case ModeCSV:
		if opts.Input == "" {
			return nil, fmt.Errorf("csv mode: %w", ErrInputRequired)
		}
		return &CSVSource{Path: opts.Input, Location: opts.Location}, nil
	case ModeText:
		if opts.Input == "" {
			return nil, fmt.Errorf("text mode: %w", ErrInputRequired)
		}
		return &TextSource{Path: opts.Input, Location: opts.Location}, nil
	case ModeIMAP:
		imapOpts := opts.IMAP
		if imapOpts.LookbackDays == 0 {
			imapOpts.LookbackDays = opts.LookbackDays
		}
		if imapOpts.MaxItems == 0 {
			imapOpts.MaxItems = opts.MaxItems
		}
		return NewIMAPSource(imapOpts)
	case ModeFeed:
		if opts.FeedURL == "" {
			return nil, errors.New("feed mode: feed url is required")
		}
		return &FeedSource{URL: opts.FeedURL, Client: opts.HTTPClient}, nil
	default:
		return nil, fmt.Errorf("unknown ingestion mode %q", mode)
	}
}

// Layouts carrying their own offset; tried before the naive ones.
var offsetLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04Z07:00",
}

// Naive layouts are interpreted in the caller's location.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
	"1/2/2006 15:04",
	"1/2/2006",
}

// ParseTimestamp parses the timestamp formats seen in operational exports.
// It returns nil for blank or unrecognized values.
func ParseTimestamp(value string, loc *time.Location) *time.Time {
	s := strings.TrimSpace(value)
	if s == "" {
		return nil
	}
	if loc == nil {
		loc = time.Local
	}
	if strings.HasSuffix(s, "Z") {
		s = strings.TrimSuffix(s, "Z")
		loc = time.UTC
	}

	for _, layout := range offsetLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return &t
		}
	}
	return nil
}

// LimitItems drops items older than the lookback window, orders the rest
// newest first (undated items count as now) and caps the result.
func LimitItems(items []domain.InboundItem, lookbackDays, maxItems int, now time.Time) []domain.InboundItem {
	threshold := now.Add(-time.Duration(lookbackDays) * 24 * time.Hour)

	filtered := make([]domain.InboundItem, 0, len(items))
	for _, it := range items {
		if it.Timestamp != nil && it.Timestamp.Before(threshold) {
			continue
		}
		filtered = append(filtered, it)
	}

	sortNewestFirst(filtered, now)
	if maxItems >= 0 && len(filtered) > maxItems {
		filtered = filtered[:maxItems]
	}
	return filtered
}

func sortNewestFirst(items []domain.InboundItem, now time.Time) {
	key := func(it domain.InboundItem) time.Time {
		if it.Timestamp == nil {
			return now
		}
		return *it.Timestamp
	}
	sort.SliceStable(items, func(i, j int) bool {
		return key(items[i]).After(key(items[j]))
	})
}
