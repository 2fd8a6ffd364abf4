package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"opsdiag/internal/domain"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVSource reads an export with a header row naming timestamp, sender,
// subject and body columns. Unknown columns are ignored.
type CSVSource struct {
	Path     string
	Location *time.Location
}

func (s *CSVSource) Fetch(_ context.Context) ([]domain.InboundItem, error) {
	if s.Path == "" {
		return nil, ErrInputRequired
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	items, err := parseCSV(bytes.TrimPrefix(data, utf8BOM), s.Location)
	if err != nil {
		return nil, fmt.Errorf("parse csv %s: %w", s.Path, err)
	}
	return items, nil
}

func parseCSV(data []byte, loc *time.Location) ([]domain.InboundItem, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cols := map[string]int{}
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, seen := cols[key]; !seen {
			cols[key] = i
		}
	}
	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var items []domain.InboundItem
	for idx := 1; ; idx++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		items = append(items, domain.InboundItem{
			ID:        fmt.Sprintf("csv-%d", idx),
			Timestamp: ParseTimestamp(field(row, "timestamp"), loc),
			Sender:    field(row, "sender"),
			Subject:   field(row, "subject"),
			Body:      field(row, "body"),
			Source:    ModeCSV,
		})
	}
	return items, nil
}
