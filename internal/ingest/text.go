package ingest

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"opsdiag/internal/domain"
)

var (
	blockSeparator = regexp.MustCompile(`(?m)^\s*---\s*$`)
	bodyMarker     = regexp.MustCompile(`(?im)^body\s*:\s*$`)
)

const maxDerivedSubjectRunes = 80

// TextSource reads a plain-text batch: messages separated by lines of "---",
// each with optional "timestamp:", "sender:" and "subject:" lines and a body
// after a "body:" marker line.
type TextSource struct {
	Path     string
	Location *time.Location
}

func (s *TextSource) Fetch(_ context.Context) ([]domain.InboundItem, error) {
	if s.Path == "" {
		return nil, ErrInputRequired
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read text batch: %w", err)
	}
	return parseTextBatch(string(data), s.Location), nil
}

func parseTextBatch(text string, loc *time.Location) []domain.InboundItem {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var items []domain.InboundItem
	idx := 0
	for _, raw := range blockSeparator.Split(text, -1) {
		block := strings.TrimSpace(raw)
		if block == "" {
			continue
		}
		idx++

		ts, _ := prefixedLine(block, "timestamp")
		sender, _ := prefixedLine(block, "sender")
		subject, _ := prefixedLine(block, "subject")

		body := block
		if m := bodyMarker.FindStringIndex(block); m != nil {
			body = strings.TrimSpace(block[m[1]:])
		}

		if subject == "" {
			subject = derivedSubject(body)
		}

		items = append(items, domain.InboundItem{
			ID:        fmt.Sprintf("text-%d", idx),
			Timestamp: ParseTimestamp(ts, loc),
			Sender:    sender,
			Subject:   subject,
			Body:      body,
			Source:    ModeText,
		})
	}
	return items
}

// prefixedLine returns the value after the first colon of the first line that
// starts with prefix, ignoring case.
func prefixedLine(block, prefix string) (string, bool) {
	prefix = strings.ToLower(prefix)
	for _, line := range strings.Split(block, "\n") {
		if !strings.HasPrefix(strings.ToLower(line), prefix) {
			continue
		}
		_, value, ok := strings.Cut(line, ":")
		if !ok {
			return "", false
		}
		return strings.TrimSpace(value), true
	}
	return "", false
}

func derivedSubject(body string) string {
	first, _, _ := strings.Cut(body, "\n")
	runes := []rune(first)
	if len(runes) > maxDerivedSubjectRunes {
		return string(runes[:maxDerivedSubjectRunes]) + "..."
	}
	return first
}
