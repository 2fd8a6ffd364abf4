package ingest

import (
	"errors"
	"testing"
	"time"

	"opsdiag/internal/domain"
)

func TestParseTimestamp(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	tests := []struct {
		in   string
		want time.Time
	}{
		{in: "2026-02-01T09:30:00Z", want: time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)},
		{in: "2026-02-01T09:30:00.250Z", want: time.Date(2026, 2, 1, 9, 30, 0, 250_000_000, time.UTC)},
		{in: "2026-02-01T09:30:00+02:00", want: time.Date(2026, 2, 1, 7, 30, 0, 0, time.UTC)},
		{in: "2026-02-01T09:30", want: time.Date(2026, 2, 1, 9, 30, 0, 0, loc)},
		{in: " 2026-02-01 09:30:15 ", want: time.Date(2026, 2, 1, 9, 30, 15, 0, loc)},
		{in: "2026-02-01 09:30", want: time.Date(2026, 2, 1, 9, 30, 0, 0, loc)},
		{in: "2026-02-01", want: time.Date(2026, 2, 1, 0, 0, 0, 0, loc)},
		{in: "02/01/2026 09:30", want: time.Date(2026, 2, 1, 9, 30, 0, 0, loc)},
		{in: "2/1/2026", want: time.Date(2026, 2, 1, 0, 0, 0, 0, loc)},
		{in: "2026-02-01 09:30Z", want: time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got := ParseTimestamp(tt.in, loc)
		if got == nil {
			t.Fatalf("ParseTimestamp(%q) returned nil", tt.in)
		}
		if !got.Equal(tt.want) {
			t.Fatalf("ParseTimestamp(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"", "   ", "yesterday", "2026-13-45", "01.02.2026"} {
		if got := ParseTimestamp(bad, loc); got != nil {
			t.Fatalf("ParseTimestamp(%q) = %v, want nil", bad, got)
		}
	}
}

func TestLimitItems(t *testing.T) {
	now := time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)
	ts := func(days int) *time.Time {
		v := now.Add(-time.Duration(days) * 24 * time.Hour)
		return &v
	}
	items := []domain.InboundItem{
		{ID: "old", Timestamp: ts(30)},
		{ID: "three", Timestamp: ts(3)},
		{ID: "undated"},
		{ID: "one", Timestamp: ts(1)},
		{ID: "edge", Timestamp: ts(14)},
		{ID: "ten", Timestamp: ts(10)},
	}

	got := LimitItems(items, 14, 200, now)
	want := []string{"undated", "one", "three", "ten", "edge"}
	if len(got) != len(want) {
		t.Fatalf("expected %d items, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: got %s, want %s", i, got[i].ID, id)
		}
	}

	capped := LimitItems(items, 14, 2, now)
	if len(capped) != 2 || capped[0].ID != "undated" || capped[1].ID != "one" {
		t.Fatalf("unexpected capped items: %+v", capped)
	}

	if got := LimitItems(nil, 14, 200, now); len(got) != 0 {
		t.Fatalf("expected no items, got %d", len(got))
	}
}

func TestNewRequiresInput(t *testing.T) {
	for _, mode := range []string{ModeCSV, ModeText} {
		_, err := New(mode, Options{})
		if !errors.Is(err, ErrInputRequired) {
			t.Fatalf("%s mode without input: expected ErrInputRequired, got %v", mode, err)
		}
	}
	if _, err := New(ModeIMAP, Options{}); err == nil {
		t.Fatalf("expected imap mode without credentials to fail")
	}
	if _, err := New(ModeFeed, Options{}); err == nil {
		t.Fatalf("expected feed mode without url to fail")
	}
	if _, err := New("fax", Options{}); err == nil {
		t.Fatalf("expected unknown mode to fail")
	}

	src, err := New("CSV", Options{Input: "in.csv"})
	if err != nil {
		t.Fatalf("New csv failed: %v", err)
	}
	if _, ok := src.(*CSVSource); !ok {
		t.Fatalf("expected *CSVSource, got %T", src)
	}

	src, err = New(ModeIMAP, Options{
		LookbackDays: 7,
		MaxItems:     50,
		IMAP:         IMAPOptions{Host: "imap.example.com", Username: "ops", Password: "pw"},
	})
	if err != nil {
		t.Fatalf("New imap failed: %v", err)
	}
	is := src.(*IMAPSource)
	if is.opts.Folder != "INBOX" || is.opts.LookbackDays != 7 || is.opts.MaxItems != 50 {
		t.Fatalf("unexpected imap options: %+v", is.opts)
	}
}
