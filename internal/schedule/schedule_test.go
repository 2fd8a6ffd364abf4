package schedule

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{expr: "0 7 * * 1"},
		{expr: " 0 9 * * 1-5 "},
		{expr: "*/15 * * * *"},
		{expr: "", wantErr: true},
		{expr: "0 7 * *", wantErr: true},
		{expr: "0 0 7 * * 1", wantErr: true},
		{expr: "61 * * * *", wantErr: true},
	}
	for _, tt := range tests {
		_, err := Parse(tt.expr)
		if (err != nil) != tt.wantErr {
			t.Fatalf("Parse(%q) err = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
	}
}

func TestNextUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	s, err := New("0 7 * * 1", loc, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// Wednesday 2026-10-14 12:00 in loc.
	from := time.Date(2026, 10, 14, 12, 0, 0, 0, loc)
	got := s.Next(from)
	want := time.Date(2026, 10, 19, 7, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("Next = %s, want %s", got, want)
	}

	// Expressed in UTC, the activation is still 07:00 local.
	got = s.Next(from.UTC())
	if !got.Equal(want) {
		t.Fatalf("Next(UTC input) = %s, want %s", got, want)
	}
}

func TestRunInvokesJobUntilCancelled(t *testing.T) {
	s, err := New("*/5 * * * *", time.UTC, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	var waits []time.Duration
	s.now = func() time.Time { return time.Date(2026, 10, 19, 8, 2, 0, 0, time.UTC) }
	s.after = func(d time.Duration) <-chan time.Time {
		waits = append(waits, d)
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	calls := 0
	job := func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		if calls == 3 {
			cancel()
		}
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, job) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
	if calls != 3 {
		t.Fatalf("job calls = %d, want 3", calls)
	}
	if len(waits) == 0 || waits[0] != 3*time.Minute {
		t.Fatalf("first wait = %v, want 3m", waits)
	}
}

func TestRunStopsWhenAlreadyCancelled(t *testing.T) {
	s, err := New("0 7 * * 1", time.UTC, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.after = func(time.Duration) <-chan time.Time { return make(chan time.Time) }

	if err := s.Run(ctx, func(context.Context) error {
		t.Fatal("job must not run")
		return nil
	}); err != nil {
		t.Fatalf("Run returned %v", err)
	}
}
