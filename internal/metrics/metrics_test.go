package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"opsdiag/internal/aggregate"
	"opsdiag/internal/domain"
)

func TestObserveRun(t *testing.T) {
	r := NewRecorder()
	m := aggregate.Aggregate([]domain.ClassifiedItem{
		{Classification: domain.Classification{Category: domain.ExceptionDelay, Nature: domain.ExceptionDriven, Risk: domain.SLASensitive}},
		{Classification: domain.Classification{Category: domain.TrackingETA, Nature: domain.Repetitive, Risk: domain.NotSLASensitive}},
	}, 7)
	r.ObserveRun(m, 1500*time.Millisecond, time.Unix(1_773_000_000, 0))

	if got := testutil.ToFloat64(r.itemsByCategory.WithLabelValues("Exception / Delay")); got != 1 {
		t.Fatalf("expected 1 exception item, got %v", got)
	}
	if got := testutil.ToFloat64(r.itemsByCategory.WithLabelValues("Documentation")); got != 0 {
		t.Fatalf("expected absent category to read 0, got %v", got)
	}
	if got := testutil.ToFloat64(r.slaSensitiveShare); got != 50 {
		t.Fatalf("expected 50%% sla share, got %v", got)
	}
	if got := testutil.ToFloat64(r.hoursPerWeek); got != 0.3 {
		t.Fatalf("expected 0.3 hours/week, got %v", got)
	}
	if got := testutil.ToFloat64(r.runDuration); got != 1.5 {
		t.Fatalf("expected 1.5s duration, got %v", got)
	}
	if n := testutil.CollectAndCount(r.itemsByCategory); n != len(domain.Categories()) {
		t.Fatalf("expected one series per category, got %d", n)
	}
}

func TestCountersIgnoreNonPositive(t *testing.T) {
	r := NewRecorder()
	r.AddLLMFallbacks(0)
	r.AddLLMFallbacks(3)
	r.AddLLMTokens(-5)
	r.AddLLMTokens(1200)
	r.CacheHit()
	r.CacheHit()
	r.CacheMiss()

	if got := testutil.ToFloat64(r.llmFallbacks); got != 3 {
		t.Fatalf("fallbacks = %v, want 3", got)
	}
	if got := testutil.ToFloat64(r.llmTokens); got != 1200 {
		t.Fatalf("tokens = %v, want 1200", got)
	}
	if got := testutil.ToFloat64(r.cacheHits); got != 2 {
		t.Fatalf("cache hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.cacheMisses); got != 1 {
		t.Fatalf("cache misses = %v, want 1", got)
	}
}

func TestWriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.ObserveRun(aggregate.Aggregate(nil, 14), time.Second, time.Now())

	path := filepath.Join(t.TempDir(), "textfile", "opsdiag.prom")
	if err := r.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	for _, s := range []string{"opsdiag_period_days 14", "opsdiag_estimated_hours_per_week 0", `opsdiag_items{category="Other"} 0`} {
		if !strings.Contains(string(data), s) {
			t.Fatalf("textfile missing %q:\n%s", s, data)
		}
	}
}
