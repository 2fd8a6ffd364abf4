package diagnostic

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"opsdiag/internal/cache"
	"opsdiag/internal/config"
	"opsdiag/internal/domain"
	"opsdiag/internal/events"
	"opsdiag/internal/notify"
	"opsdiag/internal/storage/sqlite"
)

const twoItemCSV = "timestamp,sender,subject,body\n" +
	"2026-10-15 10:00,carrier@example.com,URGENT delay on shipment,\n" +
	"2026-10-16 10:00,ops@shipper.com,What is the ETA?,\n"

type recordingNotifier struct {
	notes []notify.Notification
	err   error
}

func (n *recordingNotifier) Notify(_ context.Context, note notify.Notification) error {
	n.notes = append(n.notes, note)
	return n.err
}

type recordingPublisher struct {
	events []events.DiagnosticCompleted
	err    error
}

func (p *recordingPublisher) PublishDiagnosticCompleted(_ context.Context, ev events.DiagnosticCompleted) error {
	p.events = append(p.events, ev)
	return p.err
}

type mapStore struct {
	mu   sync.Mutex
	data map[string]string
}

func (s *mapStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return "", cache.ErrMiss
	}
	return v, nil
}

func (s *mapStore) Set(_ context.Context, key, value string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

type failingClassifier struct{}

func (failingClassifier) Classify(context.Context, domain.InboundItem) (domain.Classification, error) {
	return domain.Classification{}, errors.New("upstream unavailable")
}

func testConfig(t *testing.T, csv string) config.Config {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "inbound.csv")
	if err := os.WriteFile(input, []byte(csv), 0644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return config.Config{
		Mode:            "csv",
		Input:           input,
		LookbackDays:    14,
		MaxItems:        200,
		OutputDir:       filepath.Join(dir, "output"),
		ReportName:      "operations_load_diagnostic",
		Format:          "both",
		Classifier:      config.ClassifierHeuristic,
		LLMConcurrency:  4,
		CacheTTLSeconds: 3600,
		DBPath:          filepath.Join(dir, "history.db"),
		MetricsTextfile: filepath.Join(dir, "metrics", "opsdiag.prom"),
		Location:        time.UTC,
	}
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestRunEndToEnd(t *testing.T) {
	cfg := testConfig(t, twoItemCSV)
	notifier := &recordingNotifier{}
	publisher := &recordingPublisher{}
	store := &mapStore{data: map[string]string{}}
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

	first := NewRunner(cfg, nil,
		WithClock(fixedClock(now)),
		WithNotifier(notifier),
		WithPublisher(publisher),
		WithCacheStore(store),
	)
	summary, err := first.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if summary.ItemsProcessed != 2 || summary.PeriodDays != 2 {
		t.Fatalf("unexpected summary counts: %+v", summary)
	}
	// 16 minutes over 2 days -> 0.93 h/week.
	if summary.EstimatedHoursPerWeek != 0.9 {
		t.Fatalf("hours per week = %v, want 0.9", summary.EstimatedHoursPerWeek)
	}
	if summary.Classifier != "heuristic" || summary.RunID != 1 {
		t.Fatalf("unexpected classifier/run id: %+v", summary)
	}
	wantMD := filepath.Join(cfg.OutputDir, "operations_load_diagnostic_20261019_090000.md")
	if summary.OutputFiles["markdown"] != wantMD {
		t.Fatalf("markdown path = %q, want %q", summary.OutputFiles["markdown"], wantMD)
	}
	if _, err := os.Stat(summary.OutputFiles["html"]); err != nil {
		t.Fatalf("html report missing: %v", err)
	}
	summaryJSON, err := os.ReadFile(filepath.Join(cfg.OutputDir, "operations_load_diagnostic_20261019_090000.summary.json"))
	if err != nil {
		t.Fatalf("summary json missing: %v", err)
	}
	if !strings.Contains(string(summaryJSON), `"items_processed": 2`) {
		t.Fatalf("unexpected summary json: %s", summaryJSON)
	}

	if len(notifier.notes) != 1 || notifier.notes[0].ReportFile != wantMD {
		t.Fatalf("unexpected notifications: %+v", notifier.notes)
	}
	if len(publisher.events) != 1 {
		t.Fatalf("expected one event, got %d", len(publisher.events))
	}
	ev := publisher.events[0]
	if ev.RunID != 1 || ev.CategoryCounts["Exception / Delay"] != 1 || ev.CategoryCounts["Tracking / ETA"] != 1 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.SLASensitivePct != 50 {
		t.Fatalf("sla share = %v, want 50", ev.SLASensitivePct)
	}
	if len(store.data) != 2 {
		t.Fatalf("expected 2 cached classifications, got %d", len(store.data))
	}

	// A second run compares against the first and is served from the cache.
	second := NewRunner(cfg, nil,
		WithClock(fixedClock(now.Add(time.Minute))),
		WithNotifier(notifier),
		WithPublisher(publisher),
		WithCacheStore(store),
	)
	summary, err = second.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if summary.RunID != 2 {
		t.Fatalf("second run id = %d, want 2", summary.RunID)
	}
	md, err := os.ReadFile(summary.OutputFiles["markdown"])
	if err != nil {
		t.Fatalf("read markdown: %v", err)
	}
	if !strings.Contains(string(md), "Change vs previous run #1 (2026-10-19 09:00): +0.0 hours/week, +0 items") {
		t.Fatalf("markdown missing previous-run comparison:\n%s", md)
	}

	prom, err := os.ReadFile(cfg.MetricsTextfile)
	if err != nil {
		t.Fatalf("metrics textfile missing: %v", err)
	}
	for _, want := range []string{
		"opsdiag_estimated_hours_per_week 0.9",
		"opsdiag_classification_cache_hits_total 2",
		`opsdiag_items{category="Tracking / ETA"} 1`,
	} {
		if !strings.Contains(string(prom), want) {
			t.Fatalf("metrics textfile missing %q:\n%s", want, prom)
		}
	}

	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	defer db.Close()
	runs, err := sqlite.ListRuns(db, 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != 2 {
		t.Fatalf("unexpected history: %+v", runs)
	}
	items, err := sqlite.GetRunItems(db, 1)
	if err != nil {
		t.Fatalf("GetRunItems failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 stored items, got %d", len(items))
	}
}

func TestRunSideChannelFailuresDoNotFailRun(t *testing.T) {
	cfg := testConfig(t, twoItemCSV)
	cfg.DBPath = ""
	cfg.MetricsTextfile = ""
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

	r := NewRunner(cfg, nil,
		WithClock(fixedClock(now)),
		WithNotifier(&recordingNotifier{err: errors.New("slack down")}),
		WithPublisher(&recordingPublisher{err: errors.New("broker down")}),
	)
	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.RunID != 0 {
		t.Fatalf("history disabled, expected no run id, got %d", summary.RunID)
	}
}

func TestRunEmptyInput(t *testing.T) {
	cfg := testConfig(t, "timestamp,sender,subject,body\n")
	cfg.Format = "markdown"
	summary, err := NewRunner(cfg, nil, WithClock(fixedClock(time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)))).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.ItemsProcessed != 0 || summary.PeriodDays != cfg.LookbackDays || summary.EstimatedHoursPerWeek != 0 {
		t.Fatalf("unexpected empty summary: %+v", summary)
	}
	if _, ok := summary.OutputFiles["html"]; ok {
		t.Fatalf("html report should not be written for markdown format")
	}
}

func TestRunErrors(t *testing.T) {
	now := fixedClock(time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC))

	t.Run("missing input", func(t *testing.T) {
		cfg := testConfig(t, twoItemCSV)
		cfg.Input = ""
		if _, err := NewRunner(cfg, nil, WithClock(now)).Run(context.Background()); err == nil {
			t.Fatal("expected error for csv mode without input")
		}
	})

	t.Run("unreadable input", func(t *testing.T) {
		cfg := testConfig(t, twoItemCSV)
		cfg.Input = filepath.Join(t.TempDir(), "absent.csv")
		_, err := NewRunner(cfg, nil, WithClock(now)).Run(context.Background())
		if !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("expected not-exist error, got %v", err)
		}
	})

	t.Run("classifier failure", func(t *testing.T) {
		cfg := testConfig(t, twoItemCSV)
		_, err := NewRunner(cfg, nil, WithClock(now), WithClassifier(failingClassifier{})).Run(context.Background())
		if err == nil || !strings.Contains(err.Error(), "upstream unavailable") {
			t.Fatalf("expected classifier error, got %v", err)
		}
	})

	t.Run("llm without key", func(t *testing.T) {
		cfg := testConfig(t, twoItemCSV)
		cfg.Classifier = config.ClassifierLLM
		cfg.LLMProvider = "anthropic"
		_, err := NewRunner(cfg, nil, WithClock(now)).Run(context.Background())
		if err == nil || !strings.Contains(err.Error(), "anthropic_api_key") {
			t.Fatalf("expected configuration error, got %v", err)
		}
	})
}

func TestRunCacheKeyFollowsRulesetContent(t *testing.T) {
	cfg := testConfig(t, "timestamp,sender,subject,body\n2026-10-18 10:00,buyer@example.com,widget question,\n")
	dir := t.TempDir()
	writeRules := func(name, content string) string {
		t.Helper()
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("write ruleset: %v", err)
		}
		return path
	}
	docsRules := writeRules("docs.yaml", "categories:\n  - category: Documentation\n    keywords: [paperwork]\n")
	rateRules := writeRules("rates.yaml", "categories:\n  - category: \"Rate / Pricing\"\n    keywords: [widget]\n")

	store := &mapStore{data: map[string]string{}}
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	for i, rules := range []string{docsRules, rateRules} {
		cfg.RulesetPath = rules
		r := NewRunner(cfg, nil,
			WithClock(fixedClock(now.Add(time.Duration(i)*time.Minute))),
			WithCacheStore(store),
		)
		if _, err := r.Run(context.Background()); err != nil {
			t.Fatalf("run %d failed: %v", i+1, err)
		}
	}

	if len(store.data) != 2 {
		t.Fatalf("expected one cache entry per ruleset, got %d", len(store.data))
	}
	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	defer db.Close()
	for runID, want := range map[int64]domain.WorkCategory{1: domain.Other, 2: domain.RatePricing} {
		items, err := sqlite.GetRunItems(db, runID)
		if err != nil {
			t.Fatalf("GetRunItems(%d) failed: %v", runID, err)
		}
		if len(items) != 1 || items[0].Classification.Category != want {
			t.Fatalf("run %d items = %+v, want category %s", runID, items, want)
		}
	}
}
