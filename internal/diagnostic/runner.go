// Package diagnostic runs one end-to-end diagnostic: ingest, classify,
// aggregate, render, persist and announce.
package diagnostic

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"opsdiag/internal/aggregate"
	"opsdiag/internal/cache"
	"opsdiag/internal/classify"
	"opsdiag/internal/config"
	"opsdiag/internal/domain"
	"opsdiag/internal/events"
	"opsdiag/internal/httpx"
	"opsdiag/internal/ingest"
	"opsdiag/internal/metrics"
	"opsdiag/internal/notify"
	"opsdiag/internal/report"
	"opsdiag/internal/storage/sqlite"
)

type Notifier interface {
	Notify(ctx context.Context, note notify.Notification) error
}

type EventPublisher interface {
	PublishDiagnosticCompleted(ctx context.Context, ev events.DiagnosticCompleted) error
}

type Runner struct {
	cfg config.Config
	log *zap.Logger
	now func() time.Time

	source     ingest.Source
	classifier classify.Classifier
	cacheStore cache.Store
	notifier   Notifier
	publisher  EventPublisher
}

type Option func(*Runner)

// WithSource replaces the source selected by the configured mode.
func WithSource(src ingest.Source) Option {
	return func(r *Runner) { r.source = src }
}

// WithClassifier replaces the configured heuristic or LLM classifier.
func WithClassifier(c classify.Classifier) Option {
	return func(r *Runner) { r.classifier = c }
}

func WithCacheStore(s cache.Store) Option {
	return func(r *Runner) { r.cacheStore = s }
}

func WithNotifier(n Notifier) Option {
	return func(r *Runner) { r.notifier = n }
}

func WithPublisher(p EventPublisher) Option {
	return func(r *Runner) { r.publisher = p }
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

func NewRunner(cfg config.Config, log *zap.Logger, opts ...Option) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	r := &Runner{cfg: cfg, log: log, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// pipeline holds what Run builds before classification starts.
type pipeline struct {
	classifier     classify.Classifier
	name           string
	rulesetVersion string
	llm            *classify.LLM
	closers        []func()
}

func (p *pipeline) close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
}

// Run executes one diagnostic and returns its summary. Adapter errors abort the
// run; Slack, AMQP, Redis and the metrics textfile only log their failures.
func (r *Runner) Run(ctx context.Context) (report.Summary, error) {
	start := r.now().In(r.cfg.Location)
	recorder := metrics.NewRecorder()

	src, err := r.buildSource()
	if err != nil {
		return report.Summary{}, err
	}
	items, err := src.Fetch(ctx)
	if err != nil {
		return report.Summary{}, fmt.Errorf("ingest %s: %w", r.cfg.Mode, err)
	}
	fetched := len(items)
	items = ingest.LimitItems(items, r.cfg.LookbackDays, r.cfg.MaxItems, start)
	r.log.Info("items ingested",
		zap.String("mode", r.cfg.Mode),
		zap.Int("fetched", fetched),
		zap.Int("kept", len(items)),
	)

	p, err := r.buildClassifier(recorder)
	if err != nil {
		return report.Summary{}, err
	}
	defer p.close()

	classified, err := classify.ClassifyAll(ctx, p.classifier, items, r.cfg.LLMConcurrency)
	if err != nil {
		return report.Summary{}, fmt.Errorf("classify: %w", err)
	}

	m := aggregate.Aggregate(classified, r.cfg.LookbackDays)
	leverage := aggregate.LeverageSummary(m)

	var db *sql.DB
	var previous *report.Baseline
	if r.cfg.HistoryEnabled() {
		db, err = sqlite.InitDB(r.cfg.DBPath)
		if err != nil {
			return report.Summary{}, fmt.Errorf("open history %s: %w", r.cfg.DBPath, err)
		}
		defer db.Close()
		last, err := sqlite.LatestRun(db)
		if err != nil {
			return report.Summary{}, fmt.Errorf("load previous run: %w", err)
		}
		if last != nil {
			previous = &report.Baseline{
				RunID:        last.ID,
				GeneratedAt:  last.GeneratedAt,
				TotalVolume:  last.TotalVolume,
				HoursPerWeek: last.HoursPerWeek,
			}
		}
	}

	baseName := report.BaseName(r.cfg.ReportName, start)
	in := report.Input{
		Metrics:  m,
		Leverage: leverage,
		Assumptions: report.Assumptions(report.AssumptionInput{
			LookbackDays:   r.cfg.LookbackDays,
			MaxItems:       r.cfg.MaxItems,
			Classifier:     p.name,
			RulesetVersion: p.rulesetVersion,
		}),
		Generated: start,
		Previous:  previous,
	}
	files, err := report.WriteReports(in, r.cfg.Format, r.cfg.OutputDir, baseName)
	if err != nil {
		return report.Summary{}, err
	}

	summary := report.Summary{
		ItemsProcessed:        m.TotalVolume,
		PeriodDays:            m.PeriodDays,
		EstimatedHoursPerWeek: m.EstimatedHoursPerWeek,
		Classifier:            p.name,
		OutputFiles:           files,
	}
	if p.llm != nil {
		summary.LLMTokens = p.llm.Usage().TotalTokens()
		summary.LLMFallbacks = p.llm.Fallbacks()
	}

	if db != nil {
		runID, err := sqlite.InsertRun(db, r.runRecord(start, p, m, summary.LLMTokens, baseName), classified)
		if err != nil {
			return report.Summary{}, fmt.Errorf("save run history: %w", err)
		}
		summary.RunID = runID
	}

	summaryPath, err := report.WriteSummary(summary, r.cfg.OutputDir, baseName)
	if err != nil {
		return report.Summary{}, fmt.Errorf("write summary: %w", err)
	}
	r.log.Info("diagnostic complete",
		zap.Int("items", summary.ItemsProcessed),
		zap.Int("period_days", summary.PeriodDays),
		zap.Float64("hours_per_week", summary.EstimatedHoursPerWeek),
		zap.String("classifier", summary.Classifier),
		zap.String("summary", summaryPath),
	)

	r.announce(ctx, m, leverage, summary, start)

	finished := r.now()
	recorder.ObserveRun(m, finished.Sub(start), finished)
	recorder.AddLLMFallbacks(summary.LLMFallbacks)
	recorder.AddLLMTokens(summary.LLMTokens)
	if r.cfg.MetricsTextfile != "" {
		if err := recorder.WriteTextfile(r.cfg.MetricsTextfile); err != nil {
			r.log.Warn("metrics textfile not written", zap.String("path", r.cfg.MetricsTextfile), zap.Error(err))
		}
	}
	return summary, nil
}

func (r *Runner) buildSource() (ingest.Source, error) {
	if r.source != nil {
		return r.source, nil
	}
	if err := r.cfg.ValidateRun(); err != nil {
		return nil, err
	}
	return ingest.New(r.cfg.Mode, ingest.Options{
		Input:        r.cfg.Input,
		LookbackDays: r.cfg.LookbackDays,
		MaxItems:     r.cfg.MaxItems,
		Location:     r.cfg.Location,
		IMAP: ingest.IMAPOptions{
			Host:         r.cfg.IMAPHost,
			Username:     r.cfg.IMAPUser,
			Password:     r.cfg.IMAPPassword,
			Folder:       r.cfg.IMAPFolder,
			LookbackDays: r.cfg.LookbackDays,
			MaxItems:     r.cfg.MaxItems,
		},
		FeedURL:    r.cfg.FeedURL,
		HTTPClient: httpx.Client(),
	})
}

func (r *Runner) buildClassifier(recorder *metrics.Recorder) (*pipeline, error) {
	p := &pipeline{}

	rules := classify.DefaultRuleSet()
	if r.cfg.RulesetPath != "" {
		loaded, err := classify.LoadRuleSet(r.cfg.RulesetPath)
		if err != nil {
			return nil, err
		}
		rules = loaded
	}
	p.rulesetVersion = rules.Version
	heuristic := classify.NewHeuristic(rules)

	switch {
	case r.classifier != nil:
		p.classifier = r.classifier
		p.name = "custom"
		if l, ok := r.classifier.(*classify.LLM); ok {
			p.llm = l
			p.name = l.Name()
		}
	case r.cfg.Classifier == config.ClassifierLLM:
		l, err := classify.NewLLM(classify.LLMOptions{
			Provider:   r.cfg.LLMProvider,
			Model:      r.cfg.LLMModel,
			APIKey:     r.cfg.APIKey(),
			BaseURL:    r.cfg.LLMBaseURL,
			HTTPClient: httpx.Client(),
			Fallback:   heuristic,
			Logger:     r.log,
		})
		if err != nil {
			return nil, err
		}
		p.classifier, p.llm, p.name = l, l, l.Name()
	default:
		p.classifier = heuristic
		p.name = config.ClassifierHeuristic
	}

	store := r.cacheStore
	if store == nil && r.cfg.RedisURL != "" {
		rs, err := cache.NewRedisStore(r.cfg.RedisURL)
		if err != nil {
			r.log.Warn("classification cache disabled", zap.Error(err))
		} else {
			store = rs
			p.closers = append(p.closers, func() { _ = rs.Close() })
		}
	}
	if store != nil {
		identity := p.name + "|" + p.rulesetVersion
		p.classifier = cache.Wrap(p.classifier, identity, store, r.cfg.CacheTTL(), r.log, recorder)
		r.log.Debug("classification cache enabled", zap.String("identity", identity))
	}
	return p, nil
}

func (r *Runner) runRecord(at time.Time, p *pipeline, m aggregate.DiagnosticMetrics, tokens int64, baseName string) sqlite.RunRecord {
	return sqlite.RunRecord{
		GeneratedAt:           at,
		Mode:                  r.cfg.Mode,
		Classifier:            p.name,
		RulesetVersion:        p.rulesetVersion,
		LookbackDays:          r.cfg.LookbackDays,
		MaxItems:              r.cfg.MaxItems,
		TotalVolume:           m.TotalVolume,
		PeriodDays:            m.PeriodDays,
		EstimatedTotalMinutes: m.EstimatedTotalMinutes,
		HoursPerWeek:          m.EstimatedHoursPerWeek,
		RepetitivePct:         m.NaturePercentages[domain.Repetitive],
		SLASensitivePct:       m.RiskPercentages[domain.SLASensitive],
		LLMTokens:             tokens,
		ReportBase:            baseName,
	}
}

// announce pushes the result to Slack and AMQP. Neither may fail the run.
func (r *Runner) announce(ctx context.Context, m aggregate.DiagnosticMetrics, leverage []string, summary report.Summary, at time.Time) {
	notifier := r.notifier
	if notifier == nil && r.cfg.SlackConfigured() {
		notifier = notify.NewSlackNotifier(r.cfg.SlackBotToken, r.cfg.SlackChannelID, r.cfg.SlackUploadReport, r.log)
	}
	if notifier != nil {
		err := notifier.Notify(ctx, notify.Notification{
			ReportName:  r.cfg.ReportName,
			GeneratedAt: at,
			Summary:     summary,
			Leverage:    leverage,
			ReportFile:  summary.OutputFiles[report.FormatMarkdown],
		})
		if err != nil {
			r.log.Warn("slack notification failed", zap.Error(err))
		}
	}

	publisher := r.publisher
	if publisher == nil && r.cfg.AMQPURL != "" {
		p, err := events.NewPublisher(r.cfg.AMQPURL, r.cfg.AMQPExchange)
		if err != nil {
			r.log.Warn("event publisher unavailable", zap.Error(err))
		} else {
			defer p.Close()
			publisher = p
		}
	}
	if publisher != nil {
		if err := publisher.PublishDiagnosticCompleted(ctx, completedEvent(r.cfg, m, leverage, summary, at)); err != nil {
			r.log.Warn("event publish failed", zap.Error(err))
		}
	}
}

func completedEvent(cfg config.Config, m aggregate.DiagnosticMetrics, leverage []string, summary report.Summary, at time.Time) events.DiagnosticCompleted {
	counts := make(map[string]int, len(m.CategoryCounts))
	for cat, n := range m.CategoryCounts {
		counts[cat.String()] = n
	}
	return events.DiagnosticCompleted{
		RunID:                 summary.RunID,
		ReportName:            cfg.ReportName,
		GeneratedAt:           at,
		Mode:                  cfg.Mode,
		Classifier:            summary.Classifier,
		ItemsProcessed:        summary.ItemsProcessed,
		PeriodDays:            summary.PeriodDays,
		EstimatedHoursPerWeek: summary.EstimatedHoursPerWeek,
		SLASensitivePct:       m.RiskPercentages[domain.SLASensitive],
		CategoryCounts:        counts,
		Leverage:              leverage,
		OutputFiles:           summary.OutputFiles,
	}
}
