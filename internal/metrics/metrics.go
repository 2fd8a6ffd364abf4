// Package metrics exposes a run's results as Prometheus metrics, written to a
// node_exporter textfile after each run.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"opsdiag/internal/aggregate"
	"opsdiag/internal/domain"
)

// Recorder owns a private registry so each run's textfile holds only its own series.
type Recorder struct {
	reg *prometheus.Registry

	itemsByCategory   *prometheus.GaugeVec
	itemsByNature     *prometheus.GaugeVec
	hoursPerWeek      prometheus.Gauge
	slaSensitiveShare prometheus.Gauge
	periodDays        prometheus.Gauge
	runDuration       prometheus.Gauge
	lastRun           prometheus.Gauge

	llmFallbacks prometheus.Counter
	llmTokens    prometheus.Counter
	cacheHits    prometheus.Counter
	cacheMisses  prometheus.Counter
}

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		itemsByCategory: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "opsdiag_items",
				Help: "Inbound items in the last diagnostic window by work category",
			},
			[]string{"category"},
		),
		itemsByNature: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "opsdiag_items_by_nature",
				Help: "Inbound items in the last diagnostic window by work nature",
			},
			[]string{"nature"},
		),
		hoursPerWeek: f.NewGauge(prometheus.GaugeOpts{
			Name: "opsdiag_estimated_hours_per_week",
			Help: "Estimated operational handling load in hours per week",
		}),
		slaSensitiveShare: f.NewGauge(prometheus.GaugeOpts{
			Name: "opsdiag_sla_sensitive_percent",
			Help: "Share of inbound items flagged SLA-sensitive",
		}),
		periodDays: f.NewGauge(prometheus.GaugeOpts{
			Name: "opsdiag_period_days",
			Help: "Observation window of the last diagnostic in days",
		}),
		runDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "opsdiag_run_duration_seconds",
			Help: "Wall time of the last diagnostic run",
		}),
		lastRun: f.NewGauge(prometheus.GaugeOpts{
			Name: "opsdiag_last_run_timestamp_seconds",
			Help: "Unix time the last diagnostic finished",
		}),
		llmFallbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "opsdiag_llm_fallbacks_total",
			Help: "LLM classifications that fell back to the keyword heuristic",
		}),
		llmTokens: f.NewCounter(prometheus.CounterOpts{
			Name: "opsdiag_llm_tokens_total",
			Help: "LLM tokens consumed by classification",
		}),
		cacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "opsdiag_classification_cache_hits_total",
			Help: "Classifications served from the cache",
		}),
		cacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "opsdiag_classification_cache_misses_total",
			Help: "Classifications computed because the cache had no entry",
		}),
	}
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.reg
}

// ObserveRun records the headline numbers of a finished run. Every category is
// emitted so absent ones read as zero.
func (r *Recorder) ObserveRun(m aggregate.DiagnosticMetrics, took time.Duration, finished time.Time) {
	for _, cat := range domain.Categories() {
		r.itemsByCategory.WithLabelValues(cat.String()).Set(float64(m.CategoryCounts[cat]))
	}
	for _, n := range domain.Natures() {
		r.itemsByNature.WithLabelValues(n.String()).Set(float64(m.NatureCounts[n]))
	}
	r.hoursPerWeek.Set(m.EstimatedHoursPerWeek)
	r.slaSensitiveShare.Set(m.RiskPercentages[domain.SLASensitive])
	r.periodDays.Set(float64(m.PeriodDays))
	r.runDuration.Set(took.Seconds())
	r.lastRun.Set(float64(finished.Unix()))
}

func (r *Recorder) AddLLMFallbacks(n int64) {
	if n > 0 {
		r.llmFallbacks.Add(float64(n))
	}
}

func (r *Recorder) AddLLMTokens(n int64) {
	if n > 0 {
		r.llmTokens.Add(float64(n))
	}
}

func (r *Recorder) CacheHit()  { r.cacheHits.Inc() }
func (r *Recorder) CacheMiss() { r.cacheMisses.Inc() }

// WriteTextfile atomically writes the registry in text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
