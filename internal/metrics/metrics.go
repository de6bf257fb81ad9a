// Package metrics exposes workflow counters and histograms in Prometheus
// format. All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry      *prometheus.Registry
	runs          *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
	reviewScore   prometheus.Histogram
	revisions     prometheus.Histogram
	retries       *prometheus.CounterVec
	enrichment    *prometheus.CounterVec
}

// New registers every collector on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "articleflow_workflow_runs_total",
			Help: "Workflow runs by final phase",
		}, []string{"outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "articleflow_stage_duration_seconds",
			Help:    "Stage execution time",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		}, []string{"stage"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "articleflow_stage_failures_total",
			Help: "Stage level failures",
		}, []string{"stage"}),
		reviewScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "articleflow_review_score",
			Help:    "Total review score per review call",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
		revisions: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "articleflow_revisions_per_run",
			Help:    "Revision count at the end of a run",
			Buckets: prometheus.LinearBuckets(0, 1, 6),
		}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "articleflow_external_call_retries_total",
			Help: "Retries of external calls by operation",
		}, []string{"op"}),
		enrichment: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "articleflow_enrichment_total",
			Help: "Enrichment attempts by kind and result",
		}, []string{"kind", "result"}),
	}
	reg.MustRegister(
		m.runs, m.stageDuration, m.stageFailures, m.reviewScore, m.revisions, m.retries, m.enrichment,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry for /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveStage(stage string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		m.stageFailures.WithLabelValues(stage).Inc()
	}
}

func (m *Metrics) ObserveReview(total int) {
	if m == nil {
		return
	}
	m.reviewScore.Observe(float64(total))
}

// RunFinished records the terminal phase and revision count of a run.
func (m *Metrics) RunFinished(outcome string, revisions int) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	m.revisions.Observe(float64(revisions))
}

func (m *Metrics) Enrichment(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.enrichment.WithLabelValues(kind, result).Inc()
}

// RetryHook matches retry.Policy.OnRetry.
func (m *Metrics) RetryHook() func(op string, attempt int, err error) {
	return func(op string, attempt int, err error) {
		if m == nil {
			return
		}
		m.retries.WithLabelValues(op).Inc()
	}
}
