package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's Prometheus instruments on a private registry,
// so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	ThinkRequests      *prometheus.CounterVec
	StageDuration      *prometheus.HistogramVec
	Degraded           *prometheus.CounterVec
	EnrichmentFailures *prometheus.CounterVec
	SynthesisJobs      *prometheus.CounterVec
	InferenceCalls     *prometheus.CounterVec
	ReviewRatings      *prometheus.CounterVec
	ReviewDue          prometheus.Gauge
}

func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ThinkRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "think_requests_total",
			Help:      "Think calls by outcome.",
		}, []string{"status"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each think pipeline stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		Degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_total",
			Help:      "Stages that completed with fallback output.",
		}, []string{"stage"}),
		EnrichmentFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrichment_failures_total",
			Help:      "Enrichment agent failures after retry.",
		}, []string{"agent"}),
		SynthesisJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_jobs_total",
			Help:      "Background synthesis jobs by kind and outcome.",
		}, []string{"kind", "status"}),
		InferenceCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_calls_total",
			Help:      "Guarded inference calls by outcome.",
		}, []string{"status"}),
		ReviewRatings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "review_ratings_total",
			Help:      "Spaced repetition ratings.",
		}, []string{"rating"}),
		ReviewDue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "review_due_cards",
			Help:      "Cards due at the last scan.",
		}),
	}

	m.registry.MustRegister(
		m.ThinkRequests,
		m.StageDuration,
		m.Degraded,
		m.EnrichmentFailures,
		m.SynthesisJobs,
		m.InferenceCalls,
		m.ReviewRatings,
		m.ReviewDue,
	)
	return m
}

// ObserveStage records the elapsed time since start for the named stage.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// MarkDegraded counts a degraded stage.
func (m *Metrics) MarkDegraded(stage string) {
	if m == nil {
		return
	}
	m.Degraded.WithLabelValues(stage).Inc()
}

// CountJob counts a synthesis job transition.
func (m *Metrics) CountJob(kind, status string) {
	if m == nil {
		return
	}
	m.SynthesisJobs.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the private registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
