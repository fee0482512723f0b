// Package metrics exposes regeneration and provider usage to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jackzampolin/picturebook/internal/jobs"
	"github.com/jackzampolin/picturebook/internal/jobs/regenerate"
	"github.com/jackzampolin/picturebook/internal/providers"
)

const namespace = "picturebook"

// Metrics owns a Prometheus registry and the collectors registered on it.
type Metrics struct {
	registry *prometheus.Registry

	providerCalls   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	providerTokens  *prometheus.CounterVec
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		providerCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Provider calls by kind, provider and result.",
		}, []string{"kind", "provider", "result"}),
		providerLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Provider call latency.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		}, []string{"kind", "provider"}),
		providerTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_tokens_total",
			Help:      "Tokens consumed by summarizer calls.",
		}, []string{"provider", "direction"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// WatchScheduler exports the scheduler's queue depth and job counters.
func (m *Metrics) WatchScheduler(status func() jobs.Status) {
	factory := promauto.With(m.registry)
	gauge := func(name, help string, read func(jobs.Status) float64) {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      name,
			Help:      help,
		}, func() float64 { return read(status()) })
	}
	counter := func(name, help string, read func(jobs.Status) float64) {
		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      name,
			Help:      help,
		}, func() float64 { return read(status()) })
	}

	gauge("workers", "Configured worker goroutines.", func(s jobs.Status) float64 { return float64(s.Workers) })
	gauge("in_flight", "Jobs currently being handled.", func(s jobs.Status) float64 { return float64(s.InFlight) })
	gauge("queued", "Due jobs waiting for a worker.", func(s jobs.Status) float64 { return float64(s.Queued) })
	gauge("delayed", "Jobs waiting for their start time.", func(s jobs.Status) float64 { return float64(s.Delayed) })
	counter("scheduled_total", "Jobs accepted by the scheduler.", func(s jobs.Status) float64 { return float64(s.Scheduled) })
	counter("dropped_total", "Jobs dropped on a full queue or shutdown.", func(s jobs.Status) float64 { return float64(s.Dropped) })
	counter("completed_total", "Jobs handled without error.", func(s jobs.Status) float64 { return float64(s.Completed) })
	counter("failed_total", "Jobs whose handler returned an error.", func(s jobs.Status) float64 { return float64(s.Failed) })
}

// WatchWorker exports regeneration outcomes.
func (m *Metrics) WatchWorker(stats func() regenerate.Stats) {
	m.registry.MustRegister(&outcomeCollector{stats: stats, desc: prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "regeneration", "outcomes_total"),
		"Regeneration job outcomes.",
		[]string{"outcome"}, nil,
	)})
}

// WatchLimiters exports per-provider rate limiter state.
func (m *Metrics) WatchLimiters(status func() map[string]providers.RateLimiterStatus) {
	m.registry.MustRegister(newLimiterCollector(status))
}
