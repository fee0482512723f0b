package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jackzampolin/picturebook/internal/jobs/regenerate"
	"github.com/jackzampolin/picturebook/internal/providers"
)

type outcomeCollector struct {
	stats func() regenerate.Stats
	desc  *prometheus.Desc
}

func (c *outcomeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *outcomeCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	for outcome, n := range map[regenerate.Outcome]int64{
		regenerate.OutcomeApplied: s.Applied,
		regenerate.OutcomeStale:   s.Stale,
		regenerate.OutcomeSkipped: s.Skipped,
		regenerate.OutcomeFailed:  s.Failed,
	} {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(n), string(outcome))
	}
}

// limiterCollector reads limiter state at scrape time; providers come and go
// with config reloads, so the label set is not fixed.
type limiterCollector struct {
	status    func() map[string]providers.RateLimiterStatus
	available *prometheus.Desc
	limit     *prometheus.Desc
	consumed  *prometheus.Desc
	waited    *prometheus.Desc
}

func newLimiterCollector(status func() map[string]providers.RateLimiterStatus) *limiterCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "rate_limiter", name),
			help, []string{"provider"}, nil,
		)
	}
	return &limiterCollector{
		status:    status,
		available: desc("tokens_available", "Requests that may start without waiting."),
		limit:     desc("tokens_limit", "Requests per minute."),
		consumed:  desc("consumed_total", "Requests admitted by the limiter."),
		waited:    desc("waited_seconds_total", "Time spent waiting for tokens."),
	}
}

func (c *limiterCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.available
	ch <- c.limit
	ch <- c.consumed
	ch <- c.waited
}

func (c *limiterCollector) Collect(ch chan<- prometheus.Metric) {
	for name, s := range c.status() {
		ch <- prometheus.MustNewConstMetric(c.available, prometheus.GaugeValue, float64(s.TokensAvailable), name)
		ch <- prometheus.MustNewConstMetric(c.limit, prometheus.GaugeValue, float64(s.TokensLimit), name)
		ch <- prometheus.MustNewConstMetric(c.consumed, prometheus.CounterValue, float64(s.TotalConsumed), name)
		ch <- prometheus.MustNewConstMetric(c.waited, prometheus.CounterValue, s.TotalWaited.Seconds(), name)
	}
}
