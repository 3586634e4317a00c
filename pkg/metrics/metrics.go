package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the scoring bot
type Metrics struct {
	registry *prometheus.Registry

	ScoresComputed   *prometheus.CounterVec
	FormulaErrors    *prometheus.CounterVec
	TickersSkipped   prometheus.Counter
	ProviderFailures prometheus.Counter
	JobDuration      prometheus.Histogram
	LastJobScore     *prometheus.GaugeVec
}

// New creates and registers the bot's collectors on a dedicated registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ScoresComputed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dcabot",
			Name:      "scores_computed_total",
			Help:      "Number of composite scores computed, by ticker.",
		}, []string{"ticker"}),
		FormulaErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dcabot",
			Name:      "formula_errors_total",
			Help:      "Number of formula evaluation failures, by formula name.",
		}, []string{"formula"}),
		TickersSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dcabot",
			Name:      "tickers_skipped_total",
			Help:      "Number of tickers skipped because no price data was available.",
		}),
		ProviderFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dcabot",
			Name:      "provider_failures_total",
			Help:      "Number of failed market data provider requests.",
		}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dcabot",
			Name:      "job_duration_seconds",
			Help:      "Duration of the daily scoring job.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		LastJobScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dcabot",
			Name:      "last_score",
			Help:      "Most recent composite score (0-100), by ticker.",
		}, []string{"ticker"}),
	}
}

// Handler returns an HTTP handler serving this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
