// Package monitoring exposes Prometheus collectors for simulation runs.
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns its registry so several instances can coexist in tests.
type Metrics struct {
	registry    *prometheus.Registry
	runsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	tradesTotal *prometheus.CounterVec
	cacheTotal  *prometheus.CounterVec
	sweepRuns   prometheus.Histogram
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandbox_runs_total",
				Help: "Total number of simulation runs by variant and outcome",
			},
			[]string{"variant", "status"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sandbox_run_duration_seconds",
				Help:    "Duration of simulation runs in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"variant"},
		),
		tradesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandbox_trades_total",
				Help: "Total number of trades emitted by side",
			},
			[]string{"side"},
		),
		cacheTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandbox_cache_lookups_total",
				Help: "Result cache lookups by result",
			},
			[]string{"result"},
		),
		sweepRuns: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sandbox_sweep_runs",
				Help:    "Number of runs per seed sweep",
				Buckets: prometheus.ExponentialBuckets(1, 4, 6),
			},
		),
	}
}

// RecordRun records one finished run.
func (m *Metrics) RecordRun(variant, status string, d time.Duration) {
	m.runsTotal.WithLabelValues(variant, status).Inc()
	m.runDuration.WithLabelValues(variant).Observe(d.Seconds())
}

func (m *Metrics) RecordTrades(buys, sells int) {
	m.tradesTotal.WithLabelValues("buy").Add(float64(buys))
	m.tradesTotal.WithLabelValues("sell").Add(float64(sells))
}

func (m *Metrics) RecordCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordSweep(runs int) {
	m.sweepRuns.Observe(float64(runs))
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
