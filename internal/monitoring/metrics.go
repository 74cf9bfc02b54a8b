package monitoring

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/townmap/internal/model"
)

// Metrics exposes sync cycle outcomes to Prometheus. It owns its registry
// so tests and multiple controllers never collide on the default one.
type Metrics struct {
	registry *prometheus.Registry

	CyclesTotal       *prometheus.CounterVec
	CycleDurationMs   prometheus.Histogram
	RowsAccepted      prometheus.Gauge
	RowsSkipped       prometheus.Gauge
	LastSuccessUnix   prometheus.Gauge
	ConsecutiveErrors prometheus.Gauge
}

// NewMetrics creates and registers the sync metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "townmap_sync_cycles_total",
			Help: "Finished sync cycles by status and trigger",
		}, []string{"status", "trigger"}),
		CycleDurationMs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "townmap_sync_cycle_duration_ms",
			Help:    "Sync cycle duration in milliseconds",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}),
		RowsAccepted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "townmap_rows_accepted",
			Help: "Rows accepted by the last successful cycle",
		}),
		RowsSkipped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "townmap_rows_skipped",
			Help: "Rows skipped by the last successful cycle",
		}),
		LastSuccessUnix: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "townmap_last_success_timestamp_seconds",
			Help: "Completion time of the last successful cycle",
		}),
		ConsecutiveErrors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "townmap_consecutive_errors",
			Help: "Failed cycles since the last success",
		}),
	}
	m.registry.MustRegister(
		m.CyclesTotal,
		m.CycleDurationMs,
		m.RowsAccepted,
		m.RowsSkipped,
		m.LastSuccessUnix,
		m.ConsecutiveErrors,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveCycle records one finished cycle.
func (m *Metrics) ObserveCycle(_ context.Context, e model.CycleEntry) {
	trigger := "poll"
	if e.Manual {
		trigger = "manual"
	}
	m.CyclesTotal.WithLabelValues(string(e.Status), trigger).Inc()
	m.CycleDurationMs.Observe(float64(e.Duration().Milliseconds()))

	if e.Status == model.SyncStatusError {
		m.ConsecutiveErrors.Inc()
		return
	}
	m.ConsecutiveErrors.Set(0)
	m.RowsAccepted.Set(float64(e.Accepted))
	m.RowsSkipped.Set(float64(e.Skipped))
	m.LastSuccessUnix.Set(float64(e.CompletedAt.Unix()))
}
