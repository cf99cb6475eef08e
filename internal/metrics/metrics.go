// internal/metrics/metrics.go
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Unit results.
const (
	ResultChanged   = "changed"
	ResultUnchanged = "unchanged"
	ResultFailed    = "failed"
)

// Metrics holds the service collectors on a private registry.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	registry      *prometheus.Registry
	units         *prometheus.CounterVec
	recordChanges *prometheus.CounterVec
	fetchErrors   *prometheus.CounterVec
	runDuration   prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reposync_units_total",
			Help: "Account reconciliation units processed, by result.",
		}, []string{"result"}),
		recordChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reposync_record_changes_total",
			Help: "Repository records written, by action.",
		}, []string{"action"}),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reposync_fetch_errors_total",
			Help: "Connector fetch failures, by connector.",
		}, []string{"connector"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reposync_run_duration_seconds",
			Help:    "Duration of full reconciliation runs.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
	}
	m.registry.MustRegister(
		m.units,
		m.recordChanges,
		m.fetchErrors,
		m.runDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) UnitDone(result string) {
	if m == nil {
		return
	}
	m.units.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordChanged(action string) {
	if m == nil {
		return
	}
	m.recordChanges.WithLabelValues(action).Inc()
}

func (m *Metrics) FetchFailed(connectorID string) {
	if m == nil {
		return
	}
	m.fetchErrors.WithLabelValues(connectorID).Inc()
}

func (m *Metrics) ObserveRun(d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
