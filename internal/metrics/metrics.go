// Package metrics exposes Prometheus instrumentation for sync runs.
//
// All methods are safe on a nil *Metrics so components can run uninstrumented.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "yachtsync"

// Metrics groups the collectors of the process.
type Metrics struct {
	items          *prometheus.CounterVec
	runs           *prometheus.CounterVec
	progress       *prometheus.GaugeVec
	remoteRequests *prometheus.CounterVec
	itemDuration   *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Items handled by sync runs, by job and outcome.",
		}, []string{"job", "outcome"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished sync runs, by job and terminal outcome.",
		}, []string{"job", "outcome"}),
		progress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_progress_percent",
			Help:      "Progress of the current or last run.",
		}, []string{"job"}),
		remoteRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_requests_total",
			Help:      "Requests sent to the listing API, by endpoint and status.",
		}, []string{"endpoint", "status"}),
		itemDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "item_duration_seconds",
			Help:      "Time spent on a single item, delays excluded.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"job"}),
	}

	reg.MustRegister(m.items, m.runs, m.progress, m.remoteRequests, m.itemDuration)
	return m
}

// ObserveItem records the outcome and duration of one item.
func (m *Metrics) ObserveItem(job, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.items.WithLabelValues(job, outcome).Inc()
	m.itemDuration.WithLabelValues(job).Observe(d.Seconds())
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(job, outcome string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(job, outcome).Inc()
}

// SetProgress sets the progress gauge of a job.
func (m *Metrics) SetProgress(job string, percent float64) {
	if m == nil {
		return
	}
	m.progress.WithLabelValues(job).Set(percent)
}

// ObserveRequest records a remote API request.
func (m *Metrics) ObserveRequest(endpoint, status string) {
	if m == nil {
		return
	}
	m.remoteRequests.WithLabelValues(endpoint, status).Inc()
}
