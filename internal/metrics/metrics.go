// Package metrics exposes Prometheus collectors for deployments.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors recorded by the deployment core.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	started    *prometheus.CounterVec
	finished   *prometheus.CounterVec
	active     prometheus.Gauge
	downloaded prometheus.Counter
	stageTime  *prometheus.HistogramVec
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gamedeck",
			Name:      "deployments_started_total",
			Help:      "Deployments started, by game family.",
		}, []string{"family"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gamedeck",
			Name:      "deployments_finished_total",
			Help:      "Deployments that reached a terminal outcome.",
		}, []string{"family", "outcome"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gamedeck",
			Name:      "deployments_active",
			Help:      "Deployments currently tracked by the registry.",
		}),
		downloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gamedeck",
			Name:      "downloaded_bytes_total",
			Help:      "Bytes written to disk by the downloader.",
		}),
		stageTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gamedeck",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 180, 600},
		}, []string{"family", "stage"}),
	}
	m.registry.MustRegister(m.started, m.finished, m.active, m.downloaded, m.stageTime)
	return m
}

// Handler serves the collectors in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// DeploymentStarted records a new deployment.
func (m *Metrics) DeploymentStarted(family string) {
	if m == nil {
		return
	}
	m.started.WithLabelValues(family).Inc()
	m.active.Inc()
}

// DeploymentFinished records a terminal outcome.
func (m *Metrics) DeploymentFinished(family, outcome string) {
	if m == nil {
		return
	}
	m.finished.WithLabelValues(family, outcome).Inc()
	m.active.Dec()
}

// AddDownloaded adds n bytes to the download counter.
func (m *Metrics) AddDownloaded(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.downloaded.Add(float64(n))
}

// TimeStage starts a timer for a stage; call the returned func when it ends.
//
//	defer m.TimeStage("factorio", "download")()
func (m *Metrics) TimeStage(family, stage string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.stageTime.WithLabelValues(family, stage).Observe(time.Since(start).Seconds())
	}
}
