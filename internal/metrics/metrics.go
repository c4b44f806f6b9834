// Package metrics exposes Prometheus metrics for remote store traffic and job lifecycles.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/desertthunder/stemx/internal/jobs"
)

const namespace = "stemx"

// Metrics holds all collectors. It implements the remote client and job runner observer interfaces.
type Metrics struct {
	registry *prometheus.Registry

	// Remote store metrics
	RemoteRequests *prometheus.CounterVec   // stemx_remote_requests_total{backend,op,outcome}
	RemoteDuration *prometheus.HistogramVec // stemx_remote_request_duration_seconds{backend,op}
	RemoteBytes    *prometheus.CounterVec   // stemx_remote_bytes_total{backend,op}

	// Job metrics
	JobsStarted  *prometheus.CounterVec   // stemx_jobs_started_total{kind}
	JobsFinished *prometheus.CounterVec   // stemx_jobs_finished_total{kind,state}
	JobsRunning  *prometheus.GaugeVec     // stemx_jobs_running{kind}
	JobDuration  *prometheus.HistogramVec // stemx_job_duration_seconds{kind}
}

// New registers every collector, plus the Go and process collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RemoteRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_requests_total",
			Help:      "Remote store requests by backend, operation and outcome",
		}, []string{"backend", "op", "outcome"}),

		RemoteDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_request_duration_seconds",
			Help:      "Remote store request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend", "op"}),

		RemoteBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_bytes_total",
			Help:      "Bytes transferred to and from the remote store",
		}, []string{"backend", "op"}),

		JobsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Jobs dispatched by kind",
		}, []string{"kind"}),

		JobsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Jobs finished by kind and final state",
		}, []string{"kind", "state"}),

		JobsRunning: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_running",
			Help:      "Jobs currently running by kind",
		}, []string{"kind"}),

		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Job run time in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"kind"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRemote records one remote store call.
func (m *Metrics) ObserveRemote(backend, op, outcome string, d time.Duration, bytes int64) {
	m.RemoteRequests.WithLabelValues(backend, op, outcome).Inc()
	m.RemoteDuration.WithLabelValues(backend, op).Observe(d.Seconds())
	if bytes > 0 {
		m.RemoteBytes.WithLabelValues(backend, op).Add(float64(bytes))
	}
}

// ObserveJobStart records a dispatched job.
func (m *Metrics) ObserveJobStart(kind string) {
	m.JobsStarted.WithLabelValues(kind).Inc()
	m.JobsRunning.WithLabelValues(kind).Inc()
}

// ObserveJobFinish records a finished job.
func (m *Metrics) ObserveJobFinish(kind string, state jobs.State, d time.Duration) {
	m.JobsRunning.WithLabelValues(kind).Dec()
	m.JobsFinished.WithLabelValues(kind, state.String()).Inc()
	m.JobDuration.WithLabelValues(kind).Observe(d.Seconds())
}
