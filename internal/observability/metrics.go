// Package observability exposes Prometheus metrics and the optional HTTP
// server that serves them together with health and debug endpoints.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"netmon/internal/observation"
)

const namespace = "netmon"

// Metrics holds every netmon collector on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	observations    *prometheus.CounterVec
	measureDuration *prometheus.HistogramVec
	queueDepth      prometheus.Gauge
	queueDropped    prometheus.Counter
	rowsWritten     prometheus.Counter
	writeDuration   prometheus.Histogram
	mirrorErrors    prometheus.Counter
	lastLatency     prometheus.Gauge
	lastDownload    prometheus.Gauge
	lastUpload      prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		observations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_total",
			Help:      "Observations produced, by probe and result (ok or failed).",
		}, []string{"probe", "result"}),
		measureDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "measurement_duration_seconds",
			Help:      "Wall time of a single measurement call.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"probe"}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Observations waiting to be written.",
		}),
		queueDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_dropped_total",
			Help:      "Observations discarded because the queue was full.",
		}),
		rowsWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Rows appended and synced to the CSV log.",
		}),
		writeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "write_duration_seconds",
			Help:      "Time to append, flush and fsync one row.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 9),
		}),
		mirrorErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_errors_total",
			Help:      "Failed inserts into the storage mirror.",
		}),
		lastLatency: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_latency_ms",
			Help:      "Most recent successful latency measurement.",
		}),
		lastDownload: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_download_mbps",
			Help:      "Most recent successful download measurement.",
		}),
		lastUpload: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_upload_mbps",
			Help:      "Most recent successful upload measurement.",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// ObserveProbe records one completed measurement.
func (m *Metrics) ObserveProbe(o observation.Observation, took time.Duration) {
	if m == nil {
		return
	}
	probe := o.Kind().String()
	result := "ok"
	if !o.OK() {
		result = "failed"
	}
	m.observations.WithLabelValues(probe, result).Inc()
	m.measureDuration.WithLabelValues(probe).Observe(took.Seconds())

	if v, ok := o.LatencyMs(); ok {
		m.lastLatency.Set(v)
	}
	if v, ok := o.DownloadMbps(); ok {
		m.lastDownload.Set(v)
	}
	if v, ok := o.UploadMbps(); ok {
		m.lastUpload.Set(v)
	}
}

// ObserveWrite records one persisted row.
func (m *Metrics) ObserveWrite(_ observation.Observation, took time.Duration) {
	if m == nil {
		return
	}
	m.rowsWritten.Inc()
	m.writeDuration.Observe(took.Seconds())
}

func (m *Metrics) MirrorFailed() {
	if m == nil {
		return
	}
	m.mirrorErrors.Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// QueueDropped matches the queue drop hook signature.
func (m *Metrics) QueueDropped(observation.Observation) {
	if m == nil {
		return
	}
	m.queueDropped.Inc()
}
