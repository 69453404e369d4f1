// Package metrics exposes Prometheus metrics for folder downloads.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge
	bytesDownloaded prometheus.Counter
	filesDownloaded prometheus.Counter
	folderBytes     prometheus.Histogram
}

// New creates a private registry with process and Go collectors plus the
// folder download metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sharezip",
			Name:      "folder_requests_total",
			Help:      "Folder download requests by outcome.",
		}, []string{"outcome"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sharezip",
			Name:      "folder_request_duration_seconds",
			Help:      "Time to materialize a folder, by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~7min
		}, []string{"outcome"}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "sharezip",
			Name:      "folder_requests_in_flight",
			Help:      "Folder requests currently being materialized.",
		}),
		bytesDownloaded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sharezip",
			Name:      "downloaded_bytes_total",
			Help:      "Bytes fetched from the remote share.",
		}),
		filesDownloaded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sharezip",
			Name:      "downloaded_files_total",
			Help:      "Files fetched from the remote share.",
		}),
		folderBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sharezip",
			Name:      "folder_size_bytes",
			Help:      "Listed size of successfully materialized folders.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 12), // 1KiB to 4GiB
		}),
	}
}

// RequestStarted marks a request as in flight.
func (m *Metrics) RequestStarted() {
	m.inFlight.Inc()
}

// RequestFinished records the outcome of a request.
func (m *Metrics) RequestFinished(outcome string, duration time.Duration, files int, bytes uint64) {
	m.inFlight.Dec()
	m.requestsTotal.WithLabelValues(outcome).Inc()
	m.requestDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	m.filesDownloaded.Add(float64(files))
	if outcome == "success" {
		m.folderBytes.Observe(float64(bytes))
	}
}

// BytesDownloaded adds n fetched bytes.
func (m *Metrics) BytesDownloaded(n int64) {
	if n > 0 {
		m.bytesDownloaded.Add(float64(n))
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
