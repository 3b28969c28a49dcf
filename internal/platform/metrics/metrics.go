package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the stream recorder.
type Metrics struct {
	registry             *prometheus.Registry
	probesTotal          prometheus.Counter
	captureAttemptsTotal prometheus.Counter
	segmentsWrittenTotal prometheus.Counter
	reconnectsTotal      prometheus.Counter
	mergeFailuresTotal   prometheus.Counter
	captureActive        prometheus.Gauge
	segmentsOnDisk       prometheus.Gauge
}

// New creates and registers Prometheus metrics for the recorder.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	probesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recorder_probes_total",
		Help: "Total number of liveness probes issued",
	})
	captureAttemptsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recorder_capture_attempts_total",
		Help: "Total number of capture attempts started",
	})
	segmentsWrittenTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recorder_segments_written_total",
		Help: "Total number of usable segments written to disk",
	})
	reconnectsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recorder_reconnects_total",
		Help: "Total number of reconnects consumed after drops",
	})
	mergeFailuresTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recorder_merge_failures_total",
		Help: "Total number of failed merge runs",
	})
	captureActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "recorder_capture_active",
		Help: "Whether a capture subprocess is currently running (0 or 1)",
	})
	segmentsOnDisk := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "recorder_segments_on_disk",
		Help: "Number of segments recorded so far in this session",
	})

	registry.MustRegister(
		probesTotal,
		captureAttemptsTotal,
		segmentsWrittenTotal,
		reconnectsTotal,
		mergeFailuresTotal,
		captureActive,
		segmentsOnDisk,
	)

	return &Metrics{
		registry:             registry,
		probesTotal:          probesTotal,
		captureAttemptsTotal: captureAttemptsTotal,
		segmentsWrittenTotal: segmentsWrittenTotal,
		reconnectsTotal:      reconnectsTotal,
		mergeFailuresTotal:   mergeFailuresTotal,
		captureActive:        captureActive,
		segmentsOnDisk:       segmentsOnDisk,
	}
}

// IncProbes increments the liveness probe counter.
func (m *Metrics) IncProbes() {
	m.probesTotal.Inc()
}

// IncCaptureAttempts increments the capture attempt counter.
func (m *Metrics) IncCaptureAttempts() {
	m.captureAttemptsTotal.Inc()
}

// IncSegmentsWritten increments the segments written counter.
func (m *Metrics) IncSegmentsWritten() {
	m.segmentsWrittenTotal.Inc()
}

// IncReconnects increments the reconnect counter.
func (m *Metrics) IncReconnects() {
	m.reconnectsTotal.Inc()
}

// IncMergeFailures increments the merge failure counter.
func (m *Metrics) IncMergeFailures() {
	m.mergeFailuresTotal.Inc()
}

// SetCaptureActive flags whether a capture subprocess is running.
func (m *Metrics) SetCaptureActive(active bool) {
	if active {
		m.captureActive.Set(1)
	} else {
		m.captureActive.Set(0)
	}
}

// SetSegmentsOnDisk sets the recorded segment gauge.
func (m *Metrics) SetSegmentsOnDisk(n int) {
	m.segmentsOnDisk.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g.
// segments on disk).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
