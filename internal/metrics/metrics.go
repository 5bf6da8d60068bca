// Package metrics exposes Prometheus counters/gauges/histograms for the
// control plane's `GET /metrics` endpoint (spec section 6, supplemented).
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process's Prometheus collectors, registered against a
// private registry rather than the global default so tests can construct
// one per case without collisions.
type Metrics struct {
	registry *prometheus.Registry

	channelUp        *prometheus.GaugeVec
	restartTotal     *prometheus.CounterVec
	recorderSegments *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New builds a Metrics with all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		channelUp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dvrbridge_channel_up",
			Help: "1 if the channel's ingest pipeline is currently streaming, 0 otherwise.",
		}, []string{"channel"}),
		restartTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dvrbridge_channel_restart_total",
			Help: "Count of ingest pipeline restarts per channel.",
		}, []string{"channel"}),
		recorderSegments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dvrbridge_recorder_segments_total",
			Help: "Count of recorded segment files completed per channel.",
		}, []string{"channel"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dvrbridge_http_request_duration_seconds",
			Help:    "HTTP API request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
}

// Handler serves the Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetChannelUp records whether channel's ingest pipeline is streaming.
func (m *Metrics) SetChannelUp(channel int, up bool) {
	v := 0.0
	if up {
		v = 1.0
	}
	m.channelUp.WithLabelValues(strconv.Itoa(channel)).Set(v)
}

// IncRestart records one ingest pipeline restart for channel.
func (m *Metrics) IncRestart(channel int) {
	m.restartTotal.WithLabelValues(strconv.Itoa(channel)).Inc()
}

// IncRecorderSegment records one completed recording segment for channel.
func (m *Metrics) IncRecorderSegment(channel int) {
	m.recorderSegments.WithLabelValues(strconv.Itoa(channel)).Inc()
}

// ObserveHTTPRequest records one HTTP API request's duration.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, d time.Duration) {
	m.httpDuration.WithLabelValues(method, path, strconv.Itoa(status)).Observe(d.Seconds())
}

// statusRecorder wraps http.ResponseWriter to capture the status code
// written by the handler it wraps.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Instrument wraps next so every request's duration and status are
// recorded under (method, path).
func (m *Metrics) Instrument(path string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next(rec, r)
		m.ObserveHTTPRequest(r.Method, path, rec.status, time.Since(start))
	}
}
