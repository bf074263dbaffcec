// Package metrics defines the Prometheus instrumentation for the platform.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the collectors used across the HTTP layer and the
// orchestration services. A nil *Metrics is safe to call.
type Metrics struct {
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	inFlight       prometheus.Gauge
	probeResults   *prometheus.CounterVec
	publishResults *prometheus.CounterVec
	creditsDebited prometheus.Counter
}

// New registers the platform collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, path, and status.",
		}, []string{"method", "path", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "HTTP requests currently being served.",
		}),
		probeResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credential_probes_total",
			Help: "Credential verification probes by service and outcome.",
		}, []string{"probe_service", "valid"}),
		publishResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "publish_calls_total",
			Help: "Platform publish calls by platform and outcome.",
		}, []string{"platform", "success"}),
		creditsDebited: factory.NewCounter(prometheus.CounterOpts{
			Name: "credits_debited_total",
			Help: "Total credits debited from free-plan balances.",
		}),
	}
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// IncrementInFlight tracks a request entering the handler.
func (m *Metrics) IncrementInFlight() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// DecrementInFlight tracks a request leaving the handler.
func (m *Metrics) DecrementInFlight() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}

// RecordProbe records one credential probe outcome.
func (m *Metrics) RecordProbe(service string, valid bool) {
	if m == nil {
		return
	}
	m.probeResults.WithLabelValues(service, strconv.FormatBool(valid)).Inc()
}

// RecordPublish records one platform publish outcome.
func (m *Metrics) RecordPublish(platform string, success bool) {
	if m == nil {
		return
	}
	m.publishResults.WithLabelValues(platform, strconv.FormatBool(success)).Inc()
}

// RecordDebit records credits removed from a metered balance.
func (m *Metrics) RecordDebit(amount int) {
	if m == nil {
		return
	}
	m.creditsDebited.Add(float64(amount))
}
