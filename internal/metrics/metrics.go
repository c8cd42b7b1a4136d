// Package metrics exposes Prometheus collectors for skrape API traffic
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors for one client. Use New with a dedicated
// registry in tests, or Default for the process-wide registry.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
	quotaRemaining  prometheus.Gauge
	rateRemaining   prometheus.Gauge
	rateLimitResets prometheus.Gauge
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// New creates collectors and registers them with reg. A nil reg leaves them
// unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skrape_requests_total",
				Help: "Requests sent to the skrape API by endpoint and HTTP status (0 for transport failures).",
			},
			[]string{"endpoint", "status"},
		),
		requestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "skrape_request_duration_seconds",
				Help:    "Round-trip latency of skrape API requests.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
			},
			[]string{"endpoint"},
		),
		quotaRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "skrape_quota_remaining",
			Help: "Remaining request quota last reported by the service.",
		}),
		rateRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "skrape_rate_limit_remaining",
			Help: "Remaining requests in the current rate-limit window.",
		}),
		rateLimitResets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "skrape_rate_limit_reset_timestamp_seconds",
			Help: "Unix time at which the current rate-limit window resets.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.requestsTotal, m.requestLatency,
			m.quotaRemaining, m.rateRemaining, m.rateLimitResets,
		)
	}
	return m
}

// Default returns collectors registered once with prometheus.DefaultRegisterer
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = New(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// ObserveRequest records one round trip
func (m *Metrics) ObserveRequest(endpoint string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	m.requestLatency.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// ObserveUsage records the quota snapshot carried by a response
func (m *Metrics) ObserveUsage(remaining, rateRemaining int, reset int64) {
	if m == nil {
		return
	}
	m.quotaRemaining.Set(float64(remaining))
	m.rateRemaining.Set(float64(rateRemaining))
	m.rateLimitResets.Set(float64(reset))
}
