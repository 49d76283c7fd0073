package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "storefront"

// Refresh outcomes recorded on the token refresh counter.
const (
	RefreshSuccess = "success"
	RefreshFailure = "failure"
)

// ClientMetrics records API client and cart persistence activity.
type ClientMetrics struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	refreshes       *prometheus.CounterVec
	refreshWaiters  prometheus.Histogram
	persistFailures prometheus.Counter
}

// NewClientMetrics registers the client metrics on the provided registerer.
func NewClientMetrics(reg prometheus.Registerer) *ClientMetrics {
	if reg == nil {
		return &ClientMetrics{}
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "API requests by method and response status.",
	}, []string{"method", "status"})
	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "API request round-trip duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})
	refreshes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_refresh_total",
		Help:      "Token refresh exchanges by outcome.",
	}, []string{"outcome"})
	refreshWaiters := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "token_refresh_waiters",
		Help:      "Requests that joined an in-flight refresh instead of starting one.",
		Buckets:   []float64{0, 1, 2, 5, 10, 25},
	})
	persistFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cart_persist_failures_total",
		Help:      "Cart snapshots that could not be written to storage.",
	})
	reg.MustRegister(requests, requestDuration, refreshes, refreshWaiters, persistFailures)
	return &ClientMetrics{
		requests:        requests,
		requestDuration: requestDuration,
		refreshes:       refreshes,
		refreshWaiters:  refreshWaiters,
		persistFailures: persistFailures,
	}
}

// ObserveRequest records one HTTP round trip. A zero status means the transport failed.
func (c *ClientMetrics) ObserveRequest(method string, status int, duration time.Duration) {
	if c == nil || c.requests == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	c.requests.WithLabelValues(normalizeLabel(method), label).Inc()
	c.requestDuration.WithLabelValues(normalizeLabel(method)).Observe(duration.Seconds())
}

// ObserveRefresh records a settled refresh exchange and how many callers shared it.
func (c *ClientMetrics) ObserveRefresh(outcome string, waiters int) {
	if c == nil || c.refreshes == nil {
		return
	}
	c.refreshes.WithLabelValues(normalizeLabel(outcome)).Inc()
	c.refreshWaiters.Observe(float64(waiters))
}

// IncPersistFailure counts a failed cart snapshot write.
func (c *ClientMetrics) IncPersistFailure() {
	if c == nil || c.persistFailures == nil {
		return
	}
	c.persistFailures.Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
