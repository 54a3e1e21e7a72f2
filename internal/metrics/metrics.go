// Package metrics holds the Prometheus collectors of the request pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Connection error reasons.
const (
	ReasonParse    = "parse"
	ReasonHandler  = "handler"
	ReasonFatal    = "fatal"
	ReasonWrite    = "write"
	ReasonInternal = "internal"
)

var (
	connectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scriptserve_connections_active",
			Help: "Current number of open connections",
		},
	)

	connectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scriptserve_connections_total",
			Help: "Total number of accepted connections",
		},
	)

	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scriptserve_requests_total",
			Help: "Total number of requests answered by the handler",
		},
		[]string{"method", "code"},
	)

	handlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scriptserve_handler_duration_seconds",
			Help:    "Handler invocation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	responseSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scriptserve_response_size_bytes",
			Help:    "Response body size in bytes",
			Buckets: []float64{100, 1000, 10000, 100000, 1000000},
		},
	)

	connectionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scriptserve_connection_errors_total",
			Help: "Connections closed because of an error, by reason",
		},
		[]string{"reason"},
	)
)

// ConnectionOpened records an accepted connection.
func ConnectionOpened() {
	connectionsTotal.Inc()
	connectionsActive.Inc()
}

// ConnectionClosed records a torn down connection.
func ConnectionClosed() {
	connectionsActive.Dec()
}

// ObserveHandler records one handler invocation.
func ObserveHandler(method string, d time.Duration) {
	handlerDuration.WithLabelValues(method).Observe(d.Seconds())
}

// RequestServed records a response handed to the transport.
func RequestServed(method string, code int, bodySize int) {
	requestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	responseSize.Observe(float64(bodySize))
}

// ConnectionError records a connection closed for reason.
func ConnectionError(reason string) {
	connectionErrors.WithLabelValues(reason).Inc()
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
