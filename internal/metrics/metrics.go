// Package metrics exposes Prometheus collectors for the HTTP surface and the
// scheduling operations behind it.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	handler http.Handler

	requestDuration *prometheus.HistogramVec
	operations      *prometheus.CounterVec
}

// New registers the collectors on reg, or on the default registry when reg is
// nil. Tests pass their own registry so parallel instances never collide.
func New(namespace string, reg *prometheus.Registry) *Metrics {
	registerer := prometheus.Registerer(prometheus.DefaultRegisterer)
	handler := promhttp.Handler()
	if reg != nil {
		registerer = reg
		handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	factory := promauto.With(registerer)
	return &Metrics{
		handler: handler,
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method, route, and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduling_operations_total",
			Help:      "Scheduling operations by kind and outcome.",
		}, []string{"operation", "outcome"}),
	}
}

func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

func (m *Metrics) CountOperation(operation, outcome string) {
	m.operations.WithLabelValues(operation, outcome).Inc()
}

// Handler serves the scrape endpoint for the registry the collectors live on.
func (m *Metrics) Handler() http.Handler {
	return m.handler
}
