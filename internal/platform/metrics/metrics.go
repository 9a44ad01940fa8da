// Package metrics exposes Prometheus instrumentation for the lab service:
// workflow counters fed by the request engine and HTTP latency recorded by
// an echo middleware.
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lab"

type Metrics struct {
	registry        *prometheus.Registry
	requestsCreated *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New builds a Metrics instance on its own registry so tests can create as
// many as they like.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_created_total",
			Help:      "Lab requests created, by patient type and priority.",
		}, []string{"patient_type", "priority"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "test_order_transitions_total",
			Help:      "Test order status transitions.",
		}, []string{"from", "to"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	m.registry.MustRegister(
		m.requestsCreated,
		m.transitions,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// LabRequestCreated counts a newly created lab request.
func (m *Metrics) LabRequestCreated(patientType, priority string) {
	m.requestsCreated.WithLabelValues(patientType, priority).Inc()
}

// TestOrderTransition counts a single test order status change.
func (m *Metrics) TestOrderTransition(from, to string) {
	m.transitions.WithLabelValues(from, to).Inc()
}

// Middleware records request latency labelled by the matched route pattern
// rather than the raw path, keeping label cardinality bounded.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.httpDuration.
				WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
