package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records per-route request counts and latencies.
type Metrics struct {
	registry *prometheus.Registry
	requests  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	phiAccess *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry:  reg,
		requests:  prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "records",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"method", "route", "status"}),
		duration:  prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "records",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		phiAccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "records",
			Name:      "phi_access_total",
			Help:      "Audited patient data accesses by resource and action.",
		}, []string{"resource", "action"}),
	}
	reg.MustRegister(m.requests, m.duration, m.phiAccess)
	return m
}

// RecordAccess counts one audited access. Metrics is an AuditRecorder.
func (m *Metrics) RecordAccess(entry AuditEntry) error {
	m.phiAccess.WithLabelValues(entry.Resource, entry.Action).Inc()
	return nil
}

// Registry exposes the registry so other components can add collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Middleware observes every request. Routes are labelled by their template
// ("/api/v1/patients/:id") rather than the raw path.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.requests.WithLabelValues(method, route, strconv.Itoa(responseStatus(c, err))).Inc()
			m.duration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
