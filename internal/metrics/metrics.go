// Package metrics exports Prometheus metrics for the detection engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all reviewguard Prometheus metrics.
type Metrics struct {
	// Sweep metrics
	SweepsTotal       prometheus.Counter
	SweepDuration     prometheus.Histogram
	BusinessesChecked prometheus.Counter
	SweepFailures     prometheus.Counter

	// Detection metrics
	AttacksDetected  *prometheus.CounterVec
	IncidentsCreated prometheus.Counter

	// Mitigation metrics
	BusinessesProtected prometheus.Counter
	ReviewsHeld         prometheus.Counter

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New registers and returns the metric set.
func New() *Metrics {
	return &Metrics{
		SweepsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "reviewguard_sweeps_total",
			Help: "Total detection sweeps run",
		}),
		SweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "reviewguard_sweep_duration_seconds",
			Help:    "Time to complete one detection sweep",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
		}),
		BusinessesChecked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "reviewguard_businesses_checked_total",
			Help: "Total businesses evaluated across all sweeps",
		}),
		SweepFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "reviewguard_sweep_failures_total",
			Help: "Total per-business evaluation failures",
		}),
		AttacksDetected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "reviewguard_attacks_detected_total",
			Help: "Total attack-positive evaluations by severity",
		}, []string{"severity"}),
		IncidentsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "reviewguard_incidents_created_total",
			Help: "Total fresh incidents opened",
		}),
		BusinessesProtected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "reviewguard_businesses_protected_total",
			Help: "Total rating-protection actions applied",
		}),
		ReviewsHeld: promauto.NewCounter(prometheus.CounterOpts{
			Name: "reviewguard_reviews_held_total",
			Help: "Total reviews transitioned to held",
		}),
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "reviewguard_http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reviewguard_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "route"}),
	}
}

// Handler returns the Prometheus scrape handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency per route. The route
// template is used rather than the raw path so ids do not explode
// cardinality.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		m.RequestsTotal.WithLabelValues(
			c.Request.Method,
			route,
			strconv.Itoa(c.Writer.Status()),
		).Inc()
		m.RequestDuration.WithLabelValues(c.Request.Method, route).
			Observe(time.Since(start).Seconds())
	}
}
