package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics records inbound request and outbound acquirer call latency for
// the /metrics endpoint.
type HTTPMetrics struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	gatewayDuration *prometheus.HistogramVec
}

var (
	httpMetricsOnce sync.Once
	httpMetrics     *HTTPMetrics
)

// NewHTTPMetrics registers collectors once against the default registry.
func NewHTTPMetrics() *HTTPMetrics {
	httpMetricsOnce.Do(func() {
		httpMetrics = newHTTPMetrics(prometheus.DefaultRegisterer)
	})
	return httpMetrics
}

func newHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acquiring_http_requests_total",
			Help: "Inbound HTTP requests by route and status.",
		}, []string{"route", "method", "status_code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "acquiring_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		gatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "acquiring_gateway_request_duration_seconds",
			Help:    "Outbound acquirer API latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"acquirer", "operation", "outcome"}),
	}
	reg.MustRegister(m.requests, m.requestDuration, m.gatewayDuration)
	return m
}

// ObserveGatewayCall records one outbound call.
func (m *HTTPMetrics) ObserveGatewayCall(acquirer, operation string, ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.gatewayDuration.WithLabelValues(acquirer, operation, outcome).Observe(elapsed.Seconds())
}

// GinMiddleware records request counts and latency per route template.
func GinMiddleware(m *HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		m.requests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.requestDuration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}
