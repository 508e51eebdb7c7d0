package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request duration histogram
	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "api_gateway",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"method", "path", "status_code"})

	// HTTP request counter
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "api_gateway",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "path", "status_code"})

	// Current active requests gauge
	activeRequests = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "api_gateway",
		Name:      "http_requests_active",
		Help:      "Number of active HTTP requests",
	}, []string{"method", "path"})

	// Request size histogram
	httpRequestSizeBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "api_gateway",
		Name:      "http_request_size_bytes",
		Help:      "Size of HTTP requests in bytes",
		Buckets:   []float64{100, 1000, 10000, 100000, 1000000},
	}, []string{"method", "path"})

	// Response size histogram
	httpResponseSizeBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "api_gateway",
		Name:      "http_response_size_bytes",
		Help:      "Size of HTTP responses in bytes",
		Buckets:   []float64{100, 1000, 10000, 100000, 1000000},
	}, []string{"method", "path"})

	// Proxy request metrics
	proxyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "api_gateway",
		Name:      "proxy_requests_total",
		Help:      "Total number of proxied requests",
	}, []string{"target_service", "status_code"})

	proxyRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "api_gateway",
		Name:      "proxy_request_duration_seconds",
		Help:      "Duration of proxied requests in seconds",
		Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"target_service"})

	// Retry attempt counter, incremented once per outbound attempt beyond
	// the first for a single logical proxied request.
	proxyRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "api_gateway",
		Name:      "proxy_retries_total",
		Help:      "Total number of retry attempts issued by the proxy engine",
	}, []string{"target_service"})

	// Service health metrics
	serviceHealthStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "api_gateway",
		Name:      "service_health_status",
		Help:      "Health status of downstream services (1=healthy, 0=unhealthy)",
	}, []string{"service"})

	// Gateway's own liveness FSM state, 0-4 per lifecycle.GatewayStatus.
	gatewayStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "api_gateway",
		Name:      "gateway_status",
		Help:      "Current gateway liveness status (0=STARTING,1=ACTIVE,2=HEALTH_CHECK_FAIL,3=REREGISTERING,4=SHUTTING_DOWN)",
	})
)

// PrometheusMiddleware creates a middleware that collects Prometheus metrics
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip metrics for the /metrics endpoint itself
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		// Normalize path to avoid high cardinality (replace IDs with placeholders)
		normalizedPath := normalizePath(path)

		// Track active requests
		activeRequests.WithLabelValues(method, normalizedPath).Inc()
		defer activeRequests.WithLabelValues(method, normalizedPath).Dec()

		// Track request size
		if c.Request.ContentLength > 0 {
			httpRequestSizeBytes.WithLabelValues(method, normalizedPath).Observe(float64(c.Request.ContentLength))
		}

		// Process request
		c.Next()

		// Calculate duration
		duration := time.Since(start).Seconds()
		statusCode := strconv.Itoa(c.Writer.Status())

		// Record metrics
		httpRequestDuration.WithLabelValues(method, normalizedPath, statusCode).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, normalizedPath, statusCode).Inc()

		// Track response size
		responseSize := c.Writer.Size()
		if responseSize > 0 {
			httpResponseSizeBytes.WithLabelValues(method, normalizedPath).Observe(float64(responseSize))
		}
	}
}

// RecordProxyRequest records metrics for a completed proxied request.
func RecordProxyRequest(targetService string, statusCode int, duration time.Duration) {
	proxyRequestsTotal.WithLabelValues(targetService, strconv.Itoa(statusCode)).Inc()
	proxyRequestDuration.WithLabelValues(targetService).Observe(duration.Seconds())
}

// RecordProxyRetry records one outbound retry attempt for targetService.
func RecordProxyRetry(targetService string) {
	proxyRetriesTotal.WithLabelValues(targetService).Inc()
}

// UpdateServiceHealth updates the health status of a downstream service
func UpdateServiceHealth(serviceName string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	serviceHealthStatus.WithLabelValues(serviceName).Set(value)
}

// SetGatewayStatus records the gateway's own FSM state as a gauge value
// (0-4), mirroring lifecycle.GatewayStatus's ordering.
func SetGatewayStatus(status int) {
	gatewayStatus.Set(float64(status))
}

// normalizePath collapses the fixed service prefixes plus a handful of
// ambient endpoints into low-cardinality labels.
func normalizePath(path string) string {
	switch {
	case path == "/":
		return "/"
	case path == "/metrics":
		return "/metrics"
	case strings.HasPrefix(path, "/health"):
		return "/health/*"
	case strings.HasPrefix(path, "/products"):
		return "/products/*"
	case strings.HasPrefix(path, "/orders"):
		return "/orders/*"
	case strings.HasPrefix(path, "/cart"):
		return "/cart/*"
	case strings.HasPrefix(path, "/users"):
		return "/users/*"
	default:
		return "/other"
	}
}
