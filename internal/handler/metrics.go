package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	omegaRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omega_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	omegaRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "omega_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	omegaProofsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omega_proofs_recorded_total",
		Help: "Total proof commitments recorded, by kind.",
	}, []string{"kind"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request
// metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		omegaRequestsTotal.WithLabelValues(method, path, status).Inc()
		omegaRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsRoute mounts the Prometheus scrape endpoint.
func MetricsRoute(router *gin.Engine) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func observeProof(kind string) {
	omegaProofsTotal.WithLabelValues(kind).Inc()
}
