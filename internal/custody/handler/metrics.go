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
	custodyEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custodia_custody_events_total",
		Help: "Total custody events appended, by action.",
	}, []string{"action"})

	transferDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custodia_transfer_decisions_total",
		Help: "Total transfer request decisions, by outcome.",
	}, []string{"outcome"})

	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custodia_verifications_total",
		Help: "Total chain verifications, by outcome (intact or broken).",
	}, []string{"outcome"})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custodia_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "custodia_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	webhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custodia_webhook_deliveries_total",
		Help: "Total webhook delivery attempts, by outcome.",
	}, []string{"outcome"})

	sweepChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custodia_sweep_checks_total",
		Help: "Total per-item checks performed by background integrity sweeps.",
	}, []string{"outcome"})
)

// RecordSweepCheck counts one item checked by an integrity sweep. It
// satisfies monitor.MetricsRecordFunc.
func RecordSweepCheck(intact bool) {
	outcome := "broken"
	if intact {
		outcome = "intact"
	}
	sweepChecksTotal.WithLabelValues(outcome).Inc()
}

// RecordWebhookDelivery counts a webhook delivery attempt. It satisfies
// webhooks.MetricsRecorder.
func RecordWebhookDelivery(success bool) {
	outcome := "failed"
	if success {
		outcome = "delivered"
	}
	webhookDeliveriesTotal.WithLabelValues(outcome).Inc()
}

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
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

		requestsTotal.WithLabelValues(method, path, status).Inc()
		requestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
