package handler

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/SubzoneRegistry/internal/registry/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	subzoneSubdomains = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "subzone_subdomains",
		Help: "Number of stored subdomains by status.",
	}, []string{"status"})

	subzoneRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subzone_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	subzoneRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "subzone_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	subzoneDNSWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subzone_dns_writes_total",
		Help: "DNS directory writes by operation, record type, and result.",
	}, []string{"op", "type", "result"})

	subzoneReconcileRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subzone_reconcile_records_total",
		Help: "Records visited by the reconciler by outcome.",
	}, []string{"outcome"})
)

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
			path = "unmatched"
		}

		subzoneRequestsTotal.WithLabelValues(method, path, status).Inc()
		subzoneRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordDNSWrite counts a directory write. Its signature matches
// service.DNSObserver.
func RecordDNSWrite(op, recordType string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	subzoneDNSWritesTotal.WithLabelValues(op, recordType, result).Inc()
}

// RecordReconcile counts one record handled by the reconciler.
func RecordReconcile(outcome string) {
	subzoneReconcileRunsTotal.WithLabelValues(outcome).Inc()
}

// SetSubdomainsGauge sets the subdomain count gauge for every status.
func SetSubdomainsGauge(counts map[model.Status]int) {
	for _, s := range []model.Status{model.StatusPending, model.StatusApproved, model.StatusRejected} {
		subzoneSubdomains.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

// StatusCounter is satisfied by *service.Registry.
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[model.Status]int, error)
}

// RefreshSubdomainsGauge reloads the gauge from src every interval until
// ctx is cancelled. Errors leave the previous values in place.
func RefreshSubdomainsGauge(ctx context.Context, src StatusCounter, interval time.Duration) {
	refresh := func() {
		if counts, err := src.CountByStatus(ctx); err == nil {
			SetSubdomainsGauge(counts)
		}
	}
	refresh()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}
