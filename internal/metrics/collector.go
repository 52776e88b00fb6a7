// Package metrics collects Prometheus metrics for connection pools and the
// S3 meta-request engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector owns the metric families for one library instance. Components
// record into it through narrow methods rather than touching the vectors
// directly.
type Collector struct {
	registry *prometheus.Registry

	requestCounter  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	bytesTransferred *prometheus.CounterVec
	partRetries     *prometheus.CounterVec

	poolIdle   *prometheus.GaugeVec
	poolInUse  *prometheus.GaugeVec
	poolWaiters *prometheus.GaugeVec
}

// NewCollector creates a collector registered against its own registry.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "objectstream"
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
		requestCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "HTTP requests issued, by operation and outcome",
		}, []string{"operation", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration, by operation",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"operation"}),
		bytesTransferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_transferred_total",
			Help:      "Object bytes transferred, by direction",
		}, []string{"direction"}),
		partRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "part_retries_total",
			Help:      "Multipart part retry attempts, by operation",
		}, []string{"operation"}),
		poolIdle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_idle_connections",
			Help:      "Idle connections per endpoint pool",
		}, []string{"endpoint"}),
		poolInUse: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_inuse_connections",
			Help:      "In-use connections per endpoint pool",
		}, []string{"endpoint"}),
		poolWaiters: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_waiters",
			Help:      "Callers waiting for a connection per endpoint pool",
		}, []string{"endpoint"}),
	}

	c.registry.MustRegister(
		c.requestCounter,
		c.requestDuration,
		c.bytesTransferred,
		c.partRetries,
		c.poolIdle,
		c.poolInUse,
		c.poolWaiters,
	)
	return c
}

// Registry exposes the underlying registry so callers can mount it on a
// promhttp handler of their own.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordRequest records one completed HTTP request.
func (c *Collector) RecordRequest(operation string, duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.requestCounter.WithLabelValues(operation, outcome).Inc()
	c.requestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordBytes records transferred object bytes. Direction is "upload" or
// "download".
func (c *Collector) RecordBytes(direction string, n int64) {
	if n > 0 {
		c.bytesTransferred.WithLabelValues(direction).Add(float64(n))
	}
}

// RecordPartRetry records one retried part.
func (c *Collector) RecordPartRetry(operation string) {
	c.partRetries.WithLabelValues(operation).Inc()
}

// SetPoolGauges updates the pool occupancy gauges for an endpoint.
func (c *Collector) SetPoolGauges(endpoint string, idle, inUse, waiters int) {
	c.poolIdle.WithLabelValues(endpoint).Set(float64(idle))
	c.poolInUse.WithLabelValues(endpoint).Set(float64(inUse))
	c.poolWaiters.WithLabelValues(endpoint).Set(float64(waiters))
}

// Nop is a collector that records nothing; used when the caller does not
// configure metrics.
var Nop = NewCollector("objectstream_nop")
