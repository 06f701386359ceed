package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector is the Collector backed by
// github.com/prometheus/client_golang: counters for request outcomes,
// a histogram for response time distribution. Min/max/avg response
// time are not directly queryable from a Prometheus histogram, so
// they're tracked alongside it as a cumulative min, max and sum over
// every observed success, under a dedicated mutex, while plain
// counters are mirrored in atomics.
type PrometheusCollector struct {
	registry *prometheus.Registry

	requestsTotal    prometheus.Counter
	successTotal     prometheus.Counter
	failureTotal     prometheus.Counter
	retryTotal       prometheus.Counter
	totalRetries     prometheus.Counter
	responseTimeHist prometheus.Histogram

	// Plain counters mirror the Prometheus ones so Snapshot can read
	// exact values without round-tripping through the metric family
	// wire format.
	requestsCount int64
	successCount  int64
	failureCount  int64
	retryCount    int64
	retriesCount  int64

	mu              sync.Mutex
	minResponseTime time.Duration
	maxResponseTime time.Duration
	sumResponseTime time.Duration
	successSamples  int64
}

// NewPrometheusCollector builds a Collector with its own Prometheus
// registry (not the global DefaultRegisterer), so multiple instances
// can coexist in the same process without MustRegister panicking on
// duplicate metric names.
func NewPrometheusCollector() *PrometheusCollector {
	c := &PrometheusCollector{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webants_downloader_requests_total",
			Help: "First-time request dispatches.",
		}),
		successTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webants_downloader_successful_requests_total",
			Help: "Requests that reached a terminal success.",
		}),
		failureTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webants_downloader_failed_requests_total",
			Help: "Requests that reached a terminal failure.",
		}),
		retryTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webants_downloader_retried_requests_total",
			Help: "Retry attempts, counted once per retry.",
		}),
		totalRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webants_downloader_retries_total",
			Help: "Total retry attempts across all requests.",
		}),
		responseTimeHist: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "webants_downloader_response_time_seconds",
			Help:    "Response time distribution for completed fetches.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	c.registry.MustRegister(
		c.requestsTotal,
		c.successTotal,
		c.failureTotal,
		c.retryTotal,
		c.totalRetries,
		c.responseTimeHist,
	)

	return c
}

// Registry exposes the underlying Prometheus registry so a composition
// root can wire it into promhttp.HandlerFor.
func (c *PrometheusCollector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *PrometheusCollector) ObserveRequest() {
	c.requestsTotal.Inc()
	atomic.AddInt64(&c.requestsCount, 1)
}

func (c *PrometheusCollector) ObserveRetry() {
	c.retryTotal.Inc()
	c.totalRetries.Inc()
	atomic.AddInt64(&c.retryCount, 1)
	atomic.AddInt64(&c.retriesCount, 1)
}

func (c *PrometheusCollector) ObserveSuccess(elapsed time.Duration) {
	c.successTotal.Inc()
	c.responseTimeHist.Observe(elapsed.Seconds())
	atomic.AddInt64(&c.successCount, 1)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.minResponseTime == 0 || elapsed < c.minResponseTime {
		c.minResponseTime = elapsed
	}
	if elapsed > c.maxResponseTime {
		c.maxResponseTime = elapsed
	}
	c.sumResponseTime += elapsed
	c.successSamples++
}

func (c *PrometheusCollector) ObserveFailure() {
	c.failureTotal.Inc()
	atomic.AddInt64(&c.failureCount, 1)
}

func (c *PrometheusCollector) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var avg time.Duration
	if c.successSamples > 0 {
		avg = c.sumResponseTime / time.Duration(c.successSamples)
	}

	return Stats{
		TotalRequests:      atomic.LoadInt64(&c.requestsCount),
		SuccessfulRequests: atomic.LoadInt64(&c.successCount),
		FailedRequests:     atomic.LoadInt64(&c.failureCount),
		RetryRequests:      atomic.LoadInt64(&c.retryCount),
		TotalRetries:       atomic.LoadInt64(&c.retriesCount),
		MinResponseTime:    c.minResponseTime,
		MaxResponseTime:    c.maxResponseTime,
		AvgResponseTime:    avg,
		TotalTime:          c.sumResponseTime,
	}
}

var _ Collector = (*PrometheusCollector)(nil)
