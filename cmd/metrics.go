package main

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "alm_pool"

// serviceMetrics are the prometheus collectors for upstream traffic and
// the metrics cache. A nil *serviceMetrics records nothing.
type serviceMetrics struct {
	// UpstreamRequests counts requests to solr and ALM by upstream and HTTP status.
	UpstreamRequests *prometheus.CounterVec

	// UpstreamDuration observes upstream request latency in seconds.
	UpstreamDuration *prometheus.HistogramVec

	// CacheLookups counts metrics cache lookups by result (hit, miss).
	CacheLookups *prometheus.CounterVec

	// ALMBatches counts ALM batches sent.
	ALMBatches prometheus.Counter
}

func newServiceMetrics(reg prometheus.Registerer) *serviceMetrics {
	factory := promauto.With(reg)
	return &serviceMetrics{
		UpstreamRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "upstream_requests_total",
			Help:      "Total number of requests sent to upstream services",
		}, []string{"upstream", "status"}),
		UpstreamDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Duration of upstream requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"upstream"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cache_lookups_total",
			Help:      "Total number of metrics cache lookups",
		}, []string{"result"}),
		ALMBatches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "alm_batches_total",
			Help:      "Total number of ALM batch requests",
		}),
	}
}

// recordUpstream records one upstream call. status 0 means no response was received.
func (m *serviceMetrics) recordUpstream(upstream string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamRequests.WithLabelValues(upstream, strconv.Itoa(status)).Inc()
	m.UpstreamDuration.WithLabelValues(upstream).Observe(elapsed.Seconds())
}

func (m *serviceMetrics) recordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

func (m *serviceMetrics) recordBatch() {
	if m == nil {
		return
	}
	m.ALMBatches.Inc()
}
