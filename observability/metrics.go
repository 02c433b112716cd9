package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// BountyMetrics tracks marketplace activity as seen at the RPC boundary:
// operation outcomes by method and error kind, plus request latency.
type BountyMetrics struct {
	operations *prometheus.CounterVec
	rejections *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

var (
	bountyOnce     sync.Once
	bountyRegistry *BountyMetrics
)

func Bounty() *BountyMetrics {
	bountyOnce.Do(func() {
		bountyRegistry = &BountyMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "microbounty",
				Name:      "operations_total",
				Help:      "Count of completed marketplace operations by method.",
			}, []string{"method"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "microbounty",
				Name:      "rejections_total",
				Help:      "Count of rejected operations by method and error kind.",
			}, []string{"method", "kind"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "microbounty",
				Name:      "request_duration_seconds",
				Help:      "RPC request latency by method.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(
			bountyRegistry.operations,
			bountyRegistry.rejections,
			bountyRegistry.latency,
		)
	})
	return bountyRegistry
}

func (m *BountyMetrics) ObserveOperation(method string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(normalize(method)).Inc()
}

func (m *BountyMetrics) ObserveRejection(method, kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.rejections.WithLabelValues(normalize(method), kind).Inc()
}

func (m *BountyMetrics) ObserveLatency(method string, seconds float64) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(normalize(method)).Observe(seconds)
}

func normalize(method string) string {
	method = strings.TrimSpace(method)
	if method == "" {
		return "unknown"
	}
	return method
}
