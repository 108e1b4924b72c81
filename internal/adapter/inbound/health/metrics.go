package health

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the proxy. Grounded on the
// teacher's internal/adapter/inbound/http/metrics.go, retargeted from MCP
// request/policy counters to OnGarde's scan/audit counters.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	ScanDuration    prometheus.Histogram
	BlockedTotal    *prometheus.CounterVec
	AuditDropsTotal prometheus.Counter
	AuditQueueDepth prometheus.Gauge
}

// NewMetrics creates a fresh registry, registers every metric against it,
// and returns both. A dedicated registry (rather than the global default)
// keeps /metrics free of the Go runtime's default collectors' noise and
// lets tests spin up independent Checkers without collector-name clashes.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ongarde",
				Name:      "requests_total",
				Help:      "Total number of proxied chat requests, by upstream and decision.",
			},
			[]string{"upstream", "decision"},
		),
		ScanDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "ongarde",
				Name:      "scan_duration_seconds",
				Help:      "Time spent scanning request/response content.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		BlockedTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ongarde",
				Name:      "blocked_total",
				Help:      "Total requests blocked, by rule_id.",
			},
			[]string{"rule_id"},
		),
		AuditDropsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "ongarde",
				Name:      "audit_drops_total",
				Help:      "Total audit records dropped due to backpressure.",
			},
		),
		AuditQueueDepth: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "ongarde",
				Name:      "audit_queue_depth",
				Help:      "Current depth of the async audit write channel.",
			},
		),
	}
}
