// Package metrics exposes prometheus collectors for the cache and
// connection-pool subsystems. The cache layer is best-effort and swallows
// storage errors on its read path; the swallowed-error counter here is the
// observability hook that keeps those failures visible.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors owned by the composition root.
type Metrics struct {
	CacheHits          prometheus.Counter
	CacheMisses        prometheus.Counter
	CacheErrorsDropped prometheus.Counter
	RegistrySyncs      *prometheus.CounterVec
	PoolConnectSeconds prometheus.Histogram
	PoolConnections    prometheus.Gauge
}

// New creates the collectors and registers them with reg. Pass a fresh
// prometheus.NewRegistry in tests to avoid cross-test collisions.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "holdesk",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Search cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "holdesk",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Search cache misses.",
		}),
		CacheErrorsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "holdesk",
			Subsystem: "cache",
			Name:      "errors_dropped_total",
			Help:      "Storage errors swallowed by the best-effort cache read path.",
		}),
		RegistrySyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "holdesk",
			Subsystem: "registry",
			Name:      "syncs_total",
			Help:      "Registry sync attempts by registry and outcome.",
		}, []string{"registry", "status"}),
		PoolConnectSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "holdesk",
			Subsystem: "pool",
			Name:      "connect_seconds",
			Help:      "MCP server connection latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		PoolConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "holdesk",
			Subsystem: "pool",
			Name:      "connections",
			Help:      "Currently tracked MCP server connections.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.CacheHits, m.CacheMisses, m.CacheErrorsDropped,
			m.RegistrySyncs, m.PoolConnectSeconds, m.PoolConnections)
	}
	return m
}

// NewUnregistered creates collectors without registering them. Convenient for
// components that accept an optional *Metrics.
func NewUnregistered() *Metrics {
	return New(nil)
}
