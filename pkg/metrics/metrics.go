// Package metrics provides the Prometheus metrics nsscache exposes for its
// refresh cycles, replacing what was previously a much larger
// business/technical/infra metrics taxonomy for an HTTP alert pipeline.
// Grounded on that taxonomy's promauto/namespace/subsystem idiom and
// lazy-singleton Registry shape, narrowed to the one subsystem this domain
// actually has: cache refreshes.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nsscache"

// Registry holds every metric nsscache records during a refresh cycle.
type Registry struct {
	RefreshDuration *prometheus.HistogramVec
	RefreshTotal    *prometheus.CounterVec
	EntriesWritten  *prometheus.GaugeVec
	LockWaitSeconds prometheus.Histogram
}

var (
	defaultRegistry *Registry
	once            sync.Once
)

// Default returns the process-wide metrics registry, constructing it on
// first use.
func Default() *Registry {
	once.Do(func() { defaultRegistry = New() })
	return defaultRegistry
}

// New builds a fresh Registry, registering its metrics with the default
// Prometheus registerer. Tests that need isolation should construct their
// own prometheus.Registry and use NewWithRegisterer instead.
func New() *Registry {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer builds a Registry against an explicit registerer.
func NewWithRegisterer(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		RefreshDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "refresh",
				Name:      "duration_seconds",
				Help:      "Duration of one map refresh cycle.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"map", "source", "outcome"},
		),
		RefreshTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "refresh",
				Name:      "total",
				Help:      "Total number of refresh cycles, by outcome.",
			},
			[]string{"map", "source", "outcome"},
		),
		EntriesWritten: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "entries",
				Help:      "Number of entries in the most recently committed cache for a map.",
			},
			[]string{"map"},
		),
		LockWaitSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "lock",
				Name:      "wait_seconds",
				Help:      "Time spent waiting to acquire the per-host update lock.",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
}

// Outcome labels used with RefreshDuration/RefreshTotal.
const (
	OutcomeSuccess   = "success"
	OutcomeUnchanged = "unchanged"
	OutcomeError     = "error"
)
