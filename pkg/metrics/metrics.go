// Package metrics exposes prometheus instrumentation for the memory layer.
//
// A nil *Collector is valid and records nothing, so components can be built
// without metrics in tests and one-shot commands.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/papercomputeco/reminisce/pkg/memory"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "reminisce"

// Recall lookup modes.
const (
	ModeFingerprint = "fingerprint"
	ModePattern     = "pattern"
)

// Sweep outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
)

// Collector holds the memory layer metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	recallHits      *prometheus.CounterVec
	recallMisses    *prometheus.CounterVec
	recallDuration  *prometheus.HistogramVec
	learned         prometheus.Counter
	invalidations   *prometheus.CounterVec
	invalidated     *prometheus.CounterVec
	sweepRuns       *prometheus.CounterVec
	sweepAffected   *prometheus.CounterVec
	sweepDuration   *prometheus.HistogramVec
	unitsByTier     *prometheus.GaugeVec
	totalAccess     prometheus.Gauge
	activeContexts  prometheus.Gauge
	droppedAccesses prometheus.Counter
}

// NewCollector creates a collector registered on a fresh registry.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		recallHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recall_hits_total",
			Help:      "Recall lookups that returned at least one memory",
		}, []string{"mode"}),

		recallMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recall_misses_total",
			Help:      "Recall lookups that returned nothing",
		}, []string{"mode"}),

		recallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recall_duration_seconds",
			Help:      "Recall lookup latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"mode"}),

		learned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "learned_total",
			Help:      "Memories written by learn",
		}),

		invalidations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalidation_events_total",
			Help:      "Entity change events processed, by resulting action",
		}, []string{"action"}),

		invalidated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalidated_units_total",
			Help:      "Memories touched by invalidation rules",
		}, []string{"action"}),

		sweepRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Maintenance sweep runs",
		}, []string{"sweep", "outcome"}),

		sweepAffected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_units_total",
			Help:      "Memories deleted or downgraded by sweeps",
		}, []string{"sweep", "effect"}),

		sweepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Maintenance sweep duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sweep"}),

		unitsByTier: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "units",
			Help:      "Stored memories by tier as of the last statistics refresh",
		}, []string{"tier"}),

		totalAccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "access_count",
			Help:      "Sum of accessCount across memories as of the last statistics refresh",
		}),

		activeContexts: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_contexts",
			Help:      "Query contexts held by the chain tracker",
		}),

		droppedAccesses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_jobs_coalesced_total",
			Help:      "Access statistic jobs folded into the overflow batch",
		}),
	}
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordRecall counts one recall lookup.
func (c *Collector) RecordRecall(mode string, hits int, d time.Duration) {
	if c == nil {
		return
	}
	if hits > 0 {
		c.recallHits.WithLabelValues(mode).Inc()
	} else {
		c.recallMisses.WithLabelValues(mode).Inc()
	}
	c.recallDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// RecordLearn counts a stored memory.
func (c *Collector) RecordLearn() {
	if c == nil {
		return
	}
	c.learned.Inc()
}

// RecordInvalidation counts an applied event and the memories it touched.
func (c *Collector) RecordInvalidation(action string, affected int) {
	if c == nil {
		return
	}
	c.invalidations.WithLabelValues(action).Inc()
	c.invalidated.WithLabelValues(action).Add(float64(affected))
}

// RecordSweep counts a sweep run.
func (c *Collector) RecordSweep(sweep, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.sweepRuns.WithLabelValues(sweep, outcome).Inc()
	if outcome != OutcomeSkipped {
		c.sweepDuration.WithLabelValues(sweep).Observe(d.Seconds())
	}
}

// RecordSweepEffect counts memories a sweep deleted or downgraded.
func (c *Collector) RecordSweepEffect(sweep, effect string, n int) {
	if c == nil || n == 0 {
		return
	}
	c.sweepAffected.WithLabelValues(sweep, effect).Add(float64(n))
}

// ObserveSummary publishes the gauges derived from a statistics refresh.
func (c *Collector) ObserveSummary(s *memory.Summary) {
	if c == nil || s == nil {
		return
	}
	for tier, n := range s.ByTier {
		c.unitsByTier.WithLabelValues(string(tier)).Set(float64(n))
	}
	c.totalAccess.Set(float64(s.TotalAccess))
}

// SetActiveContexts publishes the chain tracker population.
func (c *Collector) SetActiveContexts(n int) {
	if c == nil {
		return
	}
	c.activeContexts.Set(float64(n))
}

// RecordCoalescedAccess counts an access job that overflowed the queue.
func (c *Collector) RecordCoalescedAccess() {
	if c == nil {
		return
	}
	c.droppedAccesses.Inc()
}

// RecallHits returns the hit counter for a mode.
func (c *Collector) RecallHits(mode string) prometheus.Counter {
	return c.recallHits.WithLabelValues(mode)
}

// RecallMisses returns the miss counter for a mode.
func (c *Collector) RecallMisses(mode string) prometheus.Counter {
	return c.recallMisses.WithLabelValues(mode)
}
