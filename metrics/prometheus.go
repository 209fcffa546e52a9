// Package metrics exposes capacity engine counters through Prometheus.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/warp/capacity-engine/capacity"
)

// DefaultNamespace prefixes every metric name when none is given.
const DefaultNamespace = "capacity"

// Collector implements capacity.Metrics and the audit gauges.
type Collector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	writes        *prometheus.CounterVec
	writeLatency  *prometheus.HistogramVec
	overAllocated prometheus.Gauge
	auditRuns     *prometheus.CounterVec
}

var _ capacity.Metrics = (*Collector)(nil)

// New creates a collector. A nil reg uses prometheus.DefaultRegisterer.
// Metrics are registered on first use.
func New(reg prometheus.Registerer, namespace string) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Collector{reg: reg, namespace: namespace}
}

func (c *Collector) ensureRegistered() {
	c.once.Do(func() {
		c.writes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: c.namespace,
			Subsystem: "writes",
			Name:      "total",
			Help:      "Validated writes by operation and result (accepted, error, or rejection reason).",
		}, []string{"op", "result"})

		c.writeLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: c.namespace,
			Subsystem: "writes",
			Name:      "duration_seconds",
			Help:      "Time spent validating and persisting a write, in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms .. ~1s
		}, []string{"op"})

		c.overAllocated = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: c.namespace,
			Subsystem: "audit",
			Name:      "over_allocated_engineers",
			Help:      "Engineers whose overlapping allocations exceed their max capacity, as of the last audit.",
		})

		c.auditRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: c.namespace,
			Subsystem: "audit",
			Name:      "runs_total",
			Help:      "Capacity audit runs by result (success, failure).",
		}, []string{"result"})

		c.reg.MustRegister(c.writes, c.writeLatency, c.overAllocated, c.auditRuns)
	})
}

// ObserveWrite records one write attempt.
func (c *Collector) ObserveWrite(op, result string, elapsed time.Duration) {
	c.ensureRegistered()
	c.writes.WithLabelValues(op, result).Inc()
	c.writeLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// SetOverAllocated sets the number of over-allocated engineers.
func (c *Collector) SetOverAllocated(n int) {
	c.ensureRegistered()
	c.overAllocated.Set(float64(n))
}

// RecordAudit counts an audit run.
func (c *Collector) RecordAudit(success bool) {
	c.ensureRegistered()
	result := "success"
	if !success {
		result = "failure"
	}
	c.auditRuns.WithLabelValues(result).Inc()
}
