package syncer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for fieldsync_sync_outcomes_total
const (
	OutcomeSuccess  = "success"
	OutcomeConflict = "conflict"
	OutcomeRetry    = "retry"
	OutcomeFailed   = "failed"
	OutcomeAuth     = "auth"
)

// Metrics holds the sync engine's prometheus collectors. A nil *Metrics
// records nothing.
type Metrics struct {
	cycles   prometheus.Counter
	outcomes *prometheus.CounterVec
	depth    prometheus.Gauge
	attempt  prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fieldsync_sync_cycles_total",
			Help: "Sync cycles started.",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldsync_sync_outcomes_total",
			Help: "Remote apply outcomes by kind.",
		}, []string{"outcome"}),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fieldsync_queue_depth",
			Help: "Active updates waiting in the offline queue.",
		}),
		attempt: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fieldsync_sync_attempt_duration_seconds",
			Help:    "Latency of remote apply attempts.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.cycles, m.outcomes, m.depth, m.attempt)
	}
	return m
}

func (m *Metrics) cycleStarted() {
	if m == nil {
		return
	}
	m.cycles.Inc()
}

func (m *Metrics) outcome(kind string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(kind).Inc()
}

func (m *Metrics) queueDepth(n int) {
	if m == nil {
		return
	}
	m.depth.Set(float64(n))
}

func (m *Metrics) observeAttempt(d time.Duration) {
	if m == nil {
		return
	}
	m.attempt.Observe(d.Seconds())
}
