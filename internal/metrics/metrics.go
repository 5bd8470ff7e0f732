// Package metrics registers the blackboard's Prometheus instruments.
// Grounded on 99souls-ariadne's registry-wrapped counter/gauge/
// histogram map pattern (engine/telemetry/metrics/prometheus.go).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every instrument the engine and transport update.
type Metrics struct {
	ActivePheromones  prometheus.Gauge
	ScentCount        prometheus.Gauge
	TriggerFires      *prometheus.CounterVec
	SSESubscribers    prometheus.Gauge
	EvaluationTickMs  prometheus.Histogram
	EmitTotal         *prometheus.CounterVec
}

// New constructs Metrics and registers every instrument against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActivePheromones: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sbp",
			Name:      "active_pheromones",
			Help:      "Number of non-evaporated pheromones in the store, as of the last emit that created one.",
		}),
		ScentCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sbp",
			Name:      "scents_registered",
			Help:      "Number of scents currently registered.",
		}),
		TriggerFires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sbp",
			Name:      "trigger_fires_total",
			Help:      "Total number of trigger dispatches, by scent_id.",
		}, []string{"scent_id"}),
		SSESubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sbp",
			Name:      "sse_subscribers",
			Help:      "Number of currently connected SSE subscribers.",
		}),
		EvaluationTickMs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sbp",
			Name:      "evaluation_tick_duration_ms",
			Help:      "Duration of a single evaluation loop tick, in milliseconds.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		EmitTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sbp",
			Name:      "emit_total",
			Help:      "Total number of emit calls, by action (created/reinforced/replaced/merged).",
		}, []string{"action"}),
	}

	reg.MustRegister(m.ActivePheromones, m.ScentCount, m.TriggerFires, m.SSESubscribers, m.EvaluationTickMs, m.EmitTotal)
	return m
}

// ObserveTick records how long an evaluation tick took.
func (m *Metrics) ObserveTick(d time.Duration) {
	m.EvaluationTickMs.Observe(float64(d.Microseconds()) / 1000.0)
}

// The following adapter methods satisfy blackboard.MetricsSink,
// keeping the core decoupled from this concrete Prometheus backend.

func (m *Metrics) SetActivePheromones(n int) {
	m.ActivePheromones.Set(float64(n))
}

func (m *Metrics) SetScentCount(n int) {
	m.ScentCount.Set(float64(n))
}

func (m *Metrics) IncTriggerFire(scentID string) {
	m.TriggerFires.WithLabelValues(scentID).Inc()
}

func (m *Metrics) IncEmit(action string) {
	m.EmitTotal.WithLabelValues(action).Inc()
}

// SetSSESubscribers satisfies transport.SubscriberMetricsSink.
func (m *Metrics) SetSSESubscribers(n int) {
	m.SSESubscribers.Set(float64(n))
}
