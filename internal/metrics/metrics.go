// Package metrics exposes the core's Prometheus instrumentation.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every counter/histogram the core's workers and producers
// report through.
type Metrics struct {
	jobsClaimed     *prometheus.CounterVec
	deliveryOutcome *prometheus.CounterVec
	deliveryLatency *prometheus.HistogramVec
	dedupHits       *prometheus.CounterVec
	optOuts         *prometheus.CounterVec
	auditDivergence *prometheus.CounterVec
}

// New builds the metric set and registers it with reg. A nil reg registers
// against prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobsClaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agenda",
			Subsystem: "jobs",
			Name:      "claimed_total",
			Help:      "Total MessageJob rows claimed by the delivery worker",
		}, []string{"kind"}),
		deliveryOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agenda",
			Subsystem: "delivery",
			Name:      "outcome_total",
			Help:      "Delivery outcomes by terminal transition",
		}, []string{"kind", "outcome"}),
		deliveryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agenda",
			Subsystem: "delivery",
			Name:      "send_latency_seconds",
			Help:      "Latency of a single outbound transmit attempt",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		dedupHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agenda",
			Subsystem: "dedup",
			Name:      "suppressed_total",
			Help:      "Sends suppressed because a dedupe record already existed",
		}, []string{"kind"}),
		optOuts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agenda",
			Subsystem: "optout",
			Name:      "events_total",
			Help:      "Opt-out/opt-in events processed",
		}, []string{"direction"}),
		auditDivergence: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agenda",
			Subsystem: "audit",
			Name:      "divergences_total",
			Help:      "Divergences emitted by the daily audit reconciler",
		}, []string{"type", "severity"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.jobsClaimed, m.deliveryOutcome, m.deliveryLatency, m.dedupHits, m.optOuts, m.auditDivergence)
	return m
}

func (m *Metrics) ObserveClaimed(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.jobsClaimed.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) ObserveDeliveryOutcome(kind, outcome string) {
	if m == nil {
		return
	}
	m.deliveryOutcome.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveSendLatency(kind string, seconds float64) {
	if m == nil {
		return
	}
	m.deliveryLatency.WithLabelValues(kind).Observe(seconds)
}

func (m *Metrics) ObserveDedupHit(kind string) {
	if m == nil {
		return
	}
	m.dedupHits.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveOptOutEvent(direction string) {
	if m == nil {
		return
	}
	m.optOuts.WithLabelValues(direction).Inc()
}

func (m *Metrics) ObserveAuditDivergence(divergenceType, severity string) {
	if m == nil {
		return
	}
	m.auditDivergence.WithLabelValues(divergenceType, severity).Inc()
}
