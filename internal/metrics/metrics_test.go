package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveClaimed("pre_visit", 3)
	m.ObserveDeliveryOutcome("pre_visit", "sent")
	m.ObserveSendLatency("pre_visit", 0.2)
	m.ObserveDedupHit("no_show_check")
	m.ObserveOptOutEvent("opt_out")
	m.ObserveAuditDivergence("missing_notification", "high")
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveClaimed("pre_visit", 1)
	m.ObserveDeliveryOutcome("pre_visit", "sent")
	m.ObserveSendLatency("pre_visit", 0.1)
	m.ObserveDedupHit("pre_visit")
	m.ObserveOptOutEvent("opt_in")
	m.ObserveAuditDivergence("orphan_notification", "low")
}

func TestMetricsObserveClaimedSkipsNonPositive(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveClaimed("pre_visit", 0)
}
