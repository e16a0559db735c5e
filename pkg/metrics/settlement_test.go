package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestSettlementMetricsExportsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSettlementMetrics(reg)
	m.IncAttempt("delegated", "completed")
	m.IncAttempt("delegated", "completed")
	m.ObserveConfirmation("delegated", 1500*time.Millisecond)
	m.SetPending(3)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	got, err := fetchCounterValue(mfs, "settlement_attempts_total", map[string]string{"flow": "delegated", "outcome": "completed"})
	if err != nil {
		t.Fatalf("fetch attempts: %v", err)
	}
	if got != 2 {
		t.Fatalf("expected attempts=2, got %f", got)
	}
}

func TestNilReceiversAreSafe(t *testing.T) {
	var m *SettlementMetrics
	m.IncAttempt("x", "y")
	m.ObserveConfirmation("x", time.Second)
	m.SetPending(1)

	var j *JobMetrics
	j.IncSuccess("job")
	j.IncFailure("job")
	j.ObserveDuration("job", time.Second)
}

func fetchCounterValue(mfs []*dto.MetricFamily, name string, labels map[string]string) (float64, error) {
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	metric:
		for _, m := range mf.GetMetric() {
			for _, pair := range m.GetLabel() {
				if want, ok := labels[pair.GetName()]; ok && want != pair.GetValue() {
					continue metric
				}
			}
			return m.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %s with labels %v not found", name, labels)
}
